// Package metrics tracks cache effectiveness: hit/miss counts and
// latencies per service and operation, storage usage per tier, and a pure
// threshold check that turns a snapshot into alerts. The same numbers are
// exported as Prometheus series for scraping.
package metrics
