// Package warming predicts which cache keys are worth refreshing before
// they are requested again, and refreshes them in the background.
//
// Each cycle runs six steps: adapt intensity to host load and time of day,
// analyze the usage log into ranked candidates, plan jobs above the
// priority threshold, execute them under a worker cap with per-job
// deadlines and bounded retries, then measure the cycle's effectiveness
// from before/after metrics snapshots.
package warming
