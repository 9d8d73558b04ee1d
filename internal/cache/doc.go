// Package cache implements the two storage tiers and the read-through
// composition over them.
//
// The resident tier is a bounded in-process LRU; the persistent tier keeps
// gzip-compressed records on disk across restarts. Tiered wires both behind
// one lookup path: resident, then disk with promotion, then the fetch
// collaborator, with disk writes deferred to a write-behind queue. KeyCodec
// defines the canonical key format both tiers and the invalidation engine
// share.
package cache
