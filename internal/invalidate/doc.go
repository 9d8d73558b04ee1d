// Package invalidate removes cache entries in response to mutating remote
// calls: by key field, resource identifier, age, glob-ish pattern, or a
// batch of tagged rules. Cascade invalidation widens a single resource
// mutation to everything its service rule says it taints.
package invalidate
