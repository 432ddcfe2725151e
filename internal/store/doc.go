// Package store defines the versioned response store backing the cache
// agent. Entries are keyed by method + absolute URL and namespaced by a
// deployment version tag; deleting a whole version is the only eviction
// mechanism, there is no per-entry TTL or LRU inside a generation. Two
// backends implement the Store interface: an in-memory map store for tests
// and single-process deployments, and a goleveldb-backed store that survives
// restarts. Both copy response records on the way in and out so concurrent
// request handlers never alias stored bodies.
package store
