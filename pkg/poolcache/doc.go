// Package poolcache keeps at most MaxPools live connection pools to the
// per-instance versions databases.
//
// Each entry is keyed by instance id and tagged with the fingerprint of the
// connection settings it was built from. Every Get reads fresh settings, so a
// settings change is picked up on the next request: the stale pool is
// removed and closed, then a new one is built. When the cache is full the
// least recently used pool is evicted and closed.
//
// Concurrent cold requests for the same instance and fingerprint share one
// construction. Pools are closed outside the cache lock so a slow close never
// blocks lookups for other instances.
//
// The control-plane pool is not managed here; see storage/postgres.AppPool.
package poolcache
