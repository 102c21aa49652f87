// Package cache implements the tiered read cache in front of remote Artic Base files.
//
// A Cache wraps an IBackend (usually client.RPCFile) and keeps three tiers, each guarded
// by its own lock:
//
//   - page: PageCount pages of PageSize bytes keyed by their aligned offset. Reads up to
//     MaxSplitSize are split at page boundaries and every missing page costs exactly one
//     backing read. Pages filled by a short read mark the end of the file and are dropped
//     after use.
//   - big / very big: larger reads are cached as a whole, keyed by exact offset and length,
//     as long as they stay below BigThreshold / VeryBigThreshold. Larger reads bypass the cache.
//
// Writes are never cached: every Write clears all tiers and the size hint first.
//
// All tiers use the generic LRU, which recycles evicted slots for later misses.
//
// Example usage:
//
//	provider, _ := cache.NewProvider(common.DefaultCacheConfig())
//	c := provider.ProvideCache(cache.PathKey(archive, "/data.bin"), client.NewRPCFile(session), true)
//
//	buf := make([]byte, 512)
//	n, err := c.Read(handle, 4096, buf)
package cache
