// Package cache stores object metadata in Redis so repeated schema lookups do
// not spend rate limit permits.
//
// Object and field metadata change rarely; entries live for a fixed TTL and
// can be dropped per object with InvalidateObject.
//
// # Basic Usage
//
//	redisClient := redis.NewClient(&redis.Options{
//		Addr: "localhost:6379",
//	})
//
//	manager := cache.NewManager(redisClient, 10*time.Minute)
//
//	key := cache.CacheKey{Namespace: "app_x", Object: "task"}
//	data, err := manager.GetOrLoad(ctx, key, func(ctx context.Context) (json.RawMessage, error) {
//		return fetchObjectMetadata(ctx, "task")
//	})
//
// # Metrics
//
//   - apaas_metadata_cache_hits_total - Cache hits
//   - apaas_metadata_cache_misses_total - Cache misses
//   - apaas_metadata_cache_written_bytes_total - Bytes written
//   - apaas_metadata_cache_errors_total{operation} - Cache operation errors
//
// Redis failures never fail a lookup: GetOrLoad logs them and falls back to
// the loader.
package cache
