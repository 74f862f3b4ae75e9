/*
Package cache implements the tiercache engine: a key/value cache spread over a memory tier, an
optional persistent tier and a network tier placeholder.

# Reads

Get consults the primary tier (memory by default) and then each fallback tier in order. The
persistent tier is the default fallback when persistence is enabled. A fallback hit is copied
into the primary tier with its original creation time and TTL, so promotion never extends a
lifetime. Every read checks expiry itself; an expired entry is deleted on the spot and reported
as a miss whether or not a sweep has run.

	entry, ok := engine.Get(ctx, "price_3f2a9c0d1b7e4a55")
	price, ok, err := cache.GetAs[int](ctx, engine, "price_3f2a9c0d1b7e4a55")

# Writes

Set encodes the value as JSON and compresses it when it exceeds compression.threshold. Values
that cannot be encoded are kept in memory only. With persistence.write_through on, memory writes
are copied to the persistent tier; failures there are logged and counted but never returned.

	err := engine.Set(ctx, key, 450,
		cache.WithTTL(3*time.Minute),
		cache.WithCategory(types.CategoryPricingData),
		cache.WithTags("route:sthlm:gbg"))

# Maintenance

Invalidate removes entries by key, tag, category, key pattern or age. WarmCache preloads keys
through caller loaders with bounded concurrency. Optimize evicts by least recent access, pulls
hot persistent entries into memory, compresses large values and adapts TTLs:

	AccessCount > 5 (once per count)   TTL += remaining * min(AccessCount/10, 2)
	AccessCount == 0, age > TTL/2      TTL /= 2

Sweep, run by the cleanup scheduler after Start, deletes expired entries one key at a time.
*/
package cache
