// Package cache provides the validator store used for conditional GETs.
//
// After a successful GET that carried an ETag, the request client stores the
// validator together with the already unwrapped response body, keyed by the
// request URL. Before the next GET to the same URL it sends If-None-Match;
// a 304 Not Modified answer is then served from the stored body without
// parsing anything.
//
// Entries are only ever overwritten, never evicted: the number of distinct
// GET identities a session observes is small and finite.
//
// # Stores
//
//	// Session-scoped, in memory (default)
//	store := cache.NewMemoryStore()
//
//	// Shared between processes of one deployment
//	store := cache.NewRedisStore(redisClient, time.Hour)
//
// # Conditional Requests
//
//	entry, err := store.Get(ctx, cache.Key(req.URL.String()))
//	if err == nil && cache.ShouldMakeConditionalRequest(entry) {
//		cache.AddConditionalHeaders(req, entry)
//	}
//
// # Metrics
//
//   - portal_validator_hits_total{store} - validator lookups that found an entry
//   - portal_validator_misses_total - lookups without an entry
//   - portal_validator_entries{store} - entries held
//   - portal_conditional_requests_total - requests sent with If-None-Match
//   - portal_not_modified_total - 304 responses served from the store
//   - portal_validator_errors_total{operation} - store failures
package cache
