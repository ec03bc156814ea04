// Package fetch composes the cache, validator and retry executor around a
// remote call using the cache-aside pattern.
//
// A Fetcher validates the request, returns a fresh cached payload when one
// exists, and otherwise loads it through the rate limiter, the per-attempt
// timeout and the retry executor before storing the result. Concurrent
// misses for the same signature share one load. Failures are never cached.
package fetch
