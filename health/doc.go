// Package health reports whether a cache store is usable.
//
// A Checker returns a Result with one of three statuses. An Aggregator runs
// several checkers under a shared deadline and folds their results into an
// overall status: any unhealthy check makes the whole unhealthy, otherwise
// any degraded check makes it degraded.
//
// NewStoreChecker probes a Store with a write, read and delete of a reserved
// signature. NewExpiryChecker reports degraded when most entries are already
// expired.
package health
