// Package cache provides a persistent, disk-backed result cache keyed by
// call signature with time-based expiration.
//
// A call signature is an operation name plus a parameter map. Keyer turns it
// into a fixed-length SHA-256 key over a canonical JSON rendering, so the
// order in which parameters were inserted never changes the key.
//
// DiskStore keeps one file per key under a root directory. Expiration is
// enforced lazily on Get and in bulk by ClearExpired or a Janitor. The cache
// is an optimization, never a correctness dependency: Get and Set absorb
// storage and decoding failures, report them as warning events, and behave
// as a miss or a no-op respectively.
package cache
