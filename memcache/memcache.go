// Package memcache defines the in-process, first-tier cache for decoded
// values. Lookups never block and a miss is not an error; callers recompute.
//
// Two retention models are provided:
//
//   - Weak (this package): entries are held through weak pointers, so the
//     runtime reclaims a value as soon as no strong reference remains.
//     Retention is bounded by memory pressure, not by policy.
//   - ristretto (subpackage): an explicit cost-bounded cache for callers who
//     need deterministic capacity instead of reclaimer timing.
package memcache

// Store maps keys to live values of type V. Implementations must be safe for
// concurrent use. Set overwrites any existing entry for the key; inserting
// one key never evicts another by policy.
type Store[V any] interface {
	Get(key string) (*V, bool)
	Set(key string, v *V)
}
