package imgpipe

// Hooks are lightweight callbacks for high-signal events.
// Implementations MUST be cheap and non-blocking; the pipeline calls them on
// hot paths. Wrap with hooks/async to offload slow sinks.
type Hooks interface {
	// The persistent backend failed on read; the lookup degraded to a miss.
	PersistReadFailed(storageKey string, err error)

	// A background persistent write failed (best-effort, caller unaffected).
	PersistWriteFailed(storageKey string, err error)

	// A corrupt persistent entry was deleted on read.
	// reason ∈ {"corrupt", "meta_decode", "decompress", "length_mismatch"}
	SelfHeal(storageKey, reason string)

	// A decoder ahead of the fallback failed and the chain moved on.
	DecodeFallback(decoderIndex int, err error)

	// An acquisition was coalesced onto another caller's in-flight fetch.
	FlightShared(storageKey string)
}

// NopHooks is the default no-op.
type NopHooks struct{}

func (NopHooks) PersistReadFailed(string, error)  {}
func (NopHooks) PersistWriteFailed(string, error) {}
func (NopHooks) SelfHeal(string, string)          {}
func (NopHooks) DecodeFallback(int, error)        {}
func (NopHooks) FlightShared(string)              {}
