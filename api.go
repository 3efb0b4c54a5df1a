package imgpipe

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/unkn0wn-root/imgpipe/blobcache"
	"github.com/unkn0wn-root/imgpipe/codec"
	"github.com/unkn0wn-root/imgpipe/decode"
	"github.com/unkn0wn-root/imgpipe/fetch"
	"github.com/unkn0wn-root/imgpipe/memcache"
)

// Pipeline turns remote image URLs into decoded bitmaps through the tiered
// cache: memory, then persistent, then network.
type Pipeline interface {
	// Acquire resolves one URL. opts may be nil for defaults.
	Acquire(ctx context.Context, url string, opts *AcquireOptions) (*Image, error)

	// AcquireAll resolves many URLs in bounded-concurrency chunks. Failures
	// are isolated per URL; the returned map has an entry for every input.
	AcquireAll(ctx context.Context, urls []string, opts *AcquireOptions) map[string]Result

	Close(ctx context.Context) error
}

// Fetcher abstracts the streaming network loader; *fetch.Loader is the
// production implementation.
type Fetcher interface {
	Load(ctx context.Context, url string, opts fetch.Options) ([]byte, string, error)
}

// Options tune pipeline construction. All fields have defaults; the zero
// value yields a weak memory cache, no persistent tier, and the stdlib HTTP
// client.
type Options struct {
	// Namespace isolates persistent storage keys. e.g. "canvas", "thumbs".
	Namespace string // "" => "img"

	// Memory is the first cache tier. nil => memcache.NewWeak[Image]().
	Memory memcache.Store[Image]

	// Blobs backs the compressed persistent tier. nil disables the tier and
	// every miss goes to the network.
	Blobs blobcache.Store

	// Meta encodes the per-entry metadata record. nil => CBOR.
	Meta codec.Codec[Meta]

	// Fetcher overrides the network loader; nil => fetch.New(Client).
	Fetcher Fetcher
	// Client is used only when Fetcher is nil.
	Client *http.Client

	// Decoder converts payloads to bitmaps. nil => decode.Default().
	Decoder decode.Decoder

	Logger Logger // nil => NopLogger
	Hooks  Hooks  // nil => NopHooks

	// ChunkSize bounds batch concurrency. 0 => 3.
	ChunkSize int

	// YieldIntervalBytes is the default streaming yield granularity.
	// 0 => fetch.DefaultYieldInterval (100 KiB).
	YieldIntervalBytes int64

	// PersistTTL expires persistent entries; 0 keeps them until an external
	// retention policy removes them.
	PersistTTL time.Duration

	// YieldFunc is the cooperative suspension primitive. nil =>
	// runtime.Gosched. Injectable for instrumentation.
	YieldFunc func()
}

// AcquireOptions tune a single acquisition (or every acquisition of a batch).
type AcquireOptions struct {
	// SkipMemoryCache bypasses both cache lookups and the memory store;
	// the acquisition always hits the network.
	SkipMemoryCache bool

	// SkipPersistentWrite suppresses the background payload store.
	SkipPersistentWrite bool

	// YieldIntervalBytes overrides the pipeline-wide yield granularity.
	YieldIntervalBytes int64

	// OnProgress receives streaming progress when the response size is known.
	OnProgress func(Progress)
}

func New(opts Options) (Pipeline, error) {
	return newPipeline(opts)
}

func defaultYield() { runtime.Gosched() }
