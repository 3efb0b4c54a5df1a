package imgpipe

import (
	"context"

	"golang.org/x/sync/singleflight"

	"github.com/unkn0wn-root/imgpipe/decode"
	"github.com/unkn0wn-root/imgpipe/fetch"
	"github.com/unkn0wn-root/imgpipe/internal/util"
	"github.com/unkn0wn-root/imgpipe/memcache"
)

const defaultChunkSize = 3

type pipeline struct {
	ns         string
	mem        memcache.Store[Image]
	persist    *persistCache // nil when no blob store configured
	fetcher    Fetcher
	dec        decode.Decoder
	log        Logger
	hooks      Hooks
	chunkSize  int
	yieldEvery int64
	yield      func()

	flights singleflight.Group
}

func newPipeline(opts Options) (*pipeline, error) {
	p := &pipeline{
		ns:         coalesce(opts.Namespace, "img"),
		mem:        opts.Memory,
		fetcher:    opts.Fetcher,
		dec:        opts.Decoder,
		chunkSize:  opts.ChunkSize,
		yieldEvery: opts.YieldIntervalBytes,
	}

	p.log = coalesce[Logger](opts.Logger, NopLogger{})
	p.hooks = coalesce[Hooks](opts.Hooks, NopHooks{})

	if p.mem == nil {
		p.mem = memcache.NewWeak[Image]()
	}
	if p.fetcher == nil {
		p.fetcher = fetch.New(opts.Client)
	}
	if p.dec == nil {
		p.dec = decode.Default()
	}
	if p.chunkSize <= 0 {
		p.chunkSize = defaultChunkSize
	}
	if p.yieldEvery <= 0 {
		p.yieldEvery = fetch.DefaultYieldInterval
	}
	p.yield = opts.YieldFunc
	if p.yield == nil {
		p.yield = defaultYield
	}

	if opts.Blobs != nil {
		meta := opts.Meta
		if meta == nil {
			c, err := newDefaultMetaCodec()
			if err != nil {
				return nil, err
			}
			meta = c
		}
		pc, err := newPersistCache(opts.Blobs, meta, p.log, p.hooks, opts.PersistTTL)
		if err != nil {
			return nil, err
		}
		p.persist = pc
	} else {
		p.log.Info("no persistent tier configured; misses always hit the network", nil)
	}

	if chain, ok := p.dec.(*decode.Chain); ok && chain.OnFallback == nil {
		chain.OnFallback = p.hooks.DecodeFallback
	}

	return p, nil
}

func (p *pipeline) Close(ctx context.Context) error {
	if p.persist != nil {
		return p.persist.close(ctx)
	}
	return nil
}

func (p *pipeline) Acquire(ctx context.Context, url string, opts *AcquireOptions) (*Image, error) {
	if opts == nil {
		opts = &AcquireOptions{}
	}
	if err := ctx.Err(); err != nil {
		return nil, acquireErr(url, err)
	}

	key := util.EntryKey(p.ns, url)

	if opts.SkipMemoryCache {
		// Explicit refresh: bypass both cache reads and flight coalescing.
		return p.fill(ctx, url, key, opts)
	}

	if img, ok := p.mem.Get(url); ok {
		return img, nil
	}

	// Coalesce concurrent misses for the same key onto one fetch+decode.
	// A waiter whose context fires detaches immediately; the flight keeps
	// running for the remaining callers.
	for attempt := 0; ; attempt++ {
		img, err := p.await(ctx, url, key, opts)
		// A flight torn down by its leader's cancellation poisons waiters
		// whose own context is still live; retry under a fresh flight.
		if err != nil && IsCancelled(err) && ctx.Err() == nil && attempt < 2 {
			continue
		}
		return img, err
	}
}

func (p *pipeline) await(ctx context.Context, url, key string, opts *AcquireOptions) (*Image, error) {
	ch := p.flights.DoChan(key, func() (any, error) {
		img, err := p.fill(ctx, url, key, opts)
		if err != nil {
			return nil, err
		}
		p.mem.Set(url, img)
		return img, nil
	})

	select {
	case <-ctx.Done():
		return nil, acquireErr(url, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		if res.Shared {
			p.hooks.FlightShared(key)
		}
		return res.Val.(*Image), nil
	}
}

// fill runs the miss path: persistent lookup, network load, yield, decode.
// The memory store is the caller's responsibility (skip-cache refreshes must
// not populate it).
func (p *pipeline) fill(ctx context.Context, url, key string, opts *AcquireOptions) (*Image, error) {
	var (
		payload []byte
		ctype   string
		hit     bool
	)

	if p.persist != nil && !opts.SkipMemoryCache {
		var meta Meta
		payload, meta, hit = p.persist.get(ctx, key)
		if hit {
			ctype = meta.ContentType
			p.log.Debug("persistent cache hit", Fields{"key": key, "raw_size": len(payload)})
		}
	}

	if !hit {
		raw, ct, err := p.fetcher.Load(ctx, url, fetch.Options{
			YieldInterval: coalesce(opts.YieldIntervalBytes, p.yieldEvery),
			OnProgress:    opts.OnProgress,
			Yield:         p.yield,
		})
		if err != nil {
			if IsCancelled(err) {
				return nil, acquireErr(url, err)
			}
			return nil, &NetworkError{URL: url, Err: err}
		}
		payload, ctype = raw, ct

		if p.persist != nil && !opts.SkipPersistentWrite {
			p.persist.putAsync(ctx, key, payload, Meta{
				SourceURL:   url,
				ContentType: ctype,
				FetchedAt:   nowUTC(),
				RawSize:     int64(len(payload)),
			})
		}
	}

	// Decode is CPU-heavy; give the scheduler a chance between the network
	// phase and the pixel crunch.
	p.yield()
	if err := ctx.Err(); err != nil {
		return nil, acquireErr(url, err)
	}

	bm, format, err := p.dec.Decode(payload)
	if err != nil {
		return nil, &DecodeError{URL: url, Err: err}
	}

	// A cancelled acquisition must not leak its result into the cache.
	if err := ctx.Err(); err != nil {
		return nil, acquireErr(url, err)
	}

	b := bm.Bounds()
	return &Image{
		Bitmap:    bm,
		Width:     b.Dx(),
		Height:    b.Dy(),
		Format:    format,
		SourceURL: url,
	}, nil
}
