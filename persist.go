package imgpipe

import (
	"context"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/unkn0wn-root/imgpipe/blobcache"
	"github.com/unkn0wn-root/imgpipe/codec"
	"github.com/unkn0wn-root/imgpipe/internal/wire"
)

// persistCache is the second tier: compressed wire payloads in a durable
// byte store. Reads degrade to misses on backend failure, writes are
// best-effort; the acquisition path never fails because of this tier.
type persistCache struct {
	store blobcache.Store
	meta  codec.Codec[Meta]
	log   Logger
	hooks Hooks
	ttl   time.Duration

	enc *zstd.Encoder
	dec *zstd.Decoder
}

func newDefaultMetaCodec() (codec.Codec[Meta], error) {
	c, err := codec.NewCBOR[Meta](false)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func nowUTC() time.Time { return time.Now().UTC() }

func newPersistCache(store blobcache.Store, meta codec.Codec[Meta], log Logger, hooks Hooks, ttl time.Duration) (*persistCache, error) {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, err
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		return nil, err
	}
	return &persistCache{
		store: store,
		meta:  meta,
		log:   log,
		hooks: hooks,
		ttl:   ttl,
		enc:   enc,
		dec:   dec,
	}, nil
}

// get returns the decompressed payload for key, or ok=false. Backend errors
// and corrupt entries never propagate; they become logged misses.
func (pc *persistCache) get(ctx context.Context, key string) ([]byte, Meta, bool) {
	raw, ok, err := pc.store.Get(ctx, key)
	if err != nil {
		pc.hooks.PersistReadFailed(key, err)
		pc.log.Warn("persistent cache read failed; treating as miss", Fields{"key": key, "err": err})
		return nil, Meta{}, false
	}
	if !ok {
		return nil, Meta{}, false
	}

	entry, err := wire.Decode(raw)
	if err != nil {
		pc.selfHeal(ctx, key, "corrupt")
		return nil, Meta{}, false
	}

	meta, err := pc.meta.Decode(entry.Meta)
	if err != nil {
		pc.selfHeal(ctx, key, "meta_decode")
		return nil, Meta{}, false
	}

	payload := entry.Payload
	if entry.Comp == wire.CompZstd {
		payload, err = pc.dec.DecodeAll(entry.Payload, nil)
		if err != nil {
			pc.selfHeal(ctx, key, "decompress")
			return nil, Meta{}, false
		}
	}
	if uint64(len(payload)) != entry.RawLen {
		pc.selfHeal(ctx, key, "length_mismatch")
		return nil, Meta{}, false
	}

	return payload, meta, true
}

func (pc *persistCache) put(ctx context.Context, key string, raw []byte, meta Meta) error {
	mb, err := pc.meta.Encode(meta)
	if err != nil {
		return err
	}
	comp := pc.enc.EncodeAll(raw, make([]byte, 0, len(raw)/2))
	entry := wire.Encode(wire.Entry{
		Comp:    wire.CompZstd,
		RawLen:  uint64(len(raw)),
		Meta:    mb,
		Payload: comp,
	})
	return pc.store.Set(ctx, key, entry, pc.ttl)
}

// putAsync stores the payload without blocking or failing the caller. The
// write detaches from the caller's cancellation: once the payload is in hand
// persisting it is harmless and idempotent, so an in-flight write completes
// even if the acquisition that triggered it is cancelled.
func (pc *persistCache) putAsync(ctx context.Context, key string, raw []byte, meta Meta) {
	wctx := context.WithoutCancel(ctx)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				pc.log.Error("persistent cache write panicked", Fields{"key": key, "panic": r})
			}
		}()
		if err := pc.put(wctx, key, raw, meta); err != nil {
			pc.hooks.PersistWriteFailed(key, err)
			pc.log.Warn("persistent cache write failed", Fields{"key": key, "err": err})
			return
		}
		pc.log.Debug("payload persisted", Fields{"key": key, "raw_size": len(raw)})
	}()
}

func (pc *persistCache) selfHeal(ctx context.Context, key, reason string) {
	_ = pc.store.Del(ctx, key)
	pc.hooks.SelfHeal(key, reason)
	pc.log.Debug("deleted bad persistent entry", Fields{"key": key, "reason": reason})
}

func (pc *persistCache) close(ctx context.Context) error {
	pc.enc.Close()
	pc.dec.Close()
	return pc.store.Close(ctx)
}
