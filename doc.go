// Package imgpipe acquires remote images through a tiered cache pipeline:
// a weak in-process cache of decoded bitmaps, a compressed persistent byte
// store, and a cooperatively-yielding streaming HTTP loader.
//
// Components:
//   - memcache.Store[Image]: first tier; weak by default, so retention is
//     bounded by memory pressure rather than an eviction policy.
//   - blobcache.Store: byte store behind the persistent tier (BadgerDB,
//     Redis, BigCache). Entries are zstd-compressed and framed by a strict
//     binary format carrying codec-encoded metadata.
//   - fetch.Loader: chunked download with progress reporting and cooperative
//     yielding every YieldIntervalBytes.
//   - decode.Chain: first-success decoder strategy, assembled once at
//     construction.
//
// Lookup order is strictly memory → persistent → network; the first hit
// short-circuits. Network payloads are persisted in the background
// (best-effort, never on the caller's critical path) and decoded bitmaps land
// back in the memory tier. Concurrent acquisitions of one key are coalesced
// onto a single flight.
//
// Persistent keys:
//
//	<namespace>:<sha256/8 of URL>
//
// Cancellation is cooperative via context: checked at entry, at every stage
// transition, and on every streamed chunk. A cancelled acquisition never
// commits its result to the memory tier; an already-started background
// persist write is allowed to finish (idempotent, harmless).
//
// Minimal usage:
//
//	store, _ := badger.New(badger.Config{Dir: dir})
//	pipe, _ := imgpipe.New(imgpipe.Options{
//	    Namespace: "canvas",
//	    Blobs:     store,
//	    Logger:    zaplog.Logger{L: zl},
//	})
//	defer pipe.Close(ctx)
//
//	img, err := pipe.Acquire(ctx, url, nil)
package imgpipe
