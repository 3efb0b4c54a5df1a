// Package sloghooks logs pipeline hook events through log/slog, with
// sampling for the events that can flood under a degraded backend.
package sloghooks

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sync/atomic"

	"github.com/unkn0wn-root/imgpipe"
)

type Options struct {
	// Sampling to avoid floods; 0/1 = log all.
	ReadFailEvery  uint64
	WriteFailEvery uint64
	// Optional key redactor. Defaults to SHA-256 prefix.
	Redact func(string) string
}

type Hooks struct {
	l    *slog.Logger
	opts Options

	readFailCtr  atomic.Uint64
	writeFailCtr atomic.Uint64
}

var _ imgpipe.Hooks = (*Hooks)(nil)

func New(l *slog.Logger, opts Options) *Hooks {
	return &Hooks{l: l, opts: opts}
}

func (h *Hooks) redact(k string) string {
	if h.opts.Redact != nil {
		return h.opts.Redact(k)
	}
	sum := sha256.Sum256([]byte(k))
	return hex.EncodeToString(sum[:8])
}

func sample(n uint64, ctr *atomic.Uint64) bool {
	if n == 0 || n == 1 {
		return true
	}
	return ctr.Add(1)%n == 0
}

func (h *Hooks) PersistReadFailed(storageKey string, err error) {
	if h.l == nil || !sample(h.opts.ReadFailEvery, &h.readFailCtr) {
		return
	}
	h.l.Warn("imgpipe.persist_read_failed",
		"key", h.redact(storageKey),
		"err", err)
}

func (h *Hooks) PersistWriteFailed(storageKey string, err error) {
	if h.l == nil || !sample(h.opts.WriteFailEvery, &h.writeFailCtr) {
		return
	}
	h.l.Warn("imgpipe.persist_write_failed",
		"key", h.redact(storageKey),
		"err", err)
}

func (h *Hooks) SelfHeal(storageKey, reason string) {
	if h.l == nil {
		return
	}
	h.l.Debug("imgpipe.self_heal",
		"key", h.redact(storageKey),
		"reason", reason)
}

func (h *Hooks) DecodeFallback(decoderIndex int, err error) {
	if h.l == nil {
		return
	}
	h.l.Info("imgpipe.decode_fallback",
		"decoder", decoderIndex,
		"err", err)
}

func (h *Hooks) FlightShared(storageKey string) {
	if h.l == nil {
		return
	}
	h.l.Debug("imgpipe.flight_shared",
		"key", h.redact(storageKey))
}
