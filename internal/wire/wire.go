// Package wire frames persistent cache entries.
//
// Entry layout:
//
//	magic(4) | ver(1) | comp(1) | rawLen(u64 be) | mlen(u32 be) | meta(mlen) | plen(u32 be) | payload(plen)
//
// comp identifies the payload compression (CompNone, CompZstd). rawLen is the
// uncompressed payload length and is validated after decompression by the
// caller. meta is an opaque codec-encoded blob. Framing is strict: trailing
// bytes after the payload make the entry corrupt.
package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
)

const (
	version byte = 1

	// Payload compression identifiers.
	CompNone byte = 0
	CompZstd byte = 1
)

var (
	ErrCorrupt = errors.New("imgpipe: corrupt cache entry")
	magic4     = [...]byte{'I', 'M', 'G', 'B'}
)

// Entry is a decoded persistent-cache frame. Meta and Payload alias the
// input buffer; callers must not retain them past the buffer's lifetime.
type Entry struct {
	Comp    byte
	RawLen  uint64
	Meta    []byte
	Payload []byte
}

func hasMagic(b []byte) bool {
	return len(b) >= 4 && bytes.Equal(b[:4], magic4[:])
}

func Encode(e Entry) []byte {
	var buf bytes.Buffer
	buf.Grow(4 + 1 + 1 + 8 + 4 + len(e.Meta) + 4 + len(e.Payload))

	buf.Write(magic4[:])
	buf.WriteByte(version)
	buf.WriteByte(e.Comp)

	var u8 [8]byte
	var u4 [4]byte

	binary.BigEndian.PutUint64(u8[:], e.RawLen)
	buf.Write(u8[:])

	binary.BigEndian.PutUint32(u4[:], uint32(len(e.Meta)))
	buf.Write(u4[:])
	buf.Write(e.Meta)

	binary.BigEndian.PutUint32(u4[:], uint32(len(e.Payload)))
	buf.Write(u4[:])
	buf.Write(e.Payload)

	return buf.Bytes()
}

func Decode(b []byte) (Entry, error) {
	const hdr = 4 + 1 + 1 + 8 + 4
	if len(b) < hdr || !hasMagic(b) || b[4] != version {
		return Entry{}, ErrCorrupt
	}
	comp := b[5]
	if comp != CompNone && comp != CompZstd {
		return Entry{}, ErrCorrupt
	}

	off := 6

	rawLen := binary.BigEndian.Uint64(b[off : off+8])
	off += 8

	mlen := int(binary.BigEndian.Uint32(b[off : off+4]))
	off += 4
	if mlen < 0 || mlen > len(b)-off { // overflow-safe bound check
		return Entry{}, ErrCorrupt
	}
	meta := b[off : off+mlen]
	off += mlen

	if off+4 > len(b) {
		return Entry{}, ErrCorrupt
	}
	plen := int(binary.BigEndian.Uint32(b[off : off+4]))
	off += 4
	if plen < 0 || plen > len(b)-off {
		return Entry{}, ErrCorrupt
	}
	payload := b[off : off+plen]
	off += plen

	if off != len(b) {
		return Entry{}, ErrCorrupt
	}

	return Entry{Comp: comp, RawLen: rawLen, Meta: meta, Payload: payload}, nil
}
