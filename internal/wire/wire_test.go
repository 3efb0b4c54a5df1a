package wire

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func TestRoundTrip(t *testing.T) {
	in := Entry{
		Comp:    CompZstd,
		RawLen:  1234,
		Meta:    []byte(`{"ct":"image/png"}`),
		Payload: []byte{0x28, 0xB5, 0x2F, 0xFD, 0x00},
	}
	out, err := Decode(Encode(in))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if out.Comp != in.Comp || out.RawLen != in.RawLen {
		t.Fatalf("header mismatch: got %+v", out)
	}
	if !bytes.Equal(out.Meta, in.Meta) || !bytes.Equal(out.Payload, in.Payload) {
		t.Fatalf("body mismatch: got %+v", out)
	}
}

func TestRoundTripEmptySections(t *testing.T) {
	out, err := Decode(Encode(Entry{Comp: CompNone}))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(out.Meta) != 0 || len(out.Payload) != 0 || out.RawLen != 0 {
		t.Fatalf("expected empty entry, got %+v", out)
	}
}

// Strict framing: trailing bytes after the payload are corruption.
func TestDecodeRejectsTrailing(t *testing.T) {
	b := Encode(Entry{Comp: CompZstd, RawLen: 1, Meta: []byte("m"), Payload: []byte("p")})
	b = append(b, 0xDE, 0xAD)
	if _, err := Decode(b); err == nil {
		t.Fatalf("Decode should reject trailing bytes")
	}
}

func TestDecodeRejectsUnknownCompression(t *testing.T) {
	b := Encode(Entry{Comp: CompZstd})
	b[5] = 0x7F
	if _, err := Decode(b); err == nil {
		t.Fatalf("Decode should reject unknown compression id")
	}
}

func TestDecodeRejectsBadMagicAndVersion(t *testing.T) {
	good := Encode(Entry{Comp: CompNone})

	bad := append([]byte(nil), good...)
	bad[0] = 'X'
	if _, err := Decode(bad); err == nil {
		t.Fatalf("Decode should reject bad magic")
	}

	bad = append([]byte(nil), good...)
	bad[4] = 99
	if _, err := Decode(bad); err == nil {
		t.Fatalf("Decode should reject unknown version")
	}
}

// A bogus meta length larger than the buffer must fail cleanly, not panic or
// over-allocate.
func TestDecodeBogusLengths(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{'I', 'M', 'G', 'B'})
	buf.WriteByte(1)        // version
	buf.WriteByte(CompNone) // comp
	var u8 [8]byte
	buf.Write(u8[:]) // rawLen = 0
	var u4 [4]byte
	binary.BigEndian.PutUint32(u4[:], ^uint32(0)) // mlen = 0xFFFFFFFF
	buf.Write(u4[:])

	if _, err := Decode(buf.Bytes()); err == nil {
		t.Fatalf("Decode should fail on meta length exceeding buffer")
	}
}

func TestDecodeTruncated(t *testing.T) {
	b := Encode(Entry{Comp: CompZstd, RawLen: 10, Meta: []byte("meta"), Payload: []byte("payload")})
	for i := 0; i < len(b); i++ {
		if _, err := Decode(b[:i]); err == nil {
			t.Fatalf("Decode should fail on truncation at %d", i)
		}
	}
}
