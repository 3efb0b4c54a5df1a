// Package decode turns compressed image payloads into renderable bitmaps.
//
// Decoding is strategy-based: a Chain tries its decoders in order and returns
// the first success. The chain is assembled once at pipeline construction,
// not probed per call, so deployments with an accelerated decoder (SIMD or
// cgo bindings) prepend it and keep Sniff as the always-available fallback.
package decode

import (
	"bytes"
	"errors"
	"fmt"
	"image"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

// ErrEmptyChain is returned by a Chain with no decoders.
var ErrEmptyChain = errors.New("decode: empty decoder chain")

// Decoder converts a raw payload into a bitmap. The returned string names
// the detected format ("png", "webp", ...).
type Decoder interface {
	Decode(data []byte) (image.Image, string, error)
}

// Sniff decodes through the registered stdlib format table (gif, jpeg, png)
// extended with webp and bmp. It detects the format from the payload header.
type Sniff struct{}

var _ Decoder = Sniff{}

func (Sniff) Decode(data []byte) (image.Image, string, error) {
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("decode: %w", err)
	}
	return img, format, nil
}

// Chain tries decoders in order and returns the first success.
type Chain struct {
	Decoders []Decoder
	// OnFallback is invoked when a decoder other than the last fails and the
	// chain moves on. Useful to observe an accelerated path degrading.
	OnFallback func(index int, err error)
}

var _ Decoder = (*Chain)(nil)

// Default returns the chain used when the caller does not supply one:
// the sniffing decoder alone.
func Default() *Chain {
	return &Chain{Decoders: []Decoder{Sniff{}}}
}

func (c *Chain) Decode(data []byte) (image.Image, string, error) {
	if len(c.Decoders) == 0 {
		return nil, "", ErrEmptyChain
	}
	var errs []error
	for i, d := range c.Decoders {
		img, format, err := d.Decode(data)
		if err == nil {
			return img, format, nil
		}
		errs = append(errs, err)
		if c.OnFallback != nil && i < len(c.Decoders)-1 {
			c.OnFallback(i, err)
		}
	}
	return nil, "", errors.Join(errs...)
}
