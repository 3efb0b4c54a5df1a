package imgpipe

import (
	"image"
	"time"

	"github.com/unkn0wn-root/imgpipe/fetch"
)

// Image is a decoded, renderable bitmap. Images live only in process memory
// (the weak first tier); the persistent tier stores the compressed wire
// payload instead.
type Image struct {
	Bitmap image.Image
	Width  int
	Height int
	// Format is the detected payload format ("png", "webp", ...).
	Format string
	// SourceURL is the canonical URL the image was acquired from.
	SourceURL string
}

// Cost approximates the resident size of the decoded bitmap in bytes,
// suitable as a cost function for a bounded memory cache.
func (im *Image) Cost() int64 {
	if im == nil {
		return 0
	}
	return int64(im.Width)*int64(im.Height)*4 + 64
}

// Meta is the per-entry record persisted alongside the compressed payload.
type Meta struct {
	SourceURL   string    `cbor:"url" msgpack:"url" json:"url"`
	ContentType string    `cbor:"ct" msgpack:"ct" json:"ct"`
	FetchedAt   time.Time `cbor:"at" msgpack:"at" json:"at"`
	RawSize     int64     `cbor:"raw" msgpack:"raw" json:"raw"`
}

// Progress reports streaming download state; see fetch.Progress.
type Progress = fetch.Progress

// Result is one URL's outcome in a batch acquisition. Exactly one of Image
// and Err is set.
type Result struct {
	Image *Image
	Err   error
}
