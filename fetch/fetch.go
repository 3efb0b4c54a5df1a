// Package fetch implements the streaming network loader: an HTTP GET that
// reads the body incrementally, reports progress when the total size is
// known, and yields to the scheduler between chunks so a large download
// cannot monopolize the goroutine's time slice.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"runtime"
)

// DefaultYieldInterval is how many bytes are read between cooperative yields
// when the caller does not override it.
const DefaultYieldInterval int64 = 100 << 10 // 100 KiB

const readChunkSize = 32 << 10

// Progress describes a streaming download at a point in time. Total is zero
// when the server did not advertise a content length.
type Progress struct {
	Loaded     uint64
	Total      uint64
	Percentage uint8
}

// StatusError reports a non-success HTTP status.
type StatusError struct {
	URL        string
	StatusCode int
	Status     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("fetch %s: unexpected status %s", e.URL, e.Status)
}

// Options tune a single Load call.
type Options struct {
	// YieldInterval is the byte granularity of cooperative yielding;
	// 0 means DefaultYieldInterval.
	YieldInterval int64
	// OnProgress, if set, is invoked after each chunk once the total size is
	// known. Calls are sequential and report non-decreasing Loaded values.
	OnProgress func(Progress)
	// Yield suspends the caller so other work can run; nil means
	// runtime.Gosched.
	Yield func()
	// MaxBytes aborts the download when the body exceeds this size;
	// 0 disables the cap.
	MaxBytes int64
}

// Loader performs streaming downloads. Safe for concurrent use.
type Loader struct {
	client *http.Client
}

func New(client *http.Client) *Loader {
	if client == nil {
		client = http.DefaultClient
	}
	return &Loader{client: client}
}

// Load fetches url and returns the raw payload and the response content type.
// Cancellation is cooperative: the context is checked after every chunk and
// the transport aborts the connection when it fires mid-read.
func (l *Loader) Load(ctx context.Context, url string, opts Options) ([]byte, string, error) {
	if err := ctx.Err(); err != nil {
		return nil, "", fmt.Errorf("fetch %s: %w", url, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("fetch %s: %w", url, err)
	}

	resp, err := l.client.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, "", fmt.Errorf("fetch %s: %w", url, ctxErr)
		}
		return nil, "", fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, "", &StatusError{URL: url, StatusCode: resp.StatusCode, Status: resp.Status}
	}

	yieldEvery := opts.YieldInterval
	if yieldEvery <= 0 {
		yieldEvery = DefaultYieldInterval
	}
	yield := opts.Yield
	if yield == nil {
		yield = runtime.Gosched
	}

	var total uint64
	if resp.ContentLength > 0 {
		total = uint64(resp.ContentLength)
	}

	// Trust the advertised length for preallocation only up to a sane bound;
	// a lying server must not be able to force a huge up-front allocation.
	capHint := resp.ContentLength
	if capHint < 0 || capHint > 8<<20 {
		capHint = readChunkSize
	}
	body := make([]byte, 0, capHint)
	chunk := make([]byte, readChunkSize)
	var loaded uint64
	var sinceYield int64

	for {
		n, readErr := resp.Body.Read(chunk)
		if n > 0 {
			body = append(body, chunk[:n]...)
			loaded += uint64(n)
			sinceYield += int64(n)

			if opts.MaxBytes > 0 && int64(loaded) > opts.MaxBytes {
				return nil, "", fmt.Errorf("fetch %s: body exceeds %d bytes", url, opts.MaxBytes)
			}
			if total > 0 && opts.OnProgress != nil {
				opts.OnProgress(Progress{
					Loaded:     loaded,
					Total:      total,
					Percentage: percentage(loaded, total),
				})
			}
			if err := ctx.Err(); err != nil {
				return nil, "", fmt.Errorf("fetch %s: %w", url, err)
			}
			if sinceYield >= yieldEvery {
				yield()
				sinceYield = 0
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, "", fmt.Errorf("fetch %s: %w", url, ctxErr)
			}
			return nil, "", fmt.Errorf("fetch %s: read body: %w", url, readErr)
		}
	}

	if total > 0 && loaded != total {
		return nil, "", fmt.Errorf("fetch %s: truncated body: got %d of %d bytes", url, loaded, total)
	}

	return body, resp.Header.Get("Content-Type"), nil
}

func percentage(loaded, total uint64) uint8 {
	if total == 0 {
		return 0
	}
	p := loaded * 100 / total
	if p > 100 {
		p = 100
	}
	return uint8(p)
}

// IsStatus reports whether err carries the given HTTP status code.
func IsStatus(err error, code int) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode == code
}
