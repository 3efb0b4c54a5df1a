package imgpipe

import (
	"context"
	"sync"
)

// AcquireAll partitions urls into ordered chunks of Options.ChunkSize and
// acquires each chunk concurrently, waiting for the whole chunk before the
// next one starts. One failing URL never aborts its siblings; its Result
// carries the error instead. Cancellation is checked before every chunk and
// marks all remaining URLs cancelled.
func (p *pipeline) AcquireAll(ctx context.Context, urls []string, opts *AcquireOptions) map[string]Result {
	out := make(map[string]Result, len(urls))
	if len(urls) == 0 {
		return out
	}

	for start := 0; start < len(urls); start += p.chunkSize {
		if err := ctx.Err(); err != nil {
			for _, u := range urls[start:] {
				if _, done := out[u]; !done {
					out[u] = Result{Err: acquireErr(u, err)}
				}
			}
			return out
		}
		if start > 0 {
			// One scheduling point between waves; acquisitions inside a
			// chunk already yield during their own network/decode stages.
			p.yield()
		}

		end := start + p.chunkSize
		if end > len(urls) {
			end = len(urls)
		}
		chunk := urls[start:end]
		results := make([]Result, len(chunk))

		var wg sync.WaitGroup
		for i, u := range chunk {
			wg.Add(1)
			go func(i int, u string) {
				defer wg.Done()
				img, err := p.Acquire(ctx, u, opts)
				results[i] = Result{Image: img, Err: err}
			}(i, u)
		}
		wg.Wait()

		for i, u := range chunk {
			out[u] = results[i]
		}
	}
	return out
}
