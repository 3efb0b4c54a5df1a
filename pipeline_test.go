package imgpipe

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/unkn0wn-root/imgpipe/fetch"
	"github.com/unkn0wn-root/imgpipe/internal/util"
	"github.com/unkn0wn-root/imgpipe/memcache"
)

// ==============================
// Fakes
// ==============================

type fakeFetcher struct {
	mu          sync.Mutex
	payloads    map[string][]byte
	errs        map[string]error
	calls       map[string]int
	inflight    int
	maxInflight int
	delay       time.Duration
	block       chan struct{} // when non-nil, Load parks until closed or ctx fires
}

var _ Fetcher = (*fakeFetcher)(nil)

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		payloads: make(map[string][]byte),
		errs:     make(map[string]error),
		calls:    make(map[string]int),
	}
}

func (f *fakeFetcher) Load(ctx context.Context, url string, _ fetch.Options) ([]byte, string, error) {
	f.mu.Lock()
	f.calls[url]++
	f.inflight++
	if f.inflight > f.maxInflight {
		f.maxInflight = f.inflight
	}
	block := f.block
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		f.inflight--
		f.mu.Unlock()
	}()

	if block != nil {
		select {
		case <-ctx.Done():
			return nil, "", ctx.Err()
		case <-block:
		}
	}
	if f.delay > 0 {
		select {
		case <-ctx.Done():
			return nil, "", ctx.Err()
		case <-time.After(f.delay):
		}
	}
	if err := f.errs[url]; err != nil {
		return nil, "", err
	}
	b, ok := f.payloads[url]
	if !ok {
		return nil, "", &fetch.StatusError{URL: url, StatusCode: http.StatusNotFound, Status: "404 Not Found"}
	}
	return b, "image/png", nil
}

func (f *fakeFetcher) callCount(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[url]
}

type memBlobStore struct {
	mu     sync.Mutex
	m      map[string][]byte
	getErr error
	setErr error
	sets   int
}

func newMemBlobStore() *memBlobStore { return &memBlobStore{m: make(map[string][]byte)} }

func (s *memBlobStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return nil, false, s.getErr
	}
	b, ok := s.m[key]
	return b, ok, nil
}

func (s *memBlobStore) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sets++
	if s.setErr != nil {
		return s.setErr
	}
	s.m[key] = value
	return nil
}

func (s *memBlobStore) Del(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.m, key)
	return nil
}

func (s *memBlobStore) Close(context.Context) error { return nil }

func (s *memBlobStore) setCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sets
}

func (s *memBlobStore) has(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.m[key]
	return ok
}

func (s *memBlobStore) raw(key string) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.m[key]
}

type hookSpy struct {
	mu          sync.Mutex
	readFailed  int
	writeFailed int
	shared      int
	healReasons []string
}

var _ Hooks = (*hookSpy)(nil)

func (h *hookSpy) PersistReadFailed(string, error) {
	h.mu.Lock()
	h.readFailed++
	h.mu.Unlock()
}
func (h *hookSpy) PersistWriteFailed(string, error) {
	h.mu.Lock()
	h.writeFailed++
	h.mu.Unlock()
}
func (h *hookSpy) SelfHeal(_, reason string) {
	h.mu.Lock()
	h.healReasons = append(h.healReasons, reason)
	h.mu.Unlock()
}
func (h *hookSpy) DecodeFallback(int, error) {}
func (h *hookSpy) FlightShared(string) {
	h.mu.Lock()
	h.shared++
	h.mu.Unlock()
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 16), G: uint8(y * 16), A: 0xFF})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png encode: %v", err)
	}
	return buf.Bytes()
}

func newTestPipeline(t *testing.T, mod func(*Options)) (*pipeline, *fakeFetcher, *memBlobStore) {
	t.Helper()
	ff := newFakeFetcher()
	bs := newMemBlobStore()
	opts := Options{
		Namespace: "test",
		Fetcher:   ff,
		Blobs:     bs,
	}
	if mod != nil {
		mod(&opts)
	}
	p, err := newPipeline(opts)
	if err != nil {
		t.Fatalf("newPipeline: %v", err)
	}
	t.Cleanup(func() { _ = p.Close(context.Background()) })
	return p, ff, bs
}

// waitFor polls until cond holds or the deadline passes; background persist
// writes have no completion signal by design.
func waitFor(t *testing.T, d time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("condition not reached within %v", d)
}

// ==============================
// Acquire: tier order
// ==============================

func TestAcquireNetworkMissThenMemoryHit(t *testing.T) {
	ctx := context.Background()
	p, ff, bs := newTestPipeline(t, nil)

	url := "https://cdn.example.com/a.png"
	ff.payloads[url] = pngBytes(t, 8, 6)

	img, err := p.Acquire(ctx, url, nil)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if img.Width != 8 || img.Height != 6 || img.Format != "png" {
		t.Fatalf("decoded image wrong: %+v", img)
	}
	if img.SourceURL != url {
		t.Fatalf("source url: got %q", img.SourceURL)
	}
	if got := ff.callCount(url); got != 1 {
		t.Fatalf("loader calls: got %d want 1", got)
	}

	// Background persist write lands eventually.
	key := util.EntryKey("test", url)
	waitFor(t, time.Second, func() bool { return bs.has(key) })

	// Second acquire is a pure memory hit.
	img2, err := p.Acquire(ctx, url, nil)
	if err != nil {
		t.Fatalf("Acquire (2nd): %v", err)
	}
	if img2 != img {
		t.Fatalf("expected the cached instance back")
	}
	if got := ff.callCount(url); got != 1 {
		t.Fatalf("memory hit must not refetch, loader calls=%d", got)
	}
}

func TestAcquirePersistentHitSkipsNetwork(t *testing.T) {
	ctx := context.Background()
	p, ff, _ := newTestPipeline(t, nil)

	url := "https://cdn.example.com/warm.png"
	raw := pngBytes(t, 5, 7)
	key := util.EntryKey("test", url)
	if err := p.persist.put(ctx, key, raw, Meta{SourceURL: url, ContentType: "image/png", RawSize: int64(len(raw))}); err != nil {
		t.Fatalf("seed persist: %v", err)
	}

	img, err := p.Acquire(ctx, url, nil)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if img.Width != 5 || img.Height != 7 {
		t.Fatalf("decoded image wrong: %+v", img)
	}
	if got := ff.callCount(url); got != 0 {
		t.Fatalf("persistent hit must not invoke the loader, calls=%d", got)
	}

	// And the decoded result landed in the memory tier.
	if _, ok := p.mem.Get(url); !ok {
		t.Fatalf("expected memory entry after persistent hit")
	}
}

func TestPersistRoundTripByteIdenticalAndSmaller(t *testing.T) {
	ctx := context.Background()
	p, _, bs := newTestPipeline(t, nil)

	key := util.EntryKey("test", "k")
	raw := bytes.Repeat([]byte("tiled-background-row-"), 4096)
	if err := p.persist.put(ctx, key, raw, Meta{RawSize: int64(len(raw))}); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, meta, ok := p.persist.get(ctx, key)
	if !ok {
		t.Fatalf("expected hit")
	}
	if !bytes.Equal(got, raw) {
		t.Fatalf("round trip not byte-identical")
	}
	if meta.RawSize != int64(len(raw)) {
		t.Fatalf("meta lost: %+v", meta)
	}
	if stored := bs.raw(key); len(stored) >= len(raw) {
		t.Fatalf("stored entry not compressed: %d >= %d", len(stored), len(raw))
	}
}

// ==============================
// Acquire: cancellation & failures
// ==============================

func TestAcquireCancelledLeavesNoMemoryEntry(t *testing.T) {
	p, ff, _ := newTestPipeline(t, nil)

	url := "https://cdn.example.com/slow.png"
	ff.payloads[url] = pngBytes(t, 4, 4)
	ff.block = make(chan struct{}) // never closed; only ctx releases the load

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := p.Acquire(ctx, url, nil)
	if err == nil || !IsCancelled(err) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	if _, ok := p.mem.Get(url); ok {
		t.Fatalf("cancelled acquisition must not populate the memory cache")
	}
}

func TestAcquirePreCancelled(t *testing.T) {
	p, ff, _ := newTestPipeline(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.Acquire(ctx, "https://cdn.example.com/x.png", nil)
	if !IsCancelled(err) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	if got := ff.callCount("https://cdn.example.com/x.png"); got != 0 {
		t.Fatalf("pre-cancelled acquire must not reach the loader")
	}
}

func TestAcquireNotFoundIsNetworkError(t *testing.T) {
	p, _, _ := newTestPipeline(t, nil)

	url := "https://cdn.example.com/missing.png"
	_, err := p.Acquire(context.Background(), url, nil)
	var ne *NetworkError
	if !errors.As(err, &ne) {
		t.Fatalf("expected NetworkError, got %v", err)
	}
	if !fetch.IsStatus(err, http.StatusNotFound) {
		t.Fatalf("expected wrapped 404, got %v", err)
	}
}

func TestAcquireGarbagePayloadIsDecodeError(t *testing.T) {
	p, ff, _ := newTestPipeline(t, nil)

	url := "https://cdn.example.com/garbage.bin"
	ff.payloads[url] = []byte("this is not an image")

	_, err := p.Acquire(context.Background(), url, nil)
	var de *DecodeError
	if !errors.As(err, &de) {
		t.Fatalf("expected DecodeError, got %v", err)
	}
	if _, ok := p.mem.Get(url); ok {
		t.Fatalf("failed decode must not populate the memory cache")
	}
}

func TestPersistUnavailableDegradesToNetwork(t *testing.T) {
	spy := &hookSpy{}
	p, ff, bs := newTestPipeline(t, func(o *Options) { o.Hooks = spy })
	bs.getErr = errors.New("backend down")

	url := "https://cdn.example.com/degraded.png"
	ff.payloads[url] = pngBytes(t, 3, 3)

	img, err := p.Acquire(context.Background(), url, nil)
	if err != nil {
		t.Fatalf("Acquire must succeed via network when the store is down: %v", err)
	}
	if img.Width != 3 {
		t.Fatalf("unexpected image: %+v", img)
	}
	spy.mu.Lock()
	defer spy.mu.Unlock()
	if spy.readFailed == 0 {
		t.Fatalf("expected PersistReadFailed hook")
	}
}

func TestSelfHealOnCorruptPersistEntry(t *testing.T) {
	ctx := context.Background()
	spy := &hookSpy{}
	p, ff, bs := newTestPipeline(t, func(o *Options) { o.Hooks = spy })

	url := "https://cdn.example.com/corrupt.png"
	ff.payloads[url] = pngBytes(t, 2, 2)
	key := util.EntryKey("test", url)
	bs.m[key] = []byte("not-wire-format")

	if _, err := p.Acquire(ctx, url, nil); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if got := ff.callCount(url); got != 1 {
		t.Fatalf("corrupt entry must fall through to network, calls=%d", got)
	}
	spy.mu.Lock()
	reasons := append([]string(nil), spy.healReasons...)
	spy.mu.Unlock()
	if len(reasons) == 0 || reasons[0] != "corrupt" {
		t.Fatalf("expected self-heal with reason corrupt, got %v", reasons)
	}
}

// ==============================
// Acquire: option flags
// ==============================

func TestSkipMemoryCacheBypassesTiersAndStore(t *testing.T) {
	ctx := context.Background()
	p, ff, _ := newTestPipeline(t, nil)

	url := "https://cdn.example.com/fresh.png"
	ff.payloads[url] = pngBytes(t, 6, 6)

	stale := &Image{Width: 1, Height: 1, SourceURL: url}
	p.mem.Set(url, stale)

	img, err := p.Acquire(ctx, url, &AcquireOptions{SkipMemoryCache: true})
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if img.Width != 6 {
		t.Fatalf("expected fresh fetch, got %+v", img)
	}
	if got := ff.callCount(url); got != 1 {
		t.Fatalf("skip-cache acquire must hit the network, calls=%d", got)
	}
	// The refresh must not overwrite the memory tier.
	if cur, ok := p.mem.Get(url); !ok || cur != stale {
		t.Fatalf("memory tier should be untouched by a skip-cache acquire")
	}
}

func TestSkipPersistentWrite(t *testing.T) {
	p, ff, bs := newTestPipeline(t, nil)

	url := "https://cdn.example.com/nostore.png"
	ff.payloads[url] = pngBytes(t, 2, 2)

	if _, err := p.Acquire(context.Background(), url, &AcquireOptions{SkipPersistentWrite: true}); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	time.Sleep(30 * time.Millisecond)
	if got := bs.setCount(); got != 0 {
		t.Fatalf("expected no persistent write, got %d", got)
	}
}

func TestPersistWriteFailureDoesNotFailAcquire(t *testing.T) {
	spy := &hookSpy{}
	p, ff, bs := newTestPipeline(t, func(o *Options) { o.Hooks = spy })
	bs.setErr = errors.New("disk full")

	url := "https://cdn.example.com/wf.png"
	ff.payloads[url] = pngBytes(t, 2, 2)

	if _, err := p.Acquire(context.Background(), url, nil); err != nil {
		t.Fatalf("Acquire must not fail on store-write error: %v", err)
	}
	waitFor(t, time.Second, func() bool {
		spy.mu.Lock()
		defer spy.mu.Unlock()
		return spy.writeFailed > 0
	})
}

// ==============================
// Single-flight dedup
// ==============================

func TestConcurrentAcquiresCoalesce(t *testing.T) {
	spy := &hookSpy{}
	p, ff, _ := newTestPipeline(t, func(o *Options) { o.Hooks = spy })

	url := "https://cdn.example.com/popular.png"
	ff.payloads[url] = pngBytes(t, 10, 10)
	ff.delay = 30 * time.Millisecond

	const callers = 8
	images := make([]*Image, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			images[i], errs[i] = p.Acquire(context.Background(), url, nil)
		}(i)
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		if errs[i] != nil {
			t.Fatalf("caller %d: %v", i, errs[i])
		}
		if images[i] != images[0] {
			t.Fatalf("caller %d got a different instance", i)
		}
	}
	if got := ff.callCount(url); got != 1 {
		t.Fatalf("expected one coalesced fetch, got %d", got)
	}
	spy.mu.Lock()
	defer spy.mu.Unlock()
	if spy.shared == 0 {
		t.Fatalf("expected FlightShared hook for coalesced callers")
	}
}

// ==============================
// Batch orchestration
// ==============================

func TestAcquireAllIsolatesFailures(t *testing.T) {
	p, ff, _ := newTestPipeline(t, nil)

	a := "https://cdn.example.com/a.png"
	b := "https://cdn.example.com/b.png" // left unset => 404
	c := "https://cdn.example.com/c.png"
	ff.payloads[a] = pngBytes(t, 2, 2)
	ff.payloads[c] = pngBytes(t, 3, 3)

	out := p.AcquireAll(context.Background(), []string{a, b, c}, nil)
	if len(out) != 3 {
		t.Fatalf("expected 3 results, got %d", len(out))
	}
	if out[a].Err != nil || out[a].Image == nil || out[a].Image.Width != 2 {
		t.Fatalf("a should succeed: %+v", out[a])
	}
	if out[c].Err != nil || out[c].Image == nil || out[c].Image.Width != 3 {
		t.Fatalf("c should succeed: %+v", out[c])
	}
	var ne *NetworkError
	if out[b].Err == nil || !errors.As(out[b].Err, &ne) {
		t.Fatalf("b should fail with NetworkError: %v", out[b].Err)
	}
}

func TestAcquireAllChunksAndYields(t *testing.T) {
	var mu sync.Mutex
	yields := 0
	p, ff, _ := newTestPipeline(t, func(o *Options) {
		o.YieldFunc = func() {
			mu.Lock()
			yields++
			mu.Unlock()
		}
	})

	urls := make([]string, 7)
	for i := range urls {
		urls[i] = "https://cdn.example.com/batch-" + string(rune('a'+i)) + ".png"
		ff.payloads[urls[i]] = pngBytes(t, 2, 2)
	}

	out := p.AcquireAll(context.Background(), urls, nil)
	for _, u := range urls {
		if out[u].Err != nil {
			t.Fatalf("%s: %v", u, out[u].Err)
		}
	}

	// Each of the 7 acquisitions yields once before decode; 7 URLs at the
	// default chunk size of 3 make waves of 3/3/1 with 2 inter-chunk yields.
	mu.Lock()
	total := yields
	mu.Unlock()
	if interChunk := total - len(urls); interChunk != 2 {
		t.Fatalf("inter-chunk yields: got %d (total %d) want 2", interChunk, total)
	}

	// Concurrency never exceeded the chunk size.
	ff.mu.Lock()
	maxInflight := ff.maxInflight
	ff.mu.Unlock()
	if maxInflight > 3 {
		t.Fatalf("chunk concurrency exceeded: %d", maxInflight)
	}
}

func TestAcquireAllPreCancelled(t *testing.T) {
	p, _, _ := newTestPipeline(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	urls := []string{"https://x/1.png", "https://x/2.png"}
	out := p.AcquireAll(ctx, urls, nil)
	if len(out) != 2 {
		t.Fatalf("expected entries for every url, got %d", len(out))
	}
	for _, u := range urls {
		if !IsCancelled(out[u].Err) {
			t.Fatalf("%s: expected cancellation, got %v", u, out[u].Err)
		}
	}
}

func TestAcquireAllEmpty(t *testing.T) {
	p, _, _ := newTestPipeline(t, nil)
	if out := p.AcquireAll(context.Background(), nil, nil); len(out) != 0 {
		t.Fatalf("expected empty result, got %v", out)
	}
}

// ==============================
// Misc
// ==============================

func TestNoPersistTierConfigured(t *testing.T) {
	ff := newFakeFetcher()
	p, err := newPipeline(Options{Fetcher: ff})
	if err != nil {
		t.Fatalf("newPipeline: %v", err)
	}
	defer p.Close(context.Background())

	url := "https://cdn.example.com/nopersist.png"
	ff.payloads[url] = pngBytes(t, 2, 2)
	if _, err := p.Acquire(context.Background(), url, nil); err != nil {
		t.Fatalf("Acquire without persistent tier: %v", err)
	}
	if got := ff.callCount(url); got != 1 {
		t.Fatalf("loader calls: %d", got)
	}
}

func TestImageCost(t *testing.T) {
	img := &Image{Width: 100, Height: 50}
	if img.Cost() <= 100*50*4 {
		t.Fatalf("cost should cover pixels plus overhead, got %d", img.Cost())
	}
	var nilImg *Image
	if nilImg.Cost() != 0 {
		t.Fatalf("nil image cost should be 0")
	}
}

func TestWeakMemoryDefault(t *testing.T) {
	p, _, _ := newTestPipeline(t, nil)
	if _, ok := p.mem.(*memcache.Weak[Image]); !ok {
		t.Fatalf("default memory tier should be the weak store, got %T", p.mem)
	}
}
