package fetchkit

import (
	"context"
)

// Client is the entry point wiring the request queue, connection quality
// estimator, and response cache together. Construct one per process with
// New and pass it around explicitly.
//
// Client is safe for concurrent use by multiple goroutines.
type Client struct {
	cfg   *Config
	d     *dispatcher
	est   *Estimator
	cache *Cache
}

// New creates a client. If cfg is nil, default configuration is used.
func New(cfg *Config) *Client {
	cfg = cfg.withDefaults()

	est := NewEstimator(cfg)
	cache := NewCache(cfg.CacheCapacity, cfg.Logger)
	exec := cfg.Executor
	if exec == nil {
		exec = newHTTPExecutor(cfg)
	}
	d := newDispatcher(cfg, exec, est, cache, newMetrics(cfg.Registerer))

	return &Client{cfg: cfg, d: d, est: est, cache: cache}
}

// Enqueue submits a request for asynchronous execution. It never blocks;
// the returned ticket reports the outcome. After Shutdown it fails with
// ErrShutdown.
func (c *Client) Enqueue(req *Request) (*Ticket, error) {
	return c.d.Enqueue(req)
}

// Do submits a request and blocks until it completes.
func (c *Client) Do(req *Request) (*Response, error) {
	return c.DoWithContext(context.Background(), req)
}

// DoWithContext submits a request and blocks until it completes or ctx
// expires, in which case the request is force-cancelled.
func (c *Client) DoWithContext(ctx context.Context, req *Request) (*Response, error) {
	t, err := c.Enqueue(req)
	if err != nil {
		return nil, err
	}
	resp, err := t.Wait(ctx)
	if err != nil && ctx.Err() != nil {
		t.Cancel(true)
		return nil, err
	}
	return resp, err
}

// Cancel cooperatively cancels every request tagged with tag. Pending
// requests are dropped; running transfers abort at their next checkpoint.
// An unknown tag is a no-op.
func (c *Client) Cancel(tag string) {
	c.d.Cancel(tag, false)
}

// ForceCancel cancels every request tagged with tag, interrupting in-flight
// transfers immediately and discarding partial results.
func (c *Client) ForceCancel(tag string) {
	c.d.Cancel(tag, true)
}

// CancelAll cooperatively cancels every tracked request.
func (c *Client) CancelAll() {
	c.d.CancelAll(false)
}

// ForceCancelAll cancels every tracked request, interrupting in-flight
// transfers immediately.
func (c *Client) ForceCancelAll() {
	c.d.CancelAll(true)
}

// SetQualityChangeListener registers the connection quality listener,
// replacing any previous one.
func (c *Client) SetQualityChangeListener(l QualityListener) {
	c.est.SetListener(l)
}

// RemoveQualityChangeListener unregisters the connection quality listener.
func (c *Client) RemoveQualityChangeListener() {
	c.est.RemoveListener()
}

// CurrentBandwidth returns the smoothed bandwidth estimate in bits/sec.
func (c *Client) CurrentBandwidth() int64 {
	return c.est.Bandwidth()
}

// CurrentQuality returns the current connection quality level.
func (c *Client) CurrentQuality() Quality {
	return c.est.Quality()
}

// Evict removes one entry from the response cache.
func (c *Client) Evict(key string) {
	c.cache.Evict(key)
}

// EvictAll clears the response cache.
func (c *Client) EvictAll() {
	c.cache.EvictAll()
}

// SetConcurrency resizes the worker pool. Shrinking never interrupts
// running transfers; the pool drains down as they finish.
func (c *Client) SetConcurrency(n int) {
	c.d.SetConcurrency(n)
}

// Stats is a point-in-time snapshot of the client.
type Stats struct {
	Pending      int
	Running      int
	Workers      int
	CacheBytes   int64
	CacheEntries int
	Bandwidth    int64
	Quality      Quality
}

// GetStats returns a snapshot of queue, cache, and estimator state.
func (c *Client) GetStats() Stats {
	pending, running := c.d.counts()
	return Stats{
		Pending:      pending,
		Running:      running,
		Workers:      c.d.slots.Capacity(),
		CacheBytes:   c.cache.Size(),
		CacheEntries: c.cache.Len(),
		Bandwidth:    c.est.Bandwidth(),
		Quality:      c.est.Quality(),
	}
}

// Shutdown stops accepting submissions, clears the cache, and resets the
// estimator. In-flight requests are not interrupted; use ForceCancelAll
// first if they should be.
func (c *Client) Shutdown() {
	c.d.Shutdown()
	c.cache.EvictAll()
	c.est.Close()
}
