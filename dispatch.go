package fetchkit

import (
	"container/heap"
	"context"
	"errors"
	"net/http"
	"sync"

	"go.uber.org/zap"
)

// dispatcher owns every request from submission to terminal state. The
// pending heap, tag index, and ticket table share one lock; critical
// sections are short and never perform I/O. Transfers run on worker
// goroutines admitted through the slot semaphore.
type dispatcher struct {
	logger  *zap.Logger
	exec    Executor
	slots   *Semaphore
	est     *Estimator
	cache   *Cache
	metrics *metrics

	mu      sync.Mutex
	seq     uint64
	pending requestHeap
	byTag   map[string]map[uint64]*Request
	running map[uint64]*Request
	tickets map[uint64]*Ticket
	closed  bool
}

func newDispatcher(cfg *Config, exec Executor, est *Estimator, cache *Cache, m *metrics) *dispatcher {
	return &dispatcher{
		logger:  cfg.Logger,
		exec:    exec,
		slots:   NewSemaphore(cfg.Workers),
		est:     est,
		cache:   cache,
		metrics: m,
		byTag:   make(map[string]map[uint64]*Request),
		running: make(map[uint64]*Request),
		tickets: make(map[uint64]*Ticket),
	}
}

// Ticket tracks one enqueued request. Wait for the outcome via Done or
// Wait; cancel the single request via Cancel.
type Ticket struct {
	req  *Request
	d    *dispatcher
	done chan struct{}

	// Written exactly once before done is closed.
	resp *Response
	err  error
}

// ID returns the sequence number assigned to the request.
func (t *Ticket) ID() uint64 { return t.req.seq }

// Tag returns the request's grouping tag.
func (t *Ticket) Tag() string { return t.req.Tag }

// State returns the request's current lifecycle state.
func (t *Ticket) State() State { return t.req.State() }

// Done is closed when the request reaches a terminal state.
func (t *Ticket) Done() <-chan struct{} { return t.done }

// Wait blocks until the request completes or ctx expires. Waiting does not
// cancel the request; use Cancel for that.
func (t *Ticket) Wait(ctx context.Context) (*Response, error) {
	select {
	case <-t.done:
		return t.resp, t.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Cancel cancels this request. With force, an in-flight transfer is
// interrupted immediately; otherwise it is signalled cooperatively and
// aborts at its next checkpoint. Cancelling twice is a no-op.
func (t *Ticket) Cancel(force bool) {
	t.d.mu.Lock()
	finished := t.d.cancelLocked([]*Request{t.req}, force)
	t.d.mu.Unlock()
	t.d.finish(finished)
}

// Enqueue admits a request. It assigns the sequence number, indexes the
// request by tag, and offers it to the worker pool. Enqueue never blocks;
// when all workers are busy the request waits in the priority queue. It
// fails only after Shutdown.
func (d *dispatcher) Enqueue(req *Request) (*Ticket, error) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil, ErrShutdown
	}
	if req.seq != 0 {
		d.mu.Unlock()
		return nil, &RequestError{Op: "enqueue", URL: req.URL, Err: errors.New("request already enqueued")}
	}

	d.seq++
	req.seq = d.seq
	req.ctx, req.cancel = context.WithCancel(context.Background())

	t := &Ticket{req: req, d: d, done: make(chan struct{})}
	d.tickets[req.seq] = t
	heap.Push(&d.pending, req)
	if req.Tag != "" {
		bucket := d.byTag[req.Tag]
		if bucket == nil {
			bucket = make(map[uint64]*Request)
			d.byTag[req.Tag] = bucket
		}
		bucket[req.seq] = req
	}
	d.mu.Unlock()

	d.metrics.observeEnqueued()
	d.logger.Debug("request enqueued",
		zap.Uint64("id", req.seq),
		zap.String("method", req.Method),
		zap.String("url", req.URL),
		zap.String("tag", req.Tag),
		zap.Stringer("priority", req.Priority))

	d.dispatch()
	return t, nil
}

// dispatch starts workers for runnable requests while slots are free.
func (d *dispatcher) dispatch() {
	for {
		if !d.slots.TryAcquire() {
			return
		}

		d.mu.Lock()
		var req *Request
		for d.pending.Len() > 0 {
			r := heap.Pop(&d.pending).(*Request)
			if r.transition(StatePending, StateRunning) {
				req = r
				break
			}
			// Cancelled while pending; its ticket was already finalized.
		}
		if req == nil {
			d.mu.Unlock()
			d.slots.Release()
			return
		}
		d.running[req.seq] = req
		d.mu.Unlock()

		go d.work(req)
	}
}

func (d *dispatcher) work(req *Request) {
	d.metrics.observeStarted()
	defer func() {
		d.metrics.observeStopped()
		d.slots.Release()
		d.dispatch()
	}()

	resp, err := d.execute(req)
	d.complete(req, resp, err)
}

// execute serves the request from cache when possible, otherwise runs the
// transfer and feeds the estimator. Cached responses are not sampled; they
// would report artificial throughput.
func (d *dispatcher) execute(req *Request) (*Response, error) {
	if req.Cancelled() {
		return nil, ErrCancelled
	}

	if req.CacheKey != "" {
		if body, ok := d.cache.Get(req.CacheKey); ok {
			d.metrics.observeCacheHit()
			return &Response{StatusCode: http.StatusOK, Body: body, Cached: true}, nil
		}
		d.metrics.observeCacheMiss()
	}

	resp, err := d.exec.Execute(req.ctx, req)
	if err != nil {
		return nil, err
	}

	d.est.AddSample(resp.BytesReceived, resp.Elapsed)
	d.metrics.observeBandwidth(d.est.Bandwidth())

	if req.CacheKey != "" && resp.Body != nil {
		d.cache.Put(req.CacheKey, resp.Body)
	}
	return resp, nil
}

// complete transitions the request to its terminal state, removes it from
// the indices, and finalizes the ticket. The outcome of a request that was
// cancelled mid-flight is discarded.
func (d *dispatcher) complete(req *Request, resp *Response, err error) {
	d.mu.Lock()
	delete(d.running, req.seq)
	d.removeFromTagLocked(req)
	t := d.tickets[req.seq]
	delete(d.tickets, req.seq)

	switch {
	case req.Cancelled():
		req.transition(StateRunning, StateCancelled)
		resp, err = nil, ErrCancelled
	case err != nil:
		req.transition(StateRunning, StateFailed)
	default:
		req.transition(StateRunning, StateCompleted)
	}
	d.mu.Unlock()

	req.cancel()

	outcome := req.State().String()
	d.metrics.observeCompleted(outcome)
	d.logger.Debug("request finished",
		zap.Uint64("id", req.seq),
		zap.String("url", req.URL),
		zap.String("outcome", outcome),
		zap.Error(err))

	if t != nil {
		t.resp, t.err = resp, err
		close(t.done)
	}
}

// Cancel cancels every request currently indexed under tag. Pending
// requests are dropped without execution; running requests are signalled
// cooperatively, or interrupted when force is set. Unknown tags are a
// silent no-op.
func (d *dispatcher) Cancel(tag string, force bool) {
	d.mu.Lock()
	bucket := d.byTag[tag]
	reqs := make([]*Request, 0, len(bucket))
	for _, r := range bucket {
		reqs = append(reqs, r)
	}
	finished := d.cancelLocked(reqs, force)
	d.mu.Unlock()

	if len(reqs) > 0 {
		d.logger.Debug("cancelled tag",
			zap.String("tag", tag),
			zap.Bool("force", force),
			zap.Int("requests", len(reqs)))
	}
	d.finish(finished)
}

// CancelAll applies Cancel semantics to every tracked request.
func (d *dispatcher) CancelAll(force bool) {
	d.mu.Lock()
	reqs := make([]*Request, 0, len(d.tickets))
	for _, t := range d.tickets {
		reqs = append(reqs, t.req)
	}
	finished := d.cancelLocked(reqs, force)
	d.mu.Unlock()

	d.logger.Debug("cancelled all requests",
		zap.Bool("force", force),
		zap.Int("requests", len(reqs)))
	d.finish(finished)
}

// cancelLocked marks each request cancelled. Pending requests go terminal
// immediately; their heap entries are dropped lazily at pop time. Running
// requests keep their slot until the worker observes the flag (or, when
// forced, the context interrupt) and completes.
func (d *dispatcher) cancelLocked(reqs []*Request, force bool) []*Ticket {
	var finished []*Ticket
	for _, r := range reqs {
		r.cancelled.Store(true)
		if r.transition(StatePending, StateCancelled) {
			d.removeFromTagLocked(r)
			if t := d.tickets[r.seq]; t != nil {
				delete(d.tickets, r.seq)
				finished = append(finished, t)
			}
			r.cancel()
		} else if force && r.State() == StateRunning {
			r.cancel()
		}
	}
	return finished
}

// finish closes tickets of requests cancelled before dispatch. Runs outside
// the lock so a waiter woken here can re-enter the dispatcher safely.
func (d *dispatcher) finish(tickets []*Ticket) {
	for _, t := range tickets {
		d.metrics.observeCompleted(StateCancelled.String())
		t.err = ErrCancelled
		close(t.done)
	}
}

func (d *dispatcher) removeFromTagLocked(req *Request) {
	if req.Tag == "" {
		return
	}
	bucket := d.byTag[req.Tag]
	delete(bucket, req.seq)
	if len(bucket) == 0 {
		delete(d.byTag, req.Tag)
	}
}

// Shutdown stops admission. In-flight requests are left to run; interrupt
// them with CancelAll(true) if needed.
func (d *dispatcher) Shutdown() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
}

// SetConcurrency resizes the worker pool at runtime.
func (d *dispatcher) SetConcurrency(n int) {
	d.slots.Resize(n)
	d.dispatch()
}

// counts returns the number of pending and running requests.
func (d *dispatcher) counts() (pending, running int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.tickets) - len(d.running), len(d.running)
}
