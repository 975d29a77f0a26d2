package fetchkit

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// execFunc adapts a function to the Executor interface for tests.
type execFunc func(ctx context.Context, req *Request) (*Response, error)

func (f execFunc) Execute(ctx context.Context, req *Request) (*Response, error) {
	return f(ctx, req)
}

func okResponse() *Response {
	return &Response{StatusCode: http.StatusOK}
}

func newTestClient(t *testing.T, workers int, exec Executor) *Client {
	t.Helper()
	c := New(&Config{Workers: workers, Executor: exec})
	t.Cleanup(c.Shutdown)
	return c
}

// blockingExec gates execution so tests control when workers are busy.
type blockingExec struct {
	started chan *Request
	release chan struct{}
}

func newBlockingExec() *blockingExec {
	return &blockingExec{
		started: make(chan *Request, 64),
		release: make(chan struct{}),
	}
}

func (b *blockingExec) Execute(ctx context.Context, req *Request) (*Response, error) {
	b.started <- req
	select {
	case <-b.release:
		return okResponse(), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func mustBuild(t *testing.T, b *Builder) *Request {
	t.Helper()
	req, err := b.Build()
	require.NoError(t, err)
	return req
}

func TestDispatcher_CompletesRequest(t *testing.T) {
	c := newTestClient(t, 2, execFunc(func(ctx context.Context, req *Request) (*Response, error) {
		return &Response{StatusCode: http.StatusOK, Body: []byte("ok")}, nil
	}))

	ticket, err := c.Enqueue(mustBuild(t, Get("https://example.com")))
	require.NoError(t, err)

	resp, err := ticket.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []byte("ok"), resp.Body)
	assert.Equal(t, StateCompleted, ticket.State())
	assert.EqualValues(t, 1, ticket.ID())
}

func TestDispatcher_PriorityOrder(t *testing.T) {
	blocker := newBlockingExec()
	var mu sync.Mutex
	var order []string

	exec := execFunc(func(ctx context.Context, req *Request) (*Response, error) {
		if req.Tag == "blocker" {
			return blocker.Execute(ctx, req)
		}
		mu.Lock()
		order = append(order, req.Tag)
		mu.Unlock()
		return okResponse(), nil
	})
	c := newTestClient(t, 1, exec)

	// Occupy the single worker so the rest queue up.
	_, err := c.Enqueue(mustBuild(t, Get("https://example.com/block").Tag("blocker")))
	require.NoError(t, err)
	<-blocker.started

	var tickets []*Ticket
	submit := func(tag string, p Priority) {
		ticket, err := c.Enqueue(mustBuild(t, Get("https://example.com/"+tag).Tag(tag).Priority(p)))
		require.NoError(t, err)
		tickets = append(tickets, ticket)
	}
	submit("low-1", PriorityLow)
	submit("low-2", PriorityLow)
	submit("high", PriorityHigh)
	submit("immediate", PriorityImmediate)

	close(blocker.release)
	for _, ticket := range tickets {
		_, err := ticket.Wait(context.Background())
		require.NoError(t, err)
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"immediate", "high", "low-1", "low-2"}, order,
		"higher priorities dispatch first, FIFO within a priority class")
}

func TestDispatcher_CancelTagAffectsOnlyThatTag(t *testing.T) {
	blocker := newBlockingExec()
	c := newTestClient(t, 1, blocker)

	_, err := c.Enqueue(mustBuild(t, Get("https://example.com/block").Tag("blocker")))
	require.NoError(t, err)
	<-blocker.started

	a, err := c.Enqueue(mustBuild(t, Get("https://example.com/a").Tag("1")))
	require.NoError(t, err)
	b, err := c.Enqueue(mustBuild(t, Get("https://example.com/b").Tag("2")))
	require.NoError(t, err)

	c.Cancel("1")

	// A is cancelled without ever running.
	_, err = a.Wait(context.Background())
	assert.ErrorIs(t, err, ErrCancelled)
	assert.Equal(t, StateCancelled, a.State())

	// B is untouched and completes once the worker frees up.
	assert.Equal(t, StatePending, b.State())
	close(blocker.release)
	_, err = b.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, b.State())
}

func TestDispatcher_CancelUnknownTagIsNoop(t *testing.T) {
	c := newTestClient(t, 1, execFunc(func(ctx context.Context, req *Request) (*Response, error) {
		return okResponse(), nil
	}))
	c.Cancel("no-such-tag")
	c.ForceCancel("no-such-tag")
}

func TestDispatcher_DoubleCancelIsIdempotent(t *testing.T) {
	blocker := newBlockingExec()
	c := newTestClient(t, 1, blocker)

	_, err := c.Enqueue(mustBuild(t, Get("https://example.com/block").Tag("blocker")))
	require.NoError(t, err)
	<-blocker.started

	a, err := c.Enqueue(mustBuild(t, Get("https://example.com/a").Tag("1")))
	require.NoError(t, err)

	c.Cancel("1")
	c.Cancel("1")
	a.Cancel(false)

	_, err = a.Wait(context.Background())
	assert.ErrorIs(t, err, ErrCancelled)
	close(blocker.release)
}

func TestDispatcher_CooperativeCancelObservedAtCheckpoint(t *testing.T) {
	checkpoint := make(chan struct{})
	exec := execFunc(func(ctx context.Context, req *Request) (*Response, error) {
		close(checkpoint)
		for !req.Cancelled() {
			select {
			case <-ctx.Done():
				t.Error("cooperative cancel must not interrupt the context")
				return nil, ctx.Err()
			case <-time.After(time.Millisecond):
			}
		}
		return nil, ErrCancelled
	})
	c := newTestClient(t, 1, exec)

	ticket, err := c.Enqueue(mustBuild(t, Get("https://example.com").Tag("t")))
	require.NoError(t, err)
	<-checkpoint

	c.Cancel("t")

	_, err = ticket.Wait(context.Background())
	assert.ErrorIs(t, err, ErrCancelled)
	assert.Equal(t, StateCancelled, ticket.State())
}

func TestDispatcher_ForceCancelInterruptsContext(t *testing.T) {
	blocker := newBlockingExec()
	c := newTestClient(t, 1, blocker)

	ticket, err := c.Enqueue(mustBuild(t, Get("https://example.com").Tag("t")))
	require.NoError(t, err)
	<-blocker.started

	c.ForceCancel("t")

	// The executor returns the context error; the queue reports the
	// cancelled outcome, discarding the transport result.
	_, err = ticket.Wait(context.Background())
	assert.ErrorIs(t, err, ErrCancelled)
	assert.Equal(t, StateCancelled, ticket.State())
}

func TestDispatcher_CancelledOutcomeDiscardsResult(t *testing.T) {
	flagged := make(chan struct{})
	exec := execFunc(func(ctx context.Context, req *Request) (*Response, error) {
		<-flagged
		// Pretend the transfer finished despite the cancellation flag.
		return okResponse(), nil
	})
	c := newTestClient(t, 1, exec)

	ticket, err := c.Enqueue(mustBuild(t, Get("https://example.com").Tag("t")))
	require.NoError(t, err)

	// Wait until running, then flag it.
	require.Eventually(t, func() bool { return ticket.State() == StateRunning },
		time.Second, time.Millisecond)
	c.Cancel("t")
	close(flagged)

	resp, err := ticket.Wait(context.Background())
	assert.Nil(t, resp)
	assert.ErrorIs(t, err, ErrCancelled)
	assert.Equal(t, StateCancelled, ticket.State())
}

func TestDispatcher_ForceCancelAllLeavesNothingTracked(t *testing.T) {
	blocker := newBlockingExec()
	c := newTestClient(t, 2, blocker)

	var tickets []*Ticket
	for i := 0; i < 6; i++ {
		ticket, err := c.Enqueue(mustBuild(t, Get("https://example.com").Tag("bulk")))
		require.NoError(t, err)
		tickets = append(tickets, ticket)
	}
	<-blocker.started
	<-blocker.started

	c.ForceCancelAll()

	for _, ticket := range tickets {
		_, err := ticket.Wait(context.Background())
		assert.ErrorIs(t, err, ErrCancelled)
		assert.Equal(t, StateCancelled, ticket.State())
	}

	require.Eventually(t, func() bool {
		stats := c.GetStats()
		return stats.Pending == 0 && stats.Running == 0
	}, time.Second, time.Millisecond, "no request may remain pending or running")
}

func TestDispatcher_TransportFailure(t *testing.T) {
	wantErr := &RequestError{Op: "execute", URL: "https://example.com", Err: ErrBadStatus, StatusCode: 500}
	c := newTestClient(t, 1, execFunc(func(ctx context.Context, req *Request) (*Response, error) {
		return nil, wantErr
	}))

	ticket, err := c.Enqueue(mustBuild(t, Get("https://example.com")))
	require.NoError(t, err)

	_, err = ticket.Wait(context.Background())
	assert.ErrorIs(t, err, ErrBadStatus)
	assert.Equal(t, StateFailed, ticket.State())
}

func TestDispatcher_EnqueueAfterShutdown(t *testing.T) {
	c := New(&Config{Workers: 1, Executor: execFunc(func(ctx context.Context, req *Request) (*Response, error) {
		return okResponse(), nil
	})})
	c.Shutdown()

	_, err := c.Enqueue(mustBuild(t, Get("https://example.com")))
	assert.ErrorIs(t, err, ErrShutdown)
}

func TestDispatcher_EnqueueSameRequestTwice(t *testing.T) {
	c := newTestClient(t, 1, execFunc(func(ctx context.Context, req *Request) (*Response, error) {
		return okResponse(), nil
	}))

	req := mustBuild(t, Get("https://example.com"))
	ticket, err := c.Enqueue(req)
	require.NoError(t, err)
	_, err = ticket.Wait(context.Background())
	require.NoError(t, err)

	_, err = c.Enqueue(req)
	assert.Error(t, err, "a request instance is single-use")
}

func TestDispatcher_ServesFromCache(t *testing.T) {
	var calls int
	var mu sync.Mutex
	c := newTestClient(t, 1, execFunc(func(ctx context.Context, req *Request) (*Response, error) {
		mu.Lock()
		calls++
		mu.Unlock()
		return &Response{StatusCode: http.StatusOK, Body: []byte("payload"), BytesReceived: 7, Elapsed: time.Second}, nil
	}))

	first, err := c.Do(mustBuild(t, Get("https://example.com/data").CacheKey("data")))
	require.NoError(t, err)
	assert.False(t, first.Cached)

	second, err := c.Do(mustBuild(t, Get("https://example.com/data").CacheKey("data")))
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, []byte("payload"), second.Body)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, calls, "the second request should not reach the transport")
}

func TestDispatcher_FeedsEstimator(t *testing.T) {
	c := newTestClient(t, 1, execFunc(func(ctx context.Context, req *Request) (*Response, error) {
		return &Response{StatusCode: http.StatusOK, BytesReceived: 2_500_000, Elapsed: time.Second}, nil
	}))

	_, err := c.Do(mustBuild(t, Get("https://example.com")))
	require.NoError(t, err)

	assert.Equal(t, QualityExcellent, c.CurrentQuality())
	assert.EqualValues(t, 20_000_000, c.CurrentBandwidth())
}

func TestDispatcher_SetConcurrency(t *testing.T) {
	blocker := newBlockingExec()
	c := newTestClient(t, 1, blocker)

	_, err := c.Enqueue(mustBuild(t, Get("https://example.com/1")))
	require.NoError(t, err)
	_, err = c.Enqueue(mustBuild(t, Get("https://example.com/2")))
	require.NoError(t, err)
	<-blocker.started

	// Only one worker; the second request waits.
	select {
	case <-blocker.started:
		t.Fatal("second request should not start with one worker")
	case <-time.After(50 * time.Millisecond):
	}

	c.SetConcurrency(2)
	select {
	case <-blocker.started:
	case <-time.After(time.Second):
		t.Fatal("second request should start after growing the pool")
	}
	close(blocker.release)
}

func TestDispatcher_ShutdownDoesNotInterruptInFlight(t *testing.T) {
	blocker := newBlockingExec()
	c := New(&Config{Workers: 1, Executor: blocker})

	ticket, err := c.Enqueue(mustBuild(t, Get("https://example.com")))
	require.NoError(t, err)
	<-blocker.started

	c.Shutdown()

	select {
	case <-ticket.Done():
		t.Fatal("shutdown must not terminate in-flight requests")
	case <-time.After(50 * time.Millisecond):
	}

	close(blocker.release)
	resp, err := ticket.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
