package fetchkit

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"sync/atomic"
)

// Priority orders pending requests. Higher priorities dispatch first;
// requests of equal priority dispatch in submission order.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityMedium
	PriorityHigh
	PriorityImmediate
)

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityMedium:
		return "medium"
	case PriorityHigh:
		return "high"
	case PriorityImmediate:
		return "immediate"
	default:
		return "unknown"
	}
}

// State is the lifecycle state of a request.
type State int32

const (
	StatePending State = iota
	StateRunning
	StateCancelled
	StateCompleted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateRunning:
		return "running"
	case StateCancelled:
		return "cancelled"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// terminal reports whether the state admits no further transitions.
func (s State) terminal() bool {
	return s == StateCancelled || s == StateCompleted || s == StateFailed
}

// Part is one part of a multipart upload.
type Part struct {
	Name        string
	FileName    string
	ContentType string
	Body        io.Reader
}

// Request describes one network operation. The descriptive fields are set
// through a Builder and must not be modified after Enqueue; the runtime
// fields are owned by the queue from submission until a terminal state.
type Request struct {
	Method      string
	URL         string
	Header      http.Header
	Body        []byte
	ContentType string
	Tag         string
	Priority    Priority
	DestPath    string // download destination, empty otherwise
	Parts       []Part // multipart upload parts, nil otherwise
	CacheKey    string // in-memory cache key, empty disables caching

	// Runtime state, assigned at submission.
	seq       uint64
	state     atomic.Int32
	cancelled atomic.Bool
	ctx       context.Context
	cancel    context.CancelFunc
}

// ID returns the sequence number assigned at submission, or zero if the
// request has not been enqueued.
func (r *Request) ID() uint64 { return r.seq }

// State returns the current lifecycle state.
func (r *Request) State() State { return State(r.state.Load()) }

// Cancelled reports whether cancellation has been requested. The flag may be
// set while the request is still running; the transfer observes it at its
// next checkpoint.
func (r *Request) Cancelled() bool { return r.cancelled.Load() }

// transition moves the request from one state to another. It fails if the
// request is no longer in the expected state, which keeps terminal states
// sticky: a cancelled request can never become running or completed.
func (r *Request) transition(from, to State) bool {
	return r.state.CompareAndSwap(int32(from), int32(to))
}

// Builder assembles an immutable Request. Construction is separate from
// submission so validation happens before the request enters the queue.
type Builder struct {
	req *Request
	err error
}

func newBuilder(method, rawURL string) *Builder {
	b := &Builder{req: &Request{
		Method:   method,
		URL:      rawURL,
		Header:   make(http.Header),
		Priority: PriorityMedium,
	}}
	if _, err := url.ParseRequestURI(rawURL); err != nil {
		b.err = &RequestError{Op: "build", URL: rawURL, Err: err}
	}
	return b
}

// Get starts a GET request to the given URL.
func Get(url string) *Builder { return newBuilder(http.MethodGet, url) }

// Head starts a HEAD request to the given URL.
func Head(url string) *Builder { return newBuilder(http.MethodHead, url) }

// Post starts a POST request to the given URL.
func Post(url string) *Builder { return newBuilder(http.MethodPost, url) }

// Put starts a PUT request to the given URL.
func Put(url string) *Builder { return newBuilder(http.MethodPut, url) }

// Delete starts a DELETE request to the given URL.
func Delete(url string) *Builder { return newBuilder(http.MethodDelete, url) }

// Patch starts a PATCH request to the given URL.
func Patch(url string) *Builder { return newBuilder(http.MethodPatch, url) }

// Download starts a GET request whose response body is streamed to the file
// at dest instead of being buffered in memory.
func Download(url, dest string) *Builder {
	b := newBuilder(http.MethodGet, url)
	if dest == "" && b.err == nil {
		b.err = &RequestError{Op: "build", URL: url, Err: errors.New("empty download destination")}
	}
	b.req.DestPath = dest
	return b
}

// Upload starts a multipart POST request. Add parts with Part.
func Upload(url string) *Builder { return newBuilder(http.MethodPost, url) }

// Tag sets the grouping key used for batch cancellation. Untagged requests
// are cancellable only individually or via CancelAll.
func (b *Builder) Tag(tag string) *Builder {
	b.req.Tag = tag
	return b
}

// Priority sets the dispatch priority.
func (b *Builder) Priority(p Priority) *Builder {
	b.req.Priority = p
	return b
}

// Header adds a request header.
func (b *Builder) Header(key, value string) *Builder {
	b.req.Header.Add(key, value)
	return b
}

// Body sets the request body and content type.
func (b *Builder) Body(contentType string, body []byte) *Builder {
	b.req.ContentType = contentType
	b.req.Body = body
	return b
}

// Part adds a multipart upload part.
func (b *Builder) Part(p Part) *Builder {
	if p.Body == nil && b.err == nil {
		b.err = &RequestError{Op: "build", URL: b.req.URL, Err: errors.New("multipart part has nil body")}
	}
	b.req.Parts = append(b.req.Parts, p)
	return b
}

// CacheKey enables in-memory response caching under the given key. A hit
// short-circuits dispatch; a successful fetch populates the cache.
func (b *Builder) CacheKey(key string) *Builder {
	b.req.CacheKey = key
	return b
}

// Build validates the accumulated description and returns the request.
// A builder produces a single request; build once.
func (b *Builder) Build() (*Request, error) {
	if b.err != nil {
		return nil, b.err
	}
	if len(b.req.Parts) > 0 && b.req.Body != nil {
		return nil, &RequestError{Op: "build", URL: b.req.URL, Err: errors.New("request has both body and multipart parts")}
	}
	return b.req, nil
}
