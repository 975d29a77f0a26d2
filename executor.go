package fetchkit

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Response is the outcome of a successfully executed request.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte // nil for downloads
	Path       string // download destination, empty otherwise
	Cached     bool   // served from the in-memory cache

	// Transfer accounting, fed to the quality estimator.
	BytesReceived int64
	Elapsed       time.Duration
}

// Executor performs the actual transfer for one request. Implementations
// must honor ctx cancellation (forced cancel) and are expected to observe
// the request's cooperative cancellation flag between body read chunks.
type Executor interface {
	Execute(ctx context.Context, req *Request) (*Response, error)
}

// httpExecutor executes requests over an injected net/http client.
type httpExecutor struct {
	client    *http.Client
	userAgent string
	clock     clock.Clock
	logger    *zap.Logger
}

func newHTTPExecutor(cfg *Config) *httpExecutor {
	return &httpExecutor{
		client:    cfg.HTTPClient,
		userAgent: cfg.UserAgent,
		clock:     cfg.Clock,
		logger:    cfg.Logger,
	}
}

func (x *httpExecutor) Execute(ctx context.Context, req *Request) (*Response, error) {
	hreq, err := x.buildHTTPRequest(ctx, req)
	if err != nil {
		return nil, err
	}

	start := x.clock.Now()
	resp, err := x.client.Do(hreq)
	if err != nil {
		if req.Cancelled() {
			return nil, ErrCancelled
		}
		return nil, &RequestError{Op: "execute", URL: req.URL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, &RequestError{Op: "execute", URL: req.URL, StatusCode: resp.StatusCode, Err: ErrBadStatus}
	}

	// The checkpoint reader observes cooperative cancellation between
	// body chunks; a forced cancel aborts the read through ctx instead.
	body := &checkpointReader{r: resp.Body, req: req}

	var out *Response
	if req.DestPath != "" {
		out, err = x.readToFile(req, body)
	} else {
		out, err = x.readToMemory(req, body)
	}
	if err != nil {
		if req.Cancelled() {
			return nil, ErrCancelled
		}
		return nil, err
	}

	out.StatusCode = resp.StatusCode
	out.Header = resp.Header
	out.Elapsed = x.clock.Since(start)
	return out, nil
}

func (x *httpExecutor) buildHTTPRequest(ctx context.Context, req *Request) (*http.Request, error) {
	var body io.Reader
	contentType := req.ContentType

	if len(req.Parts) > 0 {
		buf := &bytes.Buffer{}
		mw := multipart.NewWriter(buf)
		for _, p := range req.Parts {
			w, err := createPart(mw, p)
			if err != nil {
				return nil, &RequestError{Op: "upload", URL: req.URL, Err: err}
			}
			if _, err := io.Copy(w, p.Body); err != nil {
				return nil, &RequestError{Op: "upload", URL: req.URL, Err: err}
			}
		}
		if err := mw.Close(); err != nil {
			return nil, &RequestError{Op: "upload", URL: req.URL, Err: err}
		}
		body = buf
		contentType = mw.FormDataContentType()
	} else if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}

	hreq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		return nil, &RequestError{Op: "execute", URL: req.URL, Err: err}
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			hreq.Header.Add(k, v)
		}
	}
	if contentType != "" {
		hreq.Header.Set("Content-Type", contentType)
	}
	x.addUserAgent(hreq)
	return hreq, nil
}

func (x *httpExecutor) readToMemory(req *Request, body io.Reader) (*Response, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, &RequestError{Op: "execute", URL: req.URL, Err: err}
	}
	return &Response{Body: data, BytesReceived: int64(len(data))}, nil
}

func (x *httpExecutor) readToFile(req *Request, body io.Reader) (_ *Response, err error) {
	f, err := os.Create(req.DestPath)
	if err != nil {
		return nil, &RequestError{Op: "download", URL: req.URL, Err: err}
	}
	defer func() {
		err = multierr.Append(err, f.Close())
	}()

	n, err := io.Copy(f, body)
	if err != nil {
		return nil, &RequestError{Op: "download", URL: req.URL, Err: err}
	}
	x.logger.Debug("download complete",
		zap.String("url", req.URL),
		zap.String("path", req.DestPath),
		zap.Int64("bytes", n))
	return &Response{Path: req.DestPath, BytesReceived: n}, nil
}

// createPart writes a form-data part header, honoring an explicit part
// content type when one is set.
func createPart(mw *multipart.Writer, p Part) (io.Writer, error) {
	if p.ContentType == "" {
		return mw.CreateFormFile(p.Name, p.FileName)
	}
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, p.Name, p.FileName))
	h.Set("Content-Type", p.ContentType)
	return mw.CreatePart(h)
}

// addUserAgent prepends the configured user agent, preserving any agent the
// caller set explicitly.
func (x *httpExecutor) addUserAgent(req *http.Request) {
	if x.userAgent == "" {
		return
	}
	existing := req.Header.Get("User-Agent")
	if existing == "" {
		req.Header.Set("User-Agent", x.userAgent)
	} else {
		req.Header.Set("User-Agent", x.userAgent+" "+existing)
	}
}

// checkpointReader checks the cooperative cancellation flag before each
// read chunk.
type checkpointReader struct {
	r   io.Reader
	req *Request
}

func (c *checkpointReader) Read(p []byte) (int, error) {
	if c.req.Cancelled() {
		return 0, ErrCancelled
	}
	return c.r.Read(p)
}
