// Package gateway relays browser requests from the edge to the backend
// API, bounding request size and upstream latency and removing hop-by-hop
// and client-identifying headers in both directions.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"golang.org/x/net/http/httpguts"

	"github.com/togglehq/gatehouse/internal/config"
)

const (
	DefaultMaxBodyBytes = 1 << 20
	DefaultTimeout      = 30 * time.Second

	copyBufferSize = 32 * 1024
)

var (
	// ErrNotConfigured means no usable upstream URL is set.
	ErrNotConfigured = errors.New("not configured")
	// ErrPayloadTooLarge means the request body exceeds the cap.
	ErrPayloadTooLarge = errors.New("payload too large")
	// ErrUpstreamTimeout means the upstream did not answer in time.
	ErrUpstreamTimeout = errors.New("upstream timeout")
	// ErrUpstreamUnavailable covers every other transport failure.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")

	errBadRequestBody = errors.New("reading request body")
)

// Outbound request headers that never cross the hop. Any header named in
// Connection is removed too.
var requestHopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"TE",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
	"Forwarded",
}

var responseHopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Transfer-Encoding",
}

// Forwarder relays requests to the upstream returned by its URL getter.
type Forwarder struct {
	upstream func() string
	client   *http.Client
	maxBody  int64
	timeout  time.Duration
	logger   *slog.Logger
}

// Option configures a Forwarder.
type Option func(*Forwarder)

// WithUpstream sets the function returning the upstream base URL. It is
// called on every request.
func WithUpstream(fn func() string) Option {
	return func(f *Forwarder) {
		f.upstream = fn
	}
}

// WithClient sets the HTTP client used for upstream calls.
func WithClient(c *http.Client) Option {
	return func(f *Forwarder) {
		f.client = c
	}
}

// WithMaxBodyBytes sets the request body cap.
func WithMaxBodyBytes(n int64) Option {
	return func(f *Forwarder) {
		if n > 0 {
			f.maxBody = n
		}
	}
}

// WithTimeout bounds how long the upstream may go silent: first while the
// response headers are awaited, then between body chunks.
func WithTimeout(d time.Duration) Option {
	return func(f *Forwarder) {
		if d > 0 {
			f.timeout = d
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(f *Forwarder) {
		f.logger = logger
	}
}

// New returns a Forwarder. Without WithUpstream the target is read from
// GATEHOUSE_UPSTREAM_URL on each request.
func New(opts ...Option) *Forwarder {
	f := &Forwarder{
		upstream: config.UpstreamURL(config.OSEnv()),
		maxBody:  DefaultMaxBodyBytes,
		timeout:  DefaultTimeout,
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.client == nil {
		f.client = &http.Client{
			Transport: http.DefaultTransport.(*http.Transport).Clone(),
			// Redirects are relayed to the browser, not followed here.
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		}
	}
	if f.logger == nil {
		f.logger = slog.New(slog.NewJSONHandler(os.Stderr, nil))
	}
	f.logger = f.logger.With("component", "gateway")
	return f
}

// ServeHTTP implements http.Handler.
func (f *Forwarder) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := f.Forward(w, r); err != nil {
		status, msg := statusFor(err)
		writeError(w, status, msg)
	}
}

// Forward relays r and streams the upstream response to w. A non-nil
// error means nothing has been written to w yet.
func (f *Forwarder) Forward(w http.ResponseWriter, r *http.Request) error {
	base, err := f.baseURL()
	if err != nil {
		f.logger.Warn("upstream not configured", "error", err)
		return ErrNotConfigured
	}

	body, err := f.readBody(r)
	if err != nil {
		return err
	}

	target := targetURL(base, r.URL)
	// The timeout bounds the wait for response headers and then each wait
	// for the next body chunk. A response that keeps streaming is not cut.
	ctx, cancel := context.WithCancelCause(r.Context())
	defer cancel(nil)
	deadline := time.AfterFunc(f.timeout, func() { cancel(ErrUpstreamTimeout) })
	defer deadline.Stop()

	out, err := http.NewRequestWithContext(ctx, r.Method, target.String(), bodyReader(body))
	if err != nil {
		return fmt.Errorf("%w: building request: %v", ErrUpstreamUnavailable, err)
	}
	out.Header = r.Header.Clone()
	stripRequestHeaders(out.Header)
	out.ContentLength = int64(len(body))
	out.Host = target.Host

	resp, err := f.client.Do(out)
	if err != nil {
		return f.upstreamError(ctx, r, target, err)
	}
	defer resp.Body.Close()

	stripResponseHeaders(resp.Header)
	dst := w.Header()
	for k, vv := range resp.Header {
		dst[k] = vv
	}
	w.WriteHeader(resp.StatusCode)

	src := &idleReader{r: resp.Body, deadline: deadline, idle: f.timeout}
	if err := copyBody(w, src, resp.ContentLength < 0); err != nil {
		msg := "relaying upstream response interrupted"
		if errors.Is(context.Cause(ctx), ErrUpstreamTimeout) {
			msg = "upstream stalled mid-response"
		}
		f.logger.Warn(msg,
			"method", r.Method,
			"target", logTarget(target),
			"timeout", f.timeout.String(),
			"error", err)
	}
	return nil
}

// idleReader arms deadline only while a read is waiting on the upstream,
// so time spent writing to a slow client does not count against it.
type idleReader struct {
	r        io.Reader
	deadline *time.Timer
	idle     time.Duration
}

func (ir *idleReader) Read(p []byte) (int, error) {
	ir.deadline.Reset(ir.idle)
	n, err := ir.r.Read(p)
	ir.deadline.Stop()
	return n, err
}

func (f *Forwarder) baseURL() (*url.URL, error) {
	raw := strings.TrimSpace(f.upstream())
	if raw == "" {
		return nil, errors.New("upstream URL is empty")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("upstream URL %q must be an absolute http(s) URL", raw)
	}
	return u, nil
}

// readBody buffers the request body, enforcing the cap against both the
// declared length and the bytes actually received.
func (f *Forwarder) readBody(r *http.Request) ([]byte, error) {
	if r.ContentLength > f.maxBody {
		return nil, ErrPayloadTooLarge
	}
	if r.Body == nil || r.Body == http.NoBody {
		return nil, nil
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, f.maxBody+1))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errBadRequestBody, err)
	}
	if int64(len(body)) > f.maxBody {
		return nil, ErrPayloadTooLarge
	}
	return body, nil
}

func (f *Forwarder) upstreamError(ctx context.Context, r *http.Request, target *url.URL, err error) error {
	// url.Error repeats the full target, query included.
	var ue *url.Error
	if errors.As(err, &ue) {
		err = ue.Err
	}
	var cause error
	switch {
	case r.Context().Err() != nil:
		// The client went away; nobody is left to answer.
		f.logger.Info("client cancelled proxied request", "method", r.Method, "target", logTarget(target))
		return fmt.Errorf("%w: %v", ErrUpstreamUnavailable, r.Context().Err())
	case errors.Is(context.Cause(ctx), ErrUpstreamTimeout):
		cause = ErrUpstreamTimeout
	default:
		cause = ErrUpstreamUnavailable
	}
	f.logger.Error("upstream request failed",
		"method", r.Method,
		"target", logTarget(target),
		"timeout", f.timeout.String(),
		"error", err,
	)
	return fmt.Errorf("%w: %v", cause, err)
}

func bodyReader(body []byte) io.Reader {
	if body == nil {
		return nil
	}
	return bytes.NewReader(body)
}

// targetURL joins base with the inbound path and keeps the raw query.
func targetURL(base, in *url.URL) *url.URL {
	t := *base
	t.Path = strings.TrimSuffix(base.Path, "/") + in.Path
	if in.RawPath != "" {
		t.RawPath = strings.TrimSuffix(base.EscapedPath(), "/") + in.RawPath
	} else {
		t.RawPath = ""
	}
	t.RawQuery = in.RawQuery
	t.Fragment = ""
	return &t
}

// logTarget omits the query, which may carry secrets.
func logTarget(u *url.URL) string {
	return u.Scheme + "://" + u.Host + u.EscapedPath()
}

func removeConnectionHeaders(h http.Header) {
	for _, v := range h.Values("Connection") {
		for _, tok := range strings.Split(v, ",") {
			if tok = strings.TrimSpace(tok); httpguts.ValidHeaderFieldName(tok) {
				h.Del(tok)
			}
		}
	}
}

func stripRequestHeaders(h http.Header) {
	removeConnectionHeaders(h)
	for _, k := range requestHopHeaders {
		h.Del(k)
	}
	for k := range h {
		if strings.HasPrefix(k, "X-Forwarded-") || strings.HasPrefix(k, "Proxy-") {
			delete(h, k)
		}
	}
	h.Del("Host")
}

func stripResponseHeaders(h http.Header) {
	removeConnectionHeaders(h)
	for _, k := range responseHopHeaders {
		h.Del(k)
	}
}

// copyBody streams src to w, flushing after each chunk when the upstream
// did not declare a length.
func copyBody(w http.ResponseWriter, src io.Reader, flush bool) error {
	if !flush {
		_, err := io.Copy(w, src)
		return err
	}
	rc := http.NewResponseController(w)
	buf := make([]byte, copyBufferSize)
	for {
		n, rerr := src.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return werr
			}
			if err := rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
				return err
			}
		}
		if rerr == io.EOF {
			return nil
		}
		if rerr != nil {
			return rerr
		}
	}
}

func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, ErrNotConfigured):
		return http.StatusServiceUnavailable, "not configured"
	case errors.Is(err, ErrPayloadTooLarge):
		return http.StatusRequestEntityTooLarge, "payload too large"
	case errors.Is(err, errBadRequestBody):
		return http.StatusBadRequest, "bad request"
	default:
		return http.StatusBadGateway, "bad gateway"
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
