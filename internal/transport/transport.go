package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"golang.org/x/time/rate"
)

// Options is the per-request bag handed through the dispatcher untouched.
// At most one of JSON, Form and Body is sent, in that order of precedence.
type Options struct {
	Headers http.Header   `json:"headers,omitempty"`
	Query   url.Values    `json:"query,omitempty"`
	Body    string        `json:"body,omitempty"`
	JSON    any           `json:"json,omitempty"`
	Form    url.Values    `json:"form_params,omitempty"`
	Timeout time.Duration `json:"timeout,omitempty"`
}

// Response is a completed HTTP exchange, whatever its status.
type Response struct {
	StatusCode int
	Body       string
}

// Transport executes a single HTTP call. It returns an error only when no
// response was obtained.
type Transport interface {
	Send(ctx context.Context, method, rawURL string, opts Options) (Response, error)
}

type HTTPTransport struct {
	client  *http.Client
	timeout time.Duration
	limiter *rate.Limiter
}

var _ Transport = (*HTTPTransport)(nil)

type Option func(*HTTPTransport)

// WithClient replaces the underlying http.Client.
func WithClient(c *http.Client) Option {
	return func(t *HTTPTransport) { t.client = c }
}

// WithRateLimit caps outgoing requests per second. A non-positive limit
// disables the cap.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(t *HTTPTransport) {
		if perSecond <= 0 {
			t.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		t.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// NewHTTPTransport builds a transport whose requests time out after
// timeout unless Options.Timeout overrides it. Zero means no timeout.
func NewHTTPTransport(timeout time.Duration, opts ...Option) *HTTPTransport {
	t := &HTTPTransport{
		client:  &http.Client{},
		timeout: timeout,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *HTTPTransport) Send(ctx context.Context, method, rawURL string, opts Options) (Response, error) {
	if t.limiter != nil {
		if err := t.limiter.Wait(ctx); err != nil {
			return Response{}, errors.Wrap(err, "rate limit")
		}
	}

	timeout := t.timeout
	if opts.Timeout > 0 {
		timeout = opts.Timeout
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	req, err := newRequest(ctx, method, rawURL, opts)
	if err != nil {
		return Response{}, err
	}

	res, err := t.client.Do(req)
	if err != nil {
		return Response{}, errors.Wrapf(err, "%s %s", method, rawURL)
	}
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return Response{}, errors.Wrapf(err, "read response body of %s %s", method, rawURL)
	}

	return Response{StatusCode: res.StatusCode, Body: string(body)}, nil
}

func newRequest(ctx context.Context, method, rawURL string, opts Options) (*http.Request, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, errors.Wrapf(err, "parse url %q", rawURL)
	}
	if len(opts.Query) > 0 {
		q := u.Query()
		for k, vs := range opts.Query {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		u.RawQuery = q.Encode()
	}

	var (
		body        io.Reader
		contentType string
	)
	switch {
	case opts.JSON != nil:
		b, err := json.Marshal(opts.JSON)
		if err != nil {
			return nil, errors.Wrap(err, "encode json body")
		}
		body = bytes.NewReader(b)
		contentType = "application/json"
	case opts.Form != nil:
		body = strings.NewReader(opts.Form.Encode())
		contentType = "application/x-www-form-urlencoded"
	case opts.Body != "":
		body = strings.NewReader(opts.Body)
	}

	req, err := http.NewRequestWithContext(ctx, strings.ToUpper(method), u.String(), body)
	if err != nil {
		return nil, errors.Wrapf(err, "build request %s %s", method, rawURL)
	}
	for k, vs := range opts.Headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if contentType != "" && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", contentType)
	}

	return req, nil
}
