// Package bridge provides blocking single and batch HTTP calls backed
// by a shared concurrent runtime, so sequential pipeline code can issue
// parallel outbound requests without managing goroutines itself.
package bridge

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// Config contains bridge client configuration.
type Config struct {
	Timeout       time.Duration // per-request deadline
	MaxConcurrent int           // cap on simultaneous outbound calls
	CloseTimeout  time.Duration // how long Close waits for in-flight calls
	UserAgent     string
}

// DefaultConfig returns default bridge configuration.
func DefaultConfig() Config {
	return Config{
		Timeout:       10 * time.Second,
		MaxConcurrent: 32,
		CloseTimeout:  15 * time.Second,
		UserAgent:     "gradewatch",
	}
}

// Request describes one outbound HTTP call.
type Request struct {
	Method string
	URL    string
	Header http.Header
	Query  url.Values
	Form   url.Values // form-encoded body when non-nil
	Body   []byte     // raw body when non-nil; Content-Type from Header
	// FollowRedirects controls redirect handling. The portal login
	// flow relies on seeing the 302 itself, so the default is off.
	FollowRedirects bool
}

// Response is a fully-read response. The body is consumed on the
// bridge's runtime so callers never touch the wire.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Cookie returns the value of a named cookie from Set-Cookie headers,
// or "" if absent.
func (r *Response) Cookie(name string) string {
	dummy := http.Response{Header: r.Header}
	for _, c := range dummy.Cookies() {
		if c.Name == name {
			return c.Value
		}
	}
	return ""
}

// Result is a per-request outcome in a batch: exactly one of Response
// or Err is set.
type Result struct {
	Response *Response
	Err      error
}

// Client is the bridge client. It owns the process's outbound HTTP
// concurrency: Do and DoBatch block the caller while the actual I/O
// runs on background goroutines bounded by a shared semaphore.
type Client struct {
	config   Config
	follow   *http.Client
	noFollow *http.Client

	sem    chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
	closed bool
}

// New creates and starts a bridge client.
func New(config Config) *Client {
	if config.Timeout <= 0 {
		config.Timeout = DefaultConfig().Timeout
	}
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = DefaultConfig().MaxConcurrent
	}
	if config.CloseTimeout <= 0 {
		config.CloseTimeout = DefaultConfig().CloseTimeout
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxConnsPerHost = config.MaxConcurrent

	return &Client{
		config: config,
		follow: &http.Client{
			Transport: transport,
			Timeout:   config.Timeout,
		},
		noFollow: &http.Client{
			Transport: transport,
			Timeout:   config.Timeout,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		sem: make(chan struct{}, config.MaxConcurrent),
	}
}

// Do issues one request and blocks until it completes or times out.
// It never blocks other concurrent callers and never panics across the
// blocking boundary: transport failures come back as typed errors.
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	results := c.DoBatch(ctx, []Request{req})
	return results[0].Response, results[0].Err
}

// DoBatch issues all requests concurrently and returns one Result per
// input, in input order. A failure in one item never prevents
// completion of the others.
func (c *Client) DoBatch(ctx context.Context, reqs []Request) []Result {
	results := make([]Result, len(reqs))

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		for i := range results {
			results[i].Err = ErrClosed
		}
		return results
	}
	c.wg.Add(len(reqs))
	c.mu.Unlock()

	var batch sync.WaitGroup
	for i, req := range reqs {
		batch.Add(1)
		go func(i int, req Request) {
			defer c.wg.Done()
			defer batch.Done()
			results[i] = c.execute(ctx, req)
		}(i, req)
	}
	batch.Wait()

	return results
}

// Close stops accepting new calls and drains in-flight ones. It never
// deadlocks the owner: if an in-flight call hangs past CloseTimeout,
// Close gives up on it and returns an error.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		c.follow.CloseIdleConnections()
		return nil
	case <-time.After(c.config.CloseTimeout):
		c.follow.CloseIdleConnections()
		return fmt.Errorf("bridge close: in-flight calls still running after %s", c.config.CloseTimeout)
	}
}

func (c *Client) execute(ctx context.Context, req Request) (result Result) {
	// A panic below this point belongs to exactly one batch item and
	// must not take the whole batch or the calling stage down with it.
	defer func() {
		if r := recover(); r != nil {
			slog.Error("bridge call panicked", "url", req.URL, "panic", r)
			result = Result{Err: fmt.Errorf("bridge: panic during request: %v", r)}
		}
	}()

	select {
	case c.sem <- struct{}{}:
		defer func() { <-c.sem }()
	case <-ctx.Done():
		return Result{Err: &TransportError{URL: req.URL, Err: ctx.Err()}}
	}

	httpReq, err := c.buildRequest(ctx, req)
	if err != nil {
		return Result{Err: fmt.Errorf("bridge: build request: %w", err)}
	}

	client := c.noFollow
	if req.FollowRedirects {
		client = c.follow
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		return Result{Err: &TransportError{URL: req.URL, Err: err}}
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return Result{Err: &TransportError{URL: req.URL, Err: err}}
	}

	return Result{Response: &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       body,
	}}
}

// maxBodyBytes bounds what a misbehaving remote can make us buffer.
const maxBodyBytes = 8 << 20

func (c *Client) buildRequest(ctx context.Context, req Request) (*http.Request, error) {
	var body io.Reader
	if req.Form != nil {
		body = strings.NewReader(req.Form.Encode())
	} else if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}

	target := req.URL
	if len(req.Query) > 0 {
		sep := "?"
		if strings.Contains(target, "?") {
			sep = "&"
		}
		target += sep + req.Query.Encode()
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, target, body)
	if err != nil {
		return nil, err
	}

	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	if req.Form != nil {
		httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if httpReq.Header.Get("User-Agent") == "" && c.config.UserAgent != "" {
		httpReq.Header.Set("User-Agent", c.config.UserAgent)
	}

	return httpReq, nil
}
