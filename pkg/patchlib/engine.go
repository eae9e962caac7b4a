package patchlib

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"
)

// DefaultMaxBodyBytes caps the size of a body the engine will patch.
const DefaultMaxBodyBytes = 16 << 20

// Result is what the relay sends back: the upstream status, the filtered
// headers and the possibly patched body.
type Result struct {
	Status  int
	Header  http.Header
	Body    string
	Patched bool
	Elapsed time.Duration
}

// Engine fetches route upstreams and patches their bodies. It holds no
// per-request state and is safe for concurrent use.
type Engine struct {
	Client       *http.Client
	MaxBodyBytes int64
	Metrics      *Metrics
}

// NewEngine creates an engine around a shared client. A nil client gets a
// pooled client with the default timeout.
func NewEngine(client *http.Client, metrics *Metrics) *Engine {
	if client == nil {
		client = NewClient(NewTransport(), DefaultTimeout)
	}
	return &Engine{
		Client:       client,
		MaxBodyBytes: DefaultMaxBodyBytes,
		Metrics:      metrics,
	}
}

// NewTransport returns the pooled transport used for upstream requests.
func NewTransport() *http.Transport {
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: 3 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		MaxIdleConns:          64,
		MaxIdleConnsPerHost:   16,
		IdleConnTimeout:       90 * time.Second,
		ForceAttemptHTTP2:     true,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}

func NewClient(rt http.RoundTripper, timeout time.Duration) *http.Client {
	return &http.Client{
		Transport: rt,
		Timeout:   timeout,
	}
}

// Fetch performs the upstream round trip for route and patches the body when
// the response is a successful text/javascript one. param fills the route's
// upstream template and is ignored for fixed routes. An empty userAgent means
// no User-Agent header is sent upstream.
func (e *Engine) Fetch(ctx context.Context, route *CompiledRoute, param, userAgent string) (*Result, error) {
	start := time.Now()
	target := route.UpstreamURL(param)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		e.Metrics.observeOutcome(route.Name, OutcomeInvalidRequest)
		return nil, fmt.Errorf("error building upstream request for %s: %w", target, err)
	}
	if userAgent != "" {
		req.Header.Set("User-Agent", userAgent)
	} else {
		// a present but nil entry stops net/http from adding its own agent
		req.Header["User-Agent"] = nil
	}

	resp, err := e.Client.Do(req)
	if err != nil {
		e.Metrics.observeOutcome(route.Name, OutcomeUpstreamError)
		return nil, fmt.Errorf("%w: %w", ErrUpstreamUnreachable, err)
	}
	defer resp.Body.Close()

	upstreamElapsed := time.Since(start)
	e.Metrics.observeUpstream(route.Name, upstreamElapsed)
	slog.Debug("upstream response",
		"route", route.Name,
		"url", target,
		"status", resp.StatusCode,
		"elapsed", upstreamElapsed)

	parse := time.Now()

	header := filterHeaders(route.Headers, resp.Header)
	contentType := resp.Header.Get("Content-Type")
	isSuccess := resp.StatusCode >= 200 && resp.StatusCode < 300
	isJavaScript := IsJavaScript(contentType)

	raw, err := e.readBody(resp.Body, isSuccess && isJavaScript)
	if err != nil {
		e.Metrics.observeOutcome(route.Name, OutcomeUpstreamError)
		return nil, err
	}
	body, err := decodeBody(raw, contentType)
	if err != nil {
		e.Metrics.observeOutcome(route.Name, OutcomeDecodeError)
		return nil, err
	}

	result := &Result{
		Status: resp.StatusCode,
		Header: header,
		Body:   body,
	}

	outcome := OutcomePassthrough
	if isSuccess && isJavaScript {
		result.Body, result.Patched = route.Apply(body)
		if result.Patched {
			outcome = OutcomePatched
		} else {
			outcome = OutcomeUnmatched
			slog.Warn("patch pattern did not match, serving unmodified body",
				"route", route.Name,
				"url", target,
				"bytes", len(body))
		}
	}

	parseElapsed := time.Since(parse)
	e.Metrics.observePatch(route.Name, parseElapsed)
	e.Metrics.observeOutcome(route.Name, outcome)
	slog.Debug("parse",
		"route", route.Name,
		"outcome", outcome,
		"elapsed", parseElapsed)

	result.Elapsed = time.Since(start)
	return result, nil
}

// readBody reads the upstream body. Only bodies that will be patched are
// capped at MaxBodyBytes; pass-through bodies are relayed whole.
func (e *Engine) readBody(body io.Reader, patchable bool) ([]byte, error) {
	if !patchable {
		raw, err := io.ReadAll(body)
		if err != nil {
			return nil, fmt.Errorf("%w: error reading response body: %w", ErrUpstreamUnreachable, err)
		}
		return raw, nil
	}

	limit := e.MaxBodyBytes
	if limit <= 0 {
		limit = DefaultMaxBodyBytes
	}

	raw, err := io.ReadAll(io.LimitReader(body, limit+1))
	if err != nil {
		return nil, fmt.Errorf("%w: error reading response body: %w", ErrUpstreamUnreachable, err)
	}
	if int64(len(raw)) > limit {
		return nil, fmt.Errorf("%w: body exceeds %d bytes", ErrBodyDecode, limit)
	}
	return raw, nil
}
