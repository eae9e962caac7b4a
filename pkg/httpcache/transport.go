// Package httpcache is a small shared HTTP cache in front of an
// http.RoundTripper. Storability and freshness follow RFC 7234 as computed by
// pquerna/cachecontrol. Fresh GET responses are served without contacting
// the origin until they expire. There is no revalidation: a stale entry is
// simply fetched again.
package httpcache

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/pquerna/cachecontrol/cacheobject"
)

// Lookup results passed to Transport.Observe.
const (
	ResultHit    = "hit"
	ResultMiss   = "miss"
	ResultBypass = "bypass"
)

const DefaultMaxEntryBytes = 16 << 20

// Entry is a stored response.
type Entry struct {
	Status     int
	Header     http.Header
	Body       []byte
	Vary       map[string]string
	StoredAt   time.Time
	Expires    time.Time
	InitialAge time.Duration
}

// Store keeps entries by key. Implementations must be safe for concurrent use.
type Store interface {
	Get(key string) (*Entry, bool)
	Set(key string, e *Entry, ttl time.Duration)
}

// Transport serves cacheable GET requests from Store and forwards everything
// else to Next.
type Transport struct {
	Next          http.RoundTripper
	Store         Store
	MaxEntryBytes int64
	Observe       func(result string)

	now func() time.Time
}

func NewTransport(next http.RoundTripper, store Store) *Transport {
	return &Transport{
		Next:          next,
		Store:         store,
		MaxEntryBytes: DefaultMaxEntryBytes,
	}
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	next := t.Next
	if next == nil {
		next = http.DefaultTransport
	}
	if t.Store == nil || req.Method != http.MethodGet {
		return next.RoundTrip(req)
	}

	now := t.clock()
	key := cacheKey(req)

	if noCacheRequest(req) {
		t.observe(ResultBypass)
	} else if e, ok := t.Store.Get(key); ok && now.Before(e.Expires) && e.matches(req) {
		t.observe(ResultHit)
		return e.response(req, now), nil
	} else {
		t.observe(ResultMiss)
	}

	resp, err := next.RoundTrip(req)
	if err != nil {
		return nil, err
	}

	lifetime, vary, ok := storable(req, resp)
	if !ok {
		return resp, nil
	}

	limit := t.MaxEntryBytes
	if limit <= 0 {
		limit = DefaultMaxEntryBytes
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		resp.Body.Close()
		return nil, err
	}
	if int64(len(body)) > limit {
		// too big to keep, hand the caller the remainder untouched
		resp.Body = struct {
			io.Reader
			io.Closer
		}{io.MultiReader(bytes.NewReader(body), resp.Body), resp.Body}
		return resp, nil
	}
	resp.Body.Close()

	age := currentAge(resp.Header)
	e := &Entry{
		Status:     resp.StatusCode,
		Header:     resp.Header.Clone(),
		Body:       body,
		Vary:       make(map[string]string, len(vary)),
		StoredAt:   now,
		Expires:    now.Add(lifetime - age),
		InitialAge: age,
	}
	for _, name := range vary {
		e.Vary[name] = req.Header.Get(name)
	}
	if ttl := lifetime - age; ttl > 0 {
		t.Store.Set(key, e, ttl)
	}

	resp.Body = io.NopCloser(bytes.NewReader(body))
	resp.ContentLength = int64(len(body))
	return resp, nil
}

func (t *Transport) clock() time.Time {
	if t.now != nil {
		return t.now()
	}
	return time.Now()
}

func (t *Transport) observe(result string) {
	if t.Observe != nil {
		t.Observe(result)
	}
}

func cacheKey(req *http.Request) string {
	return req.Method + " " + req.URL.String()
}

func (e *Entry) matches(req *http.Request) bool {
	for name, value := range e.Vary {
		if req.Header.Get(name) != value {
			return false
		}
	}
	return true
}

func (e *Entry) age(now time.Time) time.Duration {
	return e.InitialAge + now.Sub(e.StoredAt)
}

func (e *Entry) response(req *http.Request, now time.Time) *http.Response {
	header := e.Header.Clone()
	header.Set("Age", strconv.FormatInt(int64(e.age(now)/time.Second), 10))
	header.Set("X-Cache", "HIT")

	return &http.Response{
		Status:        fmt.Sprintf("%d %s", e.Status, http.StatusText(e.Status)),
		StatusCode:    e.Status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(e.Body)),
		ContentLength: int64(len(e.Body)),
		Request:       req,
	}
}

// #############################################################################
// # Cache-Control
// #############################################################################

// Statuses the relay is willing to keep. Upstream server errors are never
// pinned even when they carry a freshness lifetime.
var cacheableStatus = map[int]bool{
	http.StatusOK:                   true,
	http.StatusNonAuthoritativeInfo: true,
	http.StatusMovedPermanently:     true,
	http.StatusNotFound:             true,
	http.StatusGone:                 true,
}

// storable reports whether resp may be kept by a shared cache, for how long,
// and which request headers it varies on.
func storable(req *http.Request, resp *http.Response) (time.Duration, []string, bool) {
	if !cacheableStatus[resp.StatusCode] {
		return 0, nil, false
	}

	reasons, expires, _, obj, err := cacheobject.UsingRequestResponseWithObject(req, resp.StatusCode, resp.Header, false)
	if err != nil || len(reasons) > 0 || expires.IsZero() {
		return 0, nil, false
	}
	// stored entries are never revalidated
	if obj.RespDirectives.NoCachePresent {
		return 0, nil, false
	}

	var vary []string
	for _, v := range resp.Header.Values("Vary") {
		for _, name := range strings.Split(v, ",") {
			name = strings.TrimSpace(name)
			if name == "*" {
				return 0, nil, false
			}
			if name != "" {
				vary = append(vary, http.CanonicalHeaderKey(name))
			}
		}
	}

	lifetime := expires.Sub(obj.NowUTC)
	if lifetime <= 0 {
		return 0, nil, false
	}
	return lifetime, vary, true
}

// currentAge is the upstream Age header in whole seconds.
func currentAge(h http.Header) time.Duration {
	secs, err := strconv.ParseInt(strings.TrimSpace(h.Get("Age")), 10, 64)
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

func noCacheRequest(req *http.Request) bool {
	if req.Header.Get("Pragma") == "no-cache" {
		return true
	}
	cc, err := cacheobject.ParseRequestCacheControl(strings.Join(req.Header.Values("Cache-Control"), ", "))
	if err != nil {
		return true
	}
	return cc.NoCache || cc.NoStore
}
