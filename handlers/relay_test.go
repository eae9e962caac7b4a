package handlers

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/andesco/playerpatch/pkg/patchlib"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

const chunkBody = `a(!0),y(null),l(t),x(9),case 6:`

type upstream struct {
	srv      *httptest.Server
	requests chan *http.Request
}

func newUpstream(t *testing.T, contentType, body string) *upstream {
	t.Helper()
	u := &upstream{requests: make(chan *http.Request, 8)}
	u.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u.requests <- r.Clone(r.Context())
		w.Header().Set("Content-Type", contentType)
		w.Header().Set("Cache-Control", "public, max-age=31536000")
		w.Header().Set("Last-Modified", "Wed, 01 May 2024 12:00:00 GMT")
		w.Header().Set("Set-Cookie", "tracking=1")
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(u.srv.Close)
	return u
}

func (u *upstream) routes() patchlib.RouteSet {
	return patchlib.RouteSet{
		{
			Name:     "chunk",
			Path:     "/:player_link",
			Upstream: u.srv.URL + "/static/js/{player_link}",
			Headers:  []string{"Content-Type", "Cache-Control", "Expires", "Last-Modified"},
			Patch: patchlib.Regex{
				Match:   `(.\(!0\),.\(null\)),.\(.\),.*?case 6`,
				Replace: `$1,e.next=6;case 6`,
			},
		},
		{
			Name:     "player",
			Path:     "/player.js",
			Upstream: u.srv.URL + "/static/js/lib/player.js",
			Headers:  []string{"Content-Type"},
			Patch:    patchlib.Regex{Match: `x\(9\)`, Replace: `x(0)`},
		},
	}
}

func newApp(t *testing.T, routes patchlib.RouteSet) *fiber.App {
	t.Helper()
	compiled, err := routes.Compile()
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	engine := patchlib.NewEngine(nil, patchlib.NewMetrics(reg))

	app := fiber.New(fiber.Config{GETOnly: true, UnescapePath: true})
	RegisterAdmin(app, reg, routes, true)
	RegisterRoutes(app, engine, compiled)
	return app
}

func do(t *testing.T, app *fiber.App, req *http.Request) (*http.Response, string) {
	t.Helper()
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(body)
}

func TestRelayPatchesChunk(t *testing.T) {
	u := newUpstream(t, "text/javascript", chunkBody)
	app := newApp(t, u.routes())

	resp, body := do(t, app, httptest.NewRequest(http.MethodGet, "/main.1a2b.chunk.js", nil))

	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, `a(!0),y(null),e.next=6;case 6:`, body)
	assert.Equal(t, "text/javascript", resp.Header.Get("Content-Type"))
	assert.Equal(t, "public, max-age=31536000", resp.Header.Get("Cache-Control"))
	assert.Equal(t, "Wed, 01 May 2024 12:00:00 GMT", resp.Header.Get("Last-Modified"))
	assert.Empty(t, resp.Header.Get("Expires"))
	assert.Empty(t, resp.Header.Get("Set-Cookie"))

	r := <-u.requests
	assert.Equal(t, "/static/js/main.1a2b.chunk.js", r.URL.Path)
}

func TestRelayFixedRouteWinsOverParam(t *testing.T) {
	u := newUpstream(t, "text/javascript", chunkBody)
	app := newApp(t, u.routes())

	resp, body := do(t, app, httptest.NewRequest(http.MethodGet, "/player.js", nil))

	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, `a(!0),y(null),l(t),x(0),case 6:`, body)
	assert.Empty(t, resp.Header.Get("Cache-Control"), "player route only forwards Content-Type")

	r := <-u.requests
	assert.Equal(t, "/static/js/lib/player.js", r.URL.Path)
}

func TestRelayPassesThroughOtherContentTypes(t *testing.T) {
	u := newUpstream(t, "application/javascript", chunkBody)
	app := newApp(t, u.routes())

	resp, body := do(t, app, httptest.NewRequest(http.MethodGet, "/main.js", nil))

	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, chunkBody, body)
	assert.Equal(t, "application/javascript", resp.Header.Get("Content-Type"))
}

func TestRelayMirrorsUpstreamStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/javascript")
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, chunkBody)
	}))
	defer srv.Close()

	app := newApp(t, patchlib.RouteSet{{
		Name:     "chunk",
		Path:     "/:file",
		Upstream: srv.URL + "/{file}",
		Headers:  []string{"Content-Type"},
		Patch:    patchlib.Regex{Match: `case 6`, Replace: `case 7`},
	}})

	resp, body := do(t, app, httptest.NewRequest(http.MethodGet, "/gone.js", nil))
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
	assert.Equal(t, chunkBody, body)
}

func TestRelayForwardsUserAgent(t *testing.T) {
	u := newUpstream(t, "text/javascript", chunkBody)
	app := newApp(t, u.routes())

	req := httptest.NewRequest(http.MethodGet, "/main.js", nil)
	req.Header.Set("User-Agent", "TestAgent/1.0")
	do(t, app, req)

	r := <-u.requests
	assert.Equal(t, "TestAgent/1.0", r.Header.Get("User-Agent"))
}

func TestRelayUnreachableUpstream(t *testing.T) {
	u := newUpstream(t, "text/javascript", chunkBody)
	routes := u.routes()
	u.srv.Close()

	app := newApp(t, routes)
	resp, body := do(t, app, httptest.NewRequest(http.MethodGet, "/main.js", nil))

	assert.Equal(t, fiber.StatusInternalServerError, resp.StatusCode)
	assert.True(t, strings.HasPrefix(body, patchlib.ErrUpstreamUnreachable.Error()), body)
	assert.NotContains(t, body, "case 6")
}

func TestRelayUnknownPath(t *testing.T) {
	u := newUpstream(t, "text/javascript", chunkBody)
	app := newApp(t, u.routes())

	resp, _ := do(t, app, httptest.NewRequest(http.MethodGet, "/static/js/main.js", nil))
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
	assert.Empty(t, u.requests)
}

func TestAdminEndpoints(t *testing.T) {
	u := newUpstream(t, "text/javascript", chunkBody)
	routes := u.routes()
	app := newApp(t, routes)

	resp, body := do(t, app, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body)

	do(t, app, httptest.NewRequest(http.MethodGet, "/main.js", nil))
	resp, body = do(t, app, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Contains(t, body, `playerpatch_requests_total{outcome="patched",route="chunk"} 1`)

	resp, body = do(t, app, httptest.NewRequest(http.MethodGet, "/routes", nil))
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/x-yaml", resp.Header.Get("Content-Type"))
	var got patchlib.RouteSet
	require.NoError(t, yaml.Unmarshal([]byte(body), &got))
	assert.Equal(t, routes, got)
}

func TestRouteTableDisabled(t *testing.T) {
	app := fiber.New()
	app.Get("/routes", RouteTable(patchlib.DefaultRoutes(), false))

	resp, body := do(t, app, httptest.NewRequest(http.MethodGet, "/routes", nil))
	assert.Equal(t, fiber.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "Routes Disabled", body)
}

func TestRelayServerStampsDate(t *testing.T) {
	const upstreamDate = "Wed, 01 May 2024 12:00:00 GMT"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/javascript")
		w.Header().Set("Date", upstreamDate)
		_, _ = io.WriteString(w, chunkBody)
	}))
	defer srv.Close()

	app := newApp(t, patchlib.RouteSet{{
		Name:     "chunk",
		Path:     "/:file",
		Upstream: srv.URL + "/{file}",
		Headers:  []string{"Content-Type", "Date"},
		Patch:    patchlib.Regex{Match: `case 6`, Replace: `case 7`},
	}})

	resp, _ := do(t, app, httptest.NewRequest(http.MethodGet, "/main.js", nil))
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Len(t, resp.Header.Values("Date"), 1)
	assert.NotEqual(t, upstreamDate, resp.Header.Get("Date"), "the server's own Date replaces the upstream one")
}

func TestDefaultRoutesDoNotForwardDate(t *testing.T) {
	for _, route := range patchlib.DefaultRoutes() {
		assert.NotContains(t, route.Headers, "Date", route.Name)
	}
}
