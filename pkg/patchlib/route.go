package patchlib

import (
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"sort"
	"strings"
)

// #############################################################################
// # Route definitions
// #############################################################################

type Regex struct {
	Match   string `yaml:"match"`
	Replace string `yaml:"replace"`
}

// Route describes one upstream asset: where to fetch it, which response
// headers survive, and the single patch applied to its body.
type Route struct {
	Name     string   `yaml:"name"`
	Path     string   `yaml:"path"`
	Upstream string   `yaml:"upstream"`
	Headers  []string `yaml:"headers,omitempty"`
	Patch    Regex    `yaml:"patch"`
}

type RouteSet []Route

const gliveStatic = "https://ssl.pstatic.net/static/nng/glive/resource/p/static/js/"

// DefaultRoutes returns the built-in route table used when no routes file is
// configured. Date is not forwarded: the Fiber server always stamps its own.
func DefaultRoutes() RouteSet {
	return RouteSet{
		{
			Name:     "glive-player",
			Path:     "/player.js",
			Upstream: gliveStatic + "lib/player.js",
			Headers:  []string{"Content-Type", "Age", "Cache-Control", "Expires", "Last-Modified", "ETag"},
			Patch: Regex{
				// networkQualityCheck:!0 -> networkQualityCheck:!1
				Match:   `(networkQualityCheck:)!0`,
				Replace: `${1}!1`,
			},
		},
		{
			Name:     "glive-chunk",
			Path:     "/:player_link",
			Upstream: gliveStatic + "{player_link}",
			Headers:  []string{"Content-Type", "Age", "Cache-Control", "Expires", "Last-Modified"},
			Patch: Regex{
				// a(!0),y(null),l(t),...case 6 -> a(!0),y(null),e.next=6;case 6
				Match:   `(.\(!0\),.\(null\)),.\(.\),.*?case 6`,
				Replace: `$1,e.next=6;case 6`,
			},
		},
	}
}

func (rs RouteSet) Count() int {
	return len(rs)
}

// Compile validates every route and returns them ordered so that fixed
// paths come before parameterised ones.
func (rs RouteSet) Compile() ([]*CompiledRoute, error) {
	compiled := make([]*CompiledRoute, 0, len(rs))
	seen := make(map[string]string, len(rs))

	for i, route := range rs {
		cr, err := route.Compile()
		if err != nil {
			return nil, fmt.Errorf("route %d (%s): %w", i, route.Name, err)
		}
		if other, ok := seen[cr.key()]; ok {
			return nil, fmt.Errorf("route %d (%s): path %s already served by %s", i, route.Name, route.Path, other)
		}
		seen[cr.key()] = route.Name
		compiled = append(compiled, cr)
	}

	sort.SliceStable(compiled, func(i, j int) bool {
		return compiled[i].Fixed() && !compiled[j].Fixed()
	})
	return compiled, nil
}

// #############################################################################
// # Compiled routes
// #############################################################################

// CompiledRoute is a validated Route with its pattern compiled. It is
// immutable and safe for concurrent use.
type CompiledRoute struct {
	Route
	param    string
	segments []string
	pattern  *regexp.Regexp
}

// Compile checks a single route definition.
func (r Route) Compile() (*CompiledRoute, error) {
	if r.Name == "" {
		return nil, fmt.Errorf("route has no name")
	}
	if !strings.HasPrefix(r.Path, "/") {
		return nil, fmt.Errorf("path %q must start with /", r.Path)
	}

	cr := &CompiledRoute{Route: r}
	cr.segments = strings.Split(strings.TrimPrefix(r.Path, "/"), "/")
	for _, seg := range cr.segments {
		if strings.ContainsAny(seg, "*+?") {
			return nil, fmt.Errorf("path %q: wildcard and optional segments are not supported", r.Path)
		}
		if !strings.HasPrefix(seg, ":") {
			continue
		}
		if cr.param != "" {
			return nil, fmt.Errorf("path %q declares more than one parameter", r.Path)
		}
		cr.param = seg[1:]
		if cr.param == "" {
			return nil, fmt.Errorf("path %q has an unnamed parameter", r.Path)
		}
	}

	if err := cr.checkUpstream(); err != nil {
		return nil, err
	}

	headers := make([]string, 0, len(r.Headers))
	dup := make(map[string]bool, len(r.Headers))
	for _, name := range r.Headers {
		name = http.CanonicalHeaderKey(strings.TrimSpace(name))
		if name == "" {
			return nil, fmt.Errorf("empty header name")
		}
		if dup[name] {
			return nil, fmt.Errorf("header %s listed twice", name)
		}
		dup[name] = true
		headers = append(headers, name)
	}
	cr.Headers = headers

	if r.Patch.Match == "" {
		return nil, fmt.Errorf("%w: empty match", ErrPatchPattern)
	}
	re, err := regexp.Compile(r.Patch.Match)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrPatchPattern, r.Patch.Match, err)
	}
	cr.pattern = re

	return cr, nil
}

func (r *CompiledRoute) checkUpstream() error {
	probe := r.Upstream
	if r.param != "" {
		placeholder := "{" + r.param + "}"
		if strings.Count(probe, placeholder) != 1 {
			return fmt.Errorf("upstream %q must contain %s exactly once", r.Upstream, placeholder)
		}
		probe = strings.Replace(probe, placeholder, "x", 1)
	}
	if strings.ContainsAny(probe, "{}") {
		return fmt.Errorf("upstream %q has a placeholder that does not match the path", r.Upstream)
	}

	u, err := url.Parse(probe)
	if err != nil {
		return fmt.Errorf("error parsing upstream %q: %w", r.Upstream, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("upstream %q must be an absolute http(s) URL", r.Upstream)
	}
	return nil
}

// Param returns the path parameter name, or "" for a fixed route.
func (r *CompiledRoute) Param() string {
	return r.param
}

func (r *CompiledRoute) Fixed() bool {
	return r.param == ""
}

// UpstreamURL fills the template with value. The value is path escaped so
// that it always stays inside the configured directory.
func (r *CompiledRoute) UpstreamURL(value string) string {
	if r.param == "" {
		return r.Upstream
	}
	return strings.Replace(r.Upstream, "{"+r.param+"}", url.PathEscape(value), 1)
}

// key normalises the path so that /:a and /:b collide.
func (r *CompiledRoute) key() string {
	parts := make([]string, len(r.segments))
	for i, seg := range r.segments {
		if strings.HasPrefix(seg, ":") {
			seg = ":"
		}
		parts[i] = seg
	}
	return "/" + strings.Join(parts, "/")
}

// #############################################################################
// # Router
// #############################################################################

// Router resolves request paths against a compiled route table. The Fiber
// server registers routes natively; Router serves environments without it.
type Router struct {
	routes []*CompiledRoute
}

func NewRouter(routes []*CompiledRoute) *Router {
	return &Router{routes: routes}
}

// Match returns the first route matching path and the parameter value
// extracted from it.
func (rt *Router) Match(path string) (*CompiledRoute, string, bool) {
	segments := strings.Split(strings.TrimPrefix(path, "/"), "/")

	for _, route := range rt.routes {
		if len(route.segments) != len(segments) {
			continue
		}
		value, ok := "", true
		for i, seg := range route.segments {
			if strings.HasPrefix(seg, ":") {
				if segments[i] == "" {
					ok = false
					break
				}
				// try to extract url-encoded
				var err error
				if value, err = url.PathUnescape(segments[i]); err != nil {
					value = segments[i]
				}
				continue
			}
			if seg != segments[i] {
				ok = false
				break
			}
		}
		if ok {
			return route, value, true
		}
	}
	return nil, "", false
}
