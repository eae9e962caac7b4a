//go:build js && wasm

package main

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"syscall/js"
	"time"

	"github.com/andesco/playerpatch/pkg/patchlib"
)

type relay struct {
	routes patchlib.RouteSet
	router *patchlib.Router
	engine *patchlib.Engine
}

var (
	relayOnce     sync.Once
	relayInstance *relay
	relayErr      error
)

// initRelay compiles the route table once per isolate. ROUTES_YAML replaces
// the built-in routes; HTTP_TIMEOUT sets the upstream timeout.
func initRelay(env js.Value) (*relay, error) {
	relayOnce.Do(func() {
		routes := patchlib.DefaultRoutes()
		if raw := getEnvVar(env, "ROUTES_YAML", ""); raw != "" {
			rs, err := patchlib.ParseRoutes([]byte(raw))
			if err != nil {
				relayErr = fmt.Errorf("failed to parse ROUTES_YAML: %w", err)
				return
			}
			routes = rs
		}

		compiled, err := routes.Compile()
		if err != nil {
			relayErr = fmt.Errorf("failed to compile routes: %w", err)
			return
		}

		timeout, err := patchlib.ParseTimeout(getEnvVar(env, "HTTP_TIMEOUT", ""))
		if err != nil {
			relayErr = err
			return
		}

		// net/http on js/wasm rides on the runtime's fetch
		client := patchlib.NewClient(nil, timeout)
		relayInstance = &relay{
			routes: routes,
			router: patchlib.NewRouter(compiled),
			engine: patchlib.NewEngine(client, nil),
		}
	})
	return relayInstance, relayErr
}

func relayHandler(request, env js.Value, path string) js.Value {
	r, err := initRelay(env)
	if err != nil {
		slog.Error("could not initialize relay", "error", err)
		return createTextResponse(500, err.Error())
	}

	route, param, ok := r.router.Match(path)
	if !ok {
		return createTextResponse(404, "Not Found")
	}

	userAgent := ""
	if ua := request.Get("headers").Call("get", "user-agent"); !ua.IsNull() {
		userAgent = ua.String()
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.engine.Client.Timeout+time.Second)
	defer cancel()

	result, err := r.engine.Fetch(ctx, route, param, userAgent)
	if err != nil {
		slog.Error("relay failed", "route", route.Name, "param", param, "error", err)
		return createTextResponse(500, err.Error())
	}

	headers := js.Global().Get("Headers").New()
	for _, name := range route.Headers {
		for _, value := range result.Header.Values(name) {
			headers.Call("append", name, value)
		}
	}

	responseInit := js.Global().Get("Object").New()
	responseInit.Set("status", result.Status)
	responseInit.Set("headers", headers)

	// null body statuses cannot carry a body in the Fetch API
	var body interface{} = result.Body
	if result.Status == 204 || result.Status == 304 {
		body = nil
	}
	return js.Global().Get("Response").New(body, responseInit)
}
