//go:build js && wasm

package main

import (
	"syscall/js"

	"gopkg.in/yaml.v3"
)

func routesHandler(env js.Value) js.Value {
	// Check if route exposure is disabled
	if getEnvVar(env, "EXPOSE_ROUTES", "true") == "false" {
		return createTextResponse(403, "Routes Disabled")
	}

	r, err := initRelay(env)
	if err != nil {
		return createTextResponse(500, err.Error())
	}

	// Marshal the active route table to YAML
	body, err := yaml.Marshal(r.routes)
	if err != nil {
		return createTextResponse(500, err.Error())
	}

	headers := js.Global().Get("Headers").New()
	headers.Call("set", "Content-Type", "application/x-yaml")

	responseInit := js.Global().Get("Object").New()
	responseInit.Set("status", 200)
	responseInit.Set("headers", headers)

	return js.Global().Get("Response").New(string(body), responseInit)
}
