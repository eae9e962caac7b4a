//go:build js && wasm

package main

import (
	"fmt"
	"log/slog"
	"syscall/js"
)

// Version for Cloudflare Workers deployment
var version = "workers-1.0"

func main() {
	slog.Info("playerpatch worker starting", "version", version)

	// Export the fetch function to JavaScript
	js.Global().Set("goFetch", js.FuncOf(fetchHandler))

	// Keep the program running
	select {}
}

func fetchHandler(this js.Value, args []js.Value) interface{} {
	if len(args) < 3 {
		return js.Global().Get("Promise").Call("reject", js.ValueOf("Expected 3 arguments: request, env, ctx"))
	}

	request := args[0]
	env := args[1]

	// Return a Promise that resolves with the response
	return js.Global().Get("Promise").New(js.FuncOf(func(this js.Value, promiseArgs []js.Value) interface{} {
		resolve := promiseArgs[0]
		reject := promiseArgs[1]

		go func() {
			defer func() {
				if r := recover(); r != nil {
					reject.Invoke(js.ValueOf(fmt.Sprintf("Panic: %v", r)))
				}
			}()

			resolve.Invoke(handleRequest(request, env))
		}()

		return nil
	}))
}

func handleRequest(request, env js.Value) js.Value {
	if method := request.Get("method").String(); method != "GET" {
		return createTextResponse(405, "Method Not Allowed")
	}

	urlObj := js.Global().Get("URL").New(request.Get("url").String())
	path := urlObj.Get("pathname").String()

	switch path {
	case "/healthz":
		return createTextResponse(200, "ok")
	case "/routes":
		return routesHandler(env)
	}

	return relayHandler(request, env, path)
}

// Utility function to create plain text responses for Workers
func createTextResponse(status int, message string) js.Value {
	responseInit := js.Global().Get("Object").New()
	responseInit.Set("status", status)

	headers := js.Global().Get("Headers").New()
	headers.Call("set", "Content-Type", "text/plain")
	responseInit.Set("headers", headers)

	return js.Global().Get("Response").New(message, responseInit)
}

func getEnvVar(env js.Value, key, fallback string) string {
	if !env.IsUndefined() && !env.Get(key).IsUndefined() {
		return env.Get(key).String()
	}
	return fallback
}
