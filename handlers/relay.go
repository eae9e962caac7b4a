package handlers

import (
	"errors"
	"log/slog"

	"github.com/andesco/playerpatch/pkg/patchlib"

	"github.com/gofiber/fiber/v2"
)

// RegisterRoutes mounts one GET handler per compiled route. Routes must come
// from RouteSet.Compile, which puts fixed paths ahead of parameterised ones.
func RegisterRoutes(app *fiber.App, engine *patchlib.Engine, routes []*patchlib.CompiledRoute) {
	for _, route := range routes {
		app.Get(route.Path, RelayRoute(engine, route))
		slog.Info("route registered",
			"name", route.Name,
			"path", route.Path,
			"upstream", route.Upstream)
	}
}

// RelayRoute is a Fiber handler that fetches the route's upstream asset and
// returns it with the route's patch applied.
func RelayRoute(engine *patchlib.Engine, route *patchlib.CompiledRoute) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var param string
		if name := route.Param(); name != "" {
			param = c.Params(name)
		}

		result, err := engine.Fetch(c.Context(), route, param, c.Get(fiber.HeaderUserAgent))
		if err != nil {
			slog.Error("relay failed",
				"route", route.Name,
				"param", param,
				"upstream_unreachable", errors.Is(err, patchlib.ErrUpstreamUnreachable),
				"error", err)
			return c.Status(fiber.StatusInternalServerError).SendString(err.Error())
		}

		// only upstream headers go out, never fasthttp's text/plain default
		c.Response().Header.SetNoDefaultContentType(true)
		for _, name := range route.Headers {
			for _, value := range result.Header.Values(name) {
				c.Response().Header.Add(name, value)
			}
		}

		return c.Status(result.Status).SendString(result.Body)
	}
}
