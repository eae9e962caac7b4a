package handlers

import (
	"github.com/andesco/playerpatch/pkg/patchlib"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gopkg.in/yaml.v3"
)

// RegisterAdmin mounts /healthz, /metrics and /routes. It must run before
// RegisterRoutes so a parameterised route cannot shadow them.
func RegisterAdmin(app *fiber.App, gatherer prometheus.Gatherer, routes patchlib.RouteSet, exposeRoutes bool) {
	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.SendString("ok")
	})
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	app.Get("/routes", RouteTable(routes, exposeRoutes))
}

// RouteTable returns the active route definitions as YAML.
func RouteTable(routes patchlib.RouteSet, expose bool) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if !expose {
			return c.Status(fiber.StatusForbidden).SendString("Routes Disabled")
		}

		body, err := yaml.Marshal(routes)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).SendString(err.Error())
		}

		c.Set(fiber.HeaderContentType, "application/x-yaml")
		return c.Send(body)
	}
}
