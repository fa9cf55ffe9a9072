package routes

import (
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"

	"github.com/any-hub/tierhub/internal/metrics"
)

// RegisterDiagnosticsRoutes 暴露 /-/healthz 与 /-/metrics。
func RegisterDiagnosticsRoutes(app *fiber.App, m *metrics.Metrics) {
	if app == nil {
		return
	}

	app.Get("/-/healthz", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	if m != nil {
		app.Get("/-/metrics", adaptor.HTTPHandler(m.Handler()))
	}
}
