package server

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/tierhub/internal/logging"
	"github.com/any-hub/tierhub/internal/metrics"
)

// PackageHandler serves the package read path (metadata and tarballs). It
// allows injecting fake handlers during tests.
type PackageHandler interface {
	Handle(fiber.Ctx) error
}

// PackageHandlerFunc adapts a function to the PackageHandler interface.
type PackageHandlerFunc func(fiber.Ctx) error

// Handle makes PackageHandlerFunc satisfy PackageHandler.
func (f PackageHandlerFunc) Handle(c fiber.Ctx) error {
	return f(c)
}

// AppOptions controls how the Fiber application should behave.
type AppOptions struct {
	Logger     *logrus.Logger
	Metrics    *metrics.Metrics
	Packages   PackageHandler
	ListenPort int
}

const contextKeyRequestID = "_tierhub_request_id"

// NewApp builds a Fiber application with request-id, access-log and metrics
// middleware. Paths under /-/ fall through to routes registered later.
func NewApp(opts AppOptions) (*fiber.App, error) {
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if opts.Packages == nil {
		return nil, errors.New("package handler is required")
	}
	if opts.ListenPort <= 0 {
		return nil, fmt.Errorf("invalid listen port: %d", opts.ListenPort)
	}

	app := fiber.New(fiber.Config{
		CaseSensitive: true,
	})

	app.Use(recover.New())
	app.Use(requestContextMiddleware())
	app.Use(accessLogMiddleware(opts.Logger, opts.Metrics))

	app.All("/*", func(c fiber.Ctx) error {
		if isDiagnosticsPath(string(c.Request().URI().Path())) {
			return c.Next()
		}
		return opts.Packages.Handle(c)
	})

	return app, nil
}

// requestContextMiddleware 负责生成请求 ID 并写回响应头。
func requestContextMiddleware() fiber.Handler {
	return func(c fiber.Ctx) error {
		reqID := uuid.NewString()
		c.Locals(contextKeyRequestID, reqID)
		c.Set("X-Request-ID", reqID)
		return c.Next()
	}
}

// accessLogMiddleware 记录每个请求的状态与耗时，并上报请求指标。
// 路由标签取匹配到的路由模板，避免包名把指标维度撑爆。
func accessLogMiddleware(logger *logrus.Logger, m *metrics.Metrics) fiber.Handler {
	return func(c fiber.Ctx) error {
		started := time.Now()
		err := c.Next()

		status := c.Response().StatusCode()
		var fiberErr *fiber.Error
		if errors.As(err, &fiberErr) {
			status = fiberErr.Code
		} else if err != nil {
			status = fiber.StatusInternalServerError
		}

		path := string(c.Request().URI().Path())
		route := c.Route().Path
		if !isDiagnosticsPath(path) {
			route = "package"
		}
		elapsed := time.Since(started)
		m.ObserveRequest(c.Method(), route, status, elapsed)

		entry := logger.WithFields(logging.RequestFields(RequestID(c), c.Method(), path, status)).
			WithField("elapsed_ms", elapsed.Milliseconds())
		switch {
		case status >= fiber.StatusInternalServerError:
			entry.WithError(err).Warn("request failed")
		default:
			entry.Debug("request served")
		}
		return err
	}
}

// RequestID returns the request identifier stored by the router middleware.
func RequestID(c fiber.Ctx) string {
	if value := c.Locals(contextKeyRequestID); value != nil {
		if reqID, ok := value.(string); ok {
			return reqID
		}
	}
	return ""
}

func isDiagnosticsPath(path string) bool {
	return strings.HasPrefix(path, "/-/")
}
