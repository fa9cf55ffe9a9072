package routes

import (
	"context"
	"net/http"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/tierhub/internal/cleaner"
	"github.com/any-hub/tierhub/internal/config"
	"github.com/any-hub/tierhub/internal/keylock"
	"github.com/any-hub/tierhub/internal/logging"
	"github.com/any-hub/tierhub/internal/metadata"
	"github.com/any-hub/tierhub/internal/metrics"
	"github.com/any-hub/tierhub/internal/server"
	"github.com/any-hub/tierhub/internal/uplink"
)

const msgInvalidRequest = "invalid name or version"

// Maintenance 汇总 sync/clean 接口依赖，配置在启动时加载一次后只读共享。
type Maintenance struct {
	Config  *config.Config
	Uplinks *server.UplinkRegistry
	Client  *http.Client
	Locks   *keylock.Map
	Logger  *logrus.Logger
	Metrics *metrics.Metrics
}

type syncRequest struct {
	Name        string                 `json:"name"`
	Version     metadata.VersionFilter `json:"version"`
	Uplink      string                 `json:"uplink"`
	SyncTarball bool                   `json:"syncTarball"`
}

type cleanRequest struct {
	Name    string                 `json:"name"`
	Version metadata.VersionFilter `json:"version"`
}

// RegisterMaintenanceRoutes 按 enable_sync / enable_clean 注册维护接口。
func RegisterMaintenanceRoutes(app *fiber.App, m *Maintenance) {
	if app == nil || m == nil || m.Config == nil {
		return
	}
	settings := m.Config.Maintenance

	if settings.EnableSync {
		m.Logger.WithField("route", settings.SyncRoute).Info("sync enabled")
		app.Post(settings.SyncRoute, m.can, m.sync)
	}
	if settings.EnableClean {
		m.Logger.WithField("route", settings.CleanRoute).Info("clean enabled")
		app.Post(settings.CleanRoute, m.can, m.clean)
	}
}

// can 记录进入维护接口的请求。
func (m *Maintenance) can(c fiber.Ctx) error {
	m.Logger.WithFields(logrus.Fields{
		"url":        c.OriginalURL(),
		"method":     c.Method(),
		"body":       string(c.Body()),
		"request_id": server.RequestID(c),
	}).Info("incoming request")
	return c.Next()
}

func (m *Maintenance) sync(c fiber.Ctx) error {
	var req syncRequest
	if err := c.Bind().JSON(&req); err != nil || req.Name == "" || req.Version.IsZero() {
		return renderInvalid(c)
	}

	err := m.Sync(c.Context(), uplink.Request{
		Name:        req.Name,
		Versions:    req.Version,
		Uplink:      req.Uplink,
		SyncTarball: req.SyncTarball,
	})
	if err != nil {
		return renderFailure(c, "sync failed: ", err)
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"stat": 0, "msg": "sync success"})
}

func (m *Maintenance) clean(c fiber.Ctx) error {
	var req cleanRequest
	if err := c.Bind().JSON(&req); err != nil || req.Name == "" || req.Version.IsZero() {
		return renderInvalid(c)
	}

	if err := m.Clean(c.Context(), cleaner.Request{Name: req.Name, Versions: req.Version}); err != nil {
		return renderFailure(c, "clean failed: ", err)
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"stat": 0, "msg": "clean success"})
}

// Sync 同步一个包。req.Uplink 可以为空、命名上游或绝对地址。
// 单个 tarball 的失败只记录日志，不影响返回值。
func (m *Maintenance) Sync(ctx context.Context, req uplink.Request) (err error) {
	defer func() { m.Metrics.ObserveMaintenance("sync", err) }()

	req.Uplink, err = m.Uplinks.Resolve(req.Uplink)
	if err != nil {
		return errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg(err.Error())
	}

	syncer, err := uplink.New(req, uplink.Options{
		Client:    m.Client,
		StorePath: m.Config.Maintenance.StorePath,
		UserAgent: m.Config.Global.UserAgent,
		Retry:     m.Config.RetryConfig(nil),
		Locks:     m.Locks,
		Logger:    m.Logger,
		Metrics:   m.Metrics,
	})
	if err != nil {
		return err
	}
	result, err := syncer.Run(ctx)
	if err != nil {
		return err
	}

	entry := m.Logger.WithFields(logging.MaintenanceFields("sync", req.Name, req.Versions.String(), req.Uplink))
	if failed := result.Failed(); len(failed) > 0 {
		entry.WithField("tarballs_failed", len(failed)).Warn("sync finished with tarball failures")
		return nil
	}
	entry.Info("sync success")
	return nil
}

// Clean 清理一个包。按版本清理时单项失败只记录日志。
func (m *Maintenance) Clean(ctx context.Context, req cleaner.Request) (err error) {
	defer func() { m.Metrics.ObserveMaintenance("clean", err) }()

	c, err := cleaner.New(req, cleaner.Options{
		StorePath: m.Config.Maintenance.StorePath,
		Locks:     m.Locks,
		Logger:    m.Logger,
		Metrics:   m.Metrics,
	})
	if err != nil {
		return err
	}
	report, err := c.Clean(ctx)
	if err != nil {
		return err
	}

	entry := m.Logger.WithFields(logging.MaintenanceFields("clean", req.Name, req.Versions.String(), ""))
	if failed := report.Err(); failed != nil {
		entry.WithError(failed).Warn("clean finished with failures")
		return nil
	}
	entry.Info("clean success")
	return nil
}

func renderInvalid(c fiber.Ctx) error {
	return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
		"stat": "fail",
		"msg":  msgInvalidRequest,
	})
}

// renderFailure 把错误转换为 JSON 信封：参数错误返回 403，其余返回 500。
func renderFailure(c fiber.Ctx, prefix string, err error) error {
	if errbuilder.CodeOf(err) == errbuilder.CodeInvalidArgument {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"stat": "fail",
			"msg":  uplink.Message(err),
		})
	}
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
		"stat": fiber.StatusInternalServerError,
		"msg":  prefix + uplink.Message(err),
	})
}
