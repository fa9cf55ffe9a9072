// Package registry 提供包的只读 HTTP 访问：元数据与 tarball 都经由
// storage.Router 按包的私有属性从本地或远端读取。
package registry

import (
	"errors"
	"io"
	"net/url"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/tierhub/internal/backend"
	"github.com/any-hub/tierhub/internal/server"
	"github.com/any-hub/tierhub/internal/storage"
)

const tarballSeparator = "/-/"

// Handler 实现 server.PackageHandler。
type Handler struct {
	db     *storage.Database
	logger *logrus.Logger
}

// NewHandler 构造读取处理器。
func NewHandler(db *storage.Database, logger *logrus.Logger) *Handler {
	return &Handler{db: db, logger: logger}
}

// Handle 支持 GET/HEAD：
//
//	/:name, /@scope/:name                    包元数据
//	/:name/-/:file, /@scope/:name/-/:file    tarball
func (h *Handler) Handle(c fiber.Ctx) error {
	method := c.Method()
	if method != fiber.MethodGet && method != fiber.MethodHead {
		return renderError(c, fiber.StatusMethodNotAllowed, "method_not_allowed")
	}

	name, file, ok := parsePath(string(c.Request().URI().Path()))
	if !ok {
		return renderError(c, fiber.StatusNotFound, "not_found")
	}

	router := h.db.PackageStorage(name)
	if file == "" {
		return h.serveMetadata(c, router)
	}
	return h.serveTarball(c, router, file)
}

func (h *Handler) serveMetadata(c fiber.Ctx, router *storage.Router) error {
	pkg, err := router.ReadPackage(c.Context())
	if err != nil {
		return h.renderStorageError(c, router, err)
	}
	c.Set("X-Tierhub-Private", strconv.FormatBool(router.IsPrivate()))
	return c.JSON(pkg)
}

func (h *Handler) serveTarball(c fiber.Ctx, router *storage.Router, file string) error {
	tarball, err := router.ReadTarball(c.Context(), file)
	if err != nil {
		return h.renderStorageError(c, router, err)
	}
	defer tarball.Close()

	c.Set("Content-Type", "application/octet-stream")
	c.Set("X-Tierhub-Tier", tarball.Tier)
	if tarball.Size > 0 {
		c.Response().Header.SetContentLength(int(tarball.Size))
	}
	c.Status(fiber.StatusOK)
	if c.Method() == fiber.MethodHead {
		return nil
	}

	if _, err := io.Copy(c.Response().BodyWriter(), tarball); err != nil {
		h.logger.WithFields(logrus.Fields{
			"package":    router.Name(),
			"file":       file,
			"request_id": server.RequestID(c),
		}).WithError(err).Warn("tarball stream interrupted")
		return err
	}
	return nil
}

func (h *Handler) renderStorageError(c fiber.Ctx, router *storage.Router, err error) error {
	if errors.Is(err, backend.ErrNotFound) {
		return renderError(c, fiber.StatusNotFound, "not_found")
	}
	h.logger.WithFields(logrus.Fields{
		"package":    router.Name(),
		"request_id": server.RequestID(c),
	}).WithError(err).Error("storage read failed")
	return renderError(c, fiber.StatusInternalServerError, "storage_error")
}

func renderError(c fiber.Ctx, status int, code string) error {
	return c.Status(status).JSON(fiber.Map{"error": code})
}

// parsePath 解析请求路径中的包名与 tarball 文件名。npm 客户端会把 scoped 包
// 的 / 编码为 %2f，这里统一解码后再拆分。
func parsePath(raw string) (name, file string, ok bool) {
	decoded, err := url.PathUnescape(raw)
	if err != nil {
		return "", "", false
	}
	decoded = strings.TrimPrefix(decoded, "/")
	decoded = strings.TrimSuffix(decoded, "/")

	name = decoded
	if idx := strings.Index(decoded, tarballSeparator); idx >= 0 {
		name, file = decoded[:idx], decoded[idx+len(tarballSeparator):]
		if file == "" || strings.Contains(file, "/") {
			return "", "", false
		}
	}
	if backend.ValidateName(name) != nil {
		return "", "", false
	}
	return name, file, true
}
