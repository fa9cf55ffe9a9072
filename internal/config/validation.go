package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	g := c.Global
	if g.ListenPort <= 0 || g.ListenPort > 65535 {
		return newFieldError("listen_port", "必须在 1-65535")
	}
	if g.UpstreamTimeout.DurationValue() <= 0 {
		return newFieldError("upstream_timeout", "必须大于 0")
	}
	if g.RetryDelay.DurationValue() < 0 {
		return newFieldError("retry_delay", "不能为负数")
	}
	for _, pattern := range g.PrivatePackages {
		if strings.TrimSpace(pattern) == "" {
			return newFieldError("private_packages", "不能包含空模式")
		}
		if !doublestar.ValidatePattern(pattern) {
			return newFieldError("private_packages", fmt.Sprintf("非法的 glob 模式: %s", pattern))
		}
	}

	m := c.Maintenance
	if m.StorePath == "" {
		return newFieldError("store_path", "不能为空")
	}
	if err := validateRoute(m.SyncRoute); err != nil {
		return fmt.Errorf("sync_route: %w", err)
	}
	if err := validateRoute(m.CleanRoute); err != nil {
		return fmt.Errorf("clean_route: %w", err)
	}
	if m.EnableSync && m.EnableClean && m.SyncRoute == m.CleanRoute {
		return newFieldError("clean_route", "不能与 sync_route 相同")
	}
	if err := validateUpstream(m.Uplink); err != nil {
		return fmt.Errorf("uplink: %w", err)
	}

	if err := c.Remote.validate(); err != nil {
		return err
	}

	seenNames := map[string]struct{}{}
	for _, uplink := range c.Uplinks {
		if uplink.Name == "" {
			return newFieldError("uplinks[].name", "不能为空")
		}
		if _, exists := seenNames[uplink.Name]; exists {
			return newFieldError(uplinkField(uplink.Name, "name"), "重复")
		}
		seenNames[uplink.Name] = struct{}{}
		if err := validateUpstream(uplink.URL); err != nil {
			return fmt.Errorf("%s: %w", uplinkField(uplink.Name, "url"), err)
		}
	}

	return nil
}

func (r RemoteConfig) validate() error {
	switch r.Backend {
	case RemoteBackendGCS:
		if strings.TrimSpace(r.Bucket) == "" {
			return newFieldError("remote.bucket", "backend = gcs 时不能为空")
		}
	case RemoteBackendFS:
		if strings.TrimSpace(r.Path) == "" {
			return newFieldError("remote.path", "backend = fs 时不能为空")
		}
	default:
		return newFieldError("remote.backend", "仅支持 gcs|fs")
	}
	return nil
}

func validateRoute(route string) error {
	if !strings.HasPrefix(route, "/") {
		return errors.New("路由必须以 / 开头")
	}
	if strings.ContainsAny(route, " ?#") {
		return errors.New("路由不能包含空格、查询串或锚点")
	}
	return nil
}

func validateUpstream(raw string) error {
	if raw == "" {
		return errors.New("缺少上游地址")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("仅支持 http/https，上游: %s", raw)
	}
	if parsed.Host == "" {
		return fmt.Errorf("上游缺少 Host: %s", raw)
	}
	return nil
}
