package server

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/any-hub/tierhub/internal/config"
)

// UplinkRoute 是一个命名上游及其解析后的地址。
type UplinkRoute struct {
	Name string
	URL  *url.URL
}

// UplinkRegistry 把 sync 请求中的 uplink 字段解析为上游根地址：
// 为空时使用默认 uplink，可以是 [[uplinks]] 中声明的名字，也可以是绝对 URL。
type UplinkRegistry struct {
	defaultURL string
	routes     map[string]*UplinkRoute
	ordered    []*UplinkRoute
}

// NewUplinkRegistry 根据配置构建名字到地址的映射。调用方应在启动阶段创建一次并复用。
func NewUplinkRegistry(cfg *config.Config) (*UplinkRegistry, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}

	defaultURL, err := normalizeUplink(cfg.Maintenance.Uplink)
	if err != nil {
		return nil, fmt.Errorf("invalid default uplink: %w", err)
	}

	registry := &UplinkRegistry{
		defaultURL: defaultURL.String(),
		routes:     make(map[string]*UplinkRoute, len(cfg.Uplinks)),
	}

	for _, uplink := range cfg.Uplinks {
		name := strings.TrimSpace(uplink.Name)
		if name == "" {
			return nil, errors.New("uplink name is required")
		}
		if _, exists := registry.routes[name]; exists {
			return nil, fmt.Errorf("duplicate uplink name %s", name)
		}
		parsed, err := normalizeUplink(uplink.URL)
		if err != nil {
			return nil, fmt.Errorf("invalid url for uplink %s: %w", name, err)
		}
		route := &UplinkRoute{Name: name, URL: parsed}
		registry.routes[name] = route
		registry.ordered = append(registry.ordered, route)
	}

	return registry, nil
}

// Default 返回默认 uplink 地址。
func (r *UplinkRegistry) Default() string {
	if r == nil {
		return ""
	}
	return r.defaultURL
}

// Resolve 返回 raw 对应的上游根地址。
func (r *UplinkRegistry) Resolve(raw string) (string, error) {
	if r == nil {
		return "", errors.New("uplink registry is nil")
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return r.defaultURL, nil
	}
	if route, ok := r.routes[raw]; ok {
		return route.URL.String(), nil
	}
	parsed, err := normalizeUplink(raw)
	if err != nil {
		return "", fmt.Errorf("unknown uplink %q", raw)
	}
	return parsed.String(), nil
}

// List 返回按配置顺序排列的命名上游，用于启动日志。
func (r *UplinkRegistry) List() []UplinkRoute {
	if r == nil || len(r.ordered) == 0 {
		return nil
	}

	result := make([]UplinkRoute, len(r.ordered))
	for i, route := range r.ordered {
		result[i] = *route
	}
	return result
}

// normalizeUplink 要求 http/https 绝对地址，host 转小写，路径统一以 / 结尾。
func normalizeUplink(raw string) (*url.URL, error) {
	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("unsupported scheme %q", parsed.Scheme)
	}
	if parsed.Host == "" {
		return nil, errors.New("missing host")
	}
	parsed.Host = strings.ToLower(parsed.Host)
	if !strings.HasSuffix(parsed.Path, "/") {
		parsed.Path += "/"
	}
	parsed.RawQuery = ""
	parsed.Fragment = ""
	return parsed, nil
}
