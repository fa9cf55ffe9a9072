package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/any-hub/tierhub/internal/retry"
)

// Duration 提供更灵活的反序列化能力，同时兼容纯秒整数与 Go Duration 字符串。
type Duration time.Duration

// UnmarshalText 使 Viper 可以识别诸如 "30s"、"100ms" 或纯数字秒值等配置写法。
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		*d = Duration(0)
		return nil
	}

	if parsed, err := time.ParseDuration(raw); err == nil {
		*d = Duration(parsed)
		return nil
	}

	if intVal, err := parseInt(raw); err == nil {
		*d = Duration(time.Duration(intVal) * time.Second)
		return nil
	}

	return fmt.Errorf("invalid duration value: %s", raw)
}

// DurationValue 返回真实的 time.Duration，便于调用方计算。
func (d Duration) DurationValue() time.Duration {
	return time.Duration(d)
}

// parseInt 支持十进制或 0x 前缀的十六进制字符串解析。
func parseInt(value string) (int64, error) {
	if strings.HasPrefix(value, "0x") || strings.HasPrefix(value, "0X") {
		return strconv.ParseInt(value, 0, 64)
	}
	return strconv.ParseInt(value, 10, 64)
}

// 远端存储后端类型。
const (
	RemoteBackendGCS = "gcs"
	RemoteBackendFS  = "fs"
)

// GlobalConfig 描述进程级运行参数：监听、日志、上游请求与私有包规则。
type GlobalConfig struct {
	ListenPort      int      `mapstructure:"listen_port"`
	LogLevel        string   `mapstructure:"log_level"`
	LogFilePath     string   `mapstructure:"log_file_path"`
	LogMaxSize      int      `mapstructure:"log_max_size"`
	LogMaxBackups   int      `mapstructure:"log_max_backups"`
	LogCompress     bool     `mapstructure:"log_compress"`
	UpstreamTimeout Duration `mapstructure:"upstream_timeout"`
	RetryDelay      Duration `mapstructure:"retry_delay"`
	// RetryCount 为 0 时只请求一次，负数表示无限重试。
	RetryCount      int      `mapstructure:"retry_count"`
	UserAgent       string   `mapstructure:"user_agent"`
	PrivatePackages []string `mapstructure:"private_packages"`
}

// MaintenanceConfig 控制 sync/clean 维护接口以及本地存储目录。
type MaintenanceConfig struct {
	EnableSync  bool   `mapstructure:"enable_sync"`
	SyncRoute   string `mapstructure:"sync_route"`
	Uplink      string `mapstructure:"uplink"`
	StorePath   string `mapstructure:"store_path"`
	EnableClean bool   `mapstructure:"enable_clean"`
	CleanRoute  string `mapstructure:"clean_route"`
}

// RemoteConfig 描述远端持久层。backend = "gcs" 时使用 Bucket/Prefix，
// backend = "fs" 时使用 Path（开发与测试场景）。
type RemoteConfig struct {
	Backend string `mapstructure:"backend"`
	Bucket  string `mapstructure:"bucket"`
	Prefix  string `mapstructure:"prefix"`
	Path    string `mapstructure:"path"`
}

// UplinkConfig 为上游 registry 起一个名字，sync 请求可以用名字引用它。
type UplinkConfig struct {
	Name string `mapstructure:"name"`
	URL  string `mapstructure:"url"`
}

// Config 是 TOML 文件映射的整体结构。加载完成后只读，按指针传给各组件。
type Config struct {
	Global      GlobalConfig      `mapstructure:",squash"`
	Maintenance MaintenanceConfig `mapstructure:",squash"`
	Remote      RemoteConfig      `mapstructure:"remote"`
	Uplinks     []UplinkConfig    `mapstructure:"uplinks"`
}

// RetryConfig 把重试相关字段转换为 retry.Config，日志回调由调用方注入。
func (c *Config) RetryConfig(log func(string)) retry.Config {
	return retry.Config{
		Delay:   c.Global.RetryDelay.DurationValue(),
		Retries: c.Global.RetryCount,
		Log:     log,
	}
}

// UplinkNames 返回所有命名上游的名字，用于日志输出。
func (c *Config) UplinkNames() []string {
	if len(c.Uplinks) == 0 {
		return nil
	}
	names := make([]string, len(c.Uplinks))
	for i, uplink := range c.Uplinks {
		names[i] = uplink.Name
	}
	return names
}
