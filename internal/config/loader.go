package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

const (
	// EnvConfigPath 指定配置文件路径的环境变量。
	EnvConfigPath = "TIERHUB_CONFIG"

	defaultConfigPath = "config.toml"
	defaultSyncRoute  = "/-/sync"
	defaultCleanRoute = "/-/clean"
	defaultUplink     = "https://registry.npmjs.org/"
	defaultStorePath  = "storage"
)

// ResolvePath 按 flag > 环境变量 > ./config.toml 的顺序确定配置文件路径。
func ResolvePath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if env := strings.TrimSpace(os.Getenv(EnvConfigPath)); env != "" {
		return env
	}
	return defaultConfigPath
}

// Load 读取并解析 TOML 配置文件，同时注入默认值与校验逻辑。
func Load(path string) (*Config, error) {
	if path == "" {
		path = defaultConfigPath
	}

	v := viper.New()
	v.SetConfigFile(path)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置失败: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(durationDecodeHook())); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	absStore, err := filepath.Abs(cfg.Maintenance.StorePath)
	if err != nil {
		return nil, fmt.Errorf("无法解析存储目录: %w", err)
	}
	cfg.Maintenance.StorePath = absStore

	if cfg.Remote.Backend == RemoteBackendFS {
		absRemote, err := filepath.Abs(cfg.Remote.Path)
		if err != nil {
			return nil, fmt.Errorf("无法解析远端目录: %w", err)
		}
		cfg.Remote.Path = absRemote
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("listen_port", 4873)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_file_path", "")
	v.SetDefault("log_max_size", 100)
	v.SetDefault("log_max_backups", 10)
	v.SetDefault("log_compress", true)
	v.SetDefault("upstream_timeout", "30s")
	v.SetDefault("retry_delay", "100ms")
	v.SetDefault("retry_count", 10)
	v.SetDefault("user_agent", "hidden")
	v.SetDefault("enable_sync", false)
	v.SetDefault("sync_route", defaultSyncRoute)
	v.SetDefault("uplink", defaultUplink)
	v.SetDefault("store_path", defaultStorePath)
	v.SetDefault("enable_clean", false)
	v.SetDefault("clean_route", defaultCleanRoute)
	v.SetDefault("remote.backend", RemoteBackendGCS)
}

func applyDefaults(cfg *Config) {
	g := &cfg.Global
	if g.ListenPort == 0 {
		g.ListenPort = 4873
	}
	if g.UpstreamTimeout.DurationValue() == 0 {
		g.UpstreamTimeout = Duration(30 * time.Second)
	}
	if strings.TrimSpace(g.UserAgent) == "" {
		g.UserAgent = "hidden"
	}

	m := &cfg.Maintenance
	if strings.TrimSpace(m.SyncRoute) == "" {
		m.SyncRoute = defaultSyncRoute
	}
	if strings.TrimSpace(m.CleanRoute) == "" {
		m.CleanRoute = defaultCleanRoute
	}
	if strings.TrimSpace(m.Uplink) == "" {
		m.Uplink = defaultUplink
	}
	if strings.TrimSpace(m.StorePath) == "" {
		m.StorePath = defaultStorePath
	}

	cfg.Remote.Backend = strings.ToLower(strings.TrimSpace(cfg.Remote.Backend))
	if cfg.Remote.Backend == "" {
		cfg.Remote.Backend = RemoteBackendGCS
	}
}

func durationDecodeHook() mapstructure.DecodeHookFunc {
	targetType := reflect.TypeOf(Duration(0))

	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != targetType {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			if v == "" {
				return Duration(0), nil
			}
			if parsed, err := time.ParseDuration(v); err == nil {
				return Duration(parsed), nil
			}
			if seconds, err := strconv.ParseFloat(v, 64); err == nil {
				return Duration(time.Duration(seconds * float64(time.Second))), nil
			}
			return nil, fmt.Errorf("无法解析 Duration 字段: %s", v)
		case int:
			return Duration(time.Duration(v) * time.Second), nil
		case int64:
			return Duration(time.Duration(v) * time.Second), nil
		case float64:
			return Duration(time.Duration(v * float64(time.Second))), nil
		case time.Duration:
			return Duration(v), nil
		case Duration:
			return v, nil
		default:
			return nil, fmt.Errorf("不支持的 Duration 类型: %T", v)
		}
	}
}
