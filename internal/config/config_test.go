package config

import (
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadWithDefaults(t *testing.T) {
	cfgPath := testConfigPath(t, "valid.toml")

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load 返回错误: %v", err)
	}
	if cfg.Maintenance.SyncRoute != "/-/sync" || cfg.Maintenance.CleanRoute != "/-/clean" {
		t.Fatalf("路由应使用默认值: %+v", cfg.Maintenance)
	}
	if cfg.Maintenance.Uplink != "https://registry.npmjs.org/" {
		t.Fatalf("uplink 应使用默认值: %s", cfg.Maintenance.Uplink)
	}
	if !filepath.IsAbs(cfg.Maintenance.StorePath) || !filepath.IsAbs(cfg.Remote.Path) {
		t.Fatalf("存储目录应被转换为绝对路径: %s %s", cfg.Maintenance.StorePath, cfg.Remote.Path)
	}
	if cfg.Global.RetryDelay.DurationValue() != 50*time.Millisecond || cfg.Global.RetryCount != 3 {
		t.Fatalf("重试参数解析错误: %+v", cfg.Global)
	}
	if len(cfg.Global.PrivatePackages) != 2 {
		t.Fatalf("private_packages 解析错误: %v", cfg.Global.PrivatePackages)
	}
	if got := cfg.UplinkNames(); len(got) != 2 || got[0] != "npmjs" {
		t.Fatalf("uplinks 解析错误: %v", got)
	}
	if cfg.Global.UserAgent != "hidden" {
		t.Fatalf("user_agent 默认值错误: %s", cfg.Global.UserAgent)
	}
}

func TestValidateRejectsBadUplink(t *testing.T) {
	cfgPath := testConfigPath(t, "missing.toml")

	if _, err := Load(cfgPath); err == nil {
		t.Fatalf("不合法的配置应返回错误")
	}
}

func TestValidateEnforcesListenPortRange(t *testing.T) {
	cfg := validConfig()
	cfg.Global.ListenPort = 70000
	if err := cfg.Validate(); err == nil {
		t.Fatalf("listen_port 超出范围应当报错")
	}
}

func TestValidateRemoteBackend(t *testing.T) {
	testCases := []struct {
		name      string
		remote    RemoteConfig
		shouldErr bool
	}{
		{"gcs ok", RemoteConfig{Backend: "gcs", Bucket: "b"}, false},
		{"gcs missing bucket", RemoteConfig{Backend: "gcs"}, true},
		{"fs ok", RemoteConfig{Backend: "fs", Path: "/tmp/remote"}, false},
		{"fs missing path", RemoteConfig{Backend: "fs"}, true},
		{"unsupported", RemoteConfig{Backend: "s3", Bucket: "b"}, true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			cfg.Remote = tc.remote
			err := cfg.Validate()
			if tc.shouldErr && err == nil {
				t.Fatalf("expected error for %+v", tc.remote)
			}
			if !tc.shouldErr && err != nil {
				t.Fatalf("unexpected error for %+v: %v", tc.remote, err)
			}
		})
	}
}

func TestValidateRejectsBadPrivatePattern(t *testing.T) {
	cfg := validConfig()
	cfg.Global.PrivatePackages = []string{"@corp/[abc"}
	err := cfg.Validate()
	var fieldErr FieldError
	if !errors.As(err, &fieldErr) || fieldErr.Field != "private_packages" {
		t.Fatalf("非法 glob 应返回 FieldError, got %v", err)
	}
}

func TestValidateRoutesAndUplinks(t *testing.T) {
	cfg := validConfig()
	cfg.Maintenance.SyncRoute = "sync"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("路由不以 / 开头应报错")
	}

	cfg = validConfig()
	cfg.Maintenance.CleanRoute = cfg.Maintenance.SyncRoute
	if err := cfg.Validate(); err == nil {
		t.Fatalf("sync/clean 路由冲突应报错")
	}

	cfg = validConfig()
	cfg.Uplinks = append(cfg.Uplinks, UplinkConfig{Name: "npmjs", URL: "https://example.com"})
	if err := cfg.Validate(); err == nil {
		t.Fatalf("重复的 uplink 名称应报错")
	}
}

func TestRetryConfigMapping(t *testing.T) {
	cfg := validConfig()
	cfg.Global.RetryCount = -1
	rc := cfg.RetryConfig(nil)
	if rc.Retries != -1 || rc.Delay != 100*time.Millisecond {
		t.Fatalf("unexpected retry config: %+v", rc)
	}
}

func TestResolvePathPrecedence(t *testing.T) {
	t.Setenv(EnvConfigPath, "/etc/tierhub.toml")
	if got := ResolvePath("./flag.toml"); got != "./flag.toml" {
		t.Fatalf("flag 应优先: %s", got)
	}
	if got := ResolvePath(""); got != "/etc/tierhub.toml" {
		t.Fatalf("环境变量应次之: %s", got)
	}
	t.Setenv(EnvConfigPath, "")
	if got := ResolvePath(""); got != "config.toml" {
		t.Fatalf("默认路径错误: %s", got)
	}
}

func validConfig() *Config {
	return &Config{
		Global: GlobalConfig{
			ListenPort:      4873,
			UpstreamTimeout: Duration(time.Second),
			RetryDelay:      Duration(100 * time.Millisecond),
			RetryCount:      10,
			PrivatePackages: []string{"@corp/*"},
		},
		Maintenance: MaintenanceConfig{
			EnableSync:  true,
			SyncRoute:   "/-/sync",
			Uplink:      "https://registry.npmjs.org/",
			StorePath:   "./storage",
			EnableClean: true,
			CleanRoute:  "/-/clean",
		},
		Remote: RemoteConfig{Backend: RemoteBackendFS, Path: "./remote"},
		Uplinks: []UplinkConfig{
			{Name: "npmjs", URL: "https://registry.npmjs.org/"},
		},
	}
}
