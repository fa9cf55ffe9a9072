package config

import "testing"

func TestLoadFailsWithMissingFields(t *testing.T) {
	if _, err := Load(testConfigPath(t, "missing.toml")); err == nil {
		t.Fatalf("缺失字段的配置应返回错误")
	}
}

func TestLoadRejectsInvalidDuration(t *testing.T) {
	cfg := `
log_level = "info"
store_path = "./data"
retry_delay = "boom"

[remote]
backend = "fs"
path = "./remote"
`
	path := writeTempConfig(t, cfg)
	if _, err := Load(path); err == nil {
		t.Fatalf("无效 Duration 应失败")
	}
}

func TestLoadKeepsExplicitZeroRetries(t *testing.T) {
	cfg := `
retry_count = 0

[remote]
backend = "fs"
path = "./remote"
`
	loaded, err := Load(writeTempConfig(t, cfg))
	if err != nil {
		t.Fatalf("Load 返回错误: %v", err)
	}
	if loaded.Global.RetryCount != 0 {
		t.Fatalf("显式 retry_count = 0 不应被默认值覆盖: %d", loaded.Global.RetryCount)
	}
	if loaded.Global.ListenPort != 4873 {
		t.Fatalf("listen_port 默认值错误: %d", loaded.Global.ListenPort)
	}
}
