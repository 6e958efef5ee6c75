package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfigFile(t *testing.T, dir, content string) string {
	t.Helper()
	p := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(p, []byte(content), 0o600); err != nil {
		t.Fatalf("write config file: %v", err)
	}
	return p
}

func TestLoad_MissingFileFallsBackToDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ListenAddr != ":8080" {
		t.Errorf("ListenAddr = %q, want :8080", cfg.ListenAddr)
	}
	if cfg.SessionHost != SessionHostMemory {
		t.Errorf("SessionHost = %q, want %q", cfg.SessionHost, SessionHostMemory)
	}
}

func TestLoad_YAMLValuesSurviveWithNoEnvOverride(t *testing.T) {
	path := writeConfigFile(t, t.TempDir(), `
listen_addr: ":9090"
server_name: my-server
session_host: redis
redis:
  addr: redis.internal:6379
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ListenAddr != ":9090" {
		t.Errorf("ListenAddr = %q, want :9090 (YAML value must not be clobbered by absent env defaults)", cfg.ListenAddr)
	}
	if cfg.ServerName != "my-server" {
		t.Errorf("ServerName = %q, want my-server", cfg.ServerName)
	}
	if cfg.SessionHost != SessionHostRedis {
		t.Errorf("SessionHost = %q, want redis", cfg.SessionHost)
	}
	if cfg.Redis.Addr != "redis.internal:6379" {
		t.Errorf("Redis.Addr = %q, want redis.internal:6379", cfg.Redis.Addr)
	}
	// Untouched by the file, should fall back to the hardcoded default.
	if cfg.Redis.KeyPrefix != "mcp:sessions:" {
		t.Errorf("Redis.KeyPrefix = %q, want mcp:sessions:", cfg.Redis.KeyPrefix)
	}
}

func TestLoad_EnvOverridesYAML(t *testing.T) {
	path := writeConfigFile(t, t.TempDir(), `
listen_addr: ":9090"
`)
	t.Setenv("LISTEN_ADDR", ":7070")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ListenAddr != ":7070" {
		t.Errorf("ListenAddr = %q, want :7070 (env should win over YAML)", cfg.ListenAddr)
	}
}
