// Package config loads server configuration from an optional YAML file with
// environment variable overrides layered on top, following the same
// deep-merge convention the rest of the module already uses for
// envdecode-backed defaults (see sessions/redishost.Config).
package config

import (
	"fmt"
	"os"

	"github.com/joeshaw/envdecode"
	"gopkg.in/yaml.v3"
)

// SessionHostKind selects which sessions.Host backend a server should build.
type SessionHostKind string

const (
	SessionHostMemory SessionHostKind = "memory"
	SessionHostRedis  SessionHostKind = "redis"
)

// Config is the merged configuration for a corekit server process. YAML
// fields set the baseline; a set environment variable overrides whatever the
// file supplies. Deliberately no "default=" env tags: envdecode applies
// those unconditionally, which would clobber a value the YAML file set
// whenever the matching env var happens to be unset. Defaults are instead
// filled in by applyDefaults after both layers have run, mirroring how
// redishost.New falls back to hardcoded defaults for a zero Config.
type Config struct {
	ListenAddr  string          `yaml:"listen_addr" env:"LISTEN_ADDR"`
	ServerName  string          `yaml:"server_name" env:"SERVER_NAME"`
	LogLevel    string          `yaml:"log_level" env:"LOG_LEVEL"`
	SessionHost SessionHostKind `yaml:"session_host" env:"SESSION_HOST"`

	Redis struct {
		Addr      string `yaml:"addr" env:"REDIS_ADDR"`
		KeyPrefix string `yaml:"key_prefix" env:"SESSIONS_KEY_PREFIX"`
	} `yaml:"redis"`

	Auth struct {
		Issuer   string   `yaml:"issuer" env:"AUTH_ISSUER"`
		Audience string   `yaml:"audience" env:"AUTH_AUDIENCE"`
		JWKSURL  string   `yaml:"jwks_url" env:"AUTH_JWKS_URL"`
		Scopes   []string `yaml:"scopes"`
	} `yaml:"auth"`
}

// Load reads path (if it exists) as YAML into a Config, applies envdecode
// overrides on top, then fills in defaults for anything still unset. A
// missing file is not an error: the returned Config falls back entirely to
// defaults and env vars.
func Load(path string) (*Config, error) {
	var cfg Config

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("reading config file %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}

	// envdecode reports ErrNoTargetFieldsAreSet when none of the env vars is
	// set; that only means there are no overrides. Any other error is a
	// genuine malformed environment value.
	if err := envdecode.Decode(&cfg); err != nil && err != envdecode.ErrNoTargetFieldsAreSet {
		return nil, fmt.Errorf("decoding environment overrides: %w", err)
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8080"
	}
	if cfg.ServerName == "" {
		cfg.ServerName = "corekit"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.SessionHost == "" {
		cfg.SessionHost = SessionHostMemory
	}
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = "localhost:6379"
	}
	if cfg.Redis.KeyPrefix == "" {
		cfg.Redis.KeyPrefix = "mcp:sessions:"
	}
}
