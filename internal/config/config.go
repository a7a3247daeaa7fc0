// Package config loads the orchestrator configuration from config.yaml and
// INSURE_-prefixed environment variables.
package config

import (
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Agents    AgentsConfig    `koanf:"agents"`
	Storage   StorageConfig   `koanf:"storage"`
	Documents DocumentsConfig `koanf:"documents"`
	Auth      AuthConfig      `koanf:"auth"`
}

type ServerConfig struct {
	Port int `koanf:"port"`
	// RequestTimeout bounds the whole HTTP request, including a submit
	// call's entry-stage invocation.
	RequestTimeout string `koanf:"request_timeout"`
}

// AgentsConfig points at the remote agent service hosting the five stage
// endpoints.
type AgentsConfig struct {
	BaseURL string `koanf:"base_url"`
	// Timeout applies uniformly to every stage call.
	Timeout string `koanf:"timeout"`
}

type StorageConfig struct {
	Type   string       `koanf:"type"` // sqlite, none
	SQLite SQLiteConfig `koanf:"sqlite"`
}

type SQLiteConfig struct {
	Path string `koanf:"path"`
}

// DocumentsConfig points at the hosted document store.
type DocumentsConfig struct {
	BaseURL        string `koanf:"base_url"`
	APIKey         string `koanf:"api_key"`
	MaxUploadBytes int64  `koanf:"max_upload_bytes"`
}

type AuthConfig struct {
	// APIKeys are SHA-256 hashes of accepted bearer tokens. Empty disables
	// authentication (local development).
	APIKeys []string `koanf:"api_keys"`
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

func Load() (*Config, error) {
	return LoadFile("config.yaml")
}

// LoadFile loads configuration from the given YAML file, then overlays
// INSURE_-prefixed environment variables (double underscore nests keys).
func LoadFile(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		// File not found is OK, we'll use env vars
		if !os.IsNotExist(err) {
			return nil, err
		}
	}

	if err := k.Load(env.Provider("INSURE_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, "INSURE_")), "__", ".", -1)
	}), nil); err != nil {
		return nil, err
	}

	// Default values
	if !k.Exists("server.port") {
		k.Set("server.port", 8080)
	}
	if !k.Exists("agents.timeout") {
		k.Set("agents.timeout", "120s")
	}
	if !k.Exists("storage.type") {
		k.Set("storage.type", "sqlite")
	}
	if !k.Exists("storage.sqlite.path") {
		k.Set("storage.sqlite.path", "./data/orchestrator.db")
	}
	if !k.Exists("documents.max_upload_bytes") {
		k.Set("documents.max_upload_bytes", 10*1024*1024)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	cfg.Documents.APIKey = substituteEnvVars(cfg.Documents.APIKey)

	return &cfg, nil
}

// AgentTimeout returns the per-stage call timeout.
func (c *Config) AgentTimeout() time.Duration {
	d, err := time.ParseDuration(c.Agents.Timeout)
	if err != nil || d <= 0 {
		return 120 * time.Second
	}
	return d
}

// RequestTimeout returns the HTTP request timeout. The longest request is an
// entry-gate approval, which chains four stage calls, so the default leaves
// room for all of them.
func (c *Config) RequestTimeout() time.Duration {
	if d, err := time.ParseDuration(c.Server.RequestTimeout); err == nil && d > 0 {
		return d
	}
	return 4*c.AgentTimeout() + 10*time.Second
}

func substituteEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}
