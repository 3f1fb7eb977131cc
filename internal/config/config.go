// Package config loads orchestrator configuration from an optional YAML
// file overlaid with ACROFLOW_-prefixed environment variables.
package config

import (
	"fmt"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Server  ServerConfig  `koanf:"server"`
	Backend BackendConfig `koanf:"backend"`
	Storage StorageConfig `koanf:"storage"`
}

type ServerConfig struct {
	Port int `koanf:"port"`
}

type BackendConfig struct {
	// BaseURL of the remote form-filling agent service.
	BaseURL string `koanf:"base_url"`
	// Credential is an opaque bearer token forwarded to the backend.
	Credential string `koanf:"credential"`
}

type StorageConfig struct {
	// Path of the SQLite session snapshot database.
	Path string `koanf:"path"`
}

// Load reads configuration. path may be empty, in which case only
// environment variables and defaults apply. Environment variables override
// file values: ACROFLOW_BACKEND_BASE_URL maps to backend.base_url.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("ACROFLOW_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, "ACROFLOW_")), "_", ".", -1)
	}), nil); err != nil {
		return nil, err
	}

	// Default values
	if !k.Exists("server.port") {
		k.Set("server.port", 8090)
	}
	if !k.Exists("backend.base.url") && !k.Exists("backend.base_url") {
		k.Set("backend.base_url", "http://localhost:8000")
	}
	if !k.Exists("storage.path") {
		k.Set("storage.path", "./data/acroflow.db")
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	// The env transform maps ACROFLOW_BACKEND_BASE_URL to backend.base.url;
	// pick it up explicitly since the struct key is base_url.
	if v := k.String("backend.base.url"); v != "" {
		cfg.Backend.BaseURL = v
	}

	return &cfg, nil
}
