// Package config loads the engine configuration from a YAML or JSON file
// with optional environment overrides.
package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/motovia/dispatch/core/dispatch"
	"github.com/motovia/dispatch/infra/bus"
)

// RedisConfig selects the shared location store. An empty address keeps the
// in-memory store, which is fine for a single-instance deployment.
type RedisConfig struct {
	Addr     string `json:"addr"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

// Enabled reports whether a Redis store is configured.
func (c RedisConfig) Enabled() bool { return c.Addr != "" }

// ServerConfig holds the HTTP listen address serving the driver websocket
// endpoint and the ops API.
type ServerConfig struct {
	Addr string `json:"addr"`
}

// SetDefaults applies sane defaults.
func (c *ServerConfig) SetDefaults() {
	if c.Addr == "" {
		c.Addr = ":8080"
	}
}

// InfluxConfig configures the optional InfluxDB sink.
type InfluxConfig struct {
	URL    string `json:"url"`
	Token  string `json:"token"`
	Org    string `json:"org"`
	Bucket string `json:"bucket"`
}

// Enabled reports whether the sink is configured.
func (c InfluxConfig) Enabled() bool { return c.URL != "" }

// MetricsConfig configures observability sinks. An empty Prometheus address
// disables the metrics endpoint.
type MetricsConfig struct {
	PrometheusAddr string       `json:"prometheus_addr"`
	Influx         InfluxConfig `json:"influx"`
}

// Config is the root configuration.
type Config struct {
	Bus      bus.Config      `json:"bus"`
	Redis    RedisConfig     `json:"redis"`
	Server   ServerConfig    `json:"server"`
	Dispatch dispatch.Config `json:"dispatch"`
	Metrics  MetricsConfig   `json:"metrics"`
}

// Load reads the config file at path. Environment variables prefixed with
// D_ override file values, with __ as the section separator
// (D_BUS__URL overrides bus.url).
func Load(path string) (*Config, error) {
	k := koanf.New(".")
	ext := strings.ToLower(filepath.Ext(path))
	var parser koanf.Parser
	switch ext {
	case ".yaml", ".yml":
		parser = yaml.Parser()
	case ".json":
		parser = json.Parser()
	default:
		return nil, fmt.Errorf("unsupported config format: %s", ext)
	}
	if err := k.Load(file.Provider(path), parser); err != nil {
		return nil, err
	}
	// Optional environment overrides
	if err := k.Load(env.Provider("D_", "__", func(s string) string {
		s = strings.TrimPrefix(strings.ToLower(s), "d_")
		return strings.ReplaceAll(s, "__", ".")
	}), nil); err != nil {
		return nil, err
	}
	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return nil, err
	}
	cfg.Server.SetDefaults()
	cfg.Dispatch.SetDefaults()
	if err := cfg.Bus.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Dispatch.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
