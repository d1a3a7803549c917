// Package config loads gateway settings from defaults, an optional
// YAML file, and environment overrides, in that order.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Server   Server   `koanf:"server"`
	Log      Log      `koanf:"log"`
	Models   Models   `koanf:"models"`
	Upstream Upstream `koanf:"upstream"`
	Debug    Debug    `koanf:"debug"`
}

type Server struct {
	Addr            string        `koanf:"addr" validate:"required,hostname_port"`
	MaxBodyBytes    int64         `koanf:"max_body_bytes" validate:"gt=0"`
	RequestTimeout  time.Duration `koanf:"request_timeout" validate:"gt=0"`
	PingInterval    time.Duration `koanf:"ping_interval" validate:"gt=0"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout" validate:"gt=0"`
	CORSOrigins     []string      `koanf:"cors_origins"`
}

type Log struct {
	// Level accepts "minimal" as an alias for warn, for clients that
	// configure the gateway with the CLI vocabulary.
	Level      string `koanf:"level" validate:"oneof=debug info warn error minimal"`
	Format     string `koanf:"format" validate:"oneof=text json"`
	File       string `koanf:"file"`
	MaxSizeMB  int    `koanf:"max_size_mb" validate:"gt=0"`
	MaxBackups int    `koanf:"max_backups" validate:"gte=0"`
	MaxAgeDays int    `koanf:"max_age_days" validate:"gte=0"`
}

type Models struct {
	Path  string `koanf:"path"`
	Watch bool   `koanf:"watch"`
}

// Upstream is the environment-only fallback route, used when no models
// file exists: every model id goes to this one endpoint.
type Upstream struct {
	BaseURL string `koanf:"base_url" validate:"omitempty,url"`
	APIKey  string `koanf:"api_key"`
}

type Debug struct {
	Events bool `koanf:"events"`
}

func defaults() map[string]any {
	return map[string]any{
		"server.addr":             ":8080",
		"server.max_body_bytes":   20 << 20,
		"server.request_timeout":  "300s",
		"server.ping_interval":    "1s",
		"server.shutdown_timeout": "10s",
		"server.cors_origins":     []string{"*"},
		"log.level":               "info",
		"log.format":              "text",
		"log.max_size_mb":         50,
		"log.max_backups":         3,
		"log.max_age_days":        28,
		"models.path":             "models.yaml",
		"models.watch":            true,
		"debug.events":            false,
	}
}

// Load assembles the configuration. path may be empty; BRIDGE_-prefixed
// variables override file values (double underscore nests, e.g.
// BRIDGE_SERVER__ADDR), and a handful of short variables cover the
// zero-file deployment.
func Load(path string) (*Config, error) {
	k := koanf.New(".")
	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}
	opt := env.Opt{
		Prefix: "BRIDGE_",
		TransformFunc: func(key, value string) (string, any) {
			key = strings.TrimPrefix(key, "BRIDGE_")
			key = strings.ReplaceAll(strings.ToLower(key), "__", ".")
			return key, value
		},
	}
	if err := k.Load(env.Provider(".", opt), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}
	applyShortVars(k)

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &cfg, nil
}

// applyShortVars maps the standalone variables onto config keys.
func applyShortVars(k *koanf.Koanf) {
	if v := os.Getenv("UPSTREAM_BASE_URL"); v != "" {
		k.Set("upstream.base_url", v)
	}
	if v := os.Getenv("UPSTREAM_API_KEY"); v != "" {
		k.Set("upstream.api_key", v)
	}
	if v := os.Getenv("LISTEN_PORT"); v != "" {
		k.Set("server.addr", ":"+v)
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		k.Set("log.level", strings.ToLower(v))
	}
	if v := os.Getenv("MODELS_FILE"); v != "" {
		k.Set("models.path", v)
	}
}

// SlogLevel converts the configured level name for slog.
func (l Log) SlogLevel() slog.Level {
	switch strings.ToLower(l.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "minimal":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
