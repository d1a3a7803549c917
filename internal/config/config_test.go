package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Addr != ":8080" {
		t.Fatalf("addr: %q", cfg.Server.Addr)
	}
	if cfg.Server.MaxBodyBytes != 20<<20 {
		t.Fatalf("max body: %d", cfg.Server.MaxBodyBytes)
	}
	if cfg.Server.RequestTimeout != 300*time.Second || cfg.Server.PingInterval != time.Second {
		t.Fatalf("timeouts: %v %v", cfg.Server.RequestTimeout, cfg.Server.PingInterval)
	}
	if len(cfg.Server.CORSOrigins) != 1 || cfg.Server.CORSOrigins[0] != "*" {
		t.Fatalf("cors: %v", cfg.Server.CORSOrigins)
	}
	if cfg.Log.Level != "info" || cfg.Log.Format != "text" {
		t.Fatalf("log: %#v", cfg.Log)
	}
	if cfg.Models.Path != "models.yaml" || !cfg.Models.Watch {
		t.Fatalf("models: %#v", cfg.Models)
	}
	if cfg.Debug.Events {
		t.Fatal("debug events should default off")
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
server:
  addr: ":9090"
  ping_interval: 250ms
log:
  level: debug
  format: json
models:
  path: /etc/bridge/models.yaml
  watch: false
upstream:
  base_url: https://api.openai.example/v1
  api_key: sk-test
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Addr != ":9090" || cfg.Server.PingInterval != 250*time.Millisecond {
		t.Fatalf("server: %#v", cfg.Server)
	}
	if cfg.Server.MaxBodyBytes != 20<<20 {
		t.Fatalf("unset keys should keep defaults: %d", cfg.Server.MaxBodyBytes)
	}
	if cfg.Log.Level != "debug" || cfg.Log.Format != "json" {
		t.Fatalf("log: %#v", cfg.Log)
	}
	if cfg.Models.Path != "/etc/bridge/models.yaml" || cfg.Models.Watch {
		t.Fatalf("models: %#v", cfg.Models)
	}
	if cfg.Upstream.BaseURL != "https://api.openai.example/v1" || cfg.Upstream.APIKey != "sk-test" {
		t.Fatalf("upstream: %#v", cfg.Upstream)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("missing file should error")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("BRIDGE_SERVER__ADDR", ":7070")
	t.Setenv("BRIDGE_LOG__FORMAT", "json")
	t.Setenv("BRIDGE_SERVER__CORS_ORIGINS", "https://a.example,https://b.example")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Addr != ":7070" {
		t.Fatalf("addr: %q", cfg.Server.Addr)
	}
	if cfg.Log.Format != "json" {
		t.Fatalf("format: %q", cfg.Log.Format)
	}
	if len(cfg.Server.CORSOrigins) != 2 || cfg.Server.CORSOrigins[1] != "https://b.example" {
		t.Fatalf("cors: %v", cfg.Server.CORSOrigins)
	}
}

func TestShortVars(t *testing.T) {
	t.Setenv("BRIDGE_SERVER__ADDR", ":7070")
	t.Setenv("LISTEN_PORT", "9999")
	t.Setenv("UPSTREAM_BASE_URL", "https://api.x.example")
	t.Setenv("UPSTREAM_API_KEY", "sk-short")
	t.Setenv("LOG_LEVEL", "DEBUG")
	t.Setenv("MODELS_FILE", "routes.yaml")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Addr != ":9999" {
		t.Fatalf("LISTEN_PORT should win over the prefixed variable: %q", cfg.Server.Addr)
	}
	if cfg.Upstream.BaseURL != "https://api.x.example" || cfg.Upstream.APIKey != "sk-short" {
		t.Fatalf("upstream: %#v", cfg.Upstream)
	}
	if cfg.Log.Level != "debug" {
		t.Fatalf("level should lowercase: %q", cfg.Log.Level)
	}
	if cfg.Models.Path != "routes.yaml" {
		t.Fatalf("models path: %q", cfg.Models.Path)
	}
}

func TestLoadValidation(t *testing.T) {
	cases := []struct {
		name  string
		key   string
		value string
	}{
		{"bad level", "LOG_LEVEL", "loud"},
		{"bad addr", "BRIDGE_SERVER__ADDR", "not a listen address"},
		{"bad upstream url", "UPSTREAM_BASE_URL", "://nope"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv(tc.key, tc.value)
			_, err := Load("")
			if err == nil || !strings.Contains(err.Error(), "validate config") {
				t.Fatalf("want validation error, got %v", err)
			}
		})
	}
}

func TestSlogLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"info":    slog.LevelInfo,
		"WARN":    slog.LevelWarn,
		"minimal": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
	}
	for name, want := range cases {
		if got := (Log{Level: name}).SlogLevel(); got != want {
			t.Fatalf("%q: %v", name, got)
		}
	}
}
