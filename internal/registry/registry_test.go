package registry

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"claude-bridge/internal/apierr"
)

const routesYAML = `
default: claude-sonnet-4-5
models:
  - id: claude-sonnet-4-5
    base_url: https://api.openai.example
    api_key: sk-exact
    upstream_model: gpt-4o
  - id: claude-haiku*
    provider: openai
    base_url: https://fast.example
    api_key: sk-haiku
    capabilities:
      tools: false
      streaming: true
      images: false
  - id: grok*
    base_url: https://api.x.example
    api_key: sk-grok
    tool_style: xml
`

func loadTest(t *testing.T, yaml string) *Registry {
	t.Helper()
	r := New()
	if err := r.LoadBytes([]byte(yaml)); err != nil {
		t.Fatalf("load: %v", err)
	}
	return r
}

func TestResolveExactMatchRenamesModel(t *testing.T) {
	r := loadTest(t, routesYAML)

	tgt, err := r.Resolve("claude-sonnet-4-5")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if tgt.Model != "gpt-4o" {
		t.Fatalf("upstream model: %q", tgt.Model)
	}
	if tgt.BaseURL != "https://api.openai.example" || tgt.APIKey != "sk-exact" {
		t.Fatalf("target: %#v", tgt)
	}
	if !tgt.Caps.Tools || !tgt.Caps.Streaming || !tgt.Caps.Images {
		t.Fatalf("default capabilities should be all true: %#v", tgt.Caps)
	}
}

func TestResolveWildcardKeepsRequestedModel(t *testing.T) {
	r := loadTest(t, routesYAML)

	tgt, err := r.Resolve("claude-haiku-3-5")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if tgt.Model != "claude-haiku-3-5" {
		t.Fatalf("wildcard without upstream_model should pass the id through: %q", tgt.Model)
	}
	if tgt.Caps.Tools || tgt.Caps.Images {
		t.Fatalf("entry capabilities should override the default: %#v", tgt.Caps)
	}
	if !tgt.Caps.Streaming {
		t.Fatal("streaming capability lost")
	}

	if tgt, _ := r.Resolve("grok-4"); tgt.ToolStyle != "xml" {
		t.Fatalf("tool_style: %q", tgt.ToolStyle)
	}
}

func TestResolveFallsBackToDefault(t *testing.T) {
	r := loadTest(t, routesYAML)

	tgt, err := r.Resolve("some-unknown-model")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if tgt.Model != "gpt-4o" {
		t.Fatalf("default entry should serve unknown ids: %q", tgt.Model)
	}
}

func TestResolveUnknownModelWithoutDefault(t *testing.T) {
	r := loadTest(t, `
models:
  - id: claude-sonnet-4-5
    base_url: https://api.openai.example
`)
	_, err := r.Resolve("nope")
	if apierr.As(err).Kind != apierr.KindModelNotFound {
		t.Fatalf("want model_not_found, got %v", err)
	}
}

func TestResolveBeforeLoad(t *testing.T) {
	_, err := New().Resolve("anything")
	if apierr.As(err).Kind != apierr.KindTranslator {
		t.Fatalf("unloaded registry: %v", err)
	}
}

func TestWildcardOrderIsFileOrder(t *testing.T) {
	r := loadTest(t, `
models:
  - id: claude-sonnet*
    base_url: https://first.example
  - id: claude*
    base_url: https://second.example
`)
	tgt, err := r.Resolve("claude-sonnet-4-5")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if tgt.BaseURL != "https://first.example" {
		t.Fatalf("earlier wildcard should win: %q", tgt.BaseURL)
	}
	if tgt, _ := r.Resolve("claude-opus-4-1"); tgt.BaseURL != "https://second.example" {
		t.Fatalf("broader wildcard: %q", tgt.BaseURL)
	}
}

func TestAPIKeyFromEnvironment(t *testing.T) {
	t.Setenv("TEST_UPSTREAM_KEY", "sk-from-env")
	r := loadTest(t, `
models:
  - id: claude-sonnet-4-5
    base_url: https://api.openai.example
    api_key_env: TEST_UPSTREAM_KEY
`)
	tgt, err := r.Resolve("claude-sonnet-4-5")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if tgt.APIKey != "sk-from-env" {
		t.Fatalf("api_key_env should resolve at load time: %q", tgt.APIKey)
	}
}

func TestFailedReloadKeepsPreviousRoutes(t *testing.T) {
	r := loadTest(t, routesYAML)

	if err := r.LoadBytes([]byte(`models: [{id: broken}`)); err == nil {
		t.Fatal("malformed yaml should error")
	}
	if err := r.LoadBytes([]byte("models:\n  - id: no-url\n")); err == nil {
		t.Fatal("missing base_url should error")
	}

	tgt, err := r.Resolve("claude-sonnet-4-5")
	if err != nil || tgt.Model != "gpt-4o" {
		t.Fatalf("previous snapshot should survive failed reloads: %v %#v", err, tgt)
	}
}

func TestLoadRejectsBadEntries(t *testing.T) {
	cases := []struct {
		name string
		yaml string
		want string
	}{
		{"missing id", "models:\n  - base_url: https://x\n", "id is required"},
		{"missing base_url", "models:\n  - id: m\n", "base_url is required"},
		{"unknown provider", "models:\n  - id: m\n    base_url: https://x\n    provider: gemini\n", "unknown provider"},
		{"duplicate id", "models:\n  - id: m\n    base_url: https://x\n  - id: m\n    base_url: https://y\n", "duplicate"},
		{"default names nothing", "default: ghost\nmodels:\n  - id: m\n    base_url: https://x\n", "does not name"},
	}
	for _, tc := range cases {
		err := New().LoadBytes([]byte(tc.yaml))
		if err == nil || !strings.Contains(err.Error(), tc.want) {
			t.Fatalf("%s: got %v, want %q", tc.name, err, tc.want)
		}
	}
}

func TestLoadStatic(t *testing.T) {
	r := New()
	if err := r.LoadStatic("https://api.openai.example", "sk-static"); err != nil {
		t.Fatalf("static: %v", err)
	}
	if !r.Ready() {
		t.Fatal("registry should be ready after LoadStatic")
	}
	tgt, err := r.Resolve("any-model-at-all")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if tgt.BaseURL != "https://api.openai.example" || tgt.APIKey != "sk-static" || tgt.Model != "any-model-at-all" {
		t.Fatalf("target: %#v", tgt)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "models.yaml")
	if err := os.WriteFile(path, []byte(routesYAML), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	r := New()
	if err := r.LoadFile(path); err != nil {
		t.Fatalf("load file: %v", err)
	}
	if got := len(r.Entries()); got != 3 {
		t.Fatalf("entries: %d", got)
	}
	if err := r.LoadFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("missing file should error")
	}
}

func TestEntriesReturnsCopy(t *testing.T) {
	r := loadTest(t, routesYAML)
	entries := r.Entries()
	entries[0].ID = "mutated"
	if r.Entries()[0].ID != "claude-sonnet-4-5" {
		t.Fatal("Entries should not expose the live snapshot")
	}
}
