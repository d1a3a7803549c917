// Package registry maps client-facing model ids onto upstream targets.
// Routes live in a YAML file and reload atomically, so in-flight
// requests keep the snapshot they resolved against.
package registry

import (
	"fmt"
	"os"
	"strings"
	"sync/atomic"

	"gopkg.in/yaml.v3"

	"claude-bridge/internal/apierr"
	"claude-bridge/internal/normalize"
)

// Entry is one route in the models file. An id ending in '*' matches
// any model with that prefix; a bare "*" matches everything.
type Entry struct {
	ID            string                  `yaml:"id"`
	Provider      string                  `yaml:"provider"`
	BaseURL       string                  `yaml:"base_url"`
	APIPath       string                  `yaml:"api_path"`
	APIKey        string                  `yaml:"api_key"`
	APIKeyEnv     string                  `yaml:"api_key_env"`
	UpstreamModel string                  `yaml:"upstream_model"`
	Capabilities  *normalize.Capabilities `yaml:"capabilities"`
	ToolStyle     string                  `yaml:"tool_style"`
	Headers       map[string]string       `yaml:"headers"`
}

// File is the models file root.
type File struct {
	Default string  `yaml:"default"`
	Models  []Entry `yaml:"models"`
}

// Target is a resolved route for one request. Model is the id sent
// upstream, which differs from the client id when the entry renames it.
type Target struct {
	Provider  string
	Model     string
	BaseURL   string
	APIPath   string
	APIKey    string
	Headers   map[string]string
	Caps      normalize.Capabilities
	ToolStyle string
}

type snapshot struct {
	exact    map[string]*Entry
	wildcard []*Entry
	fallback *Entry
	entries  []Entry
}

// Registry resolves model ids against the current snapshot.
type Registry struct {
	current atomic.Pointer[snapshot]
}

func New() *Registry { return &Registry{} }

// LoadFile parses and swaps in a models file. On error the previous
// snapshot stays active.
func (r *Registry) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read models file: %w", err)
	}
	return r.LoadBytes(data)
}

// LoadBytes parses and swaps in models-file content.
func (r *Registry) LoadBytes(data []byte) error {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("parse models file: %w", err)
	}
	snap, err := build(&f)
	if err != nil {
		return err
	}
	r.current.Store(snap)
	return nil
}

// LoadStatic installs a single catch-all route, for deployments that
// configure one upstream through environment variables alone.
func (r *Registry) LoadStatic(baseURL, apiKey string) error {
	f := &File{Models: []Entry{{ID: "*", BaseURL: baseURL, APIKey: apiKey}}}
	snap, err := build(f)
	if err != nil {
		return err
	}
	r.current.Store(snap)
	return nil
}

// Ready reports whether a snapshot has been loaded.
func (r *Registry) Ready() bool { return r.current.Load() != nil }

// Entries returns a copy of the current routes, for listing endpoints.
func (r *Registry) Entries() []Entry {
	snap := r.current.Load()
	if snap == nil {
		return nil
	}
	out := make([]Entry, len(snap.entries))
	copy(out, snap.entries)
	return out
}

// Resolve finds the target for a client model id: exact match first,
// then prefix wildcards in file order, then the default entry.
func (r *Registry) Resolve(model string) (*Target, error) {
	snap := r.current.Load()
	if snap == nil {
		return nil, apierr.New(apierr.KindTranslator, "model registry not loaded")
	}
	if e, ok := snap.exact[model]; ok {
		return target(e, model), nil
	}
	for _, e := range snap.wildcard {
		prefix := strings.TrimSuffix(e.ID, "*")
		if strings.HasPrefix(model, prefix) {
			return target(e, model), nil
		}
	}
	if snap.fallback != nil {
		return target(snap.fallback, model), nil
	}
	return nil, apierr.New(apierr.KindModelNotFound, "model %q is not configured", model)
}

func target(e *Entry, requested string) *Target {
	model := e.UpstreamModel
	if model == "" {
		model = requested
	}
	caps := normalize.Capabilities{Tools: true, Streaming: true, Images: true}
	if e.Capabilities != nil {
		caps = *e.Capabilities
	}
	return &Target{
		Provider:  e.Provider,
		Model:     model,
		BaseURL:   e.BaseURL,
		APIPath:   e.APIPath,
		APIKey:    e.APIKey,
		Headers:   e.Headers,
		Caps:      caps,
		ToolStyle: e.ToolStyle,
	}
}

func build(f *File) (*snapshot, error) {
	snap := &snapshot{
		exact:   make(map[string]*Entry, len(f.Models)),
		entries: f.Models,
	}
	for i := range f.Models {
		e := &f.Models[i]
		if strings.TrimSpace(e.ID) == "" {
			return nil, fmt.Errorf("models[%d]: id is required", i)
		}
		if e.BaseURL == "" {
			return nil, fmt.Errorf("model %q: base_url is required", e.ID)
		}
		switch e.Provider {
		case "":
			e.Provider = "openai"
		case "openai", "anthropic":
		default:
			return nil, fmt.Errorf("model %q: unknown provider %q", e.ID, e.Provider)
		}
		if e.APIKey == "" && e.APIKeyEnv != "" {
			e.APIKey = os.Getenv(e.APIKeyEnv)
		}
		if strings.HasSuffix(e.ID, "*") {
			snap.wildcard = append(snap.wildcard, e)
			continue
		}
		if _, dup := snap.exact[e.ID]; dup {
			return nil, fmt.Errorf("model %q: duplicate entry", e.ID)
		}
		snap.exact[e.ID] = e
	}
	if f.Default != "" {
		e, ok := snap.exact[f.Default]
		if !ok {
			return nil, fmt.Errorf("default %q does not name a configured model", f.Default)
		}
		snap.fallback = e
	}
	return snap, nil
}
