package backend

import (
	"fmt"
	"strings"
	"sync"
)

// Registry holds the live set of Backends and hands out the Parser for
// each, keyed by route prefix. It is rebuilt wholesale on every
// lifecycle restart (§4.1) and read concurrently by request handlers, so
// access is guarded by a RWMutex rather than rebuilt in place.
type Registry struct {
	mu       sync.RWMutex
	backends map[string]Backend
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{backends: make(map[string]Backend)}
}

// Load replaces the registry's contents. Lookups keyed by name are
// case-sensitive on the route prefix itself (custom names are validated
// case-insensitively against reserved names at creation time, per §6).
func (r *Registry) Load(backends []Backend) {
	byName := make(map[string]Backend, len(backends))
	for _, b := range backends {
		if !b.Enabled {
			continue
		}
		byName[b.Name] = b
	}

	r.mu.Lock()
	r.backends = byName
	r.mu.Unlock()
}

// Lookup returns the Backend registered under name and its Parser (nil
// for cursor-hooks, which is not a proxied backend).
func (r *Registry) Lookup(name string) (Backend, Parser, bool) {
	r.mu.RLock()
	b, ok := r.backends[name]
	r.mu.RUnlock()
	if !ok {
		return Backend{}, nil, false
	}
	return b, ParserFor(b.Kind), true
}

// Names returns every registered backend name, in no particular order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.backends))
	for name := range r.backends {
		names = append(names, name)
	}
	return names
}

// AddCustomBackend validates and registers a custom OpenAI-compatible
// backend, enforcing the reserved-name and URL-shape invariants.
func (r *Registry) AddCustomBackend(name, baseURL string, settings Settings) error {
	if err := ValidateCustomName(name); err != nil {
		return err
	}
	baseURL = NormalizeBaseURL(baseURL)
	if err := ValidateBaseURL(baseURL); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for existing := range r.backends {
		if strings.EqualFold(existing, name) {
			return fmt.Errorf("backend name %q already registered", name)
		}
	}
	r.backends[name] = Backend{
		Name:     name,
		BaseURL:  baseURL,
		Kind:     KindOpenAICompat,
		Settings: settings,
		Enabled:  true,
	}
	return nil
}

// Builtins returns the two built-in backends (Claude, Codex) with the
// given settings, ready to be fed into Load alongside custom backends.
func Builtins(claudeSettings, codexSettings Settings) []Backend {
	return []Backend{
		{Name: ClaudeName, BaseURL: ClaudeBaseURL, Kind: KindClaudeNative, Settings: claudeSettings, Enabled: true},
		{Name: CodexName, BaseURL: CodexBaseURL, Kind: KindCodexResponses, Settings: codexSettings, Enabled: true},
	}
}
