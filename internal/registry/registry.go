// Package registry resolves unified, provider-agnostic model names to the
// provider-native identifier each upstream expects.
package registry

import (
	"sync"

	"github.com/alcray/trainforge-conductor/internal/conductor"
)

// builtin are the default unified-name mappings shipped with the conductor.
// User configuration overlays these; a user entry wins on collision.
var builtin = map[string]map[string]string{
	"llama-70b": {
		"cerebras": "llama3.3-70b",
		"nvidia":   "meta/llama-3.3-70b-instruct",
	},
	"llama-8b": {
		"cerebras": "llama3.1-8b",
		"nvidia":   "meta/llama-3.1-8b-instruct",
	},
	"llama-3.3-70b": {
		"cerebras": "llama3.3-70b",
		"nvidia":   "meta/llama-3.3-70b-instruct",
	},
	"llama-3.1-8b": {
		"cerebras": "llama3.1-8b",
		"nvidia":   "meta/llama-3.1-8b-instruct",
	},
	"llama-3.1-70b": {
		"cerebras": "llama3.1-70b",
		"nvidia":   "meta/llama-3.1-70b-instruct",
	},
}

// Registry holds the merged unified -> provider -> native model map.
// Immutable after New; safe for concurrent reads.
type Registry struct {
	mu       sync.RWMutex
	mappings map[string]map[string]string
}

// New builds a Registry from the built-in defaults overlaid with user
// entries. A user mapping for a unified name replaces the built-in mapping
// for that name entirely (no per-provider merge within one unified name).
func New(userMappings map[string]map[string]string) *Registry {
	merged := make(map[string]map[string]string, len(builtin)+len(userMappings))
	for name, byProvider := range builtin {
		copied := make(map[string]string, len(byProvider))
		for provider, native := range byProvider {
			copied[provider] = native
		}
		merged[name] = copied
	}
	for name, byProvider := range userMappings {
		copied := make(map[string]string, len(byProvider))
		for provider, native := range byProvider {
			copied[provider] = native
		}
		merged[name] = copied
	}
	return &Registry{mappings: merged}
}

// Resolve translates a unified model name to the native identifier a given
// provider expects. If the unified name has no entry at all, it is passed
// through unchanged so clients may send provider-native names directly. If
// the unified name is known but has no mapping for this provider,
// conductor.ErrModelNotSupported is returned so the caller can skip the
// provider rather than dispatch a request it cannot serve.
func (r *Registry) Resolve(unified, providerID string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	byProvider, known := r.mappings[unified]
	if !known {
		return unified, nil
	}
	native, ok := byProvider[providerID]
	if !ok {
		return "", conductor.ErrModelNotSupported
	}
	return native, nil
}

// SupportsProvider reports whether the unified name either has no mapping
// at all (pass-through) or has an explicit mapping for providerID. Used by
// the Selector to filter candidates before reservation is attempted.
func (r *Registry) SupportsProvider(unified, providerID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	byProvider, known := r.mappings[unified]
	if !known {
		return true
	}
	_, ok := byProvider[providerID]
	return ok
}

// UnifiedNames returns every unified model name known to the registry, used
// to populate GET /v1/models. Order is unspecified.
func (r *Registry) UnifiedNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.mappings))
	for name := range r.mappings {
		names = append(names, name)
	}
	return names
}
