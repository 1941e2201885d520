package llm

import (
	"fmt"
	"sort"
	"sync"

	"github.com/Rrens/zyra/internal/domain"
)

// Router manages LLM providers and the mode presets that select them
type Router struct {
	providers       map[string]Provider
	modes           map[domain.Mode]domain.ModePreset
	defaultProvider string
	mu              sync.RWMutex
}

// NewRouter creates a new LLM router
func NewRouter(defaultProvider string) *Router {
	return &Router{
		providers:       make(map[string]Provider),
		modes:           make(map[domain.Mode]domain.ModePreset),
		defaultProvider: defaultProvider,
	}
}

// RegisterProvider registers an LLM provider
func (r *Router) RegisterProvider(provider Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[provider.Name()] = provider
}

// RegisterMode registers the generation preset for a mode
func (r *Router) RegisterMode(mode domain.Mode, preset domain.ModePreset) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.modes[mode] = preset
}

// HasMode reports whether a preset exists for mode
func (r *Router) HasMode(mode domain.Mode) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.modes[mode]
	return ok
}

// Modes returns the registered modes in name order
func (r *Router) Modes() []domain.Mode {
	r.mu.RLock()
	defer r.mu.RUnlock()

	modes := make([]domain.Mode, 0, len(r.modes))
	for m := range r.modes {
		modes = append(modes, m)
	}
	sort.Slice(modes, func(i, j int) bool { return modes[i] < modes[j] })
	return modes
}

// Resolve returns the provider and fully populated preset for a mode
func (r *Router) Resolve(mode domain.Mode) (Provider, domain.ModePreset, error) {
	r.mu.RLock()
	preset, ok := r.modes[mode]
	r.mu.RUnlock()
	if !ok {
		return nil, domain.ModePreset{}, fmt.Errorf("%w: %s", domain.ErrUnknownMode, mode)
	}

	provider, err := r.GetProvider(preset.Provider)
	if err != nil {
		return nil, domain.ModePreset{}, err
	}

	if preset.Provider == "" {
		preset.Provider = provider.Name()
	}
	if preset.Model == "" {
		preset.Model = provider.DefaultModel()
	}

	return provider, preset, nil
}

// GetProvider returns a provider by name
func (r *Router) GetProvider(name string) (Provider, error) {
	if name == "" {
		name = r.defaultProvider
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("provider not found: %s", name)
	}

	if !p.IsConfigured() {
		return nil, fmt.Errorf("provider not configured: %s", name)
	}

	return p, nil
}

// ListProviders returns list of configured provider names
func (r *Router) ListProviders() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var providers []string
	for name, p := range r.providers {
		if p.IsConfigured() {
			providers = append(providers, name)
		}
	}
	sort.Strings(providers)
	return providers
}

// DefaultProvider returns the default provider name
func (r *Router) DefaultProvider() string {
	return r.defaultProvider
}

// ProviderInfo contains information about an LLM provider
type ProviderInfo struct {
	Name       string   `json:"name"`
	Models     []string `json:"models"`
	Default    bool     `json:"default"`
	Configured bool     `json:"configured"`
}

// GetProvidersInfo returns information about all providers
func (r *Router) GetProvidersInfo() []ProviderInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]ProviderInfo, 0, len(r.providers))
	for name, p := range r.providers {
		infos = append(infos, ProviderInfo{
			Name:       name,
			Models:     p.AvailableModels(),
			Default:    name == r.defaultProvider,
			Configured: p.IsConfigured(),
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}
