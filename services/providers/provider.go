package providers

import (
	"context"
	"fmt"
	"sync"
)

// Provider defines the interface that all lyrics sources implement.
type Provider interface {
	// Name returns the source identifier used in the sources query
	// parameter (e.g. "apple", "musixmatch", "spotify").
	Name() string

	// Fetch resolves lyrics for the queried song. A nil-data Outcome
	// with StatusNotFound means the source has no match; errors are
	// reserved for transport and auth failures.
	Fetch(ctx context.Context, query Query, opts Options) (*Outcome, error)
}

// DefaultSources is the resolution order when the request does not
// name its own. "musixmatch-word" is the word-synced-only variant of
// the musixmatch source.
var DefaultSources = []string{"apple", "lyricsplus", "musixmatch-word", "musixmatch", "spotify"}

// Registry holds all registered providers
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

// NewRegistry returns an empty registry, independent of the global one.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider)}
}

var (
	globalRegistry *Registry
	registryOnce   sync.Once
)

// GetRegistry returns the global provider registry
func GetRegistry() *Registry {
	registryOnce.Do(func() {
		globalRegistry = &Registry{
			providers: make(map[string]Provider),
		}
	})
	return globalRegistry
}

// Register adds a provider to the registry
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.Name()] = p
}

// Get retrieves a provider by name
func (r *Registry) Get(name string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("provider not found: %s", name)
	}
	return p, nil
}

// List returns all registered provider names
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	return names
}

// Has checks if a provider is registered
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.providers[name]
	return ok
}

// Register is a convenience function to register a provider in the global registry
func Register(p Provider) {
	GetRegistry().Register(p)
}

// Get is a convenience function to get a provider from the global registry
func Get(name string) (Provider, error) {
	return GetRegistry().Get(name)
}

// List is a convenience function to list all providers in the global registry
func List() []string {
	return GetRegistry().List()
}

// Has is a convenience function to check if a provider exists in the global registry
func Has(name string) bool {
	return GetRegistry().Has(name)
}
