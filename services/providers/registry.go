package providers

import (
	"errors"
	"fmt"
	"sync"

	"github.com/studyloop/ai-orchestrator/models"
	"github.com/studyloop/ai-orchestrator/services"
)

var (
	// ErrProviderNotFound is returned when a provider is not registered.
	ErrProviderNotFound = errors.New("provider not found")

	// ErrProviderAlreadyRegistered is returned on duplicate registration.
	ErrProviderAlreadyRegistered = errors.New("provider already registered")
)

// Constructor builds a provider instance from configuration. Constructors are
// registered once at process start; the registry owns the instances it builds.
type Constructor func(cfg ProviderConfig) (Provider, error)

// Registry owns provider instances and the ordered fallback chain per service
// type. It is constructed explicitly and passed by reference; there is no
// process-global registry.
type Registry struct {
	mu           sync.RWMutex
	constructors map[string]Constructor
	providers    map[string]Provider
	chains       map[models.ServiceType][]string
}

// NewRegistry creates an empty provider registry.
func NewRegistry() *Registry {
	return &Registry{
		constructors: make(map[string]Constructor),
		providers:    make(map[string]Provider),
		chains:       make(map[models.ServiceType][]string),
	}
}

// RegisterConstructor registers a provider type by identifier.
func (r *Registry) RegisterConstructor(name string, build Constructor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.constructors[name] = build
}

// Construct builds and registers a provider instance from a registered
// constructor.
func (r *Registry) Construct(name string, cfg ProviderConfig) (Provider, error) {
	r.mu.RLock()
	build, ok := r.constructors[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: no constructor for %q", ErrProviderNotFound, name)
	}

	provider, err := build(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to build provider %s: %w", name, err)
	}
	if err := r.Register(provider); err != nil {
		return nil, err
	}
	return provider, nil
}

// Register adds a provider instance to the registry.
func (r *Registry) Register(provider Provider) error {
	if provider == nil {
		return errors.New("provider cannot be nil")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	name := provider.Name()
	if name == "" {
		return errors.New("provider name cannot be empty")
	}
	if _, exists := r.providers[name]; exists {
		return fmt.Errorf("%w: %s", ErrProviderAlreadyRegistered, name)
	}

	r.providers[name] = provider
	return nil
}

// Get retrieves a provider by name.
func (r *Registry) Get(name string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	provider, exists := r.providers[name]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrProviderNotFound, name)
	}
	return provider, nil
}

// SetChain configures the ordered fallback chain for a service type. Every
// name must refer to a registered provider.
func (r *Registry) SetChain(service models.ServiceType, names []string) error {
	if len(names) == 0 {
		return services.NewConfigurationError(
			fmt.Sprintf("empty provider chain for service %q", service), nil)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, name := range names {
		if _, exists := r.providers[name]; !exists {
			return services.NewConfigurationError(
				fmt.Sprintf("provider %q in chain for service %q is not registered", name, service),
				ErrProviderNotFound)
		}
	}

	chain := make([]string, len(names))
	copy(chain, names)
	r.chains[service] = chain
	return nil
}

// Resolve returns the fallback chain for a service type, primary first. A
// service with no configured chain is a configuration error, never a
// per-request retryable condition.
func (r *Registry) Resolve(service models.ServiceType) ([]Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names, exists := r.chains[service]
	if !exists {
		return nil, services.NewConfigurationError(
			fmt.Sprintf("no provider chain configured for service %q", service), nil)
	}

	chain := make([]Provider, 0, len(names))
	for _, name := range names {
		provider, ok := r.providers[name]
		if !ok {
			return nil, services.NewConfigurationError(
				fmt.Sprintf("provider %q in chain for service %q is not registered", name, service),
				ErrProviderNotFound)
		}
		chain = append(chain, provider)
	}
	return chain, nil
}

// Providers returns the names of all registered providers.
func (r *Registry) Providers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	return names
}

// Services returns the service types with a configured chain.
func (r *Registry) Services() []models.ServiceType {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]models.ServiceType, 0, len(r.chains))
	for s := range r.chains {
		out = append(out, s)
	}
	return out
}
