package provider

import (
	"fmt"
	"sync"
)

// Factory creates a provider from configuration
type Factory func(config map[string]any) (Provider, error)

var (
	factoryMu sync.RWMutex
	factories = make(map[string]Factory)
)

// RegisterFactory registers a provider factory
func RegisterFactory(name string, factory Factory) {
	factoryMu.Lock()
	defer factoryMu.Unlock()
	factories[name] = factory
}

// CreateProvider creates a provider by name using its registered factory
func CreateProvider(name string, config map[string]any) (Provider, error) {
	factoryMu.RLock()
	factory, ok := factories[name]
	factoryMu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("no factory registered for provider '%s'", name)
	}

	return factory(config)
}
