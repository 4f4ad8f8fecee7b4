package display

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
)

var (
	ErrDriverNotFound      = errors.New("display driver not found")
	ErrDriverAlreadyExists = errors.New("display driver already registered")
)

// Driver is a physical (or simulated) panel. Commit blocks until the panel
// has latched the image; only one commit may be in flight at a time.
type Driver interface {
	Name() string
	Bounds() image.Rectangle
	Commit(ctx context.Context, frame image.Image) error
}

// Registry manages all registered display drivers
type Registry struct {
	mu      sync.RWMutex
	drivers map[string]Driver
}

// NewRegistry creates a new driver registry
func NewRegistry() *Registry {
	return &Registry{
		drivers: make(map[string]Driver),
	}
}

// Register adds a driver to the registry
func (r *Registry) Register(driver Driver) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := driver.Name()
	if _, exists := r.drivers[name]; exists {
		return fmt.Errorf("%w: %s", ErrDriverAlreadyExists, name)
	}

	r.drivers[name] = driver
	return nil
}

// Get retrieves a driver by name
func (r *Registry) Get(name string) (Driver, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	driver, exists := r.drivers[name]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrDriverNotFound, name)
	}

	return driver, nil
}

// List returns all registered driver names
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.drivers))
	for name := range r.drivers {
		names = append(names, name)
	}
	return names
}
