package dispatcher

import (
	"fmt"
	"sort"
	"sync"
)

// ServiceRegistry maps service names to services. Entries are never replaced.
type ServiceRegistry struct {
	mu       sync.RWMutex
	services map[string]Service
}

func NewServiceRegistry() *ServiceRegistry {
	return &ServiceRegistry{services: make(map[string]Service)}
}

// Set stores a copy of svc under name. A second Set for the same name fails
// with ErrServiceExists and leaves the first entry in place.
func (r *ServiceRegistry) Set(name string, svc Service) error {
	if name == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidService)
	}
	if svc == nil {
		return fmt.Errorf("%w: %s has no method table", ErrInvalidService, name)
	}
	cp := make(Service, len(svc))
	for method, fn := range svc {
		if fn == nil {
			return fmt.Errorf("%w: %s.%s is nil", ErrInvalidService, name, method)
		}
		cp[method] = fn
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.services[name]; exists {
		return fmt.Errorf("%w: %s", ErrServiceExists, name)
	}
	r.services[name] = cp
	return nil
}

// Get looks up a service by name.
func (r *ServiceRegistry) Get(name string) (Service, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	svc, ok := r.services[name]
	return svc, ok
}

// Names returns the registered service names, sorted.
func (r *ServiceRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.services))
	for name := range r.services {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
