package worker

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sort"
	"strings"
	"sync"
)

// Loader fetches and runs the extension code found at location. The api is
// ready for use before the code starts; the code may call api.Register
// during Load or at any point afterwards.
type Loader interface {
	Load(ctx context.Context, location string, api *API) error
}

// EntryPoint is the top level of an in-process extension.
type EntryPoint func(ctx context.Context, api *API) error

// StaticLoader resolves locations against a fixed table of entry points.
type StaticLoader struct {
	mu      sync.RWMutex
	entries map[string]EntryPoint
}

// NewStaticLoader creates a loader from location → entry point pairs.
func NewStaticLoader(entries map[string]EntryPoint) *StaticLoader {
	l := &StaticLoader{entries: make(map[string]EntryPoint, len(entries))}
	for loc, ep := range entries {
		l.entries[loc] = ep
	}
	return l
}

// Add makes ep loadable under location. Existing locations are not replaced.
func (l *StaticLoader) Add(location string, ep EntryPoint) error {
	if location == "" || ep == nil {
		return fmt.Errorf("worker:loader - invalid entry for location %q", location)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.entries[location]; ok {
		return fmt.Errorf("worker:loader - location %s already has an entry point", location)
	}
	l.entries[location] = ep
	return nil
}

// Locations returns the loadable locations, sorted.
func (l *StaticLoader) Locations() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]string, 0, len(l.entries))
	for loc := range l.entries {
		out = append(out, loc)
	}
	sort.Strings(out)
	return out
}

// Load runs the entry point for location. A panicking entry point counts as
// a load failure; the stack stays in the worker log.
func (l *StaticLoader) Load(ctx context.Context, location string, api *API) (err error) {
	l.mu.RLock()
	ep, ok := l.entries[location]
	l.mu.RUnlock()
	if !ok {
		return fmt.Errorf("worker:loader - no extension code at %s", location)
	}

	defer func() {
		if r := recover(); r != nil {
			slog.Error(fmt.Sprintf("worker:loader - extension at %s panicked: %v\n%s", location, r, debug.Stack()))
			err = fmt.Errorf("worker:loader - extension at %s panicked: %v", location, r)
		}
	}()
	return ep(ctx, api)
}

// RouteLoader hands each location to the loader registered for its longest
// matching prefix. Locations no prefix matches go to the fallback.
type RouteLoader struct {
	mu       sync.RWMutex
	routes   map[string]Loader
	fallback Loader
}

// NewRouteLoader creates a router; fallback may be nil.
func NewRouteLoader(fallback Loader) *RouteLoader {
	return &RouteLoader{routes: make(map[string]Loader), fallback: fallback}
}

// Handle routes locations starting with prefix to loader.
func (l *RouteLoader) Handle(prefix string, loader Loader) *RouteLoader {
	l.mu.Lock()
	l.routes[prefix] = loader
	l.mu.Unlock()
	return l
}

func (l *RouteLoader) Load(ctx context.Context, location string, api *API) error {
	l.mu.RLock()
	var match Loader
	best := -1
	for prefix, loader := range l.routes {
		if strings.HasPrefix(location, prefix) && len(prefix) > best {
			match, best = loader, len(prefix)
		}
	}
	if match == nil {
		match = l.fallback
	}
	l.mu.RUnlock()

	if match == nil {
		return fmt.Errorf("worker:loader - no loader for %s", location)
	}
	return match.Load(ctx, location, api)
}
