// Package builtin bundles the extensions that ship with the worker. They
// are loadable under builtin://<name>.
package builtin

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/morezero/extension-workers/pkg/dispatcher"
	"github.com/morezero/extension-workers/pkg/extension"
	"github.com/morezero/extension-workers/pkg/worker"
)

const logPrefix = "builtin:builtin"

// LocationPrefix is the scheme of built-in extension locations.
const LocationPrefix = "builtin://"

// Location returns the code location of the named built-in extension.
func Location(name string) string {
	return LocationPrefix + name
}

// Loader returns a loader for every built-in extension. builtin://all
// registers all of them from one load.
func Loader() *worker.StaticLoader {
	all := []struct {
		info    extension.Info
		methods dispatcher.Service
	}{
		{textInfo, textMethods},
		{mathInfo, mathMethods},
	}

	entries := make(map[string]worker.EntryPoint, len(all)+1)
	var eps []worker.EntryPoint
	for _, ext := range all {
		ep := entryPoint(ext.info, ext.methods)
		entries[Location(ext.info.ID)] = ep
		eps = append(eps, ep)
	}
	entries[Location("all")] = func(ctx context.Context, api *worker.API) error {
		for _, ep := range eps {
			if err := ep(ctx, api); err != nil {
				return err
			}
		}
		return nil
	}
	return worker.NewStaticLoader(entries)
}

func entryPoint(info extension.Info, methods dispatcher.Service) worker.EntryPoint {
	return func(_ context.Context, api *worker.API) error {
		svc, err := extension.NewService(info, methods)
		if err != nil {
			return fmt.Errorf("%s - extension %s: %w", logPrefix, info.ID, err)
		}
		reg := api.Register(svc)
		slog.Info(fmt.Sprintf("%s - registered %s as %s", logPrefix, info.ID, reg.ServiceName))
		return nil
	}
}
