package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"

	"github.com/morezero/extension-workers/pkg/extension/builtin"
)

const logPrefix = "catalog:catalog"

// ErrNotFound is returned when no extension or version matches a reference.
var ErrNotFound = errors.New("catalog: no matching extension")

// Entry lists the versions of one extension.
type Entry struct {
	Description string `json:"description,omitempty"`
	// DefaultMajor is used for references without a range; 0 means the
	// highest stable major.
	DefaultMajor int       `json:"defaultMajor,omitempty"`
	Versions     []Version `json:"versions"`
}

// Config is the on-disk catalog format.
type Config struct {
	Name       string            `json:"name"`
	Version    string            `json:"version"`
	Extensions map[string]Entry  `json:"extensions"`
	Aliases    map[string]string `json:"aliases,omitempty"`
}

// Resolution is the outcome of resolving a reference.
type Resolution struct {
	Name     string `json:"name"`
	Version  string `json:"version"`
	Location string `json:"location"`
}

// Catalog resolves extension references.
type Catalog struct {
	name       string
	version    string
	extensions map[string]Entry
	aliases    map[string]string
}

// New builds a Catalog from cfg.
func New(cfg *Config) *Catalog {
	c := &Catalog{
		name:       cfg.Name,
		version:    cfg.Version,
		extensions: make(map[string]Entry, len(cfg.Extensions)),
		aliases:    make(map[string]string, len(cfg.Aliases)),
	}
	for name, e := range cfg.Extensions {
		e.Versions = append([]Version(nil), e.Versions...)
		c.extensions[name] = e
	}
	for alias, target := range cfg.Aliases {
		c.aliases[alias] = target
	}
	return c
}

// LoadCatalog loads the first readable catalog file among paths, then
// config/extensions.json and extensions.json, falling back to the default
// catalog of built-in extensions.
func LoadCatalog(paths ...string) (*Catalog, error) {
	all := make([]string, 0, len(paths)+2)
	for _, p := range paths {
		if p != "" {
			all = append(all, p)
		}
	}
	explicit := len(all)
	all = append(all, "config/extensions.json", "extensions.json")

	for i, p := range all {
		data, err := os.ReadFile(p)
		if err != nil {
			if i < explicit {
				slog.Warn(fmt.Sprintf("%s - Cannot read catalog %s: %v", logPrefix, p, err))
			}
			continue
		}

		var cfg Config
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("%s - failed to parse catalog %s: %w", logPrefix, p, err)
		}
		slog.Info(fmt.Sprintf("%s - Loaded catalog %s from %s", logPrefix, cfg.Name, p))
		return New(&cfg), nil
	}

	slog.Info(fmt.Sprintf("%s - Using default catalog", logPrefix))
	return New(DefaultConfig()), nil
}

// DefaultConfig lists the built-in extensions.
func DefaultConfig() *Config {
	return &Config{
		Name:    "builtin",
		Version: "1.0.0",
		Extensions: map[string]Entry{
			"text": {
				Description: "String blocks",
				Versions:    []Version{{Version: "1.0.0", Location: builtin.Location("text"), Status: StatusActive}},
			},
			"math": {
				Description: "Numeric blocks",
				Versions:    []Version{{Version: "1.0.0", Location: builtin.Location("math"), Status: StatusActive}},
			},
			"all": {
				Description: "Every built-in extension in one worker",
				Versions:    []Version{{Version: "1.0.0", Location: builtin.Location("all"), Status: StatusActive}},
			},
		},
		Aliases: map[string]string{
			"strings": "text",
		},
	}
}

// Name returns the catalog name.
func (c *Catalog) Name() string { return c.name }

// Version returns the catalog version.
func (c *Catalog) Version() string { return c.version }

// Names returns the extension names, sorted.
func (c *Catalog) Names() []string {
	out := make([]string, 0, len(c.extensions))
	for name := range c.extensions {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Resolve parses ref and picks the best matching version.
func (c *Catalog) Resolve(ref string) (*Resolution, error) {
	parsed, err := ParseRef(ref)
	if err != nil {
		return nil, err
	}
	name := parsed.Name
	if target, ok := c.aliases[name]; ok {
		name = target
	}
	entry, ok := c.extensions[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, parsed.Name)
	}

	defaultMajor := -1
	if entry.DefaultMajor > 0 {
		defaultMajor = entry.DefaultMajor
	}
	v := resolveVersion(entry.Versions, parsed.Range, defaultMajor)
	if v == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, parsed)
	}
	return &Resolution{Name: name, Version: v.Version, Location: v.Location}, nil
}
