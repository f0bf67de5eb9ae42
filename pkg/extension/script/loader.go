// Package script loads extensions written in JavaScript. Every load runs in
// its own QuickJS VM. The script sees a capability object named Scratch,
// passed in as a parameter rather than installed as a global, and publishes
// each extension object through Scratch.register.
package script

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/morezero/extension-workers/pkg/worker"
)

const logPrefix = "script:loader"

// FileScheme prefixes local script locations. A location with no scheme is
// also read from disk.
const FileScheme = "file://"

// DefaultMaxSourceBytes caps the size of a fetched script.
const DefaultMaxSourceBytes = 4 << 20

// Loader fetches JavaScript extension code from disk or over HTTP and runs
// it in a fresh VM.
type Loader struct {
	client   *http.Client
	maxBytes int64
}

// Option configures a Loader.
type Option func(*Loader)

// WithHTTPClient sets the client used for http:// and https:// locations.
func WithHTTPClient(c *http.Client) Option {
	return func(l *Loader) { l.client = c }
}

// WithMaxSourceBytes caps the script size.
func WithMaxSourceBytes(n int64) Option {
	return func(l *Loader) { l.maxBytes = n }
}

func NewLoader(opts ...Option) *Loader {
	l := &Loader{
		client:   &http.Client{Timeout: 30 * time.Second},
		maxBytes: DefaultMaxSourceBytes,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load fetches the script at location and runs it. The VM lives until ctx
// ends; extensions the script registered answer calls until then.
func (l *Loader) Load(ctx context.Context, location string, api *worker.API) error {
	src, err := l.fetch(ctx, location)
	if err != nil {
		return err
	}

	vm, err := newExtensionVM(api)
	if err != nil {
		return fmt.Errorf("%s - failed to start VM for %s: %w", logPrefix, location, err)
	}
	if err := vm.run(src); err != nil {
		vm.close()
		return fmt.Errorf("%s - script %s failed: %w", logPrefix, location, err)
	}
	context.AfterFunc(ctx, vm.close)
	return nil
}

func (l *Loader) fetch(ctx context.Context, location string) (string, error) {
	if strings.HasPrefix(location, "http://") || strings.HasPrefix(location, "https://") {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, location, nil)
		if err != nil {
			return "", fmt.Errorf("%s - bad location %s: %w", logPrefix, location, err)
		}
		resp, err := l.client.Do(req)
		if err != nil {
			return "", fmt.Errorf("%s - failed to fetch %s: %w", logPrefix, location, err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return "", fmt.Errorf("%s - failed to fetch %s: %s", logPrefix, location, resp.Status)
		}
		return l.read(location, resp.Body)
	}

	path := strings.TrimPrefix(location, FileScheme)
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("%s - failed to open %s: %w", logPrefix, location, err)
	}
	defer f.Close()
	return l.read(location, f)
}

func (l *Loader) read(location string, r io.Reader) (string, error) {
	data, err := io.ReadAll(io.LimitReader(r, l.maxBytes+1))
	if err != nil {
		return "", fmt.Errorf("%s - failed to read %s: %w", logPrefix, location, err)
	}
	if int64(len(data)) > l.maxBytes {
		return "", fmt.Errorf("%s - script %s exceeds %d bytes", logPrefix, location, l.maxBytes)
	}
	return string(data), nil
}
