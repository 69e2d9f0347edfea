package suite

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"
)

// ErrNotRegistered is returned by Registry for unknown paths.
var ErrNotRegistered = errors.New("no test file registered")

// Loader evaluates the top-level code of a test file against a session.
// Implementations must not cache evaluation results between calls.
type Loader interface {
	Load(ctx context.Context, path string, s *Session) error
}

// LoaderFunc adapts a function to the Loader interface.
type LoaderFunc func(ctx context.Context, path string, s *Session) error

func (f LoaderFunc) Load(ctx context.Context, path string, s *Session) error {
	return f(ctx, path, s)
}

// Registry is a Loader backed by Go functions keyed by file path.
type Registry struct {
	mu    sync.RWMutex
	files map[string]func(s *Session)
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{files: make(map[string]func(s *Session))}
}

// Register associates fn with path. A later registration replaces an earlier one.
func (r *Registry) Register(path string, fn func(s *Session)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.files[filepath.Clean(path)] = fn
}

// Paths returns the registered paths in no particular order.
func (r *Registry) Paths() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	paths := make([]string, 0, len(r.files))
	for p := range r.files {
		paths = append(paths, p)
	}
	return paths
}

func (r *Registry) Load(_ context.Context, path string, s *Session) error {
	r.mu.RLock()
	fn, ok := r.files[filepath.Clean(path)]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotRegistered, path)
	}
	fn(s)
	return nil
}

type runOptions struct {
	defaultTimeout time.Duration
	observer       Observer
}

// RunOption configures RunFile.
type RunOption func(*runOptions)

// WithDefaultTimeout sets the timeout of cases declared without one.
func WithDefaultTimeout(d time.Duration) RunOption {
	return func(o *runOptions) {
		o.defaultTimeout = d
	}
}

// WithObserver registers a per-case observer.
func WithObserver(obs Observer) RunOption {
	return func(o *runOptions) {
		o.observer = obs
	}
}

// RunFile loads path into a fresh session and runs its root suite. Panics
// raised while loading are not recovered.
func RunFile(ctx context.Context, loader Loader, path string, opts ...RunOption) (*ResultTree, error) {
	o := &runOptions{defaultTimeout: DefaultTimeout}
	for _, opt := range opts {
		opt(o)
	}

	session := NewSession(o.defaultTimeout)
	if err := loader.Load(ctx, path, session); err != nil {
		return nil, err
	}

	return session.Root().RunWith(ctx, nil, o.observer), nil
}
