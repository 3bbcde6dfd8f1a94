// Package backend provides the interchangeable execution backends of the
// simulation engine and the registry that selects between them. Selection is
// explicit and static per run: the registry returns exactly the requested
// backend or an error, never a silent substitute.
package backend

import (
	"errors"
	"fmt"
	"runtime"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/quantforge/tradesim/pkg/types"
)

// Backend names.
const (
	NameReference   = "reference"
	NameAccelerated = "accelerated"
	NameParallel    = "parallel"
)

// ErrBackendUnavailable is returned when a requested backend is not
// registered in this process. It is reported once at selection time, never
// mid-run.
var ErrBackendUnavailable = errors.New("backend unavailable")

// Backend runs one simulation. All backends implement the same contract and
// must produce equivalent results for the same input; they differ only in how
// fast they get there.
type Backend interface {
	Name() string
	Run(in *types.SimulationInput) (*types.SimulationOutput, error)
}

// Registry holds the available backends. It is constructed once at process
// start and passed by reference; there is no package-level registry state.
type Registry struct {
	mu       sync.RWMutex
	logger   *zap.Logger
	backends map[string]Backend
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		logger:   logger,
		backends: make(map[string]Backend),
	}
}

// NewDefaultRegistry registers the reference and accelerated backends, and
// the parallel backend when the host has more than one CPU.
func NewDefaultRegistry(logger *zap.Logger) *Registry {
	r := NewRegistry(logger)
	r.Register(NewReference(logger))
	r.Register(NewAccelerated(logger))
	if runtime.NumCPU() > 1 {
		r.Register(NewParallel(logger, 0))
	}
	return r
}

// Register adds a backend, replacing any previous one of the same name.
func (r *Registry) Register(b Backend) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.backends[b.Name()] = b
	r.logger.Info("registered backend", zap.String("backend", b.Name()))
}

// Get returns the named backend or ErrBackendUnavailable.
func (r *Registry) Get(name string) (Backend, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.backends[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q (available: %v)", ErrBackendUnavailable, name, r.names())
	}
	return b, nil
}

// Run resolves the named backend and executes the input on it.
func (r *Registry) Run(name string, in *types.SimulationInput) (*types.SimulationOutput, error) {
	b, err := r.Get(name)
	if err != nil {
		return nil, err
	}
	return b.Run(in)
}

// Names lists the registered backends in stable order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.names()
}

func (r *Registry) names() []string {
	names := make([]string, 0, len(r.backends))
	for name := range r.backends {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
