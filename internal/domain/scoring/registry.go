package scoring

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/okian/pulse/internal/config"
)

// Registry is the typed registration table of algorithms, keyed by name.
type Registry struct {
	mu    sync.RWMutex
	algos map[string]Algorithm
}

// NewRegistry registers algos, rejecting duplicate names.
func NewRegistry(algos ...Algorithm) (*Registry, error) {
	r := &Registry{algos: make(map[string]Algorithm, len(algos))}
	for _, a := range algos {
		if err := r.Register(a); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// FromConfig builds MetricAlgorithms from configuration.
func FromConfig(cfgs map[string]config.AlgorithmConfig) (*Registry, error) {
	names := make([]string, 0, len(cfgs))
	for n := range cfgs {
		names = append(names, n)
	}
	sort.Strings(names)

	algos := make([]Algorithm, 0, len(names))
	for i, n := range names {
		c := cfgs[n]
		opts := []Option{
			WithLatencyRange(time.Duration(c.MinLatencyMS)*time.Millisecond, time.Duration(c.MaxLatencyMS)*time.Millisecond),
			WithSeed(defaultRandomSeed + int64(i)),
		}
		if c.Relative {
			opts = append(opts, WithBaseline())
		}
		algos = append(algos, NewMetricAlgorithm(n, c.Metric, c.Scale, c.Weight, c.Fallback, opts...))
	}
	return NewRegistry(algos...)
}

// Register adds an algorithm.
func (r *Registry) Register(a Algorithm) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.algos[a.Name()]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicate, a.Name())
	}
	r.algos[a.Name()] = a
	return nil
}

// Get returns the named algorithm.
func (r *Registry) Get(name string) (Algorithm, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.algos[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknown, name)
	}
	return a, nil
}

// All returns every algorithm sorted by name.
func (r *Registry) All() []Algorithm {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Algorithm, 0, len(r.algos))
	for _, a := range r.algos {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// Names returns registered names sorted.
func (r *Registry) Names() []string {
	all := r.All()
	names := make([]string, len(all))
	for i, a := range all {
		names[i] = a.Name()
	}
	return names
}

// Weights returns name -> weight for algorithms with a positive weight.
func (r *Registry) Weights() map[string]float64 {
	out := map[string]float64{}
	for _, a := range r.All() {
		if a.Weight() > 0 {
			out[a.Name()] = a.Weight()
		}
	}
	return out
}

// Len returns the number of registered algorithms.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.algos)
}
