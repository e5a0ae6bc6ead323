package circuitbreaker

import "sync"

// Registry holds one breaker per backend name so that every caller routing
// to the same backend shares failure state.
type Registry struct {
	mu       sync.RWMutex
	breakers map[string]*Breaker

	// onStateChange, when set, is invoked with the breaker name after every
	// transition of any breaker created by this registry.
	onStateChange func(name string, from, to State)
}

// NewRegistry creates an empty registry. onStateChange may be nil; it is
// chained after each breaker's own Config.OnStateChange callback.
func NewRegistry(onStateChange func(name string, from, to State)) *Registry {
	return &Registry{
		breakers:      make(map[string]*Breaker),
		onStateChange: onStateChange,
	}
}

// GetOrCreate returns the breaker registered under name, creating it with
// config on first use. The config of an existing breaker is left untouched.
func (r *Registry) GetOrCreate(name string, config Config) *Breaker {
	r.mu.RLock()
	b, ok := r.breakers[name]
	r.mu.RUnlock()
	if ok {
		return b
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	// A concurrent caller may have won the race.
	if b, ok := r.breakers[name]; ok {
		return b
	}

	userHook := config.OnStateChange
	config.OnStateChange = func(from, to State) {
		if userHook != nil {
			userHook(from, to)
		}
		if r.onStateChange != nil {
			r.onStateChange(name, from, to)
		}
	}

	b = New(config)
	r.breakers[name] = b
	return b
}

// Get returns the breaker registered under name, if any.
func (r *Registry) Get(name string) (*Breaker, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.breakers[name]
	return b, ok
}

// AllStats snapshots every registered breaker keyed by name.
func (r *Registry) AllStats() map[string]Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := make(map[string]Stats, len(r.breakers))
	for name, b := range r.breakers {
		stats[name] = b.GetStats()
	}
	return stats
}

// ResetAll forces every registered breaker back to closed.
func (r *Registry) ResetAll() {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, b := range r.breakers {
		b.Reset()
	}
}
