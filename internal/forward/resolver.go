package forward

import (
	"strings"
	"sync"

	libatm "github.com/nabbar/golib/atomic"
)

// Resolver is the process-wide DNS-override table (C4). It performs no
// network lookups; it is strictly a lower-cased string remap applied before
// dialing a backend.
//
// The mutex here guards only the wholesale swap performed by Init, since
// the underlying map is itself a lock-free concurrent map.
type Resolver struct {
	mu    sync.RWMutex
	table libatm.MapTyped[string, string]
}

func NewResolver() *Resolver {
	return &Resolver{table: libatm.NewMapTyped[string, string]()}
}

// Init atomically replaces the override table.
func (r *Resolver) Init(overrides map[string]string) {
	next := libatm.NewMapTyped[string, string]()
	for k, v := range overrides {
		next.Store(strings.ToLower(k), v)
	}

	r.mu.Lock()
	r.table = next
	r.mu.Unlock()
}

// Resolve looks up the lower-cased host and returns the override, or the
// input unchanged when no override is registered.
func (r *Resolver) Resolve(host string) string {
	r.mu.RLock()
	table := r.table
	r.mu.RUnlock()

	if v, ok := table.Load(strings.ToLower(host)); ok {
		return v
	}
	return host
}
