package scope

import (
	"sync"

	"github.com/hoopadvisors/courtside/internal/reconcile"
	"github.com/hoopadvisors/courtside/internal/store"
	"github.com/hoopadvisors/courtside/internal/telemetry"
)

// Registry maps scope keys to their actors, creating them lazily. One actor
// exists per key for the life of the process; different scopes run fully in
// parallel.
//
// The RWMutex protects the map only. It does NOT protect actor state — each
// actor serializes its own mutations through its inbox.
type Registry struct {
	mu     sync.RWMutex
	actors map[string]*Actor

	store  *store.Store
	engine *reconcile.Engine
}

func NewRegistry(st *store.Store, engine *reconcile.Engine) *Registry {
	return &Registry{
		actors: make(map[string]*Actor),
		store:  st,
		engine: engine,
	}
}

// Get returns the actor owning a scope key, creating and rehydrating it on
// first use.
func (r *Registry) Get(key string) *Actor {
	r.mu.RLock()
	a, ok := r.actors[key]
	r.mu.RUnlock()
	if ok {
		return a
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if a, ok := r.actors[key]; ok {
		return a
	}
	a = NewActor(key, r.store, r.engine)
	r.actors[key] = a
	telemetry.Metrics.ActiveScopes.Set(int64(len(r.actors)))
	return a
}

// Close shuts down every actor, draining their queued operations.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.actors {
		a.Close()
	}
	r.actors = make(map[string]*Actor)
	telemetry.Metrics.ActiveScopes.Set(0)
}
