package session

import (
	"pfctl/internal/events"
)

// registry maps a session id to its single event subscription. It is only
// touched from the manager loop.
type registry struct {
	bindings map[string]*events.Subscription
}

func newRegistry() *registry {
	return &registry{bindings: make(map[string]*events.Subscription)}
}

func (r *registry) has(id string) bool {
	_, ok := r.bindings[id]
	return ok
}

func (r *registry) add(id string, sub *events.Subscription) {
	r.bindings[id] = sub
}

// remove unsubscribes and forgets the binding for id, if any.
func (r *registry) remove(id string) {
	if sub, ok := r.bindings[id]; ok {
		sub.Close()
		delete(r.bindings, id)
	}
}

func (r *registry) closeAll() {
	for id, sub := range r.bindings {
		sub.Close()
		delete(r.bindings, id)
	}
}

func (r *registry) len() int {
	return len(r.bindings)
}
