// Package dispatch routes decoded messages to receivers registered for an exact
// (service, method) pair.
//
// The registry keeps references to receivers, not ownership of them. Whoever
// registers a receiver must unregister it for every pair before discarding it.
package dispatch

import (
	"sort"
	"sync"

	"github.com/danmuck/someipd/internal/protocol"
)

// Receiver consumes dispatched messages. Receive must not retain msg after it
// returns unless it copies what it needs.
//
// Receivers are tracked by identity, so implementations should be pointer types.
type Receiver interface {
	Receive(msg *protocol.Message)
}

// Key is the exact-match dispatch key.
type Key struct {
	Service protocol.ServiceID
	Method  protocol.MethodID
}

// Entry is one row of a registry snapshot.
type Entry struct {
	Service   protocol.ServiceID `json:"service"`
	Method    protocol.MethodID  `json:"method"`
	Receivers int                `json:"receivers"`
}

// Registry maps (service, method) to a set of receivers.
type Registry struct {
	mu        sync.RWMutex
	receivers map[Key]map[Receiver]struct{}
}

func NewRegistry() *Registry {
	return &Registry{
		receivers: make(map[Key]map[Receiver]struct{}),
	}
}

// Register adds r for the pair. Registering the same receiver twice is a no-op.
func (r *Registry) Register(recv Receiver, service protocol.ServiceID, method protocol.MethodID) {
	if recv == nil {
		return
	}
	key := Key{Service: service, Method: method}
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.receivers[key]
	if !ok {
		set = make(map[Receiver]struct{})
		r.receivers[key] = set
	}
	set[recv] = struct{}{}
}

// Unregister removes r from the pair if present.
func (r *Registry) Unregister(recv Receiver, service protocol.ServiceID, method protocol.MethodID) {
	if recv == nil {
		return
	}
	key := Key{Service: service, Method: method}
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.receivers[key]
	if !ok {
		return
	}
	delete(set, recv)
	if len(set) == 0 {
		delete(r.receivers, key)
	}
}

// Dispatch hands msg to every receiver registered for its exact pair and reports
// how many were invoked. Receivers run outside the registry lock, so they may
// register or unregister while being called.
func (r *Registry) Dispatch(msg *protocol.Message) int {
	if msg == nil {
		return 0
	}
	key := Key{Service: msg.Header.Service, Method: msg.Header.Method}
	r.mu.RLock()
	set := r.receivers[key]
	targets := make([]Receiver, 0, len(set))
	for recv := range set {
		targets = append(targets, recv)
	}
	r.mu.RUnlock()

	for _, recv := range targets {
		recv.Receive(msg)
	}
	return len(targets)
}

// Registered reports whether recv is registered for the pair.
func (r *Registry) Registered(recv Receiver, service protocol.ServiceID, method protocol.MethodID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.receivers[Key{Service: service, Method: method}][recv]
	return ok
}

// Len is the number of pairs with at least one receiver.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.receivers)
}

// Snapshot lists registered pairs ordered by service then method.
func (r *Registry) Snapshot() []Entry {
	r.mu.RLock()
	out := make([]Entry, 0, len(r.receivers))
	for key, set := range r.receivers {
		out = append(out, Entry{Service: key.Service, Method: key.Method, Receivers: len(set)})
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Service != out[j].Service {
			return out[i].Service < out[j].Service
		}
		return out[i].Method < out[j].Method
	})
	return out
}
