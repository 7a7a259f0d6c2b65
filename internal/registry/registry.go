// Package registry maps device identifiers to the downlink of the session that
// currently owns the device's live connection.
package registry

import (
	"context"
	"sort"
	"sync"
)

// Downlink is the write side of a live device connection.
type Downlink interface {
	Send(ctx context.Context, frame []byte) error
	RemoteAddr() string
}

// Registry is safe for concurrent use. It holds capability references only: a
// Downlink stays valid while its session is active and the session removes it
// on termination.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]Downlink
	onSize  func(int)
}

func New() *Registry {
	return &Registry{entries: make(map[string]Downlink)}
}

// OnSizeChange installs a callback invoked with the entry count after every change.
func (r *Registry) OnSizeChange(fn func(int)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onSize = fn
}

// Register maps id to d, replacing any previous downlink for id.
func (r *Registry) Register(id string, d Downlink) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[id] = d
	r.notify()
}

// Lookup never blocks waiting for a device; ok is false when there is no live connection.
func (r *Registry) Lookup(id string) (Downlink, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.entries[id]
	return d, ok
}

// Remove deletes the entry for id only when it still points at d, so a session
// that was superseded by a reconnect cannot evict its successor.
func (r *Registry) Remove(id string, d Downlink) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.entries[id]
	if !ok || cur != d {
		return false
	}
	delete(r.entries, id)
	r.notify()
	return true
}

// Devices returns the registered ids in sorted order.
func (r *Registry) Devices() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

func (r *Registry) notify() {
	if r.onSize != nil {
		r.onSize(len(r.entries))
	}
}
