// Package keyedmutex provides per-key mutual exclusion. Operations on
// different keys never contend; a key's mutex is created on first use.
package keyedmutex

import "sync"

// Map is a set of named mutexes.
type Map struct {
	locks sync.Map // key -> *sync.Mutex
}

// New creates an empty mutex map.
func New() *Map {
	return &Map{}
}

// Lock locks the mutex for key and returns its unlock function.
func (m *Map) Lock(key string) (unlock func()) {
	v, _ := m.locks.LoadOrStore(key, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}
