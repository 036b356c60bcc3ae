package worker

import "sync"

type entry struct {
	mu   sync.Mutex
	refs int
}

// KeyedExecutor serializes work per key: at most one function runs for a given
// key at a time, in submission order, while different keys proceed in
// parallel. The chat layer uses it to serialize turns per conversation id,
// since the memory store itself is last-write-wins under concurrent upserts.
type KeyedExecutor struct {
	mu      sync.Mutex
	entries map[string]*entry
}

func NewKeyedExecutor() *KeyedExecutor {
	return &KeyedExecutor{entries: make(map[string]*entry)}
}

// Do runs fn while holding the key's slot, blocking until any prior holder for
// the same key finishes.
func (e *KeyedExecutor) Do(key string, fn func() error) error {
	ent := e.acquire(key)
	ent.mu.Lock()
	defer func() {
		ent.mu.Unlock()
		e.release(key, ent)
	}()
	return fn()
}

func (e *KeyedExecutor) acquire(key string) *entry {
	e.mu.Lock()
	defer e.mu.Unlock()
	ent := e.entries[key]
	if ent == nil {
		ent = &entry{}
		e.entries[key] = ent
	}
	ent.refs++
	return ent
}

func (e *KeyedExecutor) release(key string, ent *entry) {
	e.mu.Lock()
	defer e.mu.Unlock()
	ent.refs--
	if ent.refs == 0 {
		delete(e.entries, key)
	}
}
