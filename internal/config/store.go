// Package config implements the string-keyed configuration store
// (SPEC_FULL.md §4.12, unchanged from spec.md §4.12): a map of opaque
// values with an observer interface, plus backends that publish into it.
// Grounded on original_source/src/config.cpp's ValueHolder (a named,
// observable value) but without its GetValue-on-observer branch, which
// inverts the "notify only if an observer was supplied" test — observers
// here are tracked by Attach and notified from SetValue, never from Get.
package config

import "sync"

// Observer is called with a key's new value every time SetValue replaces
// it, including when the new value is equal to the old one (spec.md
// §4.12 boundary behaviour: consumers rely on being notified to
// invalidate caches, not on a value diff).
type Observer func(value any)

type observerEntry struct {
	fn Observer
}

// Store is the config value map shared by every backend and consumer in
// the process. The zero value is not usable; construct with New.
type Store struct {
	mu        sync.RWMutex
	values    map[string]any
	observers map[string][]*observerEntry
	schemas   map[string]*keySchema
}

// New constructs an empty Store.
func New() *Store {
	return &Store{
		values:    make(map[string]any),
		observers: make(map[string][]*observerEntry),
		schemas:   make(map[string]*keySchema),
	}
}

// Get returns key's current value, if any has ever been set.
func (s *Store) Get(key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	return v, ok
}

// Attach registers obs for key and returns key's current value (if any)
// along with an unregister function. obs fires on every subsequent
// SetValue(key, ...), starting from the next one — Attach itself does
// not invoke obs.
func (s *Store) Attach(key string, obs Observer) (current any, ok bool, unregister func()) {
	entry := &observerEntry{fn: obs}

	s.mu.Lock()
	s.observers[key] = append(s.observers[key], entry)
	current, ok = s.values[key]
	s.mu.Unlock()

	unregister = func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		list := s.observers[key]
		for i, e := range list {
			if e == entry {
				s.observers[key] = append(list[:i:i], list[i+1:]...)
				return
			}
		}
	}
	return current, ok, unregister
}

// SetValue stores value under key, validates it against any schema
// registered for key (RegisterSchema), and — if valid — notifies every
// attached observer with value, unconditionally. Observers are invoked
// synchronously on the caller's goroutine, after the lock is released,
// so a slow observer stalls only this call, not concurrent Gets.
func (s *Store) SetValue(key string, value any) error {
	if err := s.validate(key, value); err != nil {
		return err
	}

	s.mu.Lock()
	s.values[key] = value
	obs := append([]*observerEntry(nil), s.observers[key]...)
	s.mu.Unlock()

	for _, e := range obs {
		e.fn(value)
	}
	return nil
}
