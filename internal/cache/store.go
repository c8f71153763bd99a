package cache

import (
	"sync"
	"time"
)

type EventType int

const (
	EventUpdated EventType = iota + 1
	EventInvalidated
	EventRemoved
	EventFailed
)

func (t EventType) String() string {
	switch t {
	case EventUpdated:
		return "updated"
	case EventInvalidated:
		return "invalidated"
	case EventRemoved:
		return "removed"
	case EventFailed:
		return "failed"
	}
	return "unknown"
}

// Event is delivered to every subscriber of a key after a write.
type Event struct {
	Type      EventType
	Key       Key
	Value     interface{}
	UpdatedAt time.Time
	Err       error
}

// Entry is a snapshot of a cached value.
type Entry struct {
	Value     interface{}
	UpdatedAt time.Time
	Stale     bool
}

type entry struct {
	key       Key
	value     interface{}
	has       bool
	updatedAt time.Time
	stale     bool

	// issued is the last fetch sequence handed out, applied the last one
	// written, floor the issued value at the last invalidation. Responses
	// at or below applied or floor are dropped.
	issued  uint64
	applied uint64
	floor   uint64

	subs map[int]func(Event)
}

// Store holds cached query results keyed by Key. It is safe for concurrent
// use; subscriber callbacks are invoked without the lock held.
type Store struct {
	mu      sync.Mutex
	entries map[string]*entry
	nextSub int
	now     func() time.Time
	stats   *Stats
}

func NewStore() *Store {
	return &Store{
		entries: make(map[string]*entry),
		now:     time.Now,
		stats:   &Stats{},
	}
}

func (s *Store) lookup(key Key, create bool) *entry {
	id := key.String()
	e, ok := s.entries[id]
	if !ok && create {
		e = &entry{key: key, subs: make(map[int]func(Event))}
		s.entries[id] = e
	}
	return e
}

// release drops an entry that holds nothing and has no subscribers.
func (s *Store) release(e *entry) {
	if !e.has && len(e.subs) == 0 && e.issued == e.applied {
		delete(s.entries, e.key.String())
	}
}

func (e *entry) listeners() []func(Event) {
	out := make([]func(Event), 0, len(e.subs))
	for _, fn := range e.subs {
		out = append(out, fn)
	}
	return out
}

func emit(fns []func(Event), ev Event) {
	for _, fn := range fns {
		fn(ev)
	}
}

func (s *Store) Get(key Key) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.lookup(key, false)
	if e == nil || !e.has {
		return Entry{}, false
	}
	return Entry{Value: e.value, UpdatedAt: e.updatedAt, Stale: e.stale}, true
}

// Set writes value as fresh data for key.
func (s *Store) Set(key Key, value interface{}) {
	s.mu.Lock()
	e := s.lookup(key, true)
	e.value, e.has, e.stale = value, true, false
	e.updatedAt = s.now()
	ev := Event{Type: EventUpdated, Key: key, Value: value, UpdatedAt: e.updatedAt}
	fns := e.listeners()
	s.mu.Unlock()

	emit(fns, ev)
}

// Update atomically transforms the value under key. fn receives the current
// value (ok=false when nothing is cached) and returns the new value and
// whether to write it.
func (s *Store) Update(key Key, fn func(old interface{}, ok bool) (interface{}, bool)) bool {
	s.mu.Lock()
	e := s.lookup(key, true)
	next, write := fn(e.value, e.has)
	if !write {
		s.release(e)
		s.mu.Unlock()
		return false
	}
	e.value, e.has = next, true
	e.updatedAt = s.now()
	ev := Event{Type: EventUpdated, Key: key, Value: next, UpdatedAt: e.updatedAt}
	fns := e.listeners()
	s.mu.Unlock()

	emit(fns, ev)
	return true
}

// Invalidate marks every entry under prefix stale and returns the affected
// keys. Entries that only have subscribers are included.
func (s *Store) Invalidate(prefix Key) []Key {
	type pending struct {
		fns []func(Event)
		ev  Event
	}

	s.mu.Lock()
	var keys []Key
	var out []pending
	for _, e := range s.entries {
		if !e.key.HasPrefix(prefix) {
			continue
		}
		e.stale = true
		e.floor = e.issued
		keys = append(keys, e.key)
		out = append(out, pending{fns: e.listeners(), ev: Event{Type: EventInvalidated, Key: e.key, Value: e.value, UpdatedAt: e.updatedAt}})
	}
	s.mu.Unlock()

	for _, p := range out {
		emit(p.fns, p.ev)
	}
	return keys
}

// Remove drops the values under prefix. Subscriptions survive.
func (s *Store) Remove(prefix Key) []Key {
	type pending struct {
		fns []func(Event)
		ev  Event
	}

	s.mu.Lock()
	var keys []Key
	var out []pending
	for _, e := range s.entries {
		if !e.key.HasPrefix(prefix) || !e.has {
			continue
		}
		e.value, e.has, e.stale = nil, false, false
		e.floor = e.issued
		keys = append(keys, e.key)
		out = append(out, pending{fns: e.listeners(), ev: Event{Type: EventRemoved, Key: e.key}})
		s.release(e)
	}
	s.mu.Unlock()

	for _, p := range out {
		emit(p.fns, p.ev)
	}
	return keys
}

// Subscribe registers fn for events on key and returns a cancel func.
func (s *Store) Subscribe(key Key, fn func(Event)) func() {
	s.mu.Lock()
	e := s.lookup(key, true)
	id := s.nextSub
	s.nextSub++
	e.subs[id] = fn
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if e, ok := s.entries[key.String()]; ok {
				delete(e.subs, id)
				s.release(e)
			}
		})
	}
}

func (s *Store) Keys() []Key {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]Key, 0, len(s.entries))
	for _, e := range s.entries {
		if e.has {
			keys = append(keys, e.key)
		}
	}
	return keys
}

// Observers returns the number of subscribers of key.
func (s *Store) Observers(key Key) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e := s.lookup(key, false); e != nil {
		return len(e.subs)
	}
	return 0
}

func (s *Store) Stats() StatsSnapshot {
	return s.stats.Snapshot()
}

// beginFetch hands out the next fetch sequence number for key.
func (s *Store) beginFetch(key Key) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.lookup(key, true)
	e.issued++
	return e.issued
}

// commitFetch stores a fetch response unless a newer response was already
// applied or the key was invalidated after the fetch started.
func (s *Store) commitFetch(key Key, seq uint64, value interface{}) bool {
	s.mu.Lock()
	e := s.lookup(key, true)
	if seq <= e.applied || seq <= e.floor {
		s.mu.Unlock()
		s.stats.discarded.Add(1)
		return false
	}
	e.applied = seq
	e.value, e.has, e.stale = value, true, false
	e.updatedAt = s.now()
	ev := Event{Type: EventUpdated, Key: key, Value: value, UpdatedAt: e.updatedAt}
	fns := e.listeners()
	s.mu.Unlock()

	emit(fns, ev)
	return true
}

// failFetch reports a failed fetch to subscribers. The cached value is kept.
func (s *Store) failFetch(key Key, seq uint64, err error) {
	s.mu.Lock()
	e := s.lookup(key, true)
	if seq > e.applied {
		e.applied = seq
	}
	fns := e.listeners()
	s.release(e)
	s.mu.Unlock()

	emit(fns, Event{Type: EventFailed, Key: key, Err: err})
}

// seed writes a value loaded from a shared backend with its original timestamp.
func (s *Store) seed(key Key, value interface{}, updatedAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.lookup(key, true)
	if e.has {
		return
	}
	e.value, e.has, e.updatedAt = value, true, updatedAt
}
