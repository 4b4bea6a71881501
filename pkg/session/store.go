package session

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const DefaultTTL = 12 * time.Hour

var ErrNotFound = errors.New("session not found")

// Store holds dashboard states keyed by session id.
type Store interface {
	Get(ctx context.Context, id string) (*State, error)
	// Update applies fn to the state for id (a fresh one if absent) and saves the result
	// atomically. fn errors abort the update.
	Update(ctx context.Context, id string, fn func(*State) error) (*State, error)
	Delete(ctx context.Context, id string) error
	Close() error
}

type memoryEntry struct {
	state    *State
	lastSeen time.Time
}

// MemoryStore is a process-local Store. Entries idle for longer than ttl are evicted.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*memoryEntry
	ttl     time.Duration
	now     func() time.Time
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryStore{
		entries: map[string]*memoryEntry{},
		ttl:     ttl,
		now:     time.Now,
	}
}

func (m *MemoryStore) Get(_ context.Context, id string) (*State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.lookup(id)
	if !ok {
		return nil, errors.Wrapf(ErrNotFound, "%q", id)
	}
	e.lastSeen = m.now()
	return e.state.Clone(), nil
}

func (m *MemoryStore) Update(_ context.Context, id string, fn func(*State) error) (*State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var st *State
	if e, ok := m.lookup(id); ok {
		st = e.state.Clone()
	} else {
		st = New(id)
	}
	if err := fn(st); err != nil {
		return nil, err
	}
	m.entries[id] = &memoryEntry{state: st, lastSeen: m.now()}
	return st.Clone(), nil
}

func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, id)
	return nil
}

func (m *MemoryStore) Close() error { return nil }

// lookup must be called with mu held.
func (m *MemoryStore) lookup(id string) (*memoryEntry, bool) {
	e, ok := m.entries[id]
	if !ok {
		return nil, false
	}
	if m.now().Sub(e.lastSeen) > m.ttl {
		delete(m.entries, id)
		return nil, false
	}
	return e, true
}

// EvictExpired drops idle entries and returns how many were removed.
func (m *MemoryStore) EvictExpired() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	now := m.now()
	for id, e := range m.entries {
		if now.Sub(e.lastSeen) > m.ttl {
			delete(m.entries, id)
			n++
		}
	}
	return n
}

// StartEvictionLoop runs EvictExpired every interval until ctx is done.
func (m *MemoryStore) StartEvictionLoop(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				if n := m.EvictExpired(); n > 0 {
					log.Debug().Int("evicted", n).Msg("evicted idle dashboard sessions")
				}
			}
		}
	}()
}
