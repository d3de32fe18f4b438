// Package cache provides the shared key/value backends behind message
// dedup markers, conversation sessions and the channel config cache.
package cache

import (
	"container/list"
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
	element   *list.Element
}

// Memory is a process-local, size-bounded TTL cache. It satisfies
// domain.Cache for single-process deployments and tests; SetNX is atomic
// within the process only.
type Memory struct {
	mu         sync.Mutex
	entries    map[string]*memoryEntry
	order      *list.List // keys, least recently written at front
	maxEntries int
	now        func() time.Time
	done       chan struct{}
	closed     bool
}

// NewMemory creates a cache holding at most maxEntries keys. A background
// goroutine drops expired entries once a minute until Close.
func NewMemory(maxEntries int) *Memory {
	if maxEntries <= 0 {
		maxEntries = 100000
	}
	m := &Memory{
		entries:    make(map[string]*memoryEntry),
		order:      list.New(),
		maxEntries: maxEntries,
		now:        time.Now,
		done:       make(chan struct{}),
	}
	go m.cleanup()
	return m
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok || !m.now().Before(e.expiresAt) {
		return nil, false, nil
	}
	out := make([]byte, len(e.value))
	copy(out, e.value)
	return out, true, nil
}

func (m *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setLocked(key, value, ttl)
	return nil
}

// SetNX checks and writes under one lock, so two callers racing on the same
// key see exactly one success.
func (m *Memory) SetNX(_ context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e, ok := m.entries[key]; ok && m.now().Before(e.expiresAt) {
		return false, nil
	}
	m.setLocked(key, value, ttl)
	return true, nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.entries[key]; ok {
		m.order.Remove(e.element)
		delete(m.entries, key)
	}
	return nil
}

// Len returns the number of stored entries, expired ones included.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Close stops the cleanup goroutine. Safe to call more than once.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		m.closed = true
		close(m.done)
	}
	return nil
}

// setLocked must be called with mu held.
func (m *Memory) setLocked(key string, value []byte, ttl time.Duration) {
	stored := make([]byte, len(value))
	copy(stored, value)
	expiresAt := m.now().Add(ttl)

	if e, ok := m.entries[key]; ok {
		e.value = stored
		e.expiresAt = expiresAt
		m.order.MoveToBack(e.element)
		return
	}

	if len(m.entries) >= m.maxEntries {
		if front := m.order.Front(); front != nil {
			oldest, _ := front.Value.(string)
			m.order.Remove(front)
			delete(m.entries, oldest)
		}
	}

	m.entries[key] = &memoryEntry{
		value:     stored,
		expiresAt: expiresAt,
		element:   m.order.PushBack(key),
	}
}

func (m *Memory) cleanup() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.purgeExpired()
		case <-m.done:
			return
		}
	}
}

func (m *Memory) purgeExpired() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	for key, e := range m.entries {
		if !now.Before(e.expiresAt) {
			m.order.Remove(e.element)
			delete(m.entries, key)
		}
	}
}
