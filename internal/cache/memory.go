package cache

import (
	"context"
	"sync"
	"time"
)

type entry struct {
	value     string
	expiresAt time.Time
}

// Memory keeps state in process. It is lost on restart and not shared between replicas.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]entry
	now     func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		entries: make(map[string]entry),
		now:     time.Now,
	}
}

func (m *Memory) SetAwaiting(_ context.Context, key ChatKey, paymentID string, ttl time.Duration) error {
	m.set(key.String(), paymentID, ttl)
	return nil
}

func (m *Memory) TakeAwaiting(_ context.Context, key ChatKey) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := key.String()
	e, ok := m.entries[k]
	if !ok {
		return "", false, nil
	}
	delete(m.entries, k)
	if m.expired(e) {
		return "", false, nil
	}
	return e.value, true, nil
}

func (m *Memory) ClearAwaiting(_ context.Context, key ChatKey) error {
	m.mu.Lock()
	delete(m.entries, key.String())
	m.mu.Unlock()
	return nil
}

func (m *Memory) Claim(_ context.Context, key string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := dedupeKey(key)
	if e, ok := m.entries[k]; ok && !m.expired(e) {
		return false, nil
	}
	m.entries[k] = entry{value: "1", expiresAt: m.deadline(ttl)}
	return true, nil
}

func (m *Memory) Release(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.entries, dedupeKey(key))
	m.mu.Unlock()
	return nil
}

// Sweep drops expired entries.
func (m *Memory) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for k, e := range m.entries {
		if m.expired(e) {
			delete(m.entries, k)
			removed++
		}
	}
	return removed
}

func (m *Memory) Close() error { return nil }

func (m *Memory) set(k, v string, ttl time.Duration) {
	m.mu.Lock()
	m.entries[k] = entry{value: v, expiresAt: m.deadline(ttl)}
	m.mu.Unlock()
}

func (m *Memory) deadline(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return m.now().Add(ttl)
}

func (m *Memory) expired(e entry) bool {
	return !e.expiresAt.IsZero() && !m.now().Before(e.expiresAt)
}
