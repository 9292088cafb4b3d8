package idempotency

import (
	"context"
	"sync"
	"time"
)

type memEntry struct {
	requestHash string
	record      *Record
	reservedAt  time.Time
}

// Memory is the in-process idempotency store for mock mode and tests.
type Memory struct {
	mu      sync.Mutex
	entries map[string]*memEntry
	now     func() time.Time
}

var _ Store = (*Memory)(nil)

// NewMemory builds an empty memory store.
func NewMemory() *Memory {
	return &Memory{entries: map[string]*memEntry{}, now: time.Now}
}

func memKey(tenantID, key string) string { return tenantID + ":" + key }

// Begin reserves a key or classifies the collision.
func (m *Memory) Begin(_ context.Context, tenantID, key, requestHash string) (BeginResult, *Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := memKey(tenantID, key)
	e, ok := m.entries[k]
	if ok && e.record != nil && m.now().Sub(e.record.StoredAt) >= TTL {
		delete(m.entries, k)
		ok = false
	}
	if !ok {
		m.entries[k] = &memEntry{requestHash: requestHash, reservedAt: m.now()}
		return Proceed, nil, nil
	}
	if e.requestHash != requestHash {
		return Mismatch, nil, nil
	}
	if e.record == nil {
		return InFlight, nil, nil
	}
	return Replay, e.record, nil
}

// Complete stores the final response under a reserved key.
func (m *Memory) Complete(_ context.Context, tenantID, key string, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := memKey(tenantID, key)
	e, ok := m.entries[k]
	if !ok {
		e = &memEntry{requestHash: rec.RequestHash}
		m.entries[k] = e
	}
	if rec.StoredAt.IsZero() {
		rec.StoredAt = m.now()
	}
	e.record = &rec
	return nil
}

// Abort releases a reserved key so the caller can retry.
func (m *Memory) Abort(_ context.Context, tenantID, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := memKey(tenantID, key)
	if e, ok := m.entries[k]; ok && e.record == nil {
		delete(m.entries, k)
	}
	return nil
}
