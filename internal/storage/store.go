// Package storage is the client-side persistent key/value storage shared by
// the session orchestrator and the credential collaborator.
package storage

import (
	"context"
	"sync"
)

// Well-known keys. KeyGuestSession belongs to the orchestrator; KeyToken and
// KeyUser belong to the auth collaborator.
const (
	KeyGuestSession = "guest_session_id"
	KeyToken        = "token"
	KeyUser         = "user"
)

// KV is the minimal contract of a localStorage-like store. Get reports
// ok=false for missing keys rather than an error.
type KV interface {
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, keys ...string) error
}

// Memory is an in-process KV, used by tests and when no database is configured.
type Memory struct {
	mu     sync.RWMutex
	values map[string]string
}

func NewMemory() *Memory {
	return &Memory{values: make(map[string]string)}
}

func (m *Memory) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[key]
	return v, ok, nil
}

func (m *Memory) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	m.values[key] = value
	m.mu.Unlock()
	return nil
}

func (m *Memory) Delete(_ context.Context, keys ...string) error {
	m.mu.Lock()
	for _, k := range keys {
		delete(m.values, k)
	}
	m.mu.Unlock()
	return nil
}
