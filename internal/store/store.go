// Package store persists analysis results by analysis ID. Writes are
// first-write-wins: analysis IDs are derived from the request, so a second
// write for the same ID carries the same result.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/fractal-lba/fairmind/internal/api"
)

// ErrNotFound is returned by Get when no live result exists.
var ErrNotFound = errors.New("store: result not found")

// Store persists analysis results.
type Store interface {
	// Get retrieves a stored result by analysis ID.
	Get(ctx context.Context, id string) (*api.BiasAnalysisResult, error)

	// Put stores a result with TTL. First write wins.
	Put(ctx context.Context, result *api.BiasAnalysisResult, ttl time.Duration) error

	// Close releases resources
	Close() error
}

// MemoryStore is an in-memory store with optional file snapshot
type MemoryStore struct {
	mu       sync.RWMutex
	entries  map[string]*entry
	snapshot string
}

type entry struct {
	Result    *api.BiasAnalysisResult `json:"result"`
	ExpiresAt time.Time               `json:"expires_at"`
}

// NewMemoryStore creates an in-memory store. A non-empty snapshotPath is
// loaded on start and rewritten on Close.
func NewMemoryStore(snapshotPath string) (*MemoryStore, error) {
	ms := &MemoryStore{
		entries:  make(map[string]*entry),
		snapshot: snapshotPath,
	}
	if snapshotPath != "" {
		if err := ms.loadSnapshot(); err != nil {
			return nil, err
		}
	}
	return ms, nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*api.BiasAnalysisResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.entries[id]
	if !ok || time.Now().After(e.ExpiresAt) {
		return nil, ErrNotFound
	}
	return e.Result, nil
}

func (m *MemoryStore) Put(ctx context.Context, result *api.BiasAnalysisResult, ttl time.Duration) error {
	if result == nil || result.AnalysisID == "" {
		return fmt.Errorf("store: result without analysis id")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if e, exists := m.entries[result.AnalysisID]; exists && time.Now().Before(e.ExpiresAt) {
		return nil
	}
	m.entries[result.AnalysisID] = &entry{Result: result, ExpiresAt: time.Now().Add(ttl)}
	return nil
}

// Len returns the number of live entries.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	now := time.Now()
	n := 0
	for _, e := range m.entries {
		if now.Before(e.ExpiresAt) {
			n++
		}
	}
	return n
}

func (m *MemoryStore) Close() error {
	if m.snapshot != "" {
		return m.saveSnapshot()
	}
	return nil
}

func (m *MemoryStore) loadSnapshot() error {
	data, err := os.ReadFile(m.snapshot)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	var snapshot map[string]*entry
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// Only load non-expired entries
	now := time.Now()
	for k, v := range snapshot {
		if now.Before(v.ExpiresAt) {
			m.entries[k] = v
		}
	}
	return nil
}

func (m *MemoryStore) saveSnapshot() error {
	m.mu.RLock()
	now := time.Now()
	toSave := make(map[string]*entry)
	for k, v := range m.entries {
		if now.Before(v.ExpiresAt) {
			toSave[k] = v
		}
	}
	m.mu.RUnlock()

	data, err := json.Marshal(toSave)
	if err != nil {
		return err
	}
	return os.WriteFile(m.snapshot, data, 0600)
}

// Open selects a backend by name: memory, redis or postgres.
func Open(ctx context.Context, backend, dsn string) (Store, error) {
	switch backend {
	case "", "memory":
		return NewMemoryStore(dsn)
	case "redis":
		return NewRedisStore(ctx, dsn)
	case "postgres":
		return NewPostgresStore(ctx, dsn)
	default:
		return nil, fmt.Errorf("unknown store backend %q", backend)
	}
}
