// Package tenant enforces per-tenant admission: request rate, a daily
// analysis quota and a dataset size cap.
package tenant

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

var (
	ErrTenantNotFound  = errors.New("tenant not found")
	ErrTenantInactive  = errors.New("tenant is not active")
	ErrQuotaExceeded   = errors.New("tenant quota exceeded")
	ErrInvalidTenantID = errors.New("invalid tenant ID")
)

// DefaultID is the tenant used when authentication is disabled.
const DefaultID = "default"

// Tenant is one isolated API consumer.
type Tenant struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Active      bool   `json:"active"`

	TokenRate  float64 `json:"token_rate"`  // analyses/second
	BurstRate  int     `json:"burst_rate"`  // burst capacity
	DailyQuota int64   `json:"daily_quota"` // analyses per day, 0 = unlimited
	MaxSamples int     `json:"max_samples"` // largest dataset accepted, 0 = unlimited

	Metadata map[string]string `json:"metadata,omitempty"`
}

// Manager tracks tenants and their usage.
type Manager struct {
	mu       sync.RWMutex
	tenants  map[string]*Tenant
	limiters map[string]*rate.Limiter
	usage    map[string]*usageCounter
	now      func() time.Time
}

type usageCounter struct {
	mu      sync.Mutex
	count   int64
	resetAt time.Time
}

// NewManager creates an empty manager.
func NewManager() *Manager {
	return &Manager{
		tenants:  make(map[string]*Tenant),
		limiters: make(map[string]*rate.Limiter),
		usage:    make(map[string]*usageCounter),
		now:      time.Now,
	}
}

// Register adds or replaces a tenant.
func (m *Manager) Register(t *Tenant) error {
	if t == nil || t.ID == "" {
		return ErrInvalidTenantID
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.tenants[t.ID] = t
	m.limiters[t.ID] = newLimiter(t)
	m.usage[t.ID] = &usageCounter{resetAt: m.now().Add(24 * time.Hour)}
	return nil
}

func newLimiter(t *Tenant) *rate.Limiter {
	if t.TokenRate <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	return rate.NewLimiter(rate.Limit(t.TokenRate), t.BurstRate)
}

// Get returns an active tenant.
func (m *Manager) Get(id string) (*Tenant, error) {
	m.mu.RLock()
	t, ok := m.tenants[id]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrTenantNotFound
	}
	if !t.Active {
		return nil, fmt.Errorf("%w: %s", ErrTenantInactive, id)
	}
	return t, nil
}

// Allow admits one analysis for the tenant under its rate limit and daily
// quota.
func (m *Manager) Allow(id string) error {
	m.mu.RLock()
	t, ok := m.tenants[id]
	limiter := m.limiters[id]
	usage := m.usage[id]
	m.mu.RUnlock()

	if !ok {
		return ErrTenantNotFound
	}
	if !t.Active {
		return fmt.Errorf("%w: %s", ErrTenantInactive, id)
	}
	if !limiter.Allow() {
		return ErrQuotaExceeded
	}
	if t.DailyQuota <= 0 {
		return nil
	}

	usage.mu.Lock()
	defer usage.mu.Unlock()
	usage.resetIfDue(m.now())
	if usage.count >= t.DailyQuota {
		return ErrQuotaExceeded
	}
	usage.count++
	return nil
}

// CheckSize rejects datasets larger than the tenant's cap.
func (t *Tenant) CheckSize(samples int) error {
	if t.MaxSamples > 0 && samples > t.MaxSamples {
		return fmt.Errorf("dataset has %d samples, tenant %s accepts at most %d", samples, t.ID, t.MaxSamples)
	}
	return nil
}

// Usage returns today's admitted analyses for a tenant.
func (m *Manager) Usage(id string) (int64, error) {
	m.mu.RLock()
	usage, ok := m.usage[id]
	m.mu.RUnlock()
	if !ok {
		return 0, ErrTenantNotFound
	}

	usage.mu.Lock()
	defer usage.mu.Unlock()
	usage.resetIfDue(m.now())
	return usage.count, nil
}

func (u *usageCounter) resetIfDue(now time.Time) {
	if now.After(u.resetAt) {
		u.count = 0
		u.resetAt = now.Add(24 * time.Hour)
	}
}

// Update mutates a tenant and refreshes its limiter.
func (m *Manager) Update(id string, update func(*Tenant)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tenants[id]
	if !ok {
		return ErrTenantNotFound
	}
	update(t)
	m.limiters[id] = newLimiter(t)
	return nil
}

// Remove deletes a tenant.
func (m *Manager) Remove(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tenants, id)
	delete(m.limiters, id)
	delete(m.usage, id)
}

// Len returns the number of registered tenants.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.tenants)
}

// LoadFile registers every tenant of a JSON array file.
func (m *Manager) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read tenants: %w", err)
	}
	var tenants []*Tenant
	if err := json.Unmarshal(data, &tenants); err != nil {
		return fmt.Errorf("failed to parse tenants: %w", err)
	}
	for _, t := range tenants {
		if err := m.Register(t); err != nil {
			return err
		}
	}
	return nil
}

// DefaultTenant is the unauthenticated tenant with the given rate.
func DefaultTenant(tokenRate float64, burst int) *Tenant {
	return &Tenant{
		ID:          DefaultID,
		DisplayName: "Default Tenant",
		Active:      true,
		TokenRate:   tokenRate,
		BurstRate:   burst,
		Metadata:    make(map[string]string),
	}
}
