package tenant

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManager_Register(t *testing.T) {
	m := NewManager()
	assert.ErrorIs(t, m.Register(&Tenant{}), ErrInvalidTenantID)
	assert.ErrorIs(t, m.Register(nil), ErrInvalidTenantID)

	require.NoError(t, m.Register(&Tenant{ID: "acme", Active: true}))
	got, err := m.Get("acme")
	require.NoError(t, err)
	assert.Equal(t, "acme", got.ID)

	_, err = m.Get("nope")
	assert.ErrorIs(t, err, ErrTenantNotFound)
}

func TestManager_Inactive(t *testing.T) {
	m := NewManager()
	require.NoError(t, m.Register(&Tenant{ID: "acme"}))
	_, err := m.Get("acme")
	assert.ErrorIs(t, err, ErrTenantInactive)
	assert.ErrorIs(t, m.Allow("acme"), ErrTenantInactive)
}

func TestManager_RateLimit(t *testing.T) {
	m := NewManager()
	require.NoError(t, m.Register(&Tenant{ID: "acme", Active: true, TokenRate: 0.001, BurstRate: 2}))

	assert.NoError(t, m.Allow("acme"))
	assert.NoError(t, m.Allow("acme"))
	assert.ErrorIs(t, m.Allow("acme"), ErrQuotaExceeded)
	assert.ErrorIs(t, m.Allow("other"), ErrTenantNotFound)
}

func TestManager_DailyQuota(t *testing.T) {
	m := NewManager()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }
	require.NoError(t, m.Register(&Tenant{ID: "acme", Active: true, DailyQuota: 2}))

	require.NoError(t, m.Allow("acme"))
	require.NoError(t, m.Allow("acme"))
	assert.True(t, errors.Is(m.Allow("acme"), ErrQuotaExceeded))
	used, err := m.Usage("acme")
	require.NoError(t, err)
	assert.Equal(t, int64(2), used)

	now = now.Add(25 * time.Hour)
	assert.NoError(t, m.Allow("acme"))
	used, _ = m.Usage("acme")
	assert.Equal(t, int64(1), used)
}

func TestManager_Update(t *testing.T) {
	m := NewManager()
	require.NoError(t, m.Register(&Tenant{ID: "acme", Active: true, TokenRate: 0.001, BurstRate: 1}))
	require.NoError(t, m.Allow("acme"))
	require.ErrorIs(t, m.Allow("acme"), ErrQuotaExceeded)

	require.NoError(t, m.Update("acme", func(t *Tenant) { t.TokenRate = 0 }))
	assert.NoError(t, m.Allow("acme"))
	assert.ErrorIs(t, m.Update("nope", func(*Tenant) {}), ErrTenantNotFound)

	m.Remove("acme")
	assert.Equal(t, 0, m.Len())
}

func TestTenant_CheckSize(t *testing.T) {
	tn := &Tenant{ID: "acme", MaxSamples: 10}
	assert.NoError(t, tn.CheckSize(10))
	assert.Error(t, tn.CheckSize(11))
	assert.NoError(t, (&Tenant{ID: "x"}).CheckSize(1_000_000))
}

func TestManager_LoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tenants.json")
	require.NoError(t, os.WriteFile(path, []byte(`[
		{"id": "acme", "active": true, "token_rate": 5, "burst_rate": 10, "max_samples": 1000},
		{"id": "globex", "active": false}
	]`), 0o600))

	m := NewManager()
	require.NoError(t, m.LoadFile(path))
	assert.Equal(t, 2, m.Len())
	acme, err := m.Get("acme")
	require.NoError(t, err)
	assert.Equal(t, 1000, acme.MaxSamples)

	assert.Error(t, m.LoadFile(filepath.Join(t.TempDir(), "missing.json")))
}
