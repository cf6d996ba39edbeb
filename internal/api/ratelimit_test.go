package api

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestInstitutionLimiter(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l := NewInstitutionLimiter(1, 2)

	assert.True(t, l.Allow("inst-1", now))
	assert.True(t, l.Allow("inst-1", now))
	assert.False(t, l.Allow("inst-1", now), "burst exhausted")
	assert.True(t, l.Allow("inst-2", now), "separate bucket per institution")

	assert.True(t, l.Allow("inst-1", now.Add(time.Second)), "refilled after one second")
	assert.Equal(t, 1, l.RetryAfter())
}

func TestInstitutionLimiter_Disabled(t *testing.T) {
	l := NewInstitutionLimiter(0, 5)
	assert.Nil(t, l)

	for i := 0; i < 100; i++ {
		assert.True(t, l.Allow("inst-1", time.Now()))
	}
	assert.Zero(t, l.RetryAfter())
}

func TestInstitutionLimiter_DefaultBurst(t *testing.T) {
	now := time.Now()
	l := NewInstitutionLimiter(0.5, 0)

	assert.True(t, l.Allow("inst-1", now))
	assert.False(t, l.Allow("inst-1", now))
	assert.Equal(t, 2, l.RetryAfter())
}

func TestInstitutionLimiter_EvictsIdleEntries(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l := NewInstitutionLimiter(100, 100)

	l.Allow("idle", start)
	later := start.Add(time.Hour)
	for i := 0; i < 512; i++ {
		l.Allow("busy", later)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	assert.NotContains(t, l.byKey, "idle")
	assert.Contains(t, l.byKey, "busy")
}
