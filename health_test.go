package aidirector

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func newTestTracker(now *time.Time) *HealthTracker {
	h := NewHealthTracker()
	h.now = func() time.Time { return *now }
	return h
}

func TestHealthState_String(t *testing.T) {
	assert.Equal(t, "healthy", HealthHealthy.String())
	assert.Equal(t, "unhealthy", HealthUnhealthy.String())
	assert.Equal(t, "half-open", HealthHalfOpen.String())
	assert.Equal(t, "unknown", HealthState(99).String())
}

func TestCircuitBreaker_OpensAfterFailures(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	h := newTestTracker(&now)

	assert.Equal(t, HealthHealthy, h.GetHealth("groq"))
	h.RecordFailure("groq")
	h.RecordFailure("groq")
	assert.Equal(t, HealthHealthy, h.GetHealth("groq"))
	h.RecordFailure("groq")
	assert.Equal(t, HealthUnhealthy, h.GetHealth("groq"))
	assert.Equal(t, HealthHealthy, h.GetHealth("gemini"))
}

func TestCircuitBreaker_FailuresOutsideWindowExpire(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	h := newTestTracker(&now)

	h.RecordFailure("groq")
	h.RecordFailure("groq")
	now = now.Add(6 * time.Minute)
	h.RecordFailure("groq")
	assert.Equal(t, HealthHealthy, h.GetHealth("groq"))
}

func TestCircuitBreaker_HalfOpenRecovery(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	h := newTestTracker(&now)

	for i := 0; i < 3; i++ {
		h.RecordFailure("groq")
	}
	now = now.Add(31 * time.Second)
	assert.Equal(t, HealthHalfOpen, h.GetHealth("groq"))

	h.RecordSuccess("groq")
	assert.Equal(t, HealthHealthy, h.GetHealth("groq"))
}

func TestCircuitBreaker_HalfOpenProbeFailureReopens(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	h := newTestTracker(&now)

	for i := 0; i < 3; i++ {
		h.RecordFailure("groq")
	}
	now = now.Add(31 * time.Second)
	assert.Equal(t, HealthHalfOpen, h.GetHealth("groq"))

	h.RecordFailure("groq")
	assert.Equal(t, HealthUnhealthy, h.GetHealth("groq"))
}
