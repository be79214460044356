package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lalo-ai/lalocore/core"
)

func TestCircuitBreakerTripsAfterThreshold(t *testing.T) {
	cb := New("test", Config{Threshold: 2, Timeout: 50 * time.Millisecond, HalfOpenRequests: 1}, nil)
	boom := errors.New("boom")

	require.Error(t, cb.Execute(context.Background(), func() error { return boom }))
	assert.Equal(t, "closed", cb.GetState())

	require.Error(t, cb.Execute(context.Background(), func() error { return boom }))
	assert.Equal(t, "open", cb.GetState())

	err := cb.Execute(context.Background(), func() error { return nil })
	assert.ErrorIs(t, err, core.ErrCircuitBreakerOpen)
}

func TestCircuitBreakerRecoversThroughHalfOpen(t *testing.T) {
	cb := New("test", Config{Threshold: 1, Timeout: 10 * time.Millisecond, HalfOpenRequests: 1}, nil)
	require.Error(t, cb.Execute(context.Background(), func() error { return errors.New("boom") }))
	assert.Equal(t, "open", cb.GetState())

	time.Sleep(15 * time.Millisecond)
	require.NoError(t, cb.Execute(context.Background(), func() error { return nil }))
	assert.Equal(t, "closed", cb.GetState())
}

func TestCircuitBreakerReset(t *testing.T) {
	cb := New("test", Config{Threshold: 1, Timeout: time.Hour, HalfOpenRequests: 1}, nil)
	require.Error(t, cb.Execute(context.Background(), func() error { return errors.New("boom") }))
	assert.Equal(t, "open", cb.GetState())
	cb.Reset()
	assert.Equal(t, "closed", cb.GetState())
}
