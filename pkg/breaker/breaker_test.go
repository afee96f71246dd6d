package breaker

import (
	stderrors "errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hydroworks/aquapilot/errors"
)

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	b := New(Config{Name: "pump-1", ConsecutiveFailures: 3, Cooldown: time.Minute}, nil)
	boom := stderrors.New("connection refused")

	for i := 0; i < 3; i++ {
		err := b.Do(func() error { return boom })
		require.ErrorIs(t, err, boom)
	}
	assert.Equal(t, "open", b.State())

	// Calls now fail fast without invoking fn.
	called := false
	err := b.Do(func() error {
		called = true
		return nil
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrCircuitOpen)
	assert.False(t, called)
}

func TestBreakerStaysClosedOnSuccess(t *testing.T) {
	b := New(DefaultConfig("valve-2"), nil)
	for i := 0; i < 10; i++ {
		require.NoError(t, b.Do(func() error { return nil }))
	}
	assert.Equal(t, "closed", b.State())
}

func TestBreakerSuccessResetsFailureRun(t *testing.T) {
	b := New(Config{Name: "sensor-3", ConsecutiveFailures: 3, Cooldown: time.Minute}, nil)
	boom := stderrors.New("timeout")

	_ = b.Do(func() error { return boom })
	_ = b.Do(func() error { return boom })
	require.NoError(t, b.Do(func() error { return nil }))
	_ = b.Do(func() error { return boom })
	_ = b.Do(func() error { return boom })

	assert.Equal(t, "closed", b.State())
}

func TestBreakerTrialCallAfterCooldown(t *testing.T) {
	b := New(Config{Name: "pump-4", ConsecutiveFailures: 2, Cooldown: 20 * time.Millisecond}, nil)
	boom := stderrors.New("refused")

	_ = b.Do(func() error { return boom })
	_ = b.Do(func() error { return boom })
	require.Equal(t, "open", b.State())

	time.Sleep(30 * time.Millisecond)

	// Trial call succeeds and closes the breaker again.
	require.NoError(t, b.Do(func() error { return nil }))
	assert.Equal(t, "closed", b.State())
}
