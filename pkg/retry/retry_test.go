package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	errTransient = errors.New("transient")
	errPermanent = errors.New("permanent")
)

func testConfig() Config {
	return Config{
		Enabled:      true,
		MaxAttempts:  3,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2.0,
	}
}

func TestRetry_SucceedsAfterTransientErrors(t *testing.T) {
	attempts := 0
	err := Retry(context.Background(), testConfig(), func() error {
		attempts++
		if attempts < 3 {
			return errTransient
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRetry_Exhausted(t *testing.T) {
	cfg := testConfig()
	cfg.MaxAttempts = 2

	attempts := 0
	err := Retry(context.Background(), cfg, func() error {
		attempts++
		return errTransient
	})
	assert.ErrorIs(t, err, ErrExhausted)
	assert.ErrorIs(t, err, errTransient)
	assert.Equal(t, 3, attempts)
}

func TestRetry_PermanentErrorStops(t *testing.T) {
	cfg := testConfig()
	cfg.Permanent = []error{errPermanent}

	attempts := 0
	err := Retry(context.Background(), cfg, func() error {
		attempts++
		return errPermanent
	})
	assert.ErrorIs(t, err, errPermanent)
	assert.NotErrorIs(t, err, ErrExhausted)
	assert.Equal(t, 1, attempts)
}

func TestRetry_ShouldRetry(t *testing.T) {
	cfg := testConfig()
	cfg.ShouldRetry = func(err error) bool { return !errors.Is(err, errPermanent) }

	attempts := 0
	err := Retry(context.Background(), cfg, func() error {
		attempts++
		return errPermanent
	})
	assert.ErrorIs(t, err, errPermanent)
	assert.Equal(t, 1, attempts)
}

func TestRetry_Disabled(t *testing.T) {
	cfg := testConfig()
	cfg.Enabled = false

	attempts := 0
	err := Retry(context.Background(), cfg, func() error {
		attempts++
		return errTransient
	})
	assert.Equal(t, errTransient, err)
	assert.Equal(t, 1, attempts)
}

func TestRetry_ContextCancelled(t *testing.T) {
	cfg := testConfig()
	cfg.InitialDelay = time.Second
	cfg.MaxDelay = time.Second

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := Retry(ctx, cfg, func() error { return errTransient })
	assert.ErrorIs(t, err, errTransient)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestDo_ReturnsValue(t *testing.T) {
	attempts := 0
	v, err := Do(context.Background(), testConfig(), func() (int, error) {
		attempts++
		if attempts == 1 {
			return 0, errTransient
		}
		return 7, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 7, v)
}

func TestDelay_Capped(t *testing.T) {
	cfg := Config{InitialDelay: 10 * time.Millisecond, MaxDelay: 50 * time.Millisecond, Multiplier: 2}
	assert.Equal(t, 10*time.Millisecond, cfg.delay(0))
	assert.Equal(t, 40*time.Millisecond, cfg.delay(2))
	assert.Equal(t, 50*time.Millisecond, cfg.delay(5))
}
