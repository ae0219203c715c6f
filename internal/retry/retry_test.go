package retry

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransientAndIsRetryable(t *testing.T) {
	base := errors.New("connection reset")
	wrapped := Transient(base)

	assert.True(t, IsRetryable(wrapped))
	assert.False(t, IsRetryable(base))
	assert.ErrorIs(t, wrapped, base)
}

func TestIsPanic(t *testing.T) {
	err := PanicError{Value: "boom", StackTrace: "goroutine 1"}
	assert.True(t, IsPanic(err))
	assert.False(t, IsPanic(errors.New("boom")))
}

func TestDecideGivesUpWhenRetryDisabled(t *testing.T) {
	d := Decide(Behavior{Retry: false}, 3)
	assert.True(t, d.GiveUp)
	assert.Equal(t, uint(3), d.Retries)
}

func TestDecideGivesUpAtRetryCount(t *testing.T) {
	b := Behavior{Retry: true, RetryCount: 2, RetryIn: func(uint) float64 { return 1 }}

	first := Decide(b, 0)
	require.False(t, first.GiveUp)
	assert.Equal(t, uint(1), first.Retries)

	second := Decide(b, 1)
	assert.True(t, second.GiveUp)
	assert.Equal(t, uint(2), second.Retries)
}

func TestDefaultBehaviorIsExponentialish(t *testing.T) {
	b := Default()
	require.True(t, b.Retry)
	assert.Equal(t, uint(25), b.RetryCount)

	small := b.RetryIn(1)
	large := b.RetryIn(5)
	assert.Greater(t, large, small)
}

type customTarget struct{}

func (customTarget) RetryBehavior() Behavior {
	return Behavior{Retry: false}
}

func TestBehaviorOfUsesRetryableCapability(t *testing.T) {
	b := BehaviorOf(customTarget{}, Default())
	assert.False(t, b.Retry)

	fallback := BehaviorOf(struct{}{}, Default())
	assert.True(t, fallback.Retry)
}
