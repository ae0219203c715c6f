package pulse

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSetWakesOneWaiter(t *testing.T) {
	s := New()
	s.Set()

	select {
	case <-s.C():
	case <-time.After(time.Second):
		t.Fatal("expected immediate wakeup")
	}

	select {
	case <-s.C():
		t.Fatal("expected no second pending wakeup")
	default:
	}
}

func TestSetIsIdempotentWhenUnconsumed(t *testing.T) {
	s := New()
	s.Set()
	s.Set()
	s.Set()

	<-s.C()

	select {
	case <-s.C():
		t.Fatal("extra Set calls must not queue extra wakeups")
	default:
	}
}

func TestAllWaiting(t *testing.T) {
	var w WaitingCount
	assert.False(t, w.AllWaiting(2))

	w.Inc()
	assert.False(t, w.AllWaiting(2))

	w.Inc()
	assert.True(t, w.AllWaiting(2))

	w.Dec()
	assert.False(t, w.AllWaiting(2))
}
