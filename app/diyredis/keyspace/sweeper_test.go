package keyspace

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSweepExpiredRemovesOnlyDeadEntries(t *testing.T) {
	clock := &fakeClock{ms: 1000}
	ks := New(clock)
	ks.Set("dead", "v", 1200)
	ks.Set("alive", "v", 0)

	clock.ms = 1300
	removed := ks.SweepExpired()

	assert.Equal(t, 1, removed)
	assert.ElementsMatch(t, []string{"alive"}, ks.KeysMatchingStar())
}

func TestRunActiveExpiryStopsOnSignal(t *testing.T) {
	clock := &fakeClock{ms: 1000}
	ks := New(clock)
	ks.Set("dead", "v", 1050)
	clock.ms = 1100

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		ks.RunActiveExpiry(time.Millisecond, stop)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	close(stop)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("RunActiveExpiry did not stop after signal")
	}
	assert.Equal(t, "none", ks.TypeOf("dead"))
}
