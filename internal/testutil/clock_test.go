package testutil

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDeterministicClock_StartsAtEpoch(t *testing.T) {
	clock := NewDeterministicClock()
	assert.Equal(t, Epoch, clock.Now())
}

func TestDeterministicClock_AdvanceIsMonotonic(t *testing.T) {
	clock := NewDeterministicClock()

	assert.Equal(t, Epoch.Add(time.Second), clock.Advance(time.Second))
	assert.Equal(t, Epoch.Add(time.Second), clock.Advance(-time.Hour))
	assert.Equal(t, Epoch.Add(time.Second), clock.Now())
}

func TestDeterministicClock_Reset(t *testing.T) {
	clock := NewDeterministicClock()
	clock.Advance(time.Minute)

	clock.Reset()
	assert.Equal(t, Epoch, clock.Now())
}

func TestDeterministicClock_ThreadSafe(t *testing.T) {
	clock := NewDeterministicClock()
	const numGoroutines = 50
	const callsPerGoroutine = 20

	var wg sync.WaitGroup
	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < callsPerGoroutine; j++ {
				clock.Advance(time.Millisecond)
			}
		}()
	}
	wg.Wait()

	want := Epoch.Add(numGoroutines * callsPerGoroutine * time.Millisecond)
	assert.Equal(t, want, clock.Now())
}
