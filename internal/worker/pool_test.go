package worker

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPool_BoundsConcurrency(t *testing.T) {
	p := NewPool(2)

	var running, peak atomic.Int32
	for range 10 {
		p.Go(nil, func() {
			n := running.Add(1)
			for {
				old := peak.Load()
				if n <= old || peak.CompareAndSwap(old, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			running.Add(-1)
		})
	}
	p.Wait()

	assert.LessOrEqual(t, peak.Load(), int32(2))
	assert.Equal(t, int32(0), running.Load())
}

func TestPool_AfterOrdersJobs(t *testing.T) {
	p := NewPool(1)

	var mu sync.Mutex
	var order []int

	first := make(chan struct{})
	p.Go(nil, func() {
		defer close(first)
		time.Sleep(10 * time.Millisecond)
		mu.Lock()
		order = append(order, 1)
		mu.Unlock()
	})
	p.Go(first, func() {
		mu.Lock()
		order = append(order, 2)
		mu.Unlock()
	})
	p.Wait()

	assert.Equal(t, []int{1, 2}, order)
}

func TestPool_WaitingJobDoesNotHoldSlot(t *testing.T) {
	p := NewPool(1)

	gate := make(chan struct{})
	done := make(chan struct{})
	p.Go(gate, func() {})
	p.Go(nil, func() { close(done) })

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("blocked job starved the pool")
	}
	close(gate)
	p.Wait()
}

func TestNewPool_DefaultSize(t *testing.T) {
	p := NewPool(0)
	assert.NotNil(t, p.sem)
	assert.True(t, p.sem.TryAcquire(DefaultSize))
	assert.False(t, p.sem.TryAcquire(1))
}
