package tasks

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPoolRunsTasks(t *testing.T) {
	pool := NewPool(2)
	var wg sync.WaitGroup
	var ran int32

	for i := 0; i < 5; i++ {
		wg.Add(1)
		pool.Enqueue("kid", "res", func(ctx context.Context) {
			defer wg.Done()
			atomic.AddInt32(&ran, 1)
		})
	}
	wg.Wait()
	require.EqualValues(t, 5, ran)
}

func TestPoolBoundsConcurrency(t *testing.T) {
	pool := NewPool(1)
	var wg sync.WaitGroup
	var inFlight int32
	var maxInFlight int32

	for i := 0; i < 4; i++ {
		wg.Add(1)
		pool.Enqueue("kid", "res", func(ctx context.Context) {
			defer wg.Done()
			cur := atomic.AddInt32(&inFlight, 1)
			if cur > atomic.LoadInt32(&maxInFlight) {
				atomic.StoreInt32(&maxInFlight, cur)
			}
			time.Sleep(10 * time.Millisecond)
			atomic.AddInt32(&inFlight, -1)
		})
	}
	wg.Wait()
	require.EqualValues(t, 1, maxInFlight)
}

func TestPoolRecoversPanics(t *testing.T) {
	pool := NewPool(1)
	var wg sync.WaitGroup
	wg.Add(1)
	pool.Enqueue("kid", "res", func(ctx context.Context) {
		defer wg.Done()
		panic("boom")
	})
	wg.Wait()

	// pool must still accept work after a panicking task.
	var wg2 sync.WaitGroup
	wg2.Add(1)
	ok := false
	pool.Enqueue("kid", "res2", func(ctx context.Context) {
		defer wg2.Done()
		ok = true
	})
	wg2.Wait()
	require.True(t, ok)
}
