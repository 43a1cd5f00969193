package utils

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestWorkerPool_RunsAllTasks(t *testing.T) {
	pool := NewWorkerPool(3)

	var count int32
	for i := 0; i < 20; i++ {
		assert.True(t, pool.Submit(context.Background(), func() { atomic.AddInt32(&count, 1) }))
	}
	pool.Shutdown()

	assert.Equal(t, int32(20), atomic.LoadInt32(&count))
}

func TestWorkerPool_BoundsConcurrency(t *testing.T) {
	pool := NewWorkerPool(2)

	var running, peak int32
	for i := 0; i < 10; i++ {
		pool.Submit(context.Background(), func() {
			n := atomic.AddInt32(&running, 1)
			for {
				p := atomic.LoadInt32(&peak)
				if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			atomic.AddInt32(&running, -1)
		})
	}
	pool.Shutdown()

	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(2))
}

func TestWorkerPool_SubmitAfterCancel(t *testing.T) {
	pool := NewWorkerPool(1)
	block := make(chan struct{})
	pool.Submit(context.Background(), func() { <-block })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ran := false
	assert.False(t, pool.Submit(ctx, func() { ran = true }))

	close(block)
	pool.Shutdown()
	assert.False(t, ran)
}
