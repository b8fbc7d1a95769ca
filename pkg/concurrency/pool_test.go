package concurrency

import (
	"sync"
	"sync/atomic"
	"testing"

	"options_ledger/pkg/logging"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkerPool_RunsAllTasks(t *testing.T) {
	pool := NewWorkerPool(PoolConfig{Name: "test", MaxWorkers: 4, MaxCapacity: 64}, logging.NewNop())

	var counter int64
	for i := 0; i < 50; i++ {
		require.NoError(t, pool.Submit(func() { atomic.AddInt64(&counter, 1) }))
	}
	pool.Stop()

	assert.Equal(t, int64(50), atomic.LoadInt64(&counter))
	assert.Equal(t, uint64(50), pool.Stats().SuccessfulTasks)
}

func TestWorkerPool_NonBlockingReportsFull(t *testing.T) {
	pool := NewWorkerPool(PoolConfig{Name: "tiny", MaxWorkers: 1, MaxCapacity: 1, NonBlocking: true}, logging.NewNop())

	release := make(chan struct{})
	started := make(chan struct{})
	require.NoError(t, pool.Submit(func() {
		close(started)
		<-release
	}))
	<-started

	var full bool
	for i := 0; i < 10 && !full; i++ {
		if err := pool.Submit(func() {}); err != nil {
			assert.ErrorIs(t, err, ErrPoolFull)
			full = true
		}
	}
	assert.True(t, full, "expected the queue to fill up")

	close(release)
	pool.Stop()
}

func TestWorkerPool_RecoversPanics(t *testing.T) {
	pool := NewWorkerPool(PoolConfig{Name: "panicky", MaxWorkers: 2, MaxCapacity: 8}, logging.NewNop())

	var wg sync.WaitGroup
	wg.Add(1)
	require.NoError(t, pool.Submit(func() { panic("boom") }))
	require.NoError(t, pool.Submit(func() { wg.Done() }))
	wg.Wait()
	pool.Stop()

	assert.Equal(t, uint64(1), pool.Stats().FailedTasks)
}

func TestWorkerPool_SubmitAfterStop(t *testing.T) {
	pool := NewWorkerPool(PoolConfig{Name: "stopped"}, logging.NewNop())
	pool.Stop()
	assert.Error(t, pool.Submit(func() {}))
}
