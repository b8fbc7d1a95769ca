package concurrency

import (
	"sync/atomic"
	"testing"

	"options_ledger/pkg/logging"
)

func BenchmarkWorkerPool_Submit(b *testing.B) {
	pool := NewWorkerPool(PoolConfig{Name: "bench", MaxWorkers: 8, MaxCapacity: 1024}, logging.NewNop())
	defer pool.Stop()

	var counter int64
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = pool.Submit(func() { atomic.AddInt64(&counter, 1) })
	}
}

func BenchmarkWorkerPool_SubmitAndWait(b *testing.B) {
	pool := NewWorkerPool(PoolConfig{Name: "bench-wait", MaxWorkers: 8, MaxCapacity: 1024}, logging.NewNop())
	defer pool.Stop()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		pool.SubmitAndWait(func() {})
	}
}
