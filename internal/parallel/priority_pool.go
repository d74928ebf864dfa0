package parallel

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Priority orders tasks submitted to a PriorityPool. A worker always
// drains High before it looks at Low, so a steady stream of High
// submissions can starve Low indefinitely — that's the point: Low is
// for work that must never compete with interactive latency for a
// worker slot.
type Priority int

const (
	// PriorityBackgroundCompile is strictly below interactive-evaluation
	// priority: background tier-promotion compiles run here so they
	// never delay a caller waiting on Eval.
	PriorityBackgroundCompile Priority = iota
	// PriorityInteractive is reserved for latency-sensitive work
	// submitted on behalf of an in-flight evaluation.
	PriorityInteractive
)

// PriorityPool is a small fixed-size worker pool with two priority
// lanes. Unlike WorkerPool it does not scale dynamically — it exists
// specifically for tiered.go's "concurrent mode" compile scheduling,
// where the goal is strictly bounding compile tasks below interactive
// work rather than maximizing compile throughput.
type PriorityPool struct {
	high chan func()
	low  chan func()

	shutdownChan chan struct{}
	wg           sync.WaitGroup
	once         sync.Once

	stats            *ExecutionStats
	deadlockDetector *DeadlockDetector
}

// NewPriorityPool starts a pool of workers goroutines, each preferring
// High-priority tasks over Low whenever both are ready.
func NewPriorityPool(workers int) *PriorityPool {
	if workers <= 0 {
		workers = 1
	}
	pp := &PriorityPool{
		high:             make(chan func(), workers*4),
		low:              make(chan func(), workers*4),
		shutdownChan:     make(chan struct{}),
		stats:            NewExecutionStats(),
		deadlockDetector: NewDeadlockDetector(30*time.Second, 5*time.Second),
	}
	for i := 0; i < workers; i++ {
		pp.wg.Add(1)
		go pp.worker()
	}
	return pp
}

func (pp *PriorityPool) worker() {
	defer pp.wg.Done()
	for {
		// Non-blocking check for High first, so a backlog of Low work
		// never delays a High task that's already queued.
		select {
		case task := <-pp.high:
			pp.run(task)
			continue
		default:
		}
		select {
		case task := <-pp.high:
			pp.run(task)
		case task := <-pp.low:
			pp.run(task)
		case <-pp.shutdownChan:
			return
		}
	}
}

func (pp *PriorityPool) run(task func()) {
	if task == nil {
		return
	}
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			pp.stats.RecordTaskFailed(fmt.Errorf("task panicked: %v", r))
		}
	}()
	task()
	pp.stats.RecordTaskCompleted(time.Since(start))
}

// Submit enqueues task at priority, blocking until it fits in that
// lane's buffer, ctx is cancelled, or the pool is shut down.
func (pp *PriorityPool) Submit(ctx context.Context, priority Priority, task func()) error {
	pp.stats.RecordTaskSubmitted()
	lane := pp.low
	if priority == PriorityInteractive {
		lane = pp.high
	}
	select {
	case lane <- task:
		return nil
	case <-ctx.Done():
		pp.stats.RecordTaskCancelled()
		return ctx.Err()
	case <-pp.shutdownChan:
		pp.stats.RecordTaskCancelled()
		return ErrPoolShutdown
	}
}

// Shutdown stops accepting work and waits for in-flight tasks to drain.
func (pp *PriorityPool) Shutdown() {
	pp.once.Do(func() {
		close(pp.shutdownChan)
		pp.wg.Wait()
		pp.stats.Finalize()
		pp.deadlockDetector.Shutdown()
	})
}

// GetStats returns the pool's execution statistics collector.
func (pp *PriorityPool) GetStats() *ExecutionStats { return pp.stats }
