// Package parallel runs a batch of independent write closures across a
// bounded worker pool and returns the first error encountered, canceling
// the rest of the batch as soon as one fails. It backs Update's concurrent
// execution of a batch's collapsed key writes, which never need anything
// beyond "run these, tell me if one failed" — there is no result to
// collect per write, and no caller that cares about completion order.
package parallel

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/tailored-agentic-units/storecore/store/observability"
)

// WorkerCap bounds the pool size regardless of CPU count or batch size.
const WorkerCap = 16

// Task is one independent unit of work in a batch.
type Task func(ctx context.Context) error

// Run executes tasks across a worker pool sized to
// min(NumCPU*2, WorkerCap, len(tasks)), stopping the rest of the batch as
// soon as one task fails. If the parent ctx is canceled before every task
// has been dispatched, Run returns ctx's error. observer may be nil to
// disable event emission.
func Run(ctx context.Context, tasks []Task, observer observability.Observer) error {
	if len(tasks) == 0 {
		return nil
	}

	workers := workerCount(len(tasks))
	emit(ctx, observer, observability.EventParallelStart, map[string]any{"taskCount": len(tasks), "workerCount": workers})

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	work := make(chan Task)
	var once sync.Once
	var firstErr error
	skipped := false

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			for task := range work {
				emit(runCtx, observer, observability.EventWorkerStart, map[string]any{"workerId": workerID})
				err := task(runCtx)
				emit(runCtx, observer, observability.EventWorkerComplete, map[string]any{"workerId": workerID, "error": err != nil})
				if err != nil {
					once.Do(func() {
						firstErr = err
						cancel()
					})
				}
			}
		}(i)
	}

feed:
	for _, task := range tasks {
		select {
		case work <- task:
		case <-runCtx.Done():
			skipped = true
			break feed
		}
	}
	close(work)
	wg.Wait()

	if firstErr == nil && skipped {
		firstErr = ctx.Err()
	}

	emit(ctx, observer, observability.EventParallelComplete, map[string]any{"taskCount": len(tasks), "error": firstErr != nil})
	return firstErr
}

func workerCount(taskCount int) int {
	workers := min(min(runtime.NumCPU()*2, WorkerCap), taskCount)
	if workers <= 0 {
		workers = 1
	}
	return workers
}

func emit(ctx context.Context, observer observability.Observer, typ observability.EventType, data map[string]any) {
	if observer == nil {
		return
	}
	observer.OnEvent(ctx, observability.Event{
		Type:      typ,
		Level:     observability.LevelVerbose,
		Timestamp: time.Now(),
		Source:    "store.update.parallel",
		Data:      data,
	})
}
