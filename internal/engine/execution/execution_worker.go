package execution

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/davidroman0O/retrypool"
)

// WorkerBuilder creates the worker added by AddWorker.
type WorkerBuilder[T any] func(ctx context.Context) retrypool.Worker[T]

// WorkerPool is a thin wrapper over retrypool. Retries are handled by the
// runner, so the pool only ever tries a task once.
type WorkerPool[T any] struct {
	ctx     context.Context
	pool    *retrypool.Pool[T]
	builder WorkerBuilder[T]
	workers []int
	mu      sync.Mutex
}

func NewWorkerPool[T any](ctx context.Context, builder WorkerBuilder[T]) *WorkerPool[T] {
	e := &WorkerPool[T]{
		ctx:     ctx,
		builder: builder,
		workers: []int{},
	}

	opts := []retrypool.Option[T]{
		retrypool.WithAttempts[T](1), // we will manage the retry ourselves
		retrypool.WithRoundRobinAssignment[T](),
	}

	e.pool = retrypool.New[T](ctx, []retrypool.Worker[T]{}, opts...)

	return e
}

func (e *WorkerPool[T]) Submit(task T) error {
	return e.pool.Submit(task)
}

func (e *WorkerPool[T]) Shutdown() error {
	return e.pool.Shutdown()
}

// Wait blocks until nothing is queued or processing.
func (e *WorkerPool[T]) Wait() error {
	return e.pool.WaitWithCallback(e.ctx, func(queueSize, processingCount, deadTaskCount int) bool {
		return queueSize > 0 || processingCount > 0
	}, 10*time.Millisecond)
}

func (e *WorkerPool[T]) AddWorker() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	id := e.pool.AddWorker(e.builder(e.ctx))
	e.workers = append(e.workers, id)
	return id
}

func (e *WorkerPool[T]) RemoveWorker() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(e.workers) == 0 {
		return fmt.Errorf("no workers to remove")
	}

	index := rand.Intn(len(e.workers))
	id := e.workers[index]

	// Remove the worker ID from the slice
	e.workers = append(e.workers[:index], e.workers[index+1:]...)

	if err := e.pool.RemoveWorker(id); err != nil {
		// If removal failed, add the worker back to the list
		e.workers = append(e.workers, id)
		return err
	}

	return nil
}

func (e *WorkerPool[T]) AvailableWorkers() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.workers)
}
