package monitor

import (
	"context"
	"fmt"
	"sync"
)

// Future resolves with the result of an operation submitted to a Queue.
type Future struct {
	done  chan struct{}
	value any
	err   error
}

func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the operation has run or ctx is done. Cancelling ctx
// does not remove the operation from the queue.
func (f *Future) Wait(ctx context.Context) (any, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type task struct {
	op     func() (any, error)
	future *Future
}

// Queue runs operations one at a time per key, in submission order.
// Operations under different keys run concurrently.
type Queue struct {
	mu      sync.Mutex
	pending map[string][]task
}

func NewQueue() *Queue {
	return &Queue{pending: make(map[string][]task)}
}

func (q *Queue) Submit(key string, op func() (any, error)) *Future {
	f := &Future{done: make(chan struct{})}

	q.mu.Lock()
	tasks, running := q.pending[key]
	q.pending[key] = append(tasks, task{op: op, future: f})
	q.mu.Unlock()

	if !running {
		go q.drain(key)
	}
	return f
}

func (q *Queue) drain(key string) {
	for {
		q.mu.Lock()
		tasks := q.pending[key]
		if len(tasks) == 0 {
			delete(q.pending, key)
			q.mu.Unlock()
			return
		}
		t := tasks[0]
		q.pending[key] = tasks[1:]
		q.mu.Unlock()

		t.future.value, t.future.err = run(t.op)
		close(t.future.done)
	}
}

func run(op func() (any, error)) (value any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("queued operation panicked: %v", r)
		}
	}()
	return op()
}
