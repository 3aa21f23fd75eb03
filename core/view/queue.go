package view

import (
	"context"
	"sync"
)

// queue runs tasks one at a time in submission order.
type queue struct {
	mu   sync.Mutex
	tail chan struct{}
}

// do waits for every previously submitted task, then runs fn.
// If ctx is done first, fn is skipped and ctx.Err() is returned; later tasks still wait for the earlier ones.
func (q *queue) do(ctx context.Context, fn func() error) error {
	done := make(chan struct{})
	q.mu.Lock()
	prev := q.tail
	q.tail = done
	q.mu.Unlock()

	if prev != nil {
		select {
		case <-prev:
		case <-ctx.Done():
			go func() {
				<-prev
				close(done)
			}()
			return ctx.Err()
		}
	}
	defer close(done)
	return fn()
}
