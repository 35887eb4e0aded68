package order

import (
	"context"
	"errors"
)

// ErrQueueFull is returned when the submission buffer is saturated.
// Callers treat it as a rejection; silently dropping an admitted
// order would desync the book.
var ErrQueueFull = errors.New("order queue full")

// Queue buffers admitted orders in front of the executor. A single
// drain goroutine consumes it, so submissions hit the exchange one at
// a time.
type Queue struct {
	ch chan Order
}

func NewQueue(size int) *Queue {
	if size <= 0 {
		size = 64
	}
	return &Queue{ch: make(chan Order, size)}
}

// Enqueue adds an order without blocking.
func (q *Queue) Enqueue(o Order) error {
	select {
	case q.ch <- o:
		return nil
	default:
		return ErrQueueFull
	}
}

func (q *Queue) Len() int {
	return len(q.ch)
}

func (q *Queue) Close() {
	close(q.ch)
}

// Drain consumes orders with a handler until the context is canceled
// or the queue is closed.
func (q *Queue) Drain(ctx context.Context, handler func(Order)) {
	for {
		select {
		case <-ctx.Done():
			return
		case o, ok := <-q.ch:
			if !ok {
				return
			}
			handler(o)
		}
	}
}
