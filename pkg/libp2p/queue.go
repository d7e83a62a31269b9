package libp2p

import (
	"context"
	"sync"
)

// eventQueue is an unbounded FIFO in front of the event channel. push never
// blocks and run delivers events in the order they were pushed.
type eventQueue struct {
	mu      sync.Mutex
	pending []Event
	ready   chan struct{}
}

func newEventQueue() *eventQueue {
	return &eventQueue{ready: make(chan struct{}, 1)}
}

func (q *eventQueue) push(ev Event) {
	q.mu.Lock()
	q.pending = append(q.pending, ev)
	q.mu.Unlock()

	select {
	case q.ready <- struct{}{}:
	default:
	}
}

func (q *eventQueue) pop() (Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return nil, false
	}
	ev := q.pending[0]
	q.pending[0] = nil
	q.pending = q.pending[1:]
	return ev, true
}

// run forwards queued events to out until ctx is done.
func (q *eventQueue) run(ctx context.Context, out chan<- Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-q.ready:
		}
		for {
			ev, ok := q.pop()
			if !ok {
				break
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}
}
