package listener

import (
	"context"
	"sync"

	"github.com/salrashid123/trustedcall/ledger"
)

// queue is an unbounded FIFO between the subscription goroutine and one
// consumer. push never blocks.
type queue struct {
	mu     sync.Mutex
	items  []ledger.EventRecord
	err    error
	signal chan struct{}
}

func newQueue() *queue {
	return &queue{signal: make(chan struct{}, 1)}
}

func (q *queue) notify() {
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

func (q *queue) push(recs ...ledger.EventRecord) {
	q.mu.Lock()
	q.items = append(q.items, recs...)
	q.mu.Unlock()
	q.notify()
}

// close marks the end of the stream. Queued records are still delivered
// before err.
func (q *queue) close(err error) {
	q.mu.Lock()
	if q.err == nil {
		q.err = err
	}
	q.mu.Unlock()
	q.notify()
}

func (q *queue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *queue) pop(ctx context.Context) (ledger.EventRecord, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			rec := q.items[0]
			q.items[0] = ledger.EventRecord{}
			q.items = q.items[1:]
			q.mu.Unlock()
			return rec, nil
		}
		err := q.err
		q.mu.Unlock()
		if err != nil {
			return ledger.EventRecord{}, err
		}
		select {
		case <-q.signal:
		case <-ctx.Done():
			return ledger.EventRecord{}, ctx.Err()
		}
	}
}
