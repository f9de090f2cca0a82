package outbox

import (
	"bytes"
	"context"
	"sync"
	"time"
)

type memoryList struct {
	items   [][]byte
	pending [][]byte
	ready   chan struct{}
}

// MemoryQueue is an in-process Queue for development and tests. Messages do
// not survive a restart.
type MemoryQueue struct {
	mu     sync.Mutex
	queues map[string]*memoryList
}

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{queues: make(map[string]*memoryList)}
}

func (q *MemoryQueue) list(queue string) *memoryList {
	l, ok := q.queues[queue]
	if !ok {
		l = &memoryList{ready: make(chan struct{}, 1)}
		q.queues[queue] = l
	}
	return l
}

func (l *memoryList) signal() {
	select {
	case l.ready <- struct{}{}:
	default:
	}
}

func (q *MemoryQueue) Push(ctx context.Context, queue string, payload []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	l := q.list(queue)
	l.items = append(l.items, append([]byte(nil), payload...))
	l.signal()
	return nil
}

func (q *MemoryQueue) Pop(ctx context.Context, queue string, timeout time.Duration) ([]byte, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		q.mu.Lock()
		l := q.list(queue)
		if len(l.items) > 0 {
			payload := l.items[0]
			l.items = l.items[1:]
			l.pending = append(l.pending, payload)
			if len(l.items) > 0 {
				l.signal()
			}
			q.mu.Unlock()
			return payload, nil
		}
		ready := l.ready
		q.mu.Unlock()

		select {
		case <-ready:
		case <-timer.C:
			return nil, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (q *MemoryQueue) Ack(ctx context.Context, queue string, payload []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	l := q.list(queue)
	for i, p := range l.pending {
		if bytes.Equal(p, payload) {
			l.pending = append(l.pending[:i], l.pending[i+1:]...)
			break
		}
	}
	return nil
}

func (q *MemoryQueue) Recover(ctx context.Context, queue string) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	l := q.list(queue)
	n := len(l.pending)
	if n == 0 {
		return 0, nil
	}
	l.items = append(l.pending, l.items...)
	l.pending = nil
	l.signal()
	return n, nil
}

// Len reports how many messages wait on queue.
func (q *MemoryQueue) Len(queue string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.list(queue).items)
}
