// Package outbox hands messages to durable queues and consumes them.
package outbox

import (
	"context"
	"time"
)

// Queue is an at-least-once message queue. A popped message stays pending
// until acked; Recover hands pending messages back after a restart.
type Queue interface {
	Push(ctx context.Context, queue string, payload []byte) error
	// Pop waits up to timeout for a message and returns nil if none arrived.
	Pop(ctx context.Context, queue string, timeout time.Duration) ([]byte, error)
	Ack(ctx context.Context, queue string, payload []byte) error
	// Recover moves unacked messages back onto the queue and reports how many.
	Recover(ctx context.Context, queue string) (int, error)
}
