package outbox

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/Viktorio135/vpn/pkg/logger"
)

// ErrRetry marks a handler failure worth another attempt.
var ErrRetry = errors.New("retry later")

const (
	popTimeout   = 5 * time.Second
	retryDelay   = 2 * time.Second
	maxAttempts  = 5
	errorBackoff = time.Second
)

// Handler processes one message. Wrapping ErrRetry puts the message back on
// the queue; any other error drops it.
type Handler func(ctx context.Context, payload []byte) error

// Consumer feeds the messages of one queue to a handler, one at a time.
type Consumer struct {
	logger  *logger.Logger
	queue   Queue
	name    string
	handler Handler

	attempts   map[string]int
	retryDelay time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewConsumer(queue Queue, name string, handler Handler, logger *logger.Logger) *Consumer {
	ctx, cancel := context.WithCancel(context.Background())
	return &Consumer{
		logger:     logger.With("queue", name),
		queue:      queue,
		name:       name,
		handler:    handler,
		attempts:   make(map[string]int),
		retryDelay: retryDelay,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Start recovers messages left unacked by a previous run and consumes until Stop.
func (c *Consumer) Start() {
	n, err := c.queue.Recover(c.ctx, c.name)
	if err != nil {
		c.logger.Errorw("Failed to recover pending messages", "error", err)
	} else if n > 0 {
		c.logger.Infow("Recovered pending messages", "count", n)
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			select {
			case <-c.ctx.Done():
				c.logger.Info("Consumer stopped")
				return
			default:
			}

			payload, err := c.queue.Pop(c.ctx, c.name, popTimeout)
			if err != nil {
				if c.ctx.Err() != nil {
					continue
				}
				c.logger.Errorw("Failed to pop message", "error", err)
				c.sleep(errorBackoff)
				continue
			}
			if payload == nil {
				continue
			}
			c.process(payload)
		}
	}()
}

func (c *Consumer) Stop() {
	c.cancel()
	c.wg.Wait()
}

func (c *Consumer) process(payload []byte) {
	err := c.safeCall(payload)

	// Acks and requeues must land even while stopping.
	ctx := context.WithoutCancel(c.ctx)
	key := string(payload)
	if errors.Is(err, ErrRetry) {
		c.attempts[key]++
		if c.attempts[key] < maxAttempts {
			c.logger.Warnw("Message failed, requeueing", "attempt", c.attempts[key], "error", err)
			c.sleep(c.retryDelay)
			if perr := c.queue.Push(ctx, c.name, payload); perr != nil {
				c.logger.Errorw("Failed to requeue message", "error", perr)
				return
			}
		} else {
			c.logger.Errorw("Message dropped after retries", "attempts", c.attempts[key], "error", err)
			delete(c.attempts, key)
		}
	} else {
		if err != nil {
			c.logger.Errorw("Message dropped", "error", err)
		}
		delete(c.attempts, key)
	}

	if err := c.queue.Ack(ctx, c.name, payload); err != nil {
		c.logger.Errorw("Failed to ack message", "error", err)
	}
}

// safeCall runs the handler with panic recovery
func (c *Consumer) safeCall(payload []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Errorw("Handler panicked",
				"panic", r,
				"stack", string(debug.Stack()))
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()
	return c.handler(c.ctx, payload)
}

func (c *Consumer) sleep(d time.Duration) {
	select {
	case <-time.After(d):
	case <-c.ctx.Done():
	}
}
