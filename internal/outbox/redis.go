package outbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisQueue keeps each queue in a Redis list. Pop moves the message into
// "<queue>:processing" atomically, Ack removes it from there.
type RedisQueue struct {
	client *redis.Client
}

func NewRedisQueue(client *redis.Client) *RedisQueue {
	return &RedisQueue{client: client}
}

// NewRedisClient connects and pings the server.
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}

func processing(queue string) string {
	return queue + ":processing"
}

func (q *RedisQueue) Push(ctx context.Context, queue string, payload []byte) error {
	if err := q.client.LPush(ctx, queue, payload).Err(); err != nil {
		return fmt.Errorf("failed to push to %s: %w", queue, err)
	}
	return nil
}

func (q *RedisQueue) Pop(ctx context.Context, queue string, timeout time.Duration) ([]byte, error) {
	payload, err := q.client.BLMove(ctx, queue, processing(queue), "RIGHT", "LEFT", timeout).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to pop from %s: %w", queue, err)
	}
	return payload, nil
}

func (q *RedisQueue) Ack(ctx context.Context, queue string, payload []byte) error {
	if err := q.client.LRem(ctx, processing(queue), 1, payload).Err(); err != nil {
		return fmt.Errorf("failed to ack on %s: %w", queue, err)
	}
	return nil
}

func (q *RedisQueue) Recover(ctx context.Context, queue string) (int, error) {
	n := 0
	for {
		err := q.client.LMove(ctx, processing(queue), queue, "RIGHT", "RIGHT").Err()
		if errors.Is(err, redis.Nil) {
			return n, nil
		}
		if err != nil {
			return n, fmt.Errorf("failed to recover %s: %w", queue, err)
		}
		n++
	}
}
