package queue

import (
	"context"
	"fmt"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// RedisQueue implements Queue on Redis Streams with a consumer group.
type RedisQueue struct {
	client    *redis.Client
	Stream    string
	Group     string
	CancelKey string
}

// NewRedisQueue connects to Redis and ensures the stream and group exist.
func NewRedisQueue(redisURL, stream, group string) (*RedisQueue, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	c := redis.NewClient(opt)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := c.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	// MKSTREAM creates the stream if missing
	if err := c.XGroupCreateMkStream(ctx, stream, group, "$").Err(); err != nil && !isBusyGroupErr(err) {
		return nil, fmt.Errorf("xgroup create: %w", err)
	}
	return &RedisQueue{
		client:    c,
		Stream:    stream,
		Group:     group,
		CancelKey: "batches:cancelled:set",
	}, nil
}

func isBusyGroupErr(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(strings.ToUpper(err.Error()), "BUSYGROUP")
}

func (q *RedisQueue) Close() error { return q.client.Close() }

// Ping checks redis connectivity.
func (q *RedisQueue) Ping(ctx context.Context) error { return q.client.Ping(ctx).Err() }

func (q *RedisQueue) Enqueue(ctx context.Context, payload []byte) error {
	return q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: q.Stream,
		Values: map[string]any{"data": string(payload)},
	}).Err()
}

func (q *RedisQueue) Dequeue(ctx context.Context, consumer string, timeout time.Duration) (string, []byte, error) {
	res, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    q.Group,
		Consumer: consumer,
		Streams:  []string{q.Stream, ">"},
		Count:    1,
		Block:    timeout,
	}).Result()
	if err != nil {
		if err == redis.Nil {
			return "", nil, nil
		}
		return "", nil, err
	}
	if len(res) == 0 || len(res[0].Messages) == 0 {
		return "", nil, nil
	}
	msg := res[0].Messages[0]
	if v, ok := msg.Values["data"]; ok {
		switch t := v.(type) {
		case string:
			return msg.ID, []byte(t), nil
		case []byte:
			return msg.ID, t, nil
		}
	}
	return msg.ID, nil, nil
}

func (q *RedisQueue) Ack(ctx context.Context, msgID string) error {
	if msgID == "" {
		return nil
	}
	return q.client.XAck(ctx, q.Stream, q.Group, msgID).Err()
}

func (q *RedisQueue) Cancel(ctx context.Context, batchID string) error {
	return q.client.SAdd(ctx, q.CancelKey, batchID).Err()
}

func (q *RedisQueue) IsCancelled(ctx context.Context, batchID string) (bool, error) {
	return q.client.SIsMember(ctx, q.CancelKey, batchID).Result()
}

func (q *RedisQueue) Depth(ctx context.Context) (int64, error) {
	return q.client.XLen(ctx, q.Stream).Result()
}
