package logqueue

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	mainKey       = "gateway:log:main"
	processingKey = "gateway:log:processing"
)

// Queue is the narrow durable-queue interface the worker needs: append,
// atomically claim a batch into the processing list, acknowledge
// (remove) a persisted batch, and recover a batch (or the whole
// processing list, at startup) back onto main.
type Queue interface {
	Enqueue(ctx context.Context, entry Entry) error
	ClaimBatch(ctx context.Context, n int) ([][]byte, error)
	Acknowledge(ctx context.Context, raw [][]byte) error
	Recover(ctx context.Context, raw [][]byte) error
	RecoverProcessing(ctx context.Context) (int, error)
	Depths(ctx context.Context) (main, processing int64, err error)
}

// RedisQueue is a Queue backed by two Redis lists, mirroring the
// read-through/durable-tier split rcache.Cache uses for the response
// cache and the key-prefix convention llm/idempotency.redisManager uses.
type RedisQueue struct {
	rdb    *redis.Client
	logger *zap.Logger
}

// NewRedisQueue builds a RedisQueue backed by rdb.
func NewRedisQueue(rdb *redis.Client, logger *zap.Logger) *RedisQueue {
	return &RedisQueue{rdb: rdb, logger: logger.With(zap.String("component", "logqueue"))}
}

// Enqueue appends entry (serialized) to the main queue.
func (q *RedisQueue) Enqueue(ctx context.Context, entry Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return q.rdb.LPush(ctx, mainKey, data).Err()
}

// ClaimBatch atomically moves up to n messages from main to processing,
// one RPOPLPUSH at a time, and returns their raw bytes. Stops early (with
// no error) once main is drained.
func (q *RedisQueue) ClaimBatch(ctx context.Context, n int) ([][]byte, error) {
	out := make([][]byte, 0, n)
	for i := 0; i < n; i++ {
		v, err := q.rdb.RPopLPush(ctx, mainKey, processingKey).Bytes()
		if err == redis.Nil {
			break
		}
		if err != nil {
			return out, err
		}
		out = append(out, v)
	}
	return out, nil
}

// Acknowledge removes each message in raw from the processing list.
func (q *RedisQueue) Acknowledge(ctx context.Context, raw [][]byte) error {
	for _, r := range raw {
		if err := q.rdb.LRem(ctx, processingKey, 1, r).Err(); err != nil {
			return err
		}
	}
	return nil
}

// Recover moves each message in raw from processing back to main, for
// retry after a failed persist attempt.
func (q *RedisQueue) Recover(ctx context.Context, raw [][]byte) error {
	for _, r := range raw {
		if err := q.rdb.LRem(ctx, processingKey, 1, r).Err(); err != nil {
			return err
		}
		if err := q.rdb.LPush(ctx, mainKey, r).Err(); err != nil {
			return err
		}
	}
	return nil
}

// RecoverProcessing moves every message currently in the processing list
// back to main. Called once at worker startup (spec §4.10's crash
// recovery: anything left in processing when the worker last stopped was
// claimed but never acknowledged).
func (q *RedisQueue) RecoverProcessing(ctx context.Context) (int, error) {
	n := 0
	for {
		_, err := q.rdb.RPopLPush(ctx, processingKey, mainKey).Result()
		if err == redis.Nil {
			break
		}
		if err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// Depths reports the current length of each list, for periodic stats
// logging.
func (q *RedisQueue) Depths(ctx context.Context) (main, processing int64, err error) {
	main, err = q.rdb.LLen(ctx, mainKey).Result()
	if err != nil {
		return 0, 0, err
	}
	processing, err = q.rdb.LLen(ctx, processingKey).Result()
	return main, processing, err
}
