// Package queue hands queued run ids to workers through Redis and keeps at
// most one run per job name in flight.
package queue

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"

	"corpus-pipeline/internal/config"
)

// NewClient builds a Redis client from config.
func NewClient(cfg config.Config) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
}

// RedisQueue coordinates ready, in-flight, and scheduled run ids in Redis.
type RedisQueue struct {
	client        *redis.Client
	readyKey      string
	inflightKey   string
	scheduledKey  string
	visibilityTTL time.Duration
}

// NewRedisQueue builds a queue on top of client. Leases last visibility.
func NewRedisQueue(client *redis.Client, visibility time.Duration) *RedisQueue {
	if visibility == 0 {
		visibility = 10 * time.Minute
	}
	return &RedisQueue{
		client:        client,
		readyKey:      "corpus:runs:ready",
		inflightKey:   "corpus:runs:inflight",
		scheduledKey:  "corpus:runs:scheduled",
		visibilityTTL: visibility,
	}
}

// Enqueue makes a run id immediately available to workers.
func (q *RedisQueue) Enqueue(ctx context.Context, runID string) error {
	return errors.Wrap(q.client.RPush(ctx, q.readyKey, runID).Err(), "enqueue run")
}

// Schedule defers a run id until runAt. A leased id is released first.
func (q *RedisQueue) Schedule(ctx context.Context, runID string, runAt time.Time) error {
	pipe := q.client.TxPipeline()
	pipe.ZRem(ctx, q.inflightKey, runID)
	pipe.ZAdd(ctx, q.scheduledKey, redis.Z{Score: float64(runAt.UnixMilli()), Member: runID})
	_, err := pipe.Exec(ctx)
	return errors.Wrap(err, "schedule run")
}

// PromoteScheduled moves due scheduled ids into the ready list. It returns how many were promoted.
func (q *RedisQueue) PromoteScheduled(ctx context.Context, now time.Time, limit int64) (int, error) {
	res, err := promoteScript.Run(ctx, q.client, []string{q.scheduledKey, q.readyKey}, now.UnixMilli(), limit).Int()
	if err != nil {
		return 0, errors.Wrap(err, "promote scheduled runs")
	}
	return res, nil
}

// DequeueWithLease pops the next ready run id and records it in flight until
// the visibility deadline. It returns "" when nothing is ready.
func (q *RedisQueue) DequeueWithLease(ctx context.Context) (string, error) {
	deadline := time.Now().Add(q.visibilityTTL).UnixMilli()
	res, err := dequeueScript.Run(ctx, q.client, []string{q.readyKey, q.inflightKey}, deadline).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", errors.Wrap(err, "dequeue run")
	}
	runID, ok := res.(string)
	if !ok {
		return "", errors.Newf("unexpected type from dequeue script: %T", res)
	}
	return runID, nil
}

// ExtendLease pushes the visibility deadline forward for an in-flight run.
func (q *RedisQueue) ExtendLease(ctx context.Context, runID string, extension time.Duration) error {
	return errors.Wrap(q.client.ZAddXX(ctx, q.inflightKey, redis.Z{
		Score:  float64(time.Now().Add(extension).UnixMilli()),
		Member: runID,
	}).Err(), "extend lease")
}

// Ack removes a run id from in-flight tracking.
func (q *RedisQueue) Ack(ctx context.Context, runID string) error {
	return errors.Wrap(q.client.ZRem(ctx, q.inflightKey, runID).Err(), "ack run")
}

// ReclaimExpired removes leases whose deadline passed and returns their ids.
// Each expired id is returned to exactly one caller. Runs are never
// re-enqueued; the caller decides their final state.
func (q *RedisQueue) ReclaimExpired(ctx context.Context, now time.Time, limit int64) ([]string, error) {
	res, err := reclaimScript.Run(ctx, q.client, []string{q.inflightKey}, now.UnixMilli(), limit).StringSlice()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, errors.Wrap(err, "reclaim expired leases")
	}
	return res, nil
}

// ReadyDepth returns the number of run ids waiting for a worker.
func (q *RedisQueue) ReadyDepth(ctx context.Context) (int64, error) {
	n, err := q.client.LLen(ctx, q.readyKey).Result()
	return n, errors.Wrap(err, "ready depth")
}

// InFlight returns the number of leased run ids.
func (q *RedisQueue) InFlight(ctx context.Context) (int64, error) {
	n, err := q.client.ZCard(ctx, q.inflightKey).Result()
	return n, errors.Wrap(err, "inflight depth")
}

var dequeueScript = redis.NewScript(`
local run = redis.call('LPOP', KEYS[1])
if run then
  redis.call('ZADD', KEYS[2], ARGV[1], run)
  return run
end
return nil
`)

var reclaimScript = redis.NewScript(`
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, ARGV[2])
for _, id in ipairs(ids) do
  redis.call('ZREM', KEYS[1], id)
end
return ids
`)

var promoteScript = redis.NewScript(`
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, ARGV[2])
for _, id in ipairs(ids) do
  redis.call('ZREM', KEYS[1], id)
  redis.call('RPUSH', KEYS[2], id)
end
return #ids
`)
