// Package queue is the redis-backed ingest queue that decouples request
// intake from delivery.
//
// Items are JSON envelopes in a redis list. Dequeue moves the payload into an
// in-flight sorted set scored by its visibility deadline; Ack removes it.
// Items whose deadline passes without an Ack are put back at the head of the
// list by RecoverExpired, so a worker crash between dequeue and dispatch does
// not lose the request.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"notifyhub/internal/domain/entity"
	"notifyhub/internal/observability/metrics"
)

const (
	// DefaultKey is the list holding pending requests.
	DefaultKey = "notification:tasks"

	DefaultVisibilityTimeout = 5 * time.Minute

	recoverBatch = 100
)

var (
	// ErrQueueFull is returned by Enqueue when the list has reached its configured size.
	ErrQueueFull = errors.New("ingest queue is full")

	// ErrPoisonItem is returned by Dequeue for a payload that cannot be decoded.
	// The item has already been removed.
	ErrPoisonItem = errors.New("undecodable queue item")
)

var enqueueScript = redis.NewScript(`
local limit = tonumber(ARGV[2])
if limit > 0 and redis.call('LLEN', KEYS[1]) >= limit then
  return -1
end
return redis.call('RPUSH', KEYS[1], ARGV[1])
`)

var dequeueScript = redis.NewScript(`
local v = redis.call('LPOP', KEYS[1])
if not v then
  return false
end
redis.call('ZADD', KEYS[2], ARGV[1], v)
return v
`)

// iterate backwards so recovered items keep their relative order at the head
var recoverScript = redis.NewScript(`
local items = redis.call('ZRANGEBYSCORE', KEYS[2], '-inf', ARGV[1], 'LIMIT', 0, tonumber(ARGV[2]))
for i = #items, 1, -1 do
  redis.call('ZREM', KEYS[2], items[i])
  redis.call('LPUSH', KEYS[1], items[i])
end
return #items
`)

// Config controls the queue keys and limits.
type Config struct {
	Key               string
	MaxSize           int // 0 means unbounded
	VisibilityTimeout time.Duration
}

// Queue is a FIFO of dispatch requests with at-least-once delivery.
type Queue struct {
	rdb        redis.UniversalClient
	key        string
	inflight   string
	maxSize    int
	visibility time.Duration
	now        func() time.Time
}

// Delivery is one dequeued item. Pass it back to Ack once handled.
type Delivery struct {
	Item    entity.QueueItem
	payload string
}

func New(rdb redis.UniversalClient, cfg Config) *Queue {
	if cfg.Key == "" {
		cfg.Key = DefaultKey
	}
	if cfg.VisibilityTimeout <= 0 {
		cfg.VisibilityTimeout = DefaultVisibilityTimeout
	}
	return &Queue{
		rdb:        rdb,
		key:        cfg.Key,
		inflight:   cfg.Key + ":inflight",
		maxSize:    cfg.MaxSize,
		visibility: cfg.VisibilityTimeout,
		now:        time.Now,
	}
}

// Enqueue appends req to the tail of the queue and returns the item id.
func (q *Queue) Enqueue(ctx context.Context, req entity.DispatchRequest) (string, error) {
	item := entity.QueueItem{
		ID:         uuid.NewString(),
		Request:    req,
		EnqueuedAt: q.now().UTC(),
	}
	payload, err := json.Marshal(item)
	if err != nil {
		return "", fmt.Errorf("Enqueue: marshal: %w", err)
	}

	n, err := enqueueScript.Run(ctx, q.rdb, []string{q.key}, payload, q.maxSize).Int64()
	if err != nil {
		metrics.RecordQueueEvent("enqueue_error")
		return "", fmt.Errorf("Enqueue: %w", err)
	}
	if n < 0 {
		metrics.RecordQueueEvent("rejected_full")
		return "", ErrQueueFull
	}
	metrics.RecordQueueEvent("enqueued")
	metrics.SetQueueDepth(n)
	return item.ID, nil
}

// Dequeue pops the head item, or returns nil, nil when the queue is empty.
// A payload that cannot be decoded is removed and reported as an error.
func (q *Queue) Dequeue(ctx context.Context) (*Delivery, error) {
	deadline := q.now().Add(q.visibility).UnixMilli()
	payload, err := dequeueScript.Run(ctx, q.rdb, []string{q.key, q.inflight}, deadline).Text()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("Dequeue: %w", err)
	}
	metrics.RecordQueueEvent("dequeued")

	d := &Delivery{payload: payload}
	if err := json.Unmarshal([]byte(payload), &d.Item); err != nil {
		_ = q.Ack(ctx, d)
		metrics.RecordQueueEvent("poison")
		return nil, fmt.Errorf("Dequeue: %w: %w", ErrPoisonItem, err)
	}
	return d, nil
}

// Ack marks d as handled. Acking an item twice is harmless.
func (q *Queue) Ack(ctx context.Context, d *Delivery) error {
	if d == nil {
		return nil
	}
	if err := q.rdb.ZRem(ctx, q.inflight, d.payload).Err(); err != nil {
		return fmt.Errorf("Ack: %w", err)
	}
	metrics.RecordQueueEvent("acked")
	return nil
}

// RecoverExpired moves in-flight items past their visibility deadline back
// to the head of the queue and returns how many were moved.
func (q *Queue) RecoverExpired(ctx context.Context) (int, error) {
	total := 0
	now := strconv.FormatInt(q.now().UnixMilli(), 10)
	for {
		n, err := recoverScript.Run(ctx, q.rdb, []string{q.key, q.inflight}, now, recoverBatch).Int()
		if err != nil {
			return total, fmt.Errorf("RecoverExpired: %w", err)
		}
		total += n
		if n < recoverBatch {
			break
		}
	}
	if total > 0 {
		metrics.QueueEventsTotal.WithLabelValues("recovered").Add(float64(total))
	}
	return total, nil
}

// Length returns the number of pending (not in-flight) items.
func (q *Queue) Length(ctx context.Context) (int64, error) {
	n, err := q.rdb.LLen(ctx, q.key).Result()
	if err != nil {
		return 0, fmt.Errorf("Length: %w", err)
	}
	metrics.SetQueueDepth(n)
	return n, nil
}

// InFlight returns the number of dequeued items not yet acked.
func (q *Queue) InFlight(ctx context.Context) (int64, error) {
	n, err := q.rdb.ZCard(ctx, q.inflight).Result()
	if err != nil {
		return 0, fmt.Errorf("InFlight: %w", err)
	}
	return n, nil
}
