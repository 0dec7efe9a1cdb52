package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/multierr"
)

const (
	DefaultPrefix = "job-matcher:tasks"

	// blockTimeout bounds one BLMOVE so that a cancelled context is noticed.
	blockTimeout = 2 * time.Second
)

// requeueScript moves a leased message back to the pending list only if it is
// still in the processing list, so a late Ack and the reaper never both win.
var requeueScript = redis.NewScript(`
local removed = redis.call('LREM', KEYS[1], 1, ARGV[1])
redis.call('ZREM', KEYS[2], ARGV[1])
if removed == 1 then
  redis.call('LPUSH', KEYS[3], ARGV[2])
end
return removed
`)

// NewRedisClient parses redisURL and verifies connectivity.
func NewRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("redis.ParseURL(%q): %w", redisURL, err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return client, nil
}

// Redis is a Queue backed by two lists and a sorted set:
//
//	{prefix}:pending     messages waiting for a worker (LPUSH / BLMOVE RIGHT)
//	{prefix}:processing  leased messages
//	{prefix}:leases      lease deadlines, scored by unix milliseconds
type Redis struct {
	rdb        redis.UniversalClient
	pending    string
	processing string
	leases     string
	visibility time.Duration
	now        func() time.Time
	closed     atomic.Bool
}

func NewRedis(rdb redis.UniversalClient, prefix string, visibility time.Duration) *Redis {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if visibility <= 0 {
		visibility = DefaultVisibilityTimeout
	}
	return &Redis{
		rdb:        rdb,
		pending:    prefix + ":pending",
		processing: prefix + ":processing",
		leases:     prefix + ":leases",
		visibility: visibility,
		now:        time.Now,
	}
}

func (r *Redis) Enqueue(ctx context.Context, body []byte) error {
	if len(body) == 0 {
		return ErrEmptyEnvelope
	}
	if r.closed.Load() {
		return ErrClosed
	}

	raw, err := json.Marshal(envelope{ID: uuid.NewString(), Body: body})
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	if err := r.rdb.LPush(ctx, r.pending, raw).Err(); err != nil {
		return fmt.Errorf("enqueue: %w", err)
	}
	return nil
}

func (r *Redis) Dequeue(ctx context.Context) (*Delivery, error) {
	for {
		if r.closed.Load() {
			return nil, ErrClosed
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		raw, err := r.rdb.BLMove(ctx, r.pending, r.processing, "RIGHT", "LEFT", blockTimeout).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("dequeue: %w", err)
		}

		deadline := r.now().Add(r.visibility)
		if err := r.rdb.ZAdd(ctx, r.leases, redis.Z{Score: float64(deadline.UnixMilli()), Member: raw}).Err(); err != nil {
			return nil, fmt.Errorf("lease message: %w", err)
		}

		var env envelope
		if err := json.Unmarshal([]byte(raw), &env); err != nil {
			// a message nobody can decode is dropped instead of poisoning the queue
			r.remove(ctx, raw)
			return nil, fmt.Errorf("decode message: %w", err)
		}

		return &Delivery{ID: env.ID, Body: env.Body, Attempts: env.Deliveries + 1, raw: raw}, nil
	}
}

func (r *Redis) Ack(ctx context.Context, d *Delivery) error {
	removed, err := r.remove(ctx, d.raw)
	if err != nil {
		return fmt.Errorf("ack %s: %w", d.ID, err)
	}
	if removed == 0 {
		return fmt.Errorf("ack %s: %w", d.ID, ErrUnknownLease)
	}
	return nil
}

func (r *Redis) Nack(ctx context.Context, d *Delivery) error {
	moved, err := r.requeue(ctx, d.raw)
	if err != nil {
		return fmt.Errorf("nack %s: %w", d.ID, err)
	}
	if !moved {
		return fmt.Errorf("nack %s: %w", d.ID, ErrUnknownLease)
	}
	return nil
}

func (r *Redis) RequeueExpired(ctx context.Context) (int, error) {
	expired, err := r.rdb.ZRangeByScore(ctx, r.leases, &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(r.now().UnixMilli(), 10),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("list expired leases: %w", err)
	}

	moved := 0
	for _, raw := range expired {
		ok, err := r.requeue(ctx, raw)
		if err != nil {
			return moved, err
		}
		if ok {
			moved++
		}
	}
	return moved, nil
}

// Close stops new work. The client is owned by the caller.
func (r *Redis) Close() error {
	r.closed.Store(true)
	return nil
}

func (r *Redis) remove(ctx context.Context, raw string) (int64, error) {
	var lrem *redis.IntCmd
	_, err := r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		lrem = pipe.LRem(ctx, r.processing, 1, raw)
		pipe.ZRem(ctx, r.leases, raw)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return lrem.Val(), nil
}

func (r *Redis) requeue(ctx context.Context, raw string) (bool, error) {
	var env envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		_, rmErr := r.remove(ctx, raw)
		return false, multierr.Append(fmt.Errorf("decode message: %w", err), rmErr)
	}
	env.Deliveries++

	next, err := json.Marshal(env)
	if err != nil {
		return false, fmt.Errorf("encode message: %w", err)
	}

	removed, err := requeueScript.Run(ctx, r.rdb, []string{r.processing, r.leases, r.pending}, raw, next).Int()
	if err != nil {
		return false, fmt.Errorf("requeue: %w", err)
	}
	return removed == 1, nil
}
