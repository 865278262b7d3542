// Package redis provides a ledger backend that keeps vote counters in Redis
// hashes, one hash per item.
package redis

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/alphabot-ai/tiredd/internal/model"
	"github.com/alphabot-ai/tiredd/internal/store"
)

const (
	keyPrefix = "tiredd:score"
	fieldUp   = "up"
	fieldDown = "down"
)

// incrementScript bumps one counter only when the entry exists, and returns
// both counters as they are right after the bump.
var incrementScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
	return false
end
redis.call('HINCRBY', KEYS[1], ARGV[1], 1)
return redis.call('HMGET', KEYS[1], 'up', 'down')
`)

// Redis provides counter storage in Redis.
type Redis struct {
	cli *redis.Client
}

// Connect connects to the Redis server and pings it to ensure the
// connection is working.
func Connect(ctx context.Context, addr string) (*Redis, error) {
	cli := redis.NewClient(&redis.Options{
		Addr: addr,
	})
	if err := cli.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &Redis{cli: cli}, nil
}

func (r *Redis) Close() error {
	return r.cli.Close()
}

// watchAttempts bounds how often an optimistic transaction is rerun after
// another client touched a watched key.
const watchAttempts = 5

// CreateScore adds a zeroed hash for ref unless one already exists.
func (r *Redis) CreateScore(ctx context.Context, ref model.ItemRef) error {
	key := scoreKey(ref.Kind, ref.ID)
	err := retryWatch(ctx, func() error {
		return r.cli.Watch(ctx, func(tx *redis.Tx) error {
			n, err := tx.Exists(ctx, key).Result()
			if err != nil {
				return err
			}
			if n > 0 {
				return nil
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.HSet(ctx, key, fieldUp, 0, fieldDown, 0)
				return nil
			})
			return err
		}, key)
	})
	if err != nil {
		if errors.Is(err, store.ErrTransient) {
			return fmt.Errorf("create score %s: %w", key, err)
		}
		return fmt.Errorf("create score %s: %w", key, classify(err))
	}
	return nil
}

// retryWatch reruns txn while it fails with redis.TxFailedErr. A conflict
// that outlasts watchAttempts is reported as store.ErrTransient; nothing was
// written in that case.
func retryWatch(ctx context.Context, txn func() error) error {
	for i := 0; i < watchAttempts; i++ {
		err := txn()
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return fmt.Errorf("%w: %d conflicting attempts", store.ErrTransient, watchAttempts)
}

func (r *Redis) IncrementScore(ctx context.Context, ref model.ItemRef, dir model.Direction) (model.Score, error) {
	key := scoreKey(ref.Kind, ref.ID)
	field := fieldUp
	if dir == model.Down {
		field = fieldDown
	}
	vals, err := incrementScript.Run(ctx, r.cli, []string{key}, field).Slice()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return model.Score{}, store.ErrNotFound
		}
		return model.Score{}, fmt.Errorf("increment %s: %w", key, classify(err))
	}
	return parseScore(vals)
}

func (r *Redis) GetScore(ctx context.Context, ref model.ItemRef) (model.Score, error) {
	key := scoreKey(ref.Kind, ref.ID)
	vals, err := r.cli.HMGet(ctx, key, fieldUp, fieldDown).Result()
	if err != nil {
		return model.Score{}, fmt.Errorf("hmget %s: %w", key, classify(err))
	}
	return parseScore(vals)
}

func (r *Redis) GetScores(ctx context.Context, kind model.Kind, ids []string) (map[string]model.Score, error) {
	cmds := make([]*redis.SliceCmd, len(ids))
	_, err := r.cli.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = pipe.HMGet(ctx, scoreKey(kind, id), fieldUp, fieldDown)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("hmget pipeline: %w", classify(err))
	}

	out := make(map[string]model.Score, len(ids))
	for i, cmd := range cmds {
		score, err := parseScore(cmd.Val())
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out[ids[i]] = score
	}
	return out, nil
}

func (r *Redis) DeleteScore(ctx context.Context, ref model.ItemRef) error {
	key := scoreKey(ref.Kind, ref.ID)
	if err := r.cli.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("del %s: %w", key, classify(err))
	}
	return nil
}

func scoreKey(kind model.Kind, id string) string {
	return fmt.Sprintf("%s:%s:%s", keyPrefix, kind, id)
}

// parseScore reads an HMGET reply of [up, down]. Both fields missing means
// the hash does not exist.
func parseScore(vals []any) (model.Score, error) {
	if len(vals) != 2 || (vals[0] == nil && vals[1] == nil) {
		return model.Score{}, store.ErrNotFound
	}
	up, err := parseCounter(vals[0])
	if err != nil {
		return model.Score{}, err
	}
	down, err := parseCounter(vals[1])
	if err != nil {
		return model.Score{}, err
	}
	return model.Score{Upvotes: up, Downvotes: down}, nil
}

func parseCounter(v any) (int64, error) {
	switch c := v.(type) {
	case nil:
		return 0, nil
	case int64:
		return c, nil
	case string:
		n, err := strconv.ParseInt(c, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("parse counter %q: %w", c, err)
		}
		return n, nil
	}
	return 0, fmt.Errorf("unexpected counter type %T", v)
}

// classify marks connection failures that happened before a command reached
// the server as transient. Anything else may have been applied.
func classify(err error) error {
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return fmt.Errorf("%w: %v", store.ErrTransient, err)
	}
	return err
}
