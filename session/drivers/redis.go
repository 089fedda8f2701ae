package drivers

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/creastat/craftbot"
	"github.com/creastat/craftbot/session"
)

const (
	// Redis key prefix for session records
	sessionKeyPrefix = "session:"
	// Sorted set of active sessions scored by expiry (unix ms)
	activeIndexKey = "sessions:active"
	// Sorted set of all sessions scored by last activity (unix ms)
	recentIndexKey = "sessions:recent"
	// Page size when walking the recent index
	listPageSize = 100
)

// RedisStore implements session.Store using Redis with optimistic locking.
// Two sorted sets index the records: one for the expiry sweep and one for listings.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

// NewRedisStore creates a new Redis-based session store. A zero ttl keeps
// records indefinitely; terminal sessions are retained for listing.
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	if ttl < 0 {
		ttl = 0
	}
	return &RedisStore{
		client: client,
		ttl:    ttl,
	}
}

// Create implements session.Store.
func (s *RedisStore) Create(ctx context.Context, data *craftbot.Session) error {
	data.UpdatedAt = time.Now()
	data.Version = 1

	val, err := json.Marshal(data)
	if err != nil {
		return err
	}

	ok, err := s.client.SetNX(ctx, s.key(data.ID), val, s.ttl).Result()
	if err != nil {
		return err
	}
	if !ok {
		return craftbot.ErrAlreadyExists
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		s.index(ctx, pipe, data)
		return nil
	})
	return err
}

// Get implements session.Store.
// Returns nil if the session is not found (not an error).
func (s *RedisStore) Get(ctx context.Context, id string) (*craftbot.Session, error) {
	key := s.key(id)
	val, err := s.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var data craftbot.Session
	if err := json.Unmarshal([]byte(val), &data); err != nil {
		return nil, err
	}

	// Refresh retention TTL on read
	if s.ttl > 0 {
		_ = s.client.Expire(ctx, key, s.ttl).Err()
	}

	return &data, nil
}

// Update implements session.Store using WATCH/MULTI/EXEC.
func (s *RedisStore) Update(ctx context.Context, data *craftbot.Session) error {
	key := s.key(data.ID)

	return s.client.Watch(ctx, func(tx *redis.Tx) error {
		val, err := tx.Get(ctx, key).Result()
		if err == redis.Nil {
			return craftbot.ErrNotFound
		}
		if err != nil {
			return err
		}

		var stored craftbot.Session
		if err := json.Unmarshal([]byte(val), &stored); err != nil {
			return err
		}

		if stored.Version != data.Version {
			return craftbot.ErrVersionConflict
		}

		next := *data
		next.Version++
		next.UpdatedAt = time.Now()

		newVal, err := json.Marshal(&next)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, newVal, s.ttl)
			s.index(ctx, pipe, &next)
			return nil
		})
		if err != nil {
			if errors.Is(err, redis.TxFailedErr) {
				return craftbot.ErrVersionConflict
			}
			return err
		}

		data.Version = next.Version
		data.UpdatedAt = next.UpdatedAt
		return nil
	}, key)
}

// ListExpired implements session.Store.
func (s *RedisStore) ListExpired(ctx context.Context, now time.Time, limit int) ([]*craftbot.Session, error) {
	by := &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.UnixMilli(), 10),
	}
	if limit > 0 {
		by.Count = int64(limit)
	}
	ids, err := s.client.ZRangeByScore(ctx, s.prefix+activeIndexKey, by).Result()
	if err != nil {
		return nil, err
	}

	sessions, err := s.load(ctx, ids, s.prefix+activeIndexKey)
	if err != nil {
		return nil, err
	}

	out := sessions[:0]
	for _, data := range sessions {
		if data.Status == craftbot.StatusActive && !data.ExpiresAt.After(now) {
			out = append(out, data)
		}
	}
	return out, nil
}

// List implements session.Store.
func (s *RedisStore) List(ctx context.Context, opts session.ListOptions) ([]craftbot.Summary, error) {
	limit := opts.EffectiveLimit()
	out := make([]craftbot.Summary, 0, limit)

	for start := int64(0); len(out) < limit; start += listPageSize {
		ids, err := s.client.ZRevRange(ctx, s.prefix+recentIndexKey, start, start+listPageSize-1).Result()
		if err != nil {
			return nil, err
		}
		if len(ids) == 0 {
			break
		}

		sessions, err := s.load(ctx, ids, s.prefix+recentIndexKey)
		if err != nil {
			return nil, err
		}
		for _, data := range sessions {
			if sum := data.Summarize(); opts.Matches(sum) {
				out = append(out, sum)
				if len(out) == limit {
					break
				}
			}
		}
	}
	return out, nil
}

// Close implements session.Store.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// load fetches the records for ids, pruning index entries whose record is gone.
func (s *RedisStore) load(ctx context.Context, ids []string, indexKey string) ([]*craftbot.Session, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.key(id)
	}

	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	var stale []any
	out := make([]*craftbot.Session, 0, len(vals))
	for i, v := range vals {
		str, ok := v.(string)
		if !ok {
			stale = append(stale, ids[i])
			continue
		}
		var data craftbot.Session
		if err := json.Unmarshal([]byte(str), &data); err != nil {
			return nil, err
		}
		out = append(out, &data)
	}

	if len(stale) > 0 {
		_ = s.client.ZRem(ctx, indexKey, stale...).Err()
	}
	return out, nil
}

// index updates both sorted sets for data inside a pipeline.
func (s *RedisStore) index(ctx context.Context, pipe redis.Pipeliner, data *craftbot.Session) {
	if data.Status == craftbot.StatusActive {
		pipe.ZAdd(ctx, s.prefix+activeIndexKey, redis.Z{
			Score:  float64(data.ExpiresAt.UnixMilli()),
			Member: data.ID,
		})
	} else {
		pipe.ZRem(ctx, s.prefix+activeIndexKey, data.ID)
	}
	pipe.ZAdd(ctx, s.prefix+recentIndexKey, redis.Z{
		Score:  float64(data.LastActivityAt.UnixMilli()),
		Member: data.ID,
	})
}

// key constructs the Redis key for a session ID.
func (s *RedisStore) key(id string) string {
	return s.prefix + sessionKeyPrefix + id
}

var _ session.Store = (*RedisStore)(nil)
