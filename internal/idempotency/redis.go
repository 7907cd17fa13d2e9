package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps idempotency records as JSON values that expire after the
// TTL window.
type RedisStore struct {
	client    redis.UniversalClient
	prefix    string
	ttlWindow time.Duration
	nowFunc   func() time.Time
}

var _ Store = (*RedisStore)(nil)

func NewRedisStore(client redis.UniversalClient, ttlWindow time.Duration) *RedisStore {
	return &RedisStore{
		client:    client,
		prefix:    "idempotency:",
		ttlWindow: ttlWindow,
		nowFunc:   time.Now,
	}
}

// CreateIfNotExists claims the key under WATCH so that two callers racing on
// a FAILED record cannot both take it over.
func (s *RedisStore) CreateIfNotExists(ctx context.Context, key, orderID string) (bool, error) {
	now := s.nowFunc()
	rec := Record{
		IdempotencyKey: key,
		Status:         StatusInProgress,
		OrderID:        orderID,
		CreatedAt:      now,
		UpdatedAt:      now,
		ExpiresAt:      now.Add(s.ttlWindow).Unix(),
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return false, fmt.Errorf("marshal record: %w", err)
	}

	rk := s.redisKey(key)
	created := false
	err = s.client.Watch(ctx, func(tx *redis.Tx) error {
		existing, err := getRecord(ctx, tx, rk)
		if err != nil {
			return err
		}
		if existing != nil && existing.Status != StatusFailed {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, rk, data, s.ttlWindow)
			return nil
		})
		if err != nil {
			return err
		}
		created = true
		return nil
	}, rk)
	if errors.Is(err, redis.TxFailedErr) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("redis claim %s: %w", key, err)
	}
	return created, nil
}

func (s *RedisStore) Get(ctx context.Context, key string) (*Record, error) {
	rec, err := getRecord(ctx, s.client, s.redisKey(key))
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", key, err)
	}
	return rec, nil
}

func (s *RedisStore) MarkDone(ctx context.Context, key, responseBody string, responseStatus int) error {
	return s.update(ctx, key, func(rec *Record) {
		rec.Status = StatusDone
		rec.ResponseBody = responseBody
		rec.ResponseStatus = responseStatus
	})
}

func (s *RedisStore) MarkFailed(ctx context.Context, key, note string) error {
	return s.update(ctx, key, func(rec *Record) {
		rec.Status = StatusFailed
		rec.Note = note
	})
}

func (s *RedisStore) Release(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.redisKey(key)).Err(); err != nil {
		return fmt.Errorf("redis delete %s: %w", key, err)
	}
	return nil
}

// update rewrites the record in place, keeping its remaining TTL.
func (s *RedisStore) update(ctx context.Context, key string, fn func(*Record)) error {
	rk := s.redisKey(key)
	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		rec, err := getRecord(ctx, tx, rk)
		if err != nil {
			return err
		}
		if rec == nil {
			rec = &Record{IdempotencyKey: key, CreatedAt: s.nowFunc()}
		}
		fn(rec)
		rec.UpdatedAt = s.nowFunc()
		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("marshal record: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, rk, data, redis.KeepTTL)
			return nil
		})
		return err
	}, rk)
	if err != nil {
		return fmt.Errorf("redis update %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) redisKey(key string) string {
	return s.prefix + key
}

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func getRecord(ctx context.Context, c getter, rk string) (*Record, error) {
	data, err := c.Get(ctx, rk).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal record: %w", err)
	}
	return &rec, nil
}
