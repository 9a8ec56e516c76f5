package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/justestif/go-shorts-feed/internal/domain"
	"github.com/justestif/go-shorts-feed/internal/metrics"
)

const (
	redisKeyPrefix = "shorts:user:"
	redisIndexKey  = "shorts:users"
)

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	Addr     string `yaml:"addr"`     // Redis server address (host:port)
	Password string `yaml:"password"` // Redis password (optional)
	DB       int    `yaml:"db"`       // Redis database number
}

// RedisStore keeps records as JSON strings and indexes ids in a set.
// Writers use WATCH/MULTI and retry when another writer touched the same key.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	return &RedisStore{client: client}, nil
}

func redisKey(userID string) string {
	return redisKeyPrefix + userID
}

// Get returns the stored record.
func (s *RedisStore) Get(ctx context.Context, userID string) (*domain.UserRecord, error) {
	data, err := s.client.Get(ctx, redisKey(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, notFound(userID)
	}
	if err != nil {
		return nil, fmt.Errorf("reading user %s: %w", userID, err)
	}
	return decodeRecord(data)
}

// Mutate applies fn to an existing record.
func (s *RedisStore) Mutate(ctx context.Context, userID string, fn MutateFunc) (*domain.UserRecord, error) {
	return s.mutate(ctx, userID, false, fn)
}

// Upsert applies fn, creating the record if needed.
func (s *RedisStore) Upsert(ctx context.Context, userID string, fn MutateFunc) (*domain.UserRecord, error) {
	return s.mutate(ctx, userID, true, fn)
}

func (s *RedisStore) mutate(ctx context.Context, userID string, create bool, fn MutateFunc) (*domain.UserRecord, error) {
	key := redisKey(userID)

	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		var out *domain.UserRecord
		var fnErr error

		err := s.client.Watch(ctx, func(tx *redis.Tx) error {
			var cur *domain.UserRecord
			data, err := tx.Get(ctx, key).Bytes()
			switch {
			case errors.Is(err, redis.Nil):
			case err != nil:
				return err
			default:
				if cur, err = decodeRecord(data); err != nil {
					return err
				}
			}

			next, err := apply(userID, cur, create, fn)
			if err != nil {
				fnErr = err
				return err
			}
			buf, err := json.Marshal(next)
			if err != nil {
				return fmt.Errorf("encoding user: %w", err)
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, buf, 0)
				pipe.SAdd(ctx, redisIndexKey, userID)
				return nil
			})
			if err == nil {
				out = next
			}
			return err
		}, key)

		switch {
		case err == nil:
			return out, nil
		case fnErr != nil:
			return nil, fnErr
		case errors.Is(err, redis.TxFailedErr):
			metrics.IncStoreConflict(BackendRedis)
			continue
		default:
			return nil, writeFailure(userID, err)
		}
	}
	return nil, writeFailure(userID, redis.TxFailedErr)
}

// IDs lists stored user ids in sorted order.
func (s *RedisStore) IDs(ctx context.Context) ([]string, error) {
	ids, err := s.client.SMembers(ctx, redisIndexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("listing users: %w", err)
	}
	slices.Sort(ids)
	return ids, nil
}

// Close closes the client.
func (s *RedisStore) Close() error { return s.client.Close() }

var _ Store = (*RedisStore)(nil)
