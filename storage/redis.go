package storage

import (
	"context"
	"fmt"

	json "github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"

	"github.com/eddielth/digitanimal-trans/config"
	"github.com/eddielth/digitanimal-trans/logger"
)

const redisKeyPrefix = "integration_state."

// RedisStore keeps each state as a JSON string value
type RedisStore struct {
	rdb *redis.Client
}

// NewRedisStore connects and pings the server
func NewRedisStore(ctx context.Context, cfg config.RedisConfig) (*RedisStore, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("connect redis %s: %w", cfg.Addr, err)
	}

	logger.Info("init redis state store: %s db=%d", cfg.Addr, cfg.DB)
	return NewRedisStoreFromClient(rdb), nil
}

// NewRedisStoreFromClient wraps an existing client
func NewRedisStoreFromClient(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb}
}

func redisKey(key Key) string { return redisKeyPrefix + key.String() }

func (r *RedisStore) GetState(ctx context.Context, key Key) (State, error) {
	b, err := r.rdb.Get(ctx, redisKey(key)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get state %s: %w", key, err)
	}

	var state State
	if err := json.Unmarshal(b, &state); err != nil {
		return nil, fmt.Errorf("decode state %s: %w", key, err)
	}
	return state, nil
}

func (r *RedisStore) SetState(ctx context.Context, key Key, state State) error {
	b, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("serialize state %s: %w", key, err)
	}
	if err := r.rdb.Set(ctx, redisKey(key), b, 0).Err(); err != nil {
		return fmt.Errorf("set state %s: %w", key, err)
	}
	return nil
}

func (r *RedisStore) Close() error {
	return r.rdb.Close()
}
