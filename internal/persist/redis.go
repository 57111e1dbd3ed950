package persist

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/go-redis/redis/v8"
)

const RedisKeyPrefix = "epc:state:"

// RedisStore keeps the blob as a plain string value.
type RedisStore struct {
	redisClient *redis.Client
	key         string
	logger      *slog.Logger
}

func NewRedisStore(redisClient *redis.Client, key string, logger *slog.Logger) *RedisStore {
	return &RedisStore{
		redisClient: redisClient,
		key:         RedisKeyPrefix + key,
		logger:      logger,
	}
}

// OpenRedis parses redisURL, connects and pings.
func OpenRedis(ctx context.Context, redisURL, key string, logger *slog.Logger) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: ping redis: %w", ErrPersistenceUnavailable, err)
	}
	logger.InfoContext(ctx, "Redis state store connected", slog.String("addr", opts.Addr))
	return NewRedisStore(client, key, logger), nil
}

func (r *RedisStore) Load(ctx context.Context) ([]byte, error) {
	blob, err := r.redisClient.Get(ctx, r.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		r.logger.ErrorContext(ctx, "Failed to load state", "key", r.key, "error", err)
		return nil, fmt.Errorf("%w: load %q: %w", ErrPersistenceUnavailable, r.key, err)
	}
	return blob, nil
}

func (r *RedisStore) Store(ctx context.Context, blob []byte) error {
	if err := r.redisClient.Set(ctx, r.key, blob, 0).Err(); err != nil {
		r.logger.ErrorContext(ctx, "Failed to store state", "key", r.key, "error", err)
		return fmt.Errorf("%w: store %q: %w", ErrPersistenceUnavailable, r.key, err)
	}
	r.logger.DebugContext(ctx, "State stored", "key", r.key, "bytes", len(blob))
	return nil
}

func (r *RedisStore) Close() error {
	return r.redisClient.Close()
}

var _ BlobStore = (*RedisStore)(nil)
