package redisstore

import (
	"context"
	"errors"
	"fmt"

	"qms/patient-queue/internal/store"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

const maxTxRetries = 100

type Options struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
	Logger   *zap.Logger
}

// Store keeps each key as a redis string. Mutations are optimistic
// WATCH/MULTI transactions; every write bumps a version counter and publishes
// the key name on the change channel.
type Store struct {
	client *redis.Client
	prefix string
	logger *zap.Logger
}

func New(options Options) *Store {
	client := redis.NewClient(&redis.Options{
		Addr:     options.Addr,
		Password: options.Password,
		DB:       options.DB,
	})
	return NewWithClient(client, options.Prefix, options.Logger)
}

func NewWithClient(client *redis.Client, prefix string, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{client: client, prefix: prefix, logger: logger}
}

func (s *Store) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: ping redis: %v", store.ErrStorageUnavailable, err)
	}
	return nil
}

func (s *Store) Read(ctx context.Context, key string) ([]byte, error) {
	value, err := s.client.Get(ctx, s.dataKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get %s: %v", store.ErrStorageUnavailable, key, err)
	}
	return value, nil
}

func (s *Store) Write(ctx context.Context, key string, value []byte) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		s.queueWrite(ctx, pipe, key, value)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: set %s: %v", store.ErrStorageUnavailable, key, err)
	}
	return nil
}

func (s *Store) Mutate(ctx context.Context, key string, fn store.MutateFunc) error {
	dataKey := s.dataKey(key)
	for attempt := 0; attempt < maxTxRetries; attempt++ {
		var fnErr error
		err := s.client.Watch(ctx, func(tx *redis.Tx) error {
			current, err := tx.Get(ctx, dataKey).Bytes()
			if err != nil && !errors.Is(err, redis.Nil) {
				return err
			}
			next, err := fn(current)
			if err != nil {
				fnErr = err
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				s.queueWrite(ctx, pipe, key, next)
				return nil
			})
			return err
		}, dataKey)
		switch {
		case fnErr != nil:
			return fnErr
		case errors.Is(err, redis.TxFailedErr):
			s.logger.Debug("redis mutate conflict, retrying", zap.String("key", key), zap.Int("attempt", attempt+1))
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			continue
		case err != nil:
			return fmt.Errorf("%w: mutate %s: %v", store.ErrStorageUnavailable, key, err)
		}
		return nil
	}
	return fmt.Errorf("%w: mutate %s: too many conflicting writers", store.ErrStorageUnavailable, key)
}

func (s *Store) Version(ctx context.Context, key string) (string, error) {
	version, err := s.client.Get(ctx, s.versionKey(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "0", nil
	}
	if err != nil {
		return "", fmt.Errorf("%w: version %s: %v", store.ErrStorageUnavailable, key, err)
	}
	return version, nil
}

func (s *Store) Watch(ctx context.Context, key string) (<-chan struct{}, error) {
	pubsub := s.client.Subscribe(ctx, s.channel())
	messages := pubsub.Channel()
	out := make(chan struct{}, 1)

	go func() {
		defer close(out)
		defer pubsub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-messages:
				if !ok {
					return
				}
				if msg.Payload != key {
					continue
				}
				select {
				case out <- struct{}{}:
				default:
				}
			}
		}
	}()
	return out, nil
}

func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) queueWrite(ctx context.Context, pipe redis.Pipeliner, key string, value []byte) {
	pipe.Set(ctx, s.dataKey(key), value, 0)
	pipe.Incr(ctx, s.versionKey(key))
	pipe.Publish(ctx, s.channel(), key)
}

func (s *Store) dataKey(key string) string {
	return s.prefix + key
}

func (s *Store) versionKey(key string) string {
	return s.prefix + key + ":version"
}

func (s *Store) channel() string {
	return s.prefix + "changed"
}
