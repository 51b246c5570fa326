package registry

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/angeloszaimis/dispatcher/config"
)

// RedisStore keeps the registry in three Redis hashes.
type RedisStore struct {
	client redis.UniversalClient
}

var _ Store = (*RedisStore)(nil)

func NewRedisStore(cfg config.RedisConfig) *RedisStore {
	return NewRedisStoreFromClient(redis.NewClient(&redis.Options{
		Addr:        fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password:    cfg.Password,
		DB:          cfg.Database,
		PoolSize:    cfg.PoolSize,
		DialTimeout: config.Duration(cfg.DialTimeout),
	}))
}

func NewRedisStoreFromClient(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Exists(ctx context.Context, serviceName string) (bool, error) {
	ok, err := s.client.HExists(ctx, ServiceNamesKey, serviceName).Result()
	if err != nil {
		return false, unavailable(err, "check service %q", serviceName)
	}
	return ok, nil
}

func (s *RedisStore) ListNodes(ctx context.Context, serviceName string) ([]string, error) {
	key := ServiceListKey(serviceName)

	n, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return nil, unavailable(err, "check node list of %q", serviceName)
	}
	if n == 0 {
		return nil, nil
	}

	nodes, err := s.client.HKeys(ctx, key).Result()
	if err != nil {
		return nil, unavailable(err, "list nodes of %q", serviceName)
	}
	return nodes, nil
}

func (s *RedisStore) Increment(ctx context.Context, serviceName string) (int64, error) {
	n, err := s.client.HIncrBy(ctx, ServicePollingKey, serviceName, 1).Result()
	if err != nil {
		return 0, unavailable(err, "increment polling counter of %q", serviceName)
	}
	return n, nil
}

func (s *RedisStore) Set(ctx context.Context, serviceName string, value int64) error {
	if err := s.client.HSet(ctx, ServicePollingKey, serviceName, value).Err(); err != nil {
		return unavailable(err, "reset polling counter of %q", serviceName)
	}
	return nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return unavailable(err, "ping redis")
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
