package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/fleetrate/arbiter/core"
)

// RedisStore implements Store on top of go-redis: a single client, a key
// namespace prefix, a Ping-based health check, and Lua scripts cached by
// source so EVALSHA is used after the first call.
type RedisStore struct {
	client    *redis.Client
	namespace string
	logger    core.Logger

	scriptsMu sync.Mutex
	scripts   map[string]*redis.Script
}

// Options configures a RedisStore.
type Options struct {
	RedisURL  string
	Namespace string // key prefix, e.g. "arbiter"
	Logger    core.Logger
}

// NewRedisStore connects to Redis and verifies reachability with Ping.
func NewRedisStore(opts Options) (*RedisStore, error) {
	if opts.Logger == nil {
		opts.Logger = core.NoOpLogger{}
	}
	if opts.RedisURL == "" {
		return nil, core.Wrap("store.NewRedisStore", core.ErrMissingConfiguration)
	}

	redisOpt, err := redis.ParseURL(opts.RedisURL)
	if err != nil {
		return nil, core.Wrap("store.NewRedisStore", fmt.Errorf("%w: %v", core.ErrInvalidConfiguration, err))
	}

	client := redis.NewClient(redisOpt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, core.Wrap("store.NewRedisStore", fmt.Errorf("%w: %v", core.ErrStoreUnavailable, err))
	}

	s := &RedisStore{
		client:    client,
		namespace: opts.Namespace,
		logger:    opts.Logger,
		scripts:   make(map[string]*redis.Script),
	}
	s.logger.Info("redis store connected", map[string]interface{}{"namespace": opts.Namespace})
	return s, nil
}

// NewRedisStoreFromClient wraps an already-constructed *redis.Client. Used by
// tests to point a RedisStore at a miniredis instance.
func NewRedisStoreFromClient(client *redis.Client, namespace string, logger core.Logger) *RedisStore {
	if logger == nil {
		logger = core.NoOpLogger{}
	}
	return &RedisStore{client: client, namespace: namespace, logger: logger, scripts: make(map[string]*redis.Script)}
}

func (s *RedisStore) formatKey(key string) string {
	if s.namespace == "" {
		return key
	}
	return s.namespace + ":" + key
}

func (s *RedisStore) scriptFor(source string) *redis.Script {
	s.scriptsMu.Lock()
	defer s.scriptsMu.Unlock()
	if sc, ok := s.scripts[source]; ok {
		return sc
	}
	sc := redis.NewScript(source)
	s.scripts[source] = sc
	return sc
}

// Eval prefixes every key with the store's namespace and runs script via
// EVALSHA (falling back to EVAL on NOSCRIPT), giving callers the atomic
// check-and-mutate semantics APS and OI require.
func (s *RedisStore) Eval(ctx context.Context, script string, keys []string, args ...interface{}) (interface{}, error) {
	prefixed := make([]string, len(keys))
	for i, k := range keys {
		prefixed[i] = s.formatKey(k)
	}

	res, err := s.scriptFor(script).Run(ctx, s.client, prefixed, args...).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		s.logger.ErrorWithContext(ctx, "store eval failed", map[string]interface{}{"error": err.Error()})
		return nil, core.Wrap("store.Eval", fmt.Errorf("%w: %v", core.ErrStoreUnavailable, err))
	}
	return res, nil
}

// HealthCheck verifies Redis connectivity.
func (s *RedisStore) HealthCheck(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return core.Wrap("store.HealthCheck", fmt.Errorf("%w: %v", core.ErrStoreUnavailable, err))
	}
	return nil
}

// Close closes the underlying Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// NamespaceKey formats a logical key the way the store itself would, for
// callers (tests, OI) that need to read a key back with a raw client.
func (s *RedisStore) NamespaceKey(key string) string {
	return s.formatKey(key)
}
