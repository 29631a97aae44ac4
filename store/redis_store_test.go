package store

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestStore(t *testing.T, namespace string) (*miniredis.Miniredis, *RedisStore) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s := NewRedisStoreFromClient(client, namespace, nil)
	return mr, s
}

func TestRedisStore_HealthCheck(t *testing.T) {
	mr, s := setupTestStore(t, "")
	defer mr.Close()

	assert.NoError(t, s.HealthCheck(context.Background()))

	mr.Close()
	assert.Error(t, s.HealthCheck(context.Background()))
}

func TestRedisStore_Eval_PrefixesKeys(t *testing.T) {
	mr, s := setupTestStore(t, "ns")
	defer mr.Close()

	script := `redis.call('SET', KEYS[1], ARGV[1]) return redis.call('GET', KEYS[1])`
	raw, err := s.Eval(context.Background(), script, []string{"foo"}, "bar")
	require.NoError(t, err)
	assert.Equal(t, "bar", raw)

	// The key actually landed under the namespace prefix.
	assert.Equal(t, "bar", mr.Get("ns:foo"))
}

func TestRedisStore_Eval_NilOnRedisNil(t *testing.T) {
	mr, s := setupTestStore(t, "")
	defer mr.Close()

	script := `return redis.call('GET', KEYS[1])`
	raw, err := s.Eval(context.Background(), script, []string{"missing"})
	require.NoError(t, err)
	assert.Nil(t, raw)
}

func TestRedisStore_NamespaceKey(t *testing.T) {
	mr, s := setupTestStore(t, "ns")
	defer mr.Close()
	assert.Equal(t, "ns:foo", s.NamespaceKey("foo"))

	mr2, s2 := setupTestStore(t, "")
	defer mr2.Close()
	assert.Equal(t, "foo", s2.NamespaceKey("foo"))
}
