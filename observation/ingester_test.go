package observation

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetrate/arbiter/store"
)

func newTestIngester(t *testing.T, cfg Config) (*miniredis.Miniredis, *redis.Client, *store.RedisStore, *Ingester) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s := store.NewRedisStoreFromClient(client, "ns", nil)
	return mr, client, s, NewIngester(s, "ns", cfg, nil)
}

func floatPtr(f float64) *float64 { return &f }
func strPtr(s string) *string     { return &s }

func TestIngester_BucketMapping(t *testing.T) {
	mr, client, s, in := newTestIngester(t, DefaultConfig())
	defer mr.Close()

	bucket := "bucket-1"
	report := Report{
		Method: "GET", RoutePattern: "/a", Group: "g", Identity: "X", MajorParameter: "m",
		StatusCode:             200,
		RateLimitBucket:        &bucket,
		RateLimitLimit:         floatPtr(10),
		RateLimitRemaining:     floatPtr(9),
		RateLimitResetAfterSec: floatPtr(1),
		RateLimitScope:         strPtr("user"),
		ObservedAtUnixMS:       1000,
	}

	result, err := in.Ingest(context.Background(), report)
	require.NoError(t, err)
	assert.True(t, result.BucketMapped)
	assert.True(t, result.BucketStateWrite)

	mapped, err := client.Get(context.Background(), s.NamespaceKey("bucket_map:GET:/a")).Result()
	require.NoError(t, err)
	assert.Equal(t, bucket, mapped)
}

func TestIngester_RejectsStaleWrite(t *testing.T) {
	mr, client, s, in := newTestIngester(t, DefaultConfig())
	defer mr.Close()
	ctx := context.Background()

	bucket := "bucket-1"
	newer := Report{
		Method: "GET", RoutePattern: "/a", Group: "g", Identity: "X", MajorParameter: "m",
		StatusCode: 200, RateLimitBucket: &bucket,
		RateLimitLimit: floatPtr(10), RateLimitRemaining: floatPtr(5), RateLimitResetAfterSec: floatPtr(1),
		ObservedAtUnixMS: 2000,
	}
	_, err := in.Ingest(ctx, newer)
	require.NoError(t, err)

	stale := newer
	stale.RateLimitRemaining = floatPtr(9)
	stale.ObservedAtUnixMS = 1000
	result, err := in.Ingest(ctx, stale)
	require.NoError(t, err)
	assert.False(t, result.BucketStateWrite, "an older observed_at must not overwrite newer state")

	remaining, err := client.HGet(ctx, s.NamespaceKey("bucket_state:X:bucket-1:m"), "remaining").Result()
	require.NoError(t, err)
	assert.Equal(t, "5", remaining)
}

func TestIngester_SharedScope429Ignored(t *testing.T) {
	mr, _, _, in := newTestIngester(t, Config{InvalidThresholdCount: 3, GuardrailCooldownMS: 30000})
	defer mr.Close()
	ctx := context.Background()

	scope := "shared"
	for i := 0; i < 5; i++ {
		report := Report{
			Method: "GET", RoutePattern: "/a", Group: "g", Identity: "X", MajorParameter: "m",
			StatusCode: 429, RateLimitScope: &scope, ObservedAtUnixMS: int64(i),
		}
		result, err := in.Ingest(ctx, report)
		require.NoError(t, err)
		assert.False(t, result.GuardrailTripped)
		assert.Equal(t, int64(0), result.InvalidCount)
	}
}

func TestIngester_GuardrailTrips(t *testing.T) {
	mr, _, _, in := newTestIngester(t, Config{InvalidThresholdCount: 3, GuardrailCooldownMS: 30000})
	defer mr.Close()
	ctx := context.Background()

	scope := "user"
	var last Result
	for i := 0; i < 3; i++ {
		report := Report{
			Method: "GET", RoutePattern: "/a", Group: "G", Identity: "X", MajorParameter: "m",
			StatusCode: 429, RateLimitScope: &scope, ObservedAtUnixMS: int64(i),
		}
		var err error
		last, err = in.Ingest(ctx, report)
		require.NoError(t, err)
	}
	assert.Equal(t, int64(3), last.InvalidCount)
	assert.True(t, last.GuardrailTripped)
}

func TestReport_IsInvalidRequest(t *testing.T) {
	shared := "shared"
	user := "user"
	cases := []struct {
		name string
		r    Report
		want bool
	}{
		{"401 always invalid", Report{StatusCode: 401}, true},
		{"403 always invalid", Report{StatusCode: 403}, true},
		{"429 shared ignored", Report{StatusCode: 429, RateLimitScope: &shared}, false},
		{"429 user counts", Report{StatusCode: 429, RateLimitScope: &user}, true},
		{"429 no scope counts", Report{StatusCode: 429}, true},
		{"200 never invalid", Report{StatusCode: 200}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.r.IsInvalidRequest())
		})
	}
}
