package arbiter

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetrate/arbiter/observation"
	"github.com/fleetrate/arbiter/permit"
	"github.com/fleetrate/arbiter/store"
)

// TestObservationThenPermit_SeesIdenticalBucketMapping ingests an
// observation report against an empty store and then asks the permit
// evaluator to decide on the same method/route: both must resolve to the
// same bucket id the report carried, and the evaluator's decision must
// reflect the observed remaining count rather than an unmapped bucket.
func TestObservationThenPermit_SeesIdenticalBucketMapping(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s := store.NewRedisStoreFromClient(client, "ns", nil)

	ingester := observation.NewIngester(s, "ns", observation.DefaultConfig(), nil)
	evaluator := permit.NewEvaluator(s, "ns", permit.Limits{GlobalRPS: 50, RouteRPS: 50, MinRetryMS: 50}, nil)

	bucket := "bucket-xyz"
	limit := 5.0
	remaining := 0.0
	resetAfter := 30.0

	report := observation.Report{
		Identity:               "u1",
		Method:                 "GET",
		RoutePattern:           "/a/{id}",
		MajorParameter:         "123",
		StatusCode:             200,
		RateLimitBucket:        &bucket,
		RateLimitLimit:         &limit,
		RateLimitRemaining:     &remaining,
		RateLimitResetAfterSec: &resetAfter,
		ObservedAtUnixMS:       1_000,
	}

	result, err := ingester.Ingest(context.Background(), report)
	require.NoError(t, err)
	assert.True(t, result.BucketMapped)
	assert.True(t, result.BucketStateWrite)

	decision, err := evaluator.Decide(context.Background(), permit.Request{
		Identity:       "u1",
		Method:         "GET",
		RoutePattern:   "/a/{id}",
		MajorParameter: "123",
	}, time.UnixMilli(2_000))
	require.NoError(t, err)

	assert.Equal(t, bucket, decision.BucketID)
	assert.False(t, decision.Granted)
	assert.Equal(t, permit.ReasonBucketExhausted, decision.Reason)
}
