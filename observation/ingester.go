package observation

import (
	"context"
	"fmt"
	"strconv"

	"github.com/fleetrate/arbiter/core"
	"github.com/fleetrate/arbiter/store"
)

// Ingester applies observation reports to the shared store. A store error
// here is advisory only: callers should log and drop, never surface the
// failure back to the caller that made the external request.
type Ingester struct {
	store     store.Store
	namespace string
	config    Config
	logger    core.Logger
}

// NewIngester builds an Ingester sharing config and namespace with the
// Evaluator that reads the same bucket_state keys.
func NewIngester(s store.Store, namespace string, config Config, logger core.Logger) *Ingester {
	if logger == nil {
		logger = core.NoOpLogger{}
	}
	return &Ingester{store: s, namespace: namespace, config: config, logger: logger}
}

// Ingest applies report, returning what actually changed. Errors here are
// the caller's cue to increment an internal drop counter rather than fail
// the in-flight call.
func (in *Ingester) Ingest(ctx context.Context, report Report) (Result, error) {
	keys := []string{
		fmt.Sprintf("bucket_map:%s:%s", report.Method, report.RoutePattern),
		fmt.Sprintf("invalid:%s", report.Group),
		fmt.Sprintf("guard:%s", report.Group),
	}

	bucketID := ""
	if report.RateLimitBucket != nil {
		bucketID = *report.RateLimitBucket
	}

	hasFields := report.RateLimitLimit != nil && report.RateLimitRemaining != nil && report.RateLimitResetAfterSec != nil
	var limit, remaining string
	var resetAfterSec float64
	scope := ""
	if hasFields {
		limit = formatFloat(*report.RateLimitLimit)
		remaining = formatFloat(*report.RateLimitRemaining)
		resetAfterSec = *report.RateLimitResetAfterSec
	}
	if report.RateLimitScope != nil {
		scope = *report.RateLimitScope
	}

	ns := in.namespace
	if ns != "" {
		ns += ":"
	}

	isInvalid := "0"
	if report.IsInvalidRequest() {
		isInvalid = "1"
	}
	hasFieldsArg := "0"
	if hasFields {
		hasFieldsArg = "1"
	}

	raw, err := in.store.Eval(ctx, luaScript, keys,
		report.Identity,
		report.MajorParameter,
		bucketID,
		24*60*60*1000, // bucket_map TTL: 24h
		hasFieldsArg,
		limit,
		remaining,
		resetAfterSec,
		scope,
		report.ObservedAtUnixMS,
		isInvalid,
		600*1000, // invalid counter TTL: 600s
		in.config.InvalidThresholdCount,
		in.config.GuardrailCooldownMS,
		ns,
	)
	if err != nil {
		in.logger.ErrorWithContext(ctx, "observation ingest failed", map[string]interface{}{"error": err.Error()})
		return Result{}, err
	}

	return parseResult(raw)
}

func parseResult(raw interface{}) (Result, error) {
	vals, ok := raw.([]interface{})
	if !ok || len(vals) < 4 {
		return Result{}, fmt.Errorf("observation: unexpected script result %#v", raw)
	}
	bucketMapped, _ := asInt64(vals[0])
	bucketWritten, _ := asInt64(vals[1])
	invalidCount, _ := asInt64(vals[2])
	guardTripped, _ := asInt64(vals[3])

	return Result{
		BucketMapped:     bucketMapped == 1,
		BucketStateWrite: bucketWritten == 1,
		InvalidCount:     invalidCount,
		GuardrailTripped: guardTripped == 1,
	}, nil
}

func asInt64(v interface{}) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	default:
		return 0, fmt.Errorf("observation: expected integer, got %T", v)
	}
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
