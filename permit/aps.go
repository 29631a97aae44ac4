package permit

import (
	"context"
	"fmt"
	"time"

	"github.com/fleetrate/arbiter/core"
	"github.com/fleetrate/arbiter/store"
)

const (
	counterTTL = 1500 * time.Millisecond // keep counter keys alive slightly past their 1s window
)

// Evaluator runs the Atomic Permit Script against a Store.
type Evaluator struct {
	store     store.Store
	namespace string
	limits    Limits
	logger    core.Logger
}

// NewEvaluator builds an Evaluator. namespace must match the prefix the
// caller's observation.Ingester uses, since both read/write the same
// bucket_state keys.
func NewEvaluator(s store.Store, namespace string, limits Limits, logger core.Logger) *Evaluator {
	if logger == nil {
		logger = core.NoOpLogger{}
	}
	return &Evaluator{store: s, namespace: namespace, limits: limits, logger: logger}
}

// Decide runs the permit script for req at time now, returning the
// composed decision across all four limit scopes.
func (e *Evaluator) Decide(ctx context.Context, req Request, now time.Time) (Decision, error) {
	nowMS := now.UnixMilli()
	second := nowMS / 1000
	secondBoundary := (second + 1) * 1000

	ns := e.namespace
	if ns != "" {
		ns += ":"
	}

	keys := []string{
		fmt.Sprintf("guard:%s", req.Group),
		fmt.Sprintf("bucket_map:%s:%s", req.Method, req.RoutePattern),
		fmt.Sprintf("global:%s:%d", req.Identity, second),
		fmt.Sprintf("route:%s:%s:%s:%s:%d", req.Identity, req.Method, req.RoutePattern, req.MajorParameter, second),
	}

	raw, err := e.store.Eval(ctx, luaScript, keys,
		req.Identity,
		req.MajorParameter,
		nowMS,
		e.limits.GlobalRPS,
		e.limits.RouteRPS,
		e.limits.MinRetryMS,
		secondBoundary,
		counterTTL.Milliseconds(),
		counterTTL.Milliseconds(),
		ns,
	)
	if err != nil {
		return Decision{}, err
	}

	return parseResult(raw)
}

func parseResult(raw interface{}) (Decision, error) {
	vals, ok := raw.([]interface{})
	if !ok || len(vals) < 4 {
		return Decision{}, fmt.Errorf("permit: unexpected script result %#v", raw)
	}

	granted, err := asInt64(vals[0])
	if err != nil {
		return Decision{}, err
	}
	retryAfter, err := asInt64(vals[1])
	if err != nil {
		return Decision{}, err
	}
	reason, _ := vals[2].(string)
	bucketID, _ := vals[3].(string)

	return Decision{
		Granted:      granted == 1,
		RetryAfterMS: retryAfter,
		Reason:       reason,
		BucketID:     bucketID,
	}, nil
}

func asInt64(v interface{}) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	default:
		return 0, fmt.Errorf("permit: expected integer, got %T", v)
	}
}
