// Package permit implements the Atomic Permit Script: the single
// indivisible check-and-mutate decision that composes the guardrail,
// observed-bucket, global, and route limit scopes.
package permit

import "time"

// Reason codes returned by the arbiter.
const (
	ReasonOK                    = "ok"
	ReasonGlobalExhausted       = "global_bucket_exhausted"
	ReasonRouteExhausted        = "route_bucket_exhausted"
	ReasonBucketExhausted       = "bucket_exhausted"
	ReasonGuardrailActive       = "invalid_guardrail_active"
	ReasonStoreUnavailable      = "scs_unavailable"
)

// Request carries everything the permit script needs to key its lookups.
// The permit script does not read ClientID, Priority, MaxWaitMS or
// RequestID; the arbiter service uses MaxWaitMS for its optional server-side
// wait, and Priority is carried along without being acted on.
type Request struct {
	ClientID       string
	Group          string
	Identity       string
	Method         string
	RoutePattern   string
	MajorParameter string
	Priority       string
	MaxWaitMS      int
	RequestID      string
}

// Decision is the permit script's output, minus the transport fields the
// arbiter service adds such as lease_id and not_before_unix_ms.
type Decision struct {
	Granted      bool
	RetryAfterMS int64
	Reason       string
	BucketID     string // resolved bucket id, if any; "" when unknown
}

// Limits configures the permit script's rate caps.
type Limits struct {
	GlobalRPS  int
	RouteRPS   int
	MinRetryMS int64
}

// DefaultLimits matches the arbiter's documented defaults.
func DefaultLimits() Limits {
	return Limits{GlobalRPS: 50, RouteRPS: 5, MinRetryMS: 50}
}

// NowMS returns the current wall-clock time in epoch milliseconds, the unit
// every timestamp in this subsystem uses.
func NowMS(t time.Time) int64 {
	return t.UnixMilli()
}
