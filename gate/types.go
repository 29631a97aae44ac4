// Package gate implements the Client Admission Gate: the library a bot
// process links against to submit every external-API call through the
// arbiter, falling back to the Local Pacer when the arbiter cannot be
// reached.
package gate

import "net/http"

// Request identifies one external call to be admitted. RequestID is
// generated by the gate if left empty.
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

// ExecResult is what the executor closure returns on success.
type ExecResult struct {
	StatusCode int
	Headers    http.Header
}

// Executor performs the actual external-API call. It returns ExecResult on
// success or an error; a non-nil error is reported with status 500.
type Executor func() (ExecResult, error)

// Outcome classifies how a single request_token call resolved.
type Outcome int

const (
	OutcomeGrant Outcome = iota
	OutcomeDeny
	OutcomeFallback
)

// Stats accumulates the gate's local counters.
type Stats struct {
	Denials       int64
	Fallbacks     int64
	ReportFailures int64
}
