package gate

import "errors"

// ErrRetryExhausted is returned when the permit deny/retry loop hits
// maxRetries without ever being granted.
var ErrRetryExhausted = errors.New("gate: retry attempts exhausted")

// ErrOrchestratorDown tags a classified fallback caused by the arbiter
// being unreachable or returning a non-success status, as opposed to a
// legitimate permit denial.
var ErrOrchestratorDown = errors.New("gate: arbiter unreachable")
