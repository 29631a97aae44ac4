package arbiter

// PermitRequestBody is the request_token wire payload.
type PermitRequestBody struct {
	ClientID       string `json:"client_id"`
	GroupID        string `json:"group_id"`
	DiscordIdentity string `json:"discord_identity"`
	Method         string `json:"method"`
	Route          string `json:"route"`
	MajorParameter string `json:"major_parameter"`
	Priority       string `json:"priority"`
	MaxWaitMS      int    `json:"max_wait_ms"`
	RequestID      string `json:"request_id"`
}

// PermitResponseBody is the request_token response. LeaseID is an opaque
// handle generated on every grant, for correlation between the permit that
// authorized a call and the report_result that later describes its outcome.
type PermitResponseBody struct {
	Granted         bool    `json:"granted"`
	NotBeforeUnixMS int64   `json:"not_before_unix_ms"`
	RetryAfterMS    *int64  `json:"retry_after_ms,omitempty"`
	LeaseID         *string `json:"lease_id"`
	Reason          string  `json:"reason"`
}

// ObservationReportBody is the report_result wire payload.
type ObservationReportBody struct {
	ClientID       string `json:"client_id"`
	GroupID        string `json:"group_id"`
	DiscordIdentity string `json:"discord_identity"`
	Method         string `json:"method"`
	Route          string `json:"route"`
	MajorParameter string `json:"major_parameter"`
	RequestID      string `json:"request_id"`

	StatusCode int `json:"status_code"`

	RateLimitBucket        *string  `json:"x_ratelimit_bucket"`
	RateLimitLimit         *float64 `json:"x_ratelimit_limit"`
	RateLimitRemaining     *float64 `json:"x_ratelimit_remaining"`
	RateLimitResetAfterSec *float64 `json:"x_ratelimit_reset_after_s"`
	RateLimitScope         *string  `json:"x_ratelimit_scope"`

	RetryAfterMS   *int64  `json:"retry_after_ms"`
	FallbackReason *string `json:"fallback_reason"`
	LeaseID        *string `json:"lease_id"`

	ObservedAtUnixMS int64 `json:"observed_at_unix_ms"`
}

// ReportResultResponseBody is always {"ok":true}; report_result never
// surfaces ingestion failures to the caller.
type ReportResultResponseBody struct {
	OK bool `json:"ok"`
}

// HealthResponseBody is the /healthz payload.
type HealthResponseBody struct {
	Status string `json:"status"`
}
