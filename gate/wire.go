package gate

// permitRequestWire and permitResponseWire mirror the arbiter's documented
// wire contract. Gate keeps its own copy rather than importing the arbiter
// package: it is a separate deployable talking JSON over HTTP, the same
// way any other language's client would.
type permitRequestWire struct {
	ClientID        string `json:"client_id"`
	GroupID         string `json:"group_id"`
	DiscordIdentity string `json:"discord_identity"`
	Method          string `json:"method"`
	Route           string `json:"route"`
	MajorParameter  string `json:"major_parameter"`
	Priority        string `json:"priority"`
	MaxWaitMS       int    `json:"max_wait_ms"`
	RequestID       string `json:"request_id"`
}

type permitResponseWire struct {
	Granted         bool    `json:"granted"`
	NotBeforeUnixMS int64   `json:"not_before_unix_ms"`
	RetryAfterMS    *int64  `json:"retry_after_ms"`
	LeaseID         *string `json:"lease_id"`
	Reason          string  `json:"reason"`
}

type observationReportWire struct {
	ClientID        string `json:"client_id"`
	GroupID         string `json:"group_id"`
	DiscordIdentity string `json:"discord_identity"`
	Method          string `json:"method"`
	Route           string `json:"route"`
	MajorParameter  string `json:"major_parameter"`
	RequestID       string `json:"request_id"`

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
