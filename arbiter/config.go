package arbiter

import (
	"os"
	"time"

	"github.com/fleetrate/arbiter/core"
)

// Config is the Arbiter Service's full configuration, loaded from
// ARBITER_* environment variables with an optional YAML overlay (see
// cmd/arbiterd).
type Config struct {
	BindAddress string
	RedisURL    string
	Namespace   string

	GlobalRPS           int
	RouteRPS            int
	MinRetryMS          int64
	InvalidThreshold    int
	GuardrailCooldownMS int64
	FailOpen            bool

	HTTP    core.HTTPConfig
	Logging core.LoggingConfig
}

// ConfigFromEnv reads Config from ARBITER_* environment variables, applying
// the documented defaults for anything unset.
func ConfigFromEnv() Config {
	httpConfig := core.DefaultHTTPConfig()
	httpConfig.ReadTimeout = core.ParseDurationEnv(os.Getenv("ARBITER_HTTP_READ_TIMEOUT"), httpConfig.ReadTimeout)
	httpConfig.WriteTimeout = core.ParseDurationEnv(os.Getenv("ARBITER_HTTP_WRITE_TIMEOUT"), httpConfig.WriteTimeout)
	httpConfig.IdleTimeout = core.ParseDurationEnv(os.Getenv("ARBITER_HTTP_IDLE_TIMEOUT"), httpConfig.IdleTimeout)
	httpConfig.ShutdownTimeout = core.ParseDurationEnv(os.Getenv("ARBITER_HTTP_SHUTDOWN_TIMEOUT"), httpConfig.ShutdownTimeout)
	httpConfig.MaxHeaderBytes = core.ParseIntEnv(os.Getenv("ARBITER_HTTP_MAX_HEADER_BYTES"), httpConfig.MaxHeaderBytes)

	return Config{
		BindAddress: envOr("ARBITER_BIND_ADDRESS", ":8080"),
		RedisURL:    envOr("ARBITER_REDIS_URL", "redis://localhost:6379/0"),
		Namespace:   envOr("ARBITER_NAMESPACE", "fleetrate"),

		GlobalRPS:           core.ParseIntEnv(os.Getenv("ARBITER_GLOBAL_RPS"), 50),
		RouteRPS:            core.ParseIntEnv(os.Getenv("ARBITER_ROUTE_RPS"), 5),
		MinRetryMS:          int64(core.ParseIntEnv(os.Getenv("ARBITER_MIN_RETRY_MS"), 50)),
		InvalidThreshold:    core.ParseIntEnv(os.Getenv("ARBITER_INVALID_THRESHOLD"), 8000),
		GuardrailCooldownMS: int64(core.ParseIntEnv(os.Getenv("ARBITER_GUARDRAIL_COOLDOWN_MS"), 30000)),
		FailOpen:            core.ParseBoolEnv(os.Getenv("ARBITER_FAIL_OPEN"), true),

		HTTP:    httpConfig,
		Logging: core.LoggingConfig{Level: envOr("ARBITER_LOG_LEVEL", "info"), Format: envOr("ARBITER_LOG_FORMAT", "json"), Output: envOr("ARBITER_LOG_OUTPUT", "stdout")},
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// serverSideWaitCap bounds the optional server-side short wait inside
// request_token regardless of the caller's max_wait_ms.
const serverSideWaitCap = 2 * time.Second
