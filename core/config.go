package core

import (
	"strconv"
	"time"
)

// HTTPConfig holds the HTTP server knobs shared by the arbiter service.
type HTTPConfig struct {
	ReadTimeout       time.Duration `json:"read_timeout" env:"ARBITER_HTTP_READ_TIMEOUT" default:"10s"`
	WriteTimeout      time.Duration `json:"write_timeout" env:"ARBITER_HTTP_WRITE_TIMEOUT" default:"10s"`
	IdleTimeout       time.Duration `json:"idle_timeout" env:"ARBITER_HTTP_IDLE_TIMEOUT" default:"120s"`
	ShutdownTimeout   time.Duration `json:"shutdown_timeout" env:"ARBITER_HTTP_SHUTDOWN_TIMEOUT" default:"10s"`
	MaxHeaderBytes    int           `json:"max_header_bytes" env:"ARBITER_HTTP_MAX_HEADER_BYTES" default:"1048576"`
}

// DefaultHTTPConfig returns sane defaults for the arbiter's HTTP server.
func DefaultHTTPConfig() HTTPConfig {
	return HTTPConfig{
		ReadTimeout:     10 * time.Second,
		WriteTimeout:    10 * time.Second,
		IdleTimeout:     120 * time.Second,
		ShutdownTimeout: 10 * time.Second,
		MaxHeaderBytes:  1 << 20,
	}
}

// ParseBoolEnv parses a boolean env value in any form strconv.ParseBool
// accepts ("true"/"1"/"t", "false"/"0"/"f", ...), defaulting to def when the
// string is empty or unrecognized.
func ParseBoolEnv(v string, def bool) bool {
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

// ParseIntEnv parses an integer env value, defaulting to def on empty or
// malformed input.
func ParseIntEnv(v string, def int) int {
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// ParseDurationEnv parses a time.Duration env value (e.g. "1500ms"),
// defaulting to def on empty or malformed input.
func ParseDurationEnv(v string, def time.Duration) time.Duration {
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
