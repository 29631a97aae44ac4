package core

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

// LoggingConfig controls the ProductionLogger's output format and level.
type LoggingConfig struct {
	Level  string `json:"level" env:"ARBITER_LOG_LEVEL" default:"info"`
	Format string `json:"format" env:"ARBITER_LOG_FORMAT" default:"json"`
	Output string `json:"output" env:"ARBITER_LOG_OUTPUT" default:"stdout"`
}

// ProductionLogger is a small structured logger: JSON lines in production,
// human-readable lines when Format is anything else. It has no external
// dependency because every component in this repo only needs leveled,
// field-tagged log lines, not a full logging framework.
type ProductionLogger struct {
	level     string
	debug     bool
	component string
	format    string
	output    io.Writer
}

// NewLogger builds a ProductionLogger for the given component name
// (e.g. "arbiter", "gate", "pacer") from a LoggingConfig.
func NewLogger(cfg LoggingConfig, component string) Logger {
	var output io.Writer = os.Stdout
	if cfg.Output == "stderr" {
		output = os.Stderr
	}
	level := strings.ToLower(cfg.Level)
	if level == "" {
		level = "info"
	}
	return &ProductionLogger{
		level:     level,
		debug:     level == "debug",
		component: component,
		format:    cfg.Format,
		output:    output,
	}
}

func (p *ProductionLogger) Info(msg string, fields map[string]interface{}) {
	p.logEvent("INFO", msg, fields, nil)
}
func (p *ProductionLogger) InfoWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	p.logEvent("INFO", msg, fields, ctx)
}
func (p *ProductionLogger) Error(msg string, fields map[string]interface{}) {
	p.logEvent("ERROR", msg, fields, nil)
}
func (p *ProductionLogger) ErrorWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	p.logEvent("ERROR", msg, fields, ctx)
}
func (p *ProductionLogger) Warn(msg string, fields map[string]interface{}) {
	p.logEvent("WARN", msg, fields, nil)
}
func (p *ProductionLogger) WarnWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	p.logEvent("WARN", msg, fields, ctx)
}
func (p *ProductionLogger) Debug(msg string, fields map[string]interface{}) {
	if p.debug {
		p.logEvent("DEBUG", msg, fields, nil)
	}
}
func (p *ProductionLogger) DebugWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	if p.debug {
		p.logEvent("DEBUG", msg, fields, ctx)
	}
}

func (p *ProductionLogger) logEvent(level, msg string, fields map[string]interface{}, ctx context.Context) {
	timestamp := time.Now().Format(time.RFC3339)

	if p.format == "json" {
		entry := map[string]interface{}{
			"timestamp": timestamp,
			"level":     level,
			"component": p.component,
			"message":   msg,
		}
		if ctx != nil {
			if rid := RequestIDFromContext(ctx); rid != "" {
				entry["request_id"] = rid
			}
		}
		for k, v := range fields {
			entry[k] = v
		}
		if data, err := json.Marshal(entry); err == nil {
			fmt.Fprintln(p.output, string(data))
		}
		return
	}

	var fieldStr strings.Builder
	if len(fields) > 0 {
		fieldStr.WriteString(" ")
		for k, v := range fields {
			fieldStr.WriteString(fmt.Sprintf("%s=%v ", k, v))
		}
	}
	reqInfo := ""
	if ctx != nil {
		if rid := RequestIDFromContext(ctx); rid != "" {
			reqInfo = fmt.Sprintf("[req=%s] ", rid)
		}
	}
	fmt.Fprintf(p.output, "%s [%s] [%s] %s%s%s\n", timestamp, level, p.component, reqInfo, msg, fieldStr.String())
}

type requestIDKey struct{}

// WithRequestID attaches a request id to the context for log correlation.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestIDFromContext returns the request id previously attached with
// WithRequestID, or "" if none is present.
func RequestIDFromContext(ctx context.Context) string {
	v, _ := ctx.Value(requestIDKey{}).(string)
	return v
}
