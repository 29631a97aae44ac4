package gate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/fleetrate/arbiter/core"
	"github.com/fleetrate/arbiter/pacer"
)

// Config configures a Gate's retry/timeout policy.
type Config struct {
	ArbiterBaseURL  string
	MinRetryMS      int64
	MaxRetries      int
	ConfiguredTimeout time.Duration
}

// DefaultConfig matches the documented defaults.
func DefaultConfig(arbiterBaseURL string) Config {
	return Config{
		ArbiterBaseURL:    arbiterBaseURL,
		MinRetryMS:        50,
		MaxRetries:        100,
		ConfiguredTimeout: 5 * time.Second,
	}
}

// Gate is the Client Admission Gate: one instance is shared across all
// external calls made by a bot process.
type Gate struct {
	config Config
	client *http.Client
	pacer  *pacer.Pacer
	logger core.Logger
	stats  Stats
}

// New builds a Gate. The returned Gate owns a Local Pacer fallback and must
// be Closed to stop its cleanup goroutine.
func New(config Config, logger core.Logger) *Gate {
	if logger == nil {
		logger = core.NoOpLogger{}
	}
	if config.MinRetryMS <= 0 {
		config.MinRetryMS = 50
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = 100
	}
	if config.ConfiguredTimeout <= 0 {
		config.ConfiguredTimeout = 5 * time.Second
	}
	return &Gate{
		config: config,
		client: &http.Client{},
		pacer:  pacer.New(pacer.DefaultConfig()),
		logger: logger,
	}
}

// Close stops the fallback pacer's cleanup goroutine.
func (g *Gate) Close() {
	g.pacer.Stop()
}

// Stats returns a snapshot of the gate's local counters.
func (g *Gate) Stats() Stats {
	return Stats{
		Denials:        atomic.LoadInt64(&g.stats.Denials),
		Fallbacks:      atomic.LoadInt64(&g.stats.Fallbacks),
		ReportFailures: atomic.LoadInt64(&g.stats.ReportFailures),
	}
}

// WithPermit admits req through the arbiter (or the local pacer on
// fallback), runs exec, and always attempts to report the observed outcome
// before returning.
func (g *Gate) WithPermit(ctx context.Context, req Request, exec Executor) (ExecResult, error) {
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}

	timeout := g.config.ConfiguredTimeout
	if maxWait := time.Duration(req.MaxWaitMS)*time.Millisecond + 500*time.Millisecond; maxWait > timeout {
		timeout = maxWait
	}

	for attempt := 0; ; attempt++ {
		outcome, retryAfterMS, fallbackReason, leaseID, err := g.requestToken(ctx, req, timeout)
		if err != nil {
			return ExecResult{}, err
		}

		switch outcome {
		case OutcomeGrant:
			return g.runAndReport(ctx, req, exec, nil, leaseID)

		case OutcomeFallback:
			atomic.AddInt64(&g.stats.Fallbacks, 1)
			key := pacer.Key{Identity: req.Identity, Method: req.Method, RoutePattern: req.RoutePattern, MajorParameter: req.MajorParameter}
			if err := g.pacer.Acquire(ctx, key); err != nil {
				return ExecResult{}, err
			}
			return g.runAndReport(ctx, req, exec, &fallbackReason, nil)

		case OutcomeDeny:
			atomic.AddInt64(&g.stats.Denials, 1)
			if attempt+1 >= g.config.MaxRetries {
				return ExecResult{}, ErrRetryExhausted
			}
			wait := retryAfterMS
			if wait < g.config.MinRetryMS {
				wait = g.config.MinRetryMS
			}
			select {
			case <-ctx.Done():
				return ExecResult{}, ctx.Err()
			case <-time.After(time.Duration(wait) * time.Millisecond):
			}
		}
	}
}

// requestToken calls the arbiter and classifies the result. The returned
// fallbackReason is only meaningful when the outcome is OutcomeFallback: it
// is "orchestrator_down" for a network/timeout/decode failure or
// "orchestrator_http_<code>" when the arbiter answered with a non-200
// status. leaseID is only set when the outcome is OutcomeGrant, and is
// carried through to the matching report_result call so the two can be
// correlated.
func (g *Gate) requestToken(ctx context.Context, req Request, timeout time.Duration) (Outcome, int64, string, *string, error) {
	wire := permitRequestWire{
		ClientID:        req.ClientID,
		GroupID:         req.Group,
		DiscordIdentity: req.Identity,
		Method:          req.Method,
		Route:           req.RoutePattern,
		MajorParameter:  req.MajorParameter,
		Priority:        req.Priority,
		MaxWaitMS:       req.MaxWaitMS,
		RequestID:       req.RequestID,
	}
	body, err := json.Marshal(wire)
	if err != nil {
		return g.fallbackDown(ctx, err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodPost, g.config.ArbiterBaseURL+"/request_token", bytes.NewReader(body))
	if err != nil {
		return g.fallbackDown(ctx, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return g.fallbackDown(ctx, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		cause := fmt.Errorf("%w: arbiter returned status %d", ErrOrchestratorDown, resp.StatusCode)
		g.logger.WarnWithContext(ctx, "request_token non-success status, falling back", map[string]interface{}{"cause": cause.Error(), "status": resp.StatusCode})
		return OutcomeFallback, 0, fmt.Sprintf("orchestrator_http_%d", resp.StatusCode), nil, nil
	}

	var wireResp permitResponseWire
	if err := json.NewDecoder(resp.Body).Decode(&wireResp); err != nil {
		return g.fallbackDown(ctx, err)
	}

	if wireResp.Granted {
		return OutcomeGrant, 0, "", wireResp.LeaseID, nil
	}
	retryAfter := g.config.MinRetryMS
	if wireResp.RetryAfterMS != nil {
		retryAfter = *wireResp.RetryAfterMS
	}
	return OutcomeDeny, retryAfter, "", nil, nil
}

// fallbackDown classifies a network/marshal/decode failure as
// ErrOrchestratorDown and logs it before falling back.
func (g *Gate) fallbackDown(ctx context.Context, err error) (Outcome, int64, string, *string, error) {
	cause := fmt.Errorf("%w: %v", ErrOrchestratorDown, err)
	g.logger.WarnWithContext(ctx, "request_token unreachable, falling back", map[string]interface{}{"cause": cause.Error()})
	return OutcomeFallback, 0, "orchestrator_down", nil, nil
}

// runAndReport executes exec and always attempts report_result afterward,
// re-raising any executor error once reporting has been attempted.
// fallbackReason is non-nil only on the fallback path; leaseID is non-nil
// only on the grant path, carrying the arbiter's handle through so the
// report can be correlated back to the permit that authorized the call.
func (g *Gate) runAndReport(ctx context.Context, req Request, exec Executor, fallbackReason, leaseID *string) (ExecResult, error) {
	result, execErr := exec()

	statusCode := result.StatusCode
	var headers http.Header
	if execErr != nil {
		statusCode = 500
	} else {
		headers = result.Headers
	}

	report := buildReport(req, statusCode, headers, fallbackReason, leaseID)
	if err := g.reportResult(ctx, report); err != nil {
		atomic.AddInt64(&g.stats.ReportFailures, 1)
		g.logger.WarnWithContext(ctx, "report_result failed", map[string]interface{}{"error": err.Error()})
	}

	if execErr != nil {
		return ExecResult{}, execErr
	}
	return result, nil
}

// buildReport normalizes header keys to lower case and extracts the
// rate-limit fields the observation ingester understands.
func buildReport(req Request, statusCode int, headers http.Header, fallbackReason, leaseID *string) observationReportWire {
	lower := make(map[string]string, len(headers))
	for k, vs := range headers {
		if len(vs) > 0 {
			lower[strings.ToLower(k)] = vs[0]
		}
	}
	get := func(name string) string {
		return lower[strings.ToLower(name)]
	}

	report := observationReportWire{
		ClientID:         req.ClientID,
		GroupID:          req.Group,
		DiscordIdentity:  req.Identity,
		Method:           req.Method,
		Route:            req.RoutePattern,
		MajorParameter:   req.MajorParameter,
		RequestID:        req.RequestID,
		StatusCode:       statusCode,
		FallbackReason:   fallbackReason,
		LeaseID:          leaseID,
		ObservedAtUnixMS: time.Now().UnixMilli(),
	}

	if v := get("X-RateLimit-Bucket"); v != "" {
		report.RateLimitBucket = &v
	}
	if v := parseFloatPtr(get("X-RateLimit-Limit")); v != nil {
		report.RateLimitLimit = v
	}
	if v := parseFloatPtr(get("X-RateLimit-Remaining")); v != nil {
		report.RateLimitRemaining = v
	}
	if v := parseFloatPtr(get("X-RateLimit-Reset-After")); v != nil {
		report.RateLimitResetAfterSec = v
	}
	if v := get("X-RateLimit-Scope"); v != "" {
		report.RateLimitScope = &v
	}

	// Retry-After resolves to the larger of the header and a typed body
	// value when a caller supplies both.
	headerRetry := parseInt64Ptr(get("Retry-After"))
	if headerRetry != nil {
		*headerRetry = *headerRetry * 1000 // header is documented in seconds
	}
	report.RetryAfterMS = effectiveRetryAfter(headerRetry, nil)

	return report
}

// effectiveRetryAfter implements the mandated max(header, body) policy: the
// body value is passed in by callers that parse it from their own response
// payload shape; Gate itself only observes the header today but the helper
// stays generic so a caller with a typed response body can supply both.
func effectiveRetryAfter(headerMS, bodyMS *int64) *int64 {
	if headerMS == nil {
		return bodyMS
	}
	if bodyMS == nil {
		return headerMS
	}
	if *bodyMS > *headerMS {
		return bodyMS
	}
	return headerMS
}

func (g *Gate) reportResult(ctx context.Context, report observationReportWire) error {
	body, err := json.Marshal(report)
	if err != nil {
		return err
	}

	reqCtx, cancel := context.WithTimeout(ctx, g.config.ConfiguredTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodPost, g.config.ArbiterBaseURL+"/report_result", bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("gate: report_result returned status %d", resp.StatusCode)
	}
	return nil
}

func parseFloatPtr(s string) *float64 {
	if s == "" {
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return &v
}

func parseInt64Ptr(s string) *int64 {
	if s == "" {
		return nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return nil
	}
	return &v
}
