// Package arbiter implements the Arbiter Service: the HTTP front door over
// the Atomic Permit Script and Observation Ingester, with a fail-open
// fallback to an in-process pacer when the shared store is unavailable.
package arbiter

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/fleetrate/arbiter/core"
	"github.com/fleetrate/arbiter/observation"
	"github.com/fleetrate/arbiter/pacer"
	"github.com/fleetrate/arbiter/permit"
	"github.com/fleetrate/arbiter/resilience"
	"github.com/fleetrate/arbiter/store"
)

// Server wires the permit evaluator and observation ingester to the
// request_token/report_result/healthz/metrics HTTP contract.
type Server struct {
	config    Config
	store     store.Store
	evaluator *permit.Evaluator
	ingester  *observation.Ingester
	breaker   *resilience.CircuitBreaker
	fallback  *pacer.Pacer
	logger    core.Logger

	httpServer *http.Server
}

// NewServer builds the Arbiter Service. devMode controls verbose request
// logging in core.LoggingMiddleware. telemetry may be nil, in which case
// GET /metrics returns 404.
func NewServer(config Config, s store.Store, evaluator *permit.Evaluator, ingester *observation.Ingester, logger core.Logger, devMode bool, telemetry *Telemetry) *Server {
	if logger == nil {
		logger = core.NoOpLogger{}
	}
	srv := &Server{
		config:    config,
		store:     s,
		evaluator: evaluator,
		ingester:  ingester,
		breaker:   resilience.NewCircuitBreaker("arbiter-store", resilience.DefaultCircuitBreakerConfig(), logger),
		fallback:  pacer.New(pacer.Config{GlobalRPS: config.GlobalRPS, RouteRPS: config.RouteRPS}),
		logger:    logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/request_token", srv.handleRequestToken)
	mux.HandleFunc("/report_result", srv.handleReportResult)
	mux.HandleFunc("/healthz", srv.handleHealthz)
	if telemetry != nil {
		mux.Handle("/metrics", telemetry.MetricsHandler)
	}

	var handler http.Handler = mux
	handler = core.LoggingMiddleware(logger, devMode)(handler)
	handler = otelhttp.NewHandler(handler, "arbiter")

	srv.httpServer = &http.Server{
		Addr:              config.BindAddress,
		Handler:           handler,
		ReadTimeout:       config.HTTP.ReadTimeout,
		WriteTimeout:      config.HTTP.WriteTimeout,
		IdleTimeout:       config.HTTP.IdleTimeout,
		MaxHeaderBytes:    config.HTTP.MaxHeaderBytes,
	}
	return srv
}

// ListenAndServe starts the HTTP server; it blocks until Shutdown is called
// or the server fails to start.
func (s *Server) ListenAndServe() error {
	s.logger.Info("arbiter service starting", map[string]interface{}{"bind_address": s.config.BindAddress})
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully stops the HTTP server and the fallback pacer's
// cleanup goroutine.
func (s *Server) Shutdown(ctx context.Context) error {
	s.fallback.Stop()
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleRequestToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var body PermitRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if body.RequestID == "" {
		body.RequestID = uuid.NewString()
	}

	req := permit.Request{
		ClientID:       body.ClientID,
		Group:          body.GroupID,
		Identity:       body.DiscordIdentity,
		Method:         body.Method,
		RoutePattern:   body.Route,
		MajorParameter: body.MajorParameter,
		Priority:       body.Priority,
		MaxWaitMS:      body.MaxWaitMS,
		RequestID:      body.RequestID,
	}

	decision, err := s.decide(r.Context(), req)
	if err != nil {
		s.logger.ErrorWithContext(r.Context(), "request_token failed", map[string]interface{}{"error": err.Error()})
		writeJSON(w, http.StatusInternalServerError, PermitResponseBody{
			Granted: false, Reason: permit.ReasonStoreUnavailable, NotBeforeUnixMS: time.Now().UnixMilli(),
		})
		return
	}

	// Optional bounded server-side wait then a single re-invoke.
	if !decision.Granted && body.MaxWaitMS > 0 && decision.RetryAfterMS > 0 {
		wait := decision.RetryAfterMS
		if int64(body.MaxWaitMS) < wait {
			wait = int64(body.MaxWaitMS)
		}
		if time.Duration(wait)*time.Millisecond > serverSideWaitCap {
			wait = serverSideWaitCap.Milliseconds()
		}
		select {
		case <-r.Context().Done():
		case <-time.After(time.Duration(wait) * time.Millisecond):
			if redecided, err := s.decide(r.Context(), req); err == nil {
				decision = redecided
			}
		}
	}

	resp := PermitResponseBody{
		Granted:         decision.Granted,
		NotBeforeUnixMS: time.Now().UnixMilli() + decision.RetryAfterMS,
		Reason:          decision.Reason,
	}
	if decision.Granted {
		leaseID := uuid.NewString()
		resp.LeaseID = &leaseID
	} else {
		ra := decision.RetryAfterMS
		resp.RetryAfterMS = &ra
	}
	writeJSON(w, http.StatusOK, resp)
}

// healthzRetryConfig bounds the brief retry attempted on the store's health
// check before reporting unavailable; the check is read-only so retrying it
// carries none of the double-application risk a retried permit decision
// would.
var healthzRetryConfig = &resilience.RetryConfig{
	MaxAttempts:   2,
	InitialDelay:  10 * time.Millisecond,
	MaxDelay:      50 * time.Millisecond,
	BackoffFactor: 2,
	JitterEnabled: true,
}

// decide runs the permit evaluator guarded by a circuit breaker; on store
// failure it falls back to the in-process pacer when configured fail-open.
// The evaluator call is not retried here: the permit script mutates the
// global/route counters and the observed bucket's remaining count on every
// invocation, so re-running it for a single logical request would apply
// those side effects twice.
func (s *Server) decide(ctx context.Context, req permit.Request) (permit.Decision, error) {
	var decision permit.Decision
	err := s.breaker.Execute(ctx, func() error {
		d, err := s.evaluator.Decide(ctx, req, time.Now())
		if err != nil {
			return err
		}
		decision = d
		return nil
	})
	if err == nil {
		return decision, nil
	}

	if !s.config.FailOpen {
		return permit.Decision{Granted: false, Reason: permit.ReasonStoreUnavailable, RetryAfterMS: s.config.MinRetryMS}, nil
	}

	key := pacer.Key{Identity: req.Identity, Method: req.Method, RoutePattern: req.RoutePattern, MajorParameter: req.MajorParameter}
	if acquireErr := s.fallback.Acquire(ctx, key); acquireErr != nil {
		return permit.Decision{}, acquireErr
	}
	return permit.Decision{Granted: true, Reason: permit.ReasonStoreUnavailable}, nil
}

func (s *Server) handleReportResult(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var body ObservationReportBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	report := observation.Report{
		ClientID:               body.ClientID,
		Group:                  body.GroupID,
		Identity:               body.DiscordIdentity,
		Method:                 body.Method,
		RoutePattern:           body.Route,
		MajorParameter:         body.MajorParameter,
		RequestID:              body.RequestID,
		StatusCode:             body.StatusCode,
		RateLimitBucket:        body.RateLimitBucket,
		RateLimitLimit:         body.RateLimitLimit,
		RateLimitRemaining:     body.RateLimitRemaining,
		RateLimitResetAfterSec: body.RateLimitResetAfterSec,
		RateLimitScope:         body.RateLimitScope,
		RetryAfterMS:           body.RetryAfterMS,
		FallbackReason:         body.FallbackReason,
		ObservedAtUnixMS:       body.ObservedAtUnixMS,
	}

	// Always succeeds from the caller's point of view; failures are
	// recorded internally only.
	if _, err := s.ingester.Ingest(r.Context(), report); err != nil {
		fields := map[string]interface{}{"error": err.Error()}
		if body.LeaseID != nil {
			fields["lease_id"] = *body.LeaseID
		}
		s.logger.WarnWithContext(r.Context(), "report_result ingest dropped", fields)
	}
	writeJSON(w, http.StatusOK, ReportResultResponseBody{OK: true})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	err := resilience.Retry(r.Context(), healthzRetryConfig, func() error {
		return s.store.HealthCheck(r.Context())
	})
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, HealthResponseBody{Status: "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, HealthResponseBody{Status: "ok"})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
