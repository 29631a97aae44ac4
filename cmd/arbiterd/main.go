// Command arbiterd runs the Arbiter Service: the HTTP front door over the
// shared counter store that every bot process in the fleet calls through
// before making an external API request.
//
// Environment Variables:
//
//	ARBITER_BIND_ADDRESS         - HTTP listen address (default: ":8080")
//	ARBITER_REDIS_URL            - Redis connection URL (default: "redis://localhost:6379/0")
//	ARBITER_NAMESPACE            - key namespace prefix (default: "fleetrate")
//	ARBITER_GLOBAL_RPS           - global permits per second per identity (default: 50)
//	ARBITER_ROUTE_RPS            - permits per second per route key (default: 5)
//	ARBITER_MIN_RETRY_MS         - floor on retry_after_ms (default: 50)
//	ARBITER_INVALID_THRESHOLD    - invalid-request count that trips the guardrail (default: 8000)
//	ARBITER_GUARDRAIL_COOLDOWN_MS - guardrail hold duration (default: 30000)
//	ARBITER_FAIL_OPEN            - fail-open on store outage (default: true)
//	ARBITER_LOG_LEVEL            - log level (default: "info")
//	ARBITER_LOG_FORMAT           - "json" or "text" (default: "json")
//	ARBITER_CONFIG_FILE          - optional YAML overlay applied on top of the env defaults
//	ARBITER_DEV_MODE             - verbose request logging and pretty-printed traces (default: false)
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/fleetrate/arbiter/arbiter"
	"github.com/fleetrate/arbiter/core"
	"github.com/fleetrate/arbiter/observation"
	"github.com/fleetrate/arbiter/permit"
	"github.com/fleetrate/arbiter/store"
)

func main() {
	config := arbiter.ConfigFromEnv()
	if overlay := os.Getenv("ARBITER_CONFIG_FILE"); overlay != "" {
		if err := applyYAMLOverlay(overlay, &config); err != nil {
			log.Fatalf("arbiterd: failed to load config overlay %s: %v", overlay, err)
		}
	}
	devMode := core.ParseBoolEnv(os.Getenv("ARBITER_DEV_MODE"), false)

	logger := core.NewLogger(config.Logging, "arbiter")

	redisStore, err := store.NewRedisStore(store.Options{
		RedisURL:  config.RedisURL,
		Namespace: config.Namespace,
		Logger:    logger,
	})
	if err != nil {
		logger.Error("failed to connect to redis store", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}
	defer redisStore.Close()

	limits := permit.Limits{
		GlobalRPS:  config.GlobalRPS,
		RouteRPS:   config.RouteRPS,
		MinRetryMS: config.MinRetryMS,
	}
	evaluator := permit.NewEvaluator(redisStore, config.Namespace, limits, logger)

	obsConfig := observation.Config{
		InvalidThresholdCount: config.InvalidThreshold,
		GuardrailCooldownMS:   config.GuardrailCooldownMS,
	}
	ingester := observation.NewIngester(redisStore, config.Namespace, obsConfig, logger)

	telemetry, err := arbiter.SetupTelemetry("arbiter", devMode)
	if err != nil {
		logger.Warn("telemetry setup failed, continuing without /metrics", map[string]interface{}{"error": err.Error()})
		telemetry = nil
	}

	server := arbiter.NewServer(config, redisStore, evaluator, ingester, logger, devMode, telemetry)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return server.ListenAndServe()
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), config.HTTP.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if telemetry != nil {
			return telemetry.Shutdown(shutdownCtx)
		}
		return nil
	})

	if err := group.Wait(); err != nil {
		logger.Error("arbiter service exited with error", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}
}

// applyYAMLOverlay merges an optional YAML config file onto the
// environment-derived defaults. Fields left zero in the file keep their
// env/default value.
func applyYAMLOverlay(path string, config *arbiter.Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var overlay struct {
		BindAddress string `yaml:"bind_address"`
		RedisURL    string `yaml:"redis_url"`
		Namespace   string `yaml:"namespace"`
		GlobalRPS   int    `yaml:"global_rps"`
		RouteRPS    int    `yaml:"route_rps"`
	}
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return err
	}

	if overlay.BindAddress != "" {
		config.BindAddress = overlay.BindAddress
	}
	if overlay.RedisURL != "" {
		config.RedisURL = overlay.RedisURL
	}
	if overlay.Namespace != "" {
		config.Namespace = overlay.Namespace
	}
	if overlay.GlobalRPS > 0 {
		config.GlobalRPS = overlay.GlobalRPS
	}
	if overlay.RouteRPS > 0 {
		config.RouteRPS = overlay.RouteRPS
	}
	return nil
}
