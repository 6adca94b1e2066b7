// Command gateway runs the resilience gateway: the admin and completion API,
// the Prometheus endpoint and the background maintenance jobs.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"callguard/internal/config"
	hhttp "callguard/internal/handler/http"
	"callguard/internal/infra/llm"
	"callguard/internal/infra/worker"
	obsmetrics "callguard/internal/observability/metrics"
	"callguard/internal/observability/logging"
	"callguard/internal/observability/slo"
	"callguard/internal/observability/tracing"
	"callguard/internal/resilience/dedup"
	"callguard/internal/resilience/metrics"
	"callguard/internal/resilience/ratelimiter"
)

func main() {
	if err := run(); err != nil {
		slog.Error("gateway failed", slog.Any("error", err))
		os.Exit(1)
	}
}

// components is everything run wires together.
type components struct {
	limiter   *ratelimiter.Limiter
	server    *http.Server
	scheduler *worker.Scheduler
}

func run() error {
	cfg, err := config.LoadGatewayConfig()
	if err != nil {
		return err
	}

	logger := logging.New(cfg.LogFormat, cfg.LogLevel)
	slog.SetDefault(logger)

	shutdownTracing := tracing.Setup(cfg.TracingEnabled, logger)

	destinations, err := config.LoadDestinations(cfg.DestinationsPath)
	if err != nil {
		return fmt.Errorf("load destinations: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c, err := setup(ctx, cfg, destinations, logger)
	if err != nil {
		return err
	}

	logger.Info("gateway starting",
		slog.String("version", version()),
		slog.String("addr", c.server.Addr),
		slog.Any("destinations", c.limiter.Destinations()),
		slog.Bool("tracing", cfg.TracingEnabled))

	c.scheduler.Start()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := c.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()

		var errs []error
		if err := c.server.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("http server shutdown: %w", err))
		}
		if err := c.scheduler.Stop(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("scheduler stop: %w", err))
		}
		c.limiter.Close()
		if err := shutdownTracing(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("tracer shutdown: %w", err))
		}
		return errors.Join(errs...)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("gateway stopped")
	return nil
}

func setup(ctx context.Context, cfg *config.GatewayConfig, destinations ratelimiter.Config, logger *slog.Logger) (*components, error) {
	recorder := metrics.NewPrometheusRecorder()
	registry := recorder.Registry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	limiter, err := ratelimiter.New(destinations,
		ratelimiter.WithRecorder(recorder),
		ratelimiter.WithLogger(logger),
		ratelimiter.WithTracer(tracing.GetTracer()),
	)
	if err != nil {
		return nil, fmt.Errorf("create rate limiter: %w", err)
	}

	deduplicator := dedup.New(dedup.WithRecorder(recorder))
	guard := llm.NewGuard(limiter, deduplicator, obsmetrics.NewCompletions(registry), logger)
	completer := newCompleter(cfg, guard, logger)

	scheduler, err := worker.New(worker.Config{
		SweepSchedule:      cfg.SweepSchedule,
		MetricsLogSchedule: cfg.MetricsLogSchedule,
		DedupStaleTimeout:  cfg.DedupStaleTimeout,
	}, deduplicator, limiter, slo.NewTracker(registry), worker.NewMetrics(registry), logger)
	if err != nil {
		limiter.Close()
		return nil, fmt.Errorf("create scheduler: %w", err)
	}

	handler := hhttp.NewRouter(hhttp.Deps{
		Limiter:   limiter,
		Dedup:     deduplicator,
		Completer: completer,
		Gatherer:  registry,
		Metrics:   obsmetrics.NewHTTP(registry),
		Logger:    logger,
		Version:   version(),
	})

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	return &components{limiter: limiter, server: server, scheduler: scheduler}, nil
}

// newCompleter registers a client for every provider with credentials.
// It returns nil when none is configured, which disables the completion route.
func newCompleter(cfg *config.GatewayConfig, guard *llm.Guard, logger *slog.Logger) llm.Completer {
	router := llm.NewRouter()

	if cfg.Anthropic.Enabled() {
		router.Register(llm.ProviderAnthropic, llm.NewClaude(clientConfig(cfg.Anthropic), guard))
	}
	if cfg.OpenAI.Enabled() {
		router.Register(llm.ProviderOpenAI, llm.NewOpenAI(clientConfig(cfg.OpenAI), guard))
	}

	providers := router.Providers()
	if len(providers) == 0 {
		logger.Warn("no LLM provider configured, completion endpoint disabled")
		return nil
	}
	logger.Info("LLM providers enabled", slog.Any("providers", providers))
	return router
}

func clientConfig(p config.ProviderConfig) llm.ClientConfig {
	return llm.ClientConfig{
		APIKey:  p.APIKey,
		BaseURL: p.BaseURL,
		Model:   p.Model,
		Timeout: p.Timeout,
	}
}

// version returns the application version from the environment.
func version() string {
	if v := os.Getenv("VERSION"); v != "" {
		return v
	}
	return "dev"
}
