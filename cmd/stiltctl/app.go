package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/AntonStoeckl/stilt-pipeline-go/config"
	"github.com/AntonStoeckl/stilt-pipeline-go/observability"
	"github.com/AntonStoeckl/stilt-pipeline-go/pipeline/backlog"
	"github.com/AntonStoeckl/stilt-pipeline-go/pipeline/shell"
	"github.com/AntonStoeckl/stilt-pipeline-go/pipeline/store/pgstore"
	"github.com/AntonStoeckl/stilt-pipeline-go/pipeline/worker"
	"github.com/AntonStoeckl/stilt-pipeline-go/queue/oteladapters"
	"github.com/AntonStoeckl/stilt-pipeline-go/queue/postgresengine"
	"github.com/AntonStoeckl/stilt-pipeline-go/queue/promadapters"
)

const metricsShutdownTimeout = 5 * time.Second

type command func(ctx context.Context, st *pgstore.Store, args []string) error

// app holds what every command shares: configuration, logging, metrics and tracing.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	registry *prometheus.Registry
	tracer   *sdktrace.TracerProvider
	observe  shell.Observability
}

func newApp(ctx context.Context, configFile string) (*app, error) {
	cfg, errs := config.Load(configFile)
	if len(errs) > 0 {
		return nil, fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}

	logger, err := observability.NewLogger(os.Stderr, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, logger: logger, registry: prometheus.NewRegistry()}
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	if cfg.OTLPEndpoint != "" {
		a.tracer, err = observability.NewTracerProvider(ctx, observability.TracingConfig{
			Environment: cfg.Env,
			Endpoint:    cfg.OTLPEndpoint,
			Insecure:    true,
		})
		if err != nil {
			return nil, err
		}
	}

	a.observe = observability.Stage(logger, a.registry, a.tracer)

	summary := make([]any, 0, 2*len(cfg.LogSummary()))
	for k, v := range cfg.LogSummary() {
		summary = append(summary, k, v)
	}
	logger.Debug("configuration loaded", summary...)

	return a, nil
}

func (a *app) close() {
	if a.tracer == nil {
		return
	}

	if err := observability.Shutdown(a.tracer); err != nil {
		a.logger.Warn("tracer shutdown failed", "error", err.Error())
	}
}

func (a *app) commands() map[string]command {
	return map[string]command{
		"migrate":              a.migrate,
		"produce-scenes":       a.produceScenes,
		"minimize-meteorology": a.minimizeMeteorology,
		"generate-simulations": a.generateSimulations,
		"execute-simulations":  a.executeSimulations,
		"sweep":                a.sweep,
		"backlog":              a.backlog,
		"serve-metrics":        a.serveMetrics,
	}
}

func (a *app) dispatch(ctx context.Context, name string, args []string) error {
	cmd, ok := a.commands()[name]
	if !ok {
		return fmt.Errorf("%w: unknown command %q", errUsage, name)
	}

	st, closeDB, err := openStore(ctx, a.cfg, a.queueOptions()...)
	if err != nil {
		return err
	}
	defer closeDB()

	return cmd(ctx, st, args)
}

func (a *app) queueOptions() []postgresengine.Option {
	options := []postgresengine.Option{
		postgresengine.WithLogger(a.logger),
		postgresengine.WithMetrics(promadapters.NewMetricsCollector(a.registry)),
	}

	if a.tracer != nil {
		options = append(options,
			postgresengine.WithTracing(oteladapters.NewTracingCollector(a.tracer.Tracer(observability.ServiceName))),
			postgresengine.WithContextualLogger(oteladapters.NewSlogBridgeLogger(observability.ServiceName)),
		)
	}

	return options
}

func (a *app) runPool(ctx context.Context, name string, processor worker.Processor) error {
	stopMetrics := a.startMetricsServer(ctx)
	defer stopMetrics()

	pool, err := worker.New(name, processor,
		worker.WithConcurrency(a.cfg.WorkerConcurrency),
		worker.WithPollInterval(a.cfg.PollInterval),
		worker.WithExitOnEmpty(a.cfg.ExitOnEmpty),
		worker.WithLogger(a.logger),
	)
	if err != nil {
		return err
	}

	_, err = pool.Run(ctx)

	return err
}

// startMetricsServer serves the registry on METRICS_ADDR in the background. An empty address
// disables it.
func (a *app) startMetricsServer(ctx context.Context) func() {
	if a.cfg.MetricsAddr == "" {
		return func() {}
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", backlog.Handler(a.registry))

	server := &http.Server{Addr: a.cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		a.logger.Info("metrics server listening", "addr", a.cfg.MetricsAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("metrics server failed", "error", err.Error())
		}
	}()

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), metricsShutdownTimeout)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}
}

// processorSet hands every concurrent call its own processor, so each worker of a pool claims
// under a distinct claimant. It must hold at least as many processors as the pool has workers.
type processorSet chan worker.Processor

func newProcessorSet(n int, build func() (worker.Processor, error)) (processorSet, error) {
	set := make(processorSet, n)

	for range n {
		p, err := build()
		if err != nil {
			return nil, err
		}
		set <- p
	}

	return set, nil
}

func (s processorSet) ProcessNext(ctx context.Context) (bool, error) {
	p := <-s
	defer func() { s <- p }()

	return p.ProcessNext(ctx)
}
