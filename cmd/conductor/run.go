package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/dnscache"
	"go.opentelemetry.io/otel/trace"

	"github.com/alcray/trainforge-conductor/internal/batch"
	"github.com/alcray/trainforge-conductor/internal/circuitbreaker"
	"github.com/alcray/trainforge-conductor/internal/conductor"
	"github.com/alcray/trainforge-conductor/internal/config"
	"github.com/alcray/trainforge-conductor/internal/dispatcher"
	"github.com/alcray/trainforge-conductor/internal/ledger"
	"github.com/alcray/trainforge-conductor/internal/provider"
	"github.com/alcray/trainforge-conductor/internal/registry"
	"github.com/alcray/trainforge-conductor/internal/selector"
	"github.com/alcray/trainforge-conductor/internal/server"
	"github.com/alcray/trainforge-conductor/internal/telemetry"
	"github.com/alcray/trainforge-conductor/internal/worker"
)

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	setLogLevel(cfg.Server.LogLevel)
	slog.Info("starting conductor", "version", version, "addr", cfg.Server.Addr())

	ctx := context.Background()

	// Shared DNS cache for every provider HTTP client.
	dnsResolver := &dnscache.Resolver{}
	dnsResolver.Refresh(true)

	lg := ledger.New(time.Now)
	modelReg := registry.New(cfg.Models)
	breakers := circuitbreaker.NewRegistry(circuitbreaker.DefaultConfig())

	var descriptors []conductor.ProviderDescriptor
	var candidates []selector.Candidate
	enabled := make(map[string]bool, len(cfg.Providers))

	for name, p := range cfg.Providers {
		enabled[name] = p.Enabled
		chatPath := p.ChatPath
		if chatPath == "" {
			chatPath = "/chat/completions"
		}
		descriptors = append(descriptors, conductor.ProviderDescriptor{
			ID:       name,
			BaseURL:  p.BaseURL,
			Enabled:  p.Enabled,
			ChatPath: chatPath,
		})
		if !p.Enabled {
			slog.Info("provider skipped (disabled)", "name", name)
			continue
		}
		for _, k := range p.Keys {
			if k.APIKey == "" {
				slog.Warn("api key empty, skipped", "provider", name, "name", k.Name)
				continue
			}
			lg.Register(conductor.KeyDescriptor{
				Provider: name,
				Name:     k.Name,
				APIKey:   k.APIKey,
				RPM:      k.RequestsPerMinute,
				TPM:      k.TokensPerMinute,
			})
			candidates = append(candidates, selector.Candidate{
				Provider: name,
				KeyName:  k.Name,
				APIKey:   k.APIKey,
				RPM:      k.RequestsPerMinute,
				TPM:      k.TokensPerMinute,
			})
			slog.Info("key registered", "provider", name, "key_name", k.Name, "rpm", k.RequestsPerMinute, "tpm", k.TokensPerMinute)
		}
	}

	providerDir := conductor.NewProviderDirectory(descriptors)
	sel := selector.New(cfg.Conductor.SchedulingStrategy, candidates, enabled, modelReg, lg)

	transport := provider.NewTransport(dnsResolver)
	client := provider.New(transport)

	disp := dispatcher.New(modelReg, sel, lg, providerDir, client, breakers, dispatcher.Config{
		RequestTimeout: cfg.Conductor.RequestTimeoutDuration(),
		MaxRetries:     cfg.Conductor.MaxRetries,
		RetryDelay:     cfg.Conductor.RetryDelayDuration(),
	})
	batchCoord := batch.New(disp, time.Now)

	// Prometheus metrics.
	var metrics *telemetry.Metrics
	var metricsHandler http.Handler
	if cfg.Telemetry.Metrics.Enabled {
		promRegistry := prometheus.NewRegistry()
		promRegistry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		promRegistry.MustRegister(collectors.NewGoCollector())
		metrics = telemetry.NewMetrics(promRegistry)
		metricsHandler = promhttp.HandlerFor(promRegistry, promhttp.HandlerOpts{})
		slog.Info("prometheus metrics enabled")
	}

	// OpenTelemetry tracing.
	var tracer trace.Tracer
	var tracingShutdown func(context.Context) error
	if cfg.Telemetry.Tracing.Enabled {
		endpoint := cfg.Telemetry.Tracing.Endpoint
		if endpoint == "" {
			endpoint = "localhost:4317"
		}
		sampleRate := cfg.Telemetry.Tracing.SampleRate
		if sampleRate == 0 {
			sampleRate = 0.1
		}
		shutdown, err := telemetry.SetupTracing(ctx, endpoint, sampleRate)
		if err != nil {
			slog.Warn("tracing setup failed, continuing without tracing", "error", err)
		} else {
			tracingShutdown = shutdown
			tracer = telemetry.Tracer("conductor/server")
			disp.WithTracer(telemetry.Tracer("conductor/dispatcher"))
			slog.Info("opentelemetry tracing enabled", "endpoint", endpoint, "sample_rate", sampleRate)
		}
	}

	totalKeys := len(candidates)
	handler := server.New(server.Deps{
		Dispatcher:     disp,
		Batch:          batchCoord,
		ModelLister:    modelReg,
		LedgerStatus:   lg,
		TotalKeys:      totalKeys,
		Metrics:        metrics,
		MetricsHandler: metricsHandler,
		Tracer:         tracer,
	})

	srv := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           handler,
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       120 * time.Second,
	}

	// Background workers: breaker eviction, DNS cache refresh, and (when
	// metrics are enabled) periodic ledger gauge refresh.
	workers := []worker.Worker{
		worker.NewBreakerJanitor(breakers, time.Hour),
		worker.NewDNSRefresher(dnsResolver),
	}
	if metrics != nil {
		workers = append(workers, worker.NewMetricsRefresher(lg, metrics))
	}
	runner := worker.NewRunner(workers...)

	workerCtx, workerCancel := context.WithCancel(context.Background())
	workerDone := make(chan error, 1)
	go func() {
		workerDone <- runner.Run(workerCtx)
	}()

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	slog.Info("http routes enabled",
		"endpoints", []string{
			"POST /v1/chat/completions",
			"POST /v1/batch/chat/completions",
			"GET  /v1/models",
			"GET  /status",
			"GET  /health",
		},
	)
	slog.Info("conductor ready", "addr", cfg.Server.Addr(), "total_keys", totalKeys)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("shutting down", "signal", sig)
	case err := <-errCh:
		workerCancel()
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		workerCancel()
		return err
	}

	workerCancel()
	if err := <-workerDone; err != nil {
		slog.Error("worker shutdown error", "error", err)
	}

	if tracingShutdown != nil {
		if err := tracingShutdown(shutdownCtx); err != nil {
			slog.Error("tracing shutdown error", "error", err)
		}
	}

	slog.Info("conductor stopped")
	return nil
}

func setLogLevel(level string) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	slog.SetLogLoggerLevel(lvl)
}
