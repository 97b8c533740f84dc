package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"fluxrelay/internal/config"
	"fluxrelay/internal/influx"
	"fluxrelay/internal/lineproto"
)

// Engine owns record sources and shipper pipelines lifecycle.
// Params: runner list, shipper list, and logger.
// Returns: relay runtime engine.
type Engine struct {
	runners  []runner
	shippers []*Shipper
	flushTO  time.Duration
	logger   *slog.Logger
}

type runner interface {
	run(context.Context) error
}

// NewFromConfig builds record sources and both shipper pipelines.
// Params: ctx lifecycle context; cfg validated runtime config; logger initialized logger.
// Returns: engine with active pipelines or error.
func NewFromConfig(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Engine, error) {
	formatter := lineproto.NewFormatter(cfg.Global.Source, cfg.Global.Tags)

	client, err := influx.NewClient(influx.ClientConfig{
		Hostname:    cfg.Influx.Hostname,
		Port:        cfg.Influx.Port,
		SSL:         cfg.Influx.SSL,
		SSLCert:     cfg.Influx.SSLCert,
		User:        cfg.Influx.User,
		Password:    cfg.Influx.Passwd,
		Timeout:     cfg.Influx.HTTPTimeout.Duration,
		Compression: cfg.Influx.HTTPCompression != nil && *cfg.Influx.HTTPCompression,
	})
	if err != nil {
		return nil, fmt.Errorf("init influx client: %w", err)
	}

	defaults := influx.WriteParams{
		DB:              cfg.Influx.DB,
		RetentionPolicy: cfg.Influx.RetentionPolicy,
		Consistency:     cfg.Influx.Consistency,
		Precision:       cfg.Influx.Precision,
	}

	retry := RetryPolicy{
		MaxTry:   cfg.Buffer.MaxTry,
		TryDelay: cfg.Buffer.TryDelay.Duration,
	}

	events, err := NewShipper(ShipperConfig{
		Name:     "events",
		MaxLines: cfg.Buffer.Size,
		MaxAge:   cfg.Buffer.MaxAge.Duration,
		Retry:    retry,
	}, client, logger)
	if err != nil {
		return nil, fmt.Errorf("init events pipeline: %w", err)
	}

	metricsPipe, err := NewShipper(ShipperConfig{
		Name:     "metrics",
		MaxLines: cfg.Buffer.Size,
		MaxAge:   cfg.Buffer.MaxAge.Duration,
		Retry:    retry,
	}, client, logger)
	if err != nil {
		return nil, fmt.Errorf("init metrics pipeline: %w", err)
	}

	runners := make([]runner, 0, 2)

	if cfg.Ingest.Enabled != nil && *cfg.Ingest.Enabled {
		handler := &ingestHandler{
			baseCtx:   ctx,
			formatter: formatter,
			events:    events,
			metrics:   metricsPipe,
			defaults:  defaults,
			logger:    logger.With(slog.String("component", "ingest")),
		}
		server, serverErr := newIngestServer(cfg.Ingest.Listen, handler.routes(), logger)
		if serverErr != nil {
			return nil, fmt.Errorf("init ingest server: %w", serverErr)
		}
		runners = append(runners, server)
	}

	if cfg.HostMetrics.Enabled {
		sampler, samplerErr := newHostSampler(
			cfg.HostMetrics,
			cfg.Global.Host,
			formatter,
			metricsPipe,
			defaults,
			logger,
		)
		if samplerErr != nil {
			return nil, fmt.Errorf("init host sampler: %w", samplerErr)
		}
		runners = append(runners, sampler)
	}

	return &Engine{
		runners:  runners,
		shippers: []*Shipper{events, metricsPipe},
		flushTO:  shutdownFlushTimeout(cfg.Influx.HTTPTimeout.Duration),
		logger:   logger,
	}, nil
}

// Run starts all sources, waits for cancellation, and performs the final
// best-effort flush of both pipelines.
// Params: ctx lifecycle context.
// Returns: nil on graceful stop.
func (e *Engine) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	wg.Add(len(e.runners))

	for _, r := range e.runners {
		go func(activeRunner runner) {
			defer wg.Done()
			if err := activeRunner.run(ctx); err != nil {
				e.logger.Error("runner stopped with error", slog.String("error", err.Error()))
			}
		}(r)
	}

	<-ctx.Done()
	wg.Wait()

	flushCtx, cancel := context.WithTimeout(context.Background(), e.flushTO)
	defer cancel()
	for _, shipper := range e.shippers {
		shipper.Shutdown(flushCtx)
	}

	return nil
}

// shutdownFlushTimeout bounds the final flush after context cancellation.
// Params: base configured delivery timeout.
// Returns: timeout covering the shutdown attempts of both pipelines.
func shutdownFlushTimeout(base time.Duration) time.Duration {
	if base <= 0 {
		base = 5 * time.Second
	}

	timeout := 2*base + 2*time.Second
	if timeout < 3*time.Second {
		timeout = 3 * time.Second
	}
	if timeout > time.Minute {
		timeout = time.Minute
	}
	return timeout
}
