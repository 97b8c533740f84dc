package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"fluxrelay/internal/config"
	"fluxrelay/internal/influx"
	"fluxrelay/internal/lineproto"
	"fluxrelay/internal/metrics"
)

// hostSampler scrapes host collectors on a ticker and feeds the metrics
// pipeline with one multi-line delivery unit per collector scrape.
// Params: none.
// Returns: runnable record source.
type hostSampler struct {
	collectors  []metrics.Collector
	scrapeEvery time.Duration
	formatter   *lineproto.Formatter
	shipper     *Shipper
	params      influx.WriteParams
	host        string
	logger      *slog.Logger
}

// newHostSampler builds the host metric source from config.
// Params: cfg sampler settings; host client identity tag; formatter line
// formatter; shipper metrics pipeline; params default write parameters;
// logger root logger.
// Returns: sampler instance or error when no collector is enabled.
func newHostSampler(
	cfg config.HostMetricsConfig,
	host string,
	formatter *lineproto.Formatter,
	shipper *Shipper,
	params influx.WriteParams,
	logger *slog.Logger,
) (*hostSampler, error) {
	collectors := make([]metrics.Collector, 0, 3)
	if cfg.CPU != nil && *cfg.CPU {
		collectors = append(collectors, metrics.NewCPUCollector("cpu"))
	}
	if cfg.RAM != nil && *cfg.RAM {
		collectors = append(collectors, metrics.NewRAMCollector("ram"))
	}
	if cfg.Swap != nil && *cfg.Swap {
		collectors = append(collectors, metrics.NewSWAPCollector("swap"))
	}
	if len(collectors) == 0 {
		return nil, fmt.Errorf("host metrics enabled with no collectors")
	}
	if cfg.Scrape.Duration <= 0 {
		return nil, fmt.Errorf("host metrics scrape interval must be > 0")
	}

	return &hostSampler{
		collectors:  collectors,
		scrapeEvery: cfg.Scrape.Duration,
		formatter:   formatter,
		shipper:     shipper,
		params:      params,
		host:        host,
		logger:      logger.With(slog.String("source", "host_metrics")),
	}, nil
}

// run executes the scrape loop until context cancellation.
// Params: ctx lifecycle context.
// Returns: nil on graceful stop.
func (s *hostSampler) run(ctx context.Context) error {
	ticker := time.NewTicker(s.scrapeEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.sample(ctx)
		}
	}
}

// sample scrapes all collectors and ingests one unit per collector.
// Params: ctx bounds scrapes and any triggered flush.
// Returns: none.
func (s *hostSampler) sample(ctx context.Context) {
	now := time.Now().Unix()

	for _, collector := range s.collectors {
		points, err := collector.Scrape(ctx)
		if err != nil {
			s.logger.Warn(
				"scrape failed",
				slog.String("collector", collector.Name()),
				slog.String("error", err.Error()),
			)
			continue
		}

		lines := make([]string, 0, len(points))
		for _, point := range points {
			fields := make(map[string]any, len(point.Fields))
			for name, value := range point.Fields {
				fields[name] = value
			}

			line, formatErr := s.formatter.Format(lineproto.Record{
				Measurement: collector.Name(),
				Client:      s.host,
				Tags:        map[string]string{"instance": point.Key},
				Fields:      fields,
				Timestamp:   now,
			})
			if formatErr != nil {
				s.logger.Warn(
					"skip invalid record",
					slog.String("collector", collector.Name()),
					slog.String("key", point.Key),
					slog.String("error", formatErr.Error()),
				)
				continue
			}
			lines = append(lines, line)
		}

		if len(lines) == 0 {
			continue
		}
		s.shipper.Ingest(ctx, Unit{Lines: lines, Params: s.params})
	}
}
