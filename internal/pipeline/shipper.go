package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"fluxrelay/internal/influx"
)

// Deliverer performs exactly one delivery attempt of a batch payload.
// Params: context, newline-joined payload, resolved destination parameters.
// Returns: nil on acceptance or a classified delivery error.
type Deliverer interface {
	Write(ctx context.Context, payload []byte, params influx.WriteParams) error
}

// ShipperConfig defines one buffering pipeline runtime.
// Params: identity, flush thresholds, and retry limits.
// Returns: shipper runtime configuration.
type ShipperConfig struct {
	Name     string
	MaxLines int
	MaxAge   time.Duration
	Retry    RetryPolicy
}

// Shipper owns one buffer and its retry controller and applies the
// dual-trigger flush policy on every ingest. Constructor-injected so
// independent pipelines (events, metrics) run without shared state.
// Params: none.
// Returns: pipeline instance safe for concurrent ingest.
type Shipper struct {
	cfg    ShipperConfig
	client Deliverer
	logger *slog.Logger
	now    func() time.Time

	// mu spans ingest-decide-flush; partial drains or interleaved
	// attempt-count updates would corrupt the retry accounting.
	mu     sync.Mutex
	buffer *Buffer
	retry  *retryController
}

// NewShipper creates one pipeline from validated configuration.
// Params: cfg runtime settings; client delivery transport; logger root logger.
// Returns: shipper instance or configuration error.
func NewShipper(cfg ShipperConfig, client Deliverer, logger *slog.Logger) (*Shipper, error) {
	if client == nil {
		return nil, fmt.Errorf("delivery client is nil")
	}
	if cfg.MaxLines <= 0 {
		return nil, fmt.Errorf("buffer size must be > 0")
	}
	if cfg.MaxAge <= 0 {
		return nil, fmt.Errorf("buffer max age must be > 0")
	}
	if cfg.Retry.MaxTry <= 0 {
		return nil, fmt.Errorf("buffer max try must be > 0")
	}
	if cfg.Retry.TryDelay < 0 {
		return nil, fmt.Errorf("buffer try delay must be >= 0")
	}

	name := strings.TrimSpace(cfg.Name)
	if name == "" {
		name = "shipper"
	}
	cfg.Name = name

	return &Shipper{
		cfg:    cfg,
		client: client,
		logger: logger.With(slog.String("pipeline", name)),
		now:    time.Now,
		buffer: NewBuffer(),
		retry:  newRetryController(cfg.Retry),
	}, nil
}

// Ingest appends one delivery unit and evaluates the flush policy.
// Blocks for up to the delivery timeout when a flush is triggered.
// All outcomes are fire-and-forget; failures surface only in logs.
// Params: ctx bounds a triggered delivery; unit formatted delivery unit.
// Returns: none.
func (s *Shipper) Ingest(ctx context.Context, unit Unit) {
	if len(unit.Lines) == 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.buffer.Append(unit, now)

	if s.buffer.Size() < s.cfg.MaxLines && s.buffer.Age(now) < s.cfg.MaxAge {
		return
	}
	if !s.retry.armed(now) {
		// Backoff gating: skipped here, re-evaluated on the next ingest.
		s.logger.Debug(
			"flush gated by backoff",
			slog.Int("lines", s.buffer.Size()),
			slog.Int("attempts", s.retry.attempts()),
		)
		return
	}

	s.flushLocked(ctx, false)
}

// Shutdown performs the final best-effort flush, ignoring backoff state.
// No further retry follows; undeliverable data is dropped with a log.
// Params: ctx bounds the final delivery attempts.
// Returns: none.
func (s *Shipper) Shutdown(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.buffer.Empty() {
		return
	}
	s.flushLocked(ctx, true)
}

// flushLocked attempts delivery of all buffered units, grouped by
// destination parameters. Caller must hold s.mu.
// Params: ctx delivery context; final marks the shutdown attempt, which
// drops instead of entering backoff on failure.
// Returns: none.
func (s *Shipper) flushLocked(ctx context.Context, final bool) {
	groups := groupUnits(s.buffer.Units())

	var (
		failed  []Unit
		lastErr error
		sent    int
	)
	for _, group := range groups {
		payload := strings.Join(group.lines, "\n")
		if err := s.client.Write(ctx, []byte(payload), group.params); err != nil {
			failed = append(failed, group.units...)
			lastErr = err
			continue
		}
		sent += len(group.lines)
	}

	if lastErr == nil {
		s.buffer.Drain()
		s.retry.onSuccess()
		s.logger.Debug("batch delivered", slog.Int("lines", sent))
		return
	}

	// Delivered groups stay out of the buffer so they are never resent.
	s.buffer.Replace(failed)

	if final {
		dropped := s.buffer.Size()
		s.buffer.Drain()
		s.logger.Error(
			"shutdown flush failed, dropping batch",
			slog.Int("lines", dropped),
			slog.String("error", lastErr.Error()),
		)
		return
	}

	if s.retry.onFailure(s.now()) {
		dropped := s.buffer.Size()
		s.buffer.Drain()
		s.logger.Error(
			"retries exhausted, dropping batch",
			slog.Int("lines", dropped),
			slog.Int("max_try", s.cfg.Retry.MaxTry),
			slog.String("error", lastErr.Error()),
		)
		return
	}

	s.logger.Warn(
		"delivery failed, batch kept for retry",
		slog.Int("lines", s.buffer.Size()),
		slog.Int("attempts", s.retry.attempts()),
		slog.Duration("retry_in", s.cfg.Retry.TryDelay),
		slog.String("error", lastErr.Error()),
	)
}

// unitGroup bundles buffered units sharing one destination parameter set.
type unitGroup struct {
	params influx.WriteParams
	units  []Unit
	lines  []string
}

// groupUnits groups units by identical write parameters, preserving the
// arrival order of both groups and lines within a group.
// Params: units buffered delivery units.
// Returns: ordered group list; one delivery payload per group.
func groupUnits(units []Unit) []*unitGroup {
	index := make(map[string]*unitGroup, len(units))
	out := make([]*unitGroup, 0, len(units))

	for _, unit := range units {
		key := unit.Params.Key()
		group, ok := index[key]
		if !ok {
			group = &unitGroup{params: unit.Params}
			index[key] = group
			out = append(out, group)
		}
		group.units = append(group.units, unit)
		group.lines = append(group.lines, unit.Lines...)
	}

	return out
}
