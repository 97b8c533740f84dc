package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"fluxrelay/internal/influx"
	"fluxrelay/internal/lineproto"
)

// eventRequest is one JSON-decoded normalized event record.
// Params: record fields per the inbound contract.
// Returns: payload mapped into one single-line delivery unit.
type eventRequest struct {
	Measurement string            `json:"measurement"`
	Client      string            `json:"client"`
	ClientTags  map[string]string `json:"client_tags"`
	Tags        map[string]string `json:"tags"`
	Fields      map[string]any    `json:"fields"`
	Timestamp   any               `json:"timestamp"`
}

// metricRequest is one JSON-decoded metric record: shared identity plus
// multiple points bound to one resolved destination parameter set.
// Params: record fields and optional destination overrides.
// Returns: payload mapped into one multi-line delivery unit.
type metricRequest struct {
	Measurement string            `json:"measurement"`
	Client      string            `json:"client"`
	ClientTags  map[string]string `json:"client_tags"`
	Tags        map[string]string `json:"tags"`
	Points      []metricPoint     `json:"points"`

	DB              string `json:"db"`
	RetentionPolicy string `json:"rp"`
	Precision       string `json:"precision"`
}

// metricPoint is one sample within a metric record.
// Params: point-level tags, fields, and timestamp.
// Returns: one line of the record's delivery unit.
type metricPoint struct {
	Tags      map[string]string `json:"tags"`
	Fields    map[string]any    `json:"fields"`
	Timestamp any               `json:"timestamp"`
}

// ingestHandler maps inbound records onto the shippers. The contract with
// callers is fire-and-forget: decodable bodies always yield 204, and all
// buffering/delivery outcomes surface only via logs.
// Params: none.
// Returns: HTTP handler for the ingest server.
type ingestHandler struct {
	// baseCtx bounds triggered deliveries; a caller disconnect must not
	// abort a flush that its record triggered.
	baseCtx   context.Context
	formatter *lineproto.Formatter
	events    *Shipper
	metrics   *Shipper
	defaults  influx.WriteParams
	logger    *slog.Logger
}

// routes builds the ingest mux.
// Params: none.
// Returns: handler serving POST /events and POST /metrics.
func (h *ingestHandler) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /events", h.handleEvents)
	mux.HandleFunc("POST /metrics", h.handleMetrics)
	return mux
}

// handleEvents ingests one normalized event record.
// Params: w response writer; r request with JSON body.
// Returns: none; 400 only for undecodable JSON, otherwise 204.
func (h *ingestHandler) handleEvents(w http.ResponseWriter, r *http.Request) {
	var request eventRequest
	if err := decodeJSON(r.Body, &request); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}

	line, err := h.formatEvent(request)
	if err != nil {
		h.logger.Warn(
			"skip invalid record",
			slog.String("measurement", request.Measurement),
			slog.String("error", err.Error()),
		)
	} else {
		h.events.Ingest(h.baseCtx, Unit{Lines: []string{line}, Params: h.defaults})
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleMetrics ingests one metric record with per-record destination overrides.
// Params: w response writer; r request with JSON body.
// Returns: none; 400 only for undecodable JSON, otherwise 204.
func (h *ingestHandler) handleMetrics(w http.ResponseWriter, r *http.Request) {
	var request metricRequest
	if err := decodeJSON(r.Body, &request); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}

	params := h.defaults
	if value := strings.TrimSpace(request.DB); value != "" {
		params.DB = value
	}
	if value := strings.TrimSpace(request.RetentionPolicy); value != "" {
		params.RetentionPolicy = value
	}
	if value := strings.TrimSpace(request.Precision); value != "" {
		params.Precision = value
	}

	lines := make([]string, 0, len(request.Points))
	for idx, point := range request.Points {
		line, err := h.formatMetricPoint(request, point)
		if err != nil {
			h.logger.Warn(
				"skip invalid record",
				slog.String("measurement", request.Measurement),
				slog.Int("point", idx),
				slog.String("error", err.Error()),
			)
			continue
		}
		lines = append(lines, line)
	}

	if len(lines) > 0 {
		h.metrics.Ingest(h.baseCtx, Unit{Lines: lines, Params: params})
	}

	w.WriteHeader(http.StatusNoContent)
}

// formatEvent converts one event request into a line.
// Params: request decoded event payload.
// Returns: formatted line or invalid-record error.
func (h *ingestHandler) formatEvent(request eventRequest) (string, error) {
	timestamp, err := coerceTimestamp(request.Timestamp)
	if err != nil {
		return "", err
	}

	return h.formatter.Format(lineproto.Record{
		Measurement: request.Measurement,
		Client:      request.Client,
		ClientTags:  request.ClientTags,
		Tags:        request.Tags,
		Fields:      coerceFields(request.Fields),
		Timestamp:   timestamp,
	})
}

// formatMetricPoint converts one point of a metric request into a line.
// Params: request shared record identity; point one sample.
// Returns: formatted line or invalid-record error.
func (h *ingestHandler) formatMetricPoint(request metricRequest, point metricPoint) (string, error) {
	timestamp, err := coerceTimestamp(point.Timestamp)
	if err != nil {
		return "", err
	}

	tags := make(map[string]string, len(request.Tags)+len(point.Tags))
	for key, value := range request.Tags {
		tags[key] = value
	}
	for key, value := range point.Tags {
		tags[key] = value
	}

	return h.formatter.Format(lineproto.Record{
		Measurement: request.Measurement,
		Client:      request.Client,
		ClientTags:  request.ClientTags,
		Tags:        tags,
		Fields:      coerceFields(point.Fields),
		Timestamp:   timestamp,
	})
}

// decodeJSON decodes one JSON body preserving number types.
// Params: body request body; target decode destination.
// Returns: decode error for malformed JSON.
func decodeJSON(body io.Reader, target any) error {
	decoder := json.NewDecoder(body)
	decoder.UseNumber()
	return decoder.Decode(target)
}

// coerceFields converts decoded JSON field values into formatter types:
// json.Number becomes int64 or float64, strings pass through.
// Params: fields decoded field map.
// Returns: field map with concrete numeric types.
func coerceFields(fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields))
	for key, value := range fields {
		number, ok := value.(json.Number)
		if !ok {
			out[key] = value
			continue
		}
		if integer, err := strconv.ParseInt(number.String(), 10, 64); err == nil {
			out[key] = integer
			continue
		}
		if float, err := number.Float64(); err == nil {
			out[key] = float
			continue
		}
		out[key] = number.String()
	}
	return out
}

// coerceTimestamp parses a decoded timestamp value as integer epoch seconds.
// Params: value JSON number or numeric string.
// Returns: epoch seconds or invalid-record error.
func coerceTimestamp(value any) (int64, error) {
	switch typed := value.(type) {
	case json.Number:
		parsed, err := strconv.ParseInt(typed.String(), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: non-integer timestamp %q", lineproto.ErrInvalidRecord, typed.String())
		}
		return parsed, nil
	case string:
		parsed, err := strconv.ParseInt(strings.TrimSpace(typed), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: non-integer timestamp %q", lineproto.ErrInvalidRecord, typed)
		}
		return parsed, nil
	case nil:
		return 0, fmt.Errorf("%w: missing timestamp", lineproto.ErrInvalidRecord)
	default:
		return 0, fmt.Errorf("%w: unsupported timestamp type %T", lineproto.ErrInvalidRecord, value)
	}
}
