package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"regexp"
	"strings"

	"fluxrelay/internal/config"
)

const (
	ansiReset  = "\x1b[0m"
	ansiGray   = "\x1b[90m"
	ansiBlue   = "\x1b[34m"
	ansiGreen  = "\x1b[32m"
	ansiYellow = "\x1b[33m"
	ansiCyan   = "\x1b[36m"
	ansiRed    = "\x1b[31m"
)

var (
	levelColors = map[string]string{
		"DEBUG": ansiGray,
		"INFO":  ansiBlue,
		"WARN":  ansiYellow,
		"ERROR": ansiRed,
	}

	levelPattern = regexp.MustCompile(`\blevel=([A-Z]+)\b`)

	// one leftmost-first pass: quoted strings, then IPv4 addresses, then numbers.
	tokenPattern = regexp.MustCompile(`"(?:[^"\\]|\\.)*"|\b(?:\d{1,3}\.){3}\d{1,3}\b|\b\d+(?:\.\d+)?\b`)
)

// colorLineWriter colors line-format log output: level-based base color
// plus token highlighting for quoted strings, IPs, and numbers.
// Params: dst destination writer.
// Returns: writer wrapping one console sink.
type colorLineWriter struct {
	dst io.Writer
}

// Write colors each line and forwards it to the destination.
// Params: p raw handler output, one or more newline-separated lines.
// Returns: len(p) on success to satisfy the handler contract, or write error.
func (w *colorLineWriter) Write(p []byte) (int, error) {
	raw := string(p)

	var out strings.Builder
	for {
		idx := strings.IndexByte(raw, '\n')
		if idx < 0 {
			out.WriteString(colorLine(raw))
			break
		}
		out.WriteString(colorLine(raw[:idx]))
		out.WriteByte('\n')
		raw = raw[idx+1:]
	}

	if _, err := w.dst.Write([]byte(out.String())); err != nil {
		return 0, err
	}
	return len(p), nil
}

// colorLine renders one log line with base and token colors.
// Params: line one log line without trailing newline.
// Returns: colored line, or the input untouched when no known level is present.
func colorLine(line string) string {
	if line == "" {
		return line
	}

	match := levelPattern.FindStringSubmatch(line)
	if match == nil {
		return line
	}
	base, ok := levelColors[match[1]]
	if !ok {
		return line
	}

	colored := tokenPattern.ReplaceAllStringFunc(line, func(token string) string {
		return tokenColor(token) + token + ansiReset + base
	})

	return base + colored + ansiReset
}

// tokenColor selects the highlight color for one matched token.
// Params: token quoted string, IPv4 address, or number.
// Returns: ANSI color prefix.
func tokenColor(token string) string {
	if strings.HasPrefix(token, `"`) {
		return ansiGreen
	}
	if strings.Count(token, ".") == 3 {
		return ansiCyan
	}
	return ansiYellow
}

// New builds the root slog logger from sink configuration.
// Params: cfg validated logging config with console/file sinks.
// Returns: logger, close function releasing file resources, or init error.
func New(cfg config.LogConfig) (*slog.Logger, func(), error) {
	handlers := make([]slog.Handler, 0, 2)
	closeFn := func() {}

	if cfg.Console.Enabled {
		handler, err := newSinkHandler(os.Stdout, cfg.Console, true)
		if err != nil {
			return nil, nil, err
		}
		handlers = append(handlers, handler)
	}

	if cfg.File.Enabled {
		file, err := os.OpenFile(cfg.File.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file %q: %w", cfg.File.Path, err)
		}
		handler, err := newSinkHandler(file, cfg.File, false)
		if err != nil {
			_ = file.Close()
			return nil, nil, err
		}
		handlers = append(handlers, handler)
		closeFn = func() {
			_ = file.Close()
		}
	}

	switch len(handlers) {
	case 0:
		return slog.New(slog.NewTextHandler(io.Discard, nil)), closeFn, nil
	case 1:
		return slog.New(handlers[0]), closeFn, nil
	default:
		return slog.New(&multiHandler{handlers: handlers}), closeFn, nil
	}
}

// newSinkHandler builds one slog handler for a sink.
// Params: dst sink writer; sink sink config; colorize enables the color
// writer for line format.
// Returns: handler or level parse error.
func newSinkHandler(dst io.Writer, sink config.LogSinkConfig, colorize bool) (slog.Handler, error) {
	level, err := parseLevel(sink.Level)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}

	if sink.Format == "json" {
		return slog.NewJSONHandler(dst, opts), nil
	}
	if colorize {
		dst = &colorLineWriter{dst: dst}
	}
	return slog.NewTextHandler(dst, opts), nil
}

// parseLevel maps a config level string onto slog levels.
// Params: value lowercase level name.
// Returns: slog level or error for unknown values.
func parseLevel(value string) (slog.Level, error) {
	switch value {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unknown log level %q", value)
	}
}

// multiHandler fans one record out to all configured sink handlers.
type multiHandler struct {
	handlers []slog.Handler
}

// Enabled reports whether any sink accepts the level.
// Params: ctx handler context; level record level.
// Returns: true when at least one sink is enabled for the level.
func (h *multiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

// Handle forwards the record to each enabled sink.
// Params: ctx handler context; record log record.
// Returns: first sink error, if any.
func (h *multiHandler) Handle(ctx context.Context, record slog.Record) error {
	var firstErr error
	for _, handler := range h.handlers {
		if !handler.Enabled(ctx, record.Level) {
			continue
		}
		if err := handler.Handle(ctx, record.Clone()); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// WithAttrs returns a multi handler with attrs applied to each sink.
// Params: attrs attributes to attach.
// Returns: derived handler.
func (h *multiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make([]slog.Handler, len(h.handlers))
	for idx, handler := range h.handlers {
		out[idx] = handler.WithAttrs(attrs)
	}
	return &multiHandler{handlers: out}
}

// WithGroup returns a multi handler with the group applied to each sink.
// Params: name group name.
// Returns: derived handler.
func (h *multiHandler) WithGroup(name string) slog.Handler {
	out := make([]slog.Handler, len(h.handlers))
	for idx, handler := range h.handlers {
		out[idx] = handler.WithGroup(name)
	}
	return &multiHandler{handlers: out}
}
