package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/pelletier/go-toml/v2"
)

const (
	defaultLogLevel       = "info"
	defaultLogFormat      = "line"
	defaultSource         = "fluxrelay"
	defaultInfluxPort     = uint16(8086)
	defaultInfluxTimeout  = 15 * time.Second
	defaultPrecision      = "s"
	defaultBufferSize     = 5125
	defaultBufferMaxAge   = 300 * time.Second
	defaultBufferMaxTry   = 6
	defaultBufferTryDelay = 120 * time.Second
	defaultIngestListen   = "127.0.0.1:8090"
	defaultHostScrape     = 30 * time.Second
	defaultPprofListen    = "127.0.0.1:6060"

	// envPrefix namespaces environment overrides, e.g. FLUXRELAY_INFLUX_HOSTNAME.
	envPrefix = "FLUXRELAY_"
)

// Duration wraps time.Duration for TOML and env parsing.
// Params: text duration string (e.g. "15s", "5m").
// Returns: parse error on invalid duration.
type Duration struct {
	time.Duration
}

// UnmarshalText parses duration values from TOML or environment.
// Params: text is raw duration bytes.
// Returns: error when value is not a valid Go duration.
func (d *Duration) UnmarshalText(text []byte) error {
	value := strings.TrimSpace(string(text))
	if value == "" {
		d.Duration = 0
		return nil
	}

	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", value, err)
	}

	d.Duration = parsed
	return nil
}

// Config represents the root relay configuration.
// Params: TOML document sections plus env overrides.
// Returns: validated runtime configuration.
type Config struct {
	Global      GlobalConfig      `toml:"global"`
	Log         LogConfig         `toml:"log"`
	Pprof       PprofConfig       `toml:"pprof"`
	Influx      InfluxConfig      `toml:"influx"`
	Buffer      BufferConfig      `toml:"buffer"`
	Ingest      IngestConfig      `toml:"ingest"`
	HostMetrics HostMetricsConfig `toml:"host_metrics"`
}

// GlobalConfig contains engine identity and shared tags.
// Params: source identifier, host identity, free-form global tags.
// Returns: lowest-precedence tag settings for all records.
type GlobalConfig struct {
	Source string            `toml:"source" env:"SOURCE"`
	Host   string            `toml:"host" env:"HOST"`
	Tags   map[string]string `toml:"tags"`
}

// LogConfig contains console/file logging configuration.
// Params: console and file sink options.
// Returns: logger sink settings.
type LogConfig struct {
	Console LogSinkConfig `toml:"console"`
	File    LogSinkConfig `toml:"file"`
}

// LogSinkConfig defines one logging sink.
// Params: sink options from TOML.
// Returns: sink setup.
type LogSinkConfig struct {
	Enabled bool   `toml:"enabled"`
	Level   string `toml:"level"`
	Format  string `toml:"format"`
	Path    string `toml:"path"`
}

// PprofConfig defines optional runtime pprof HTTP endpoint.
// Params: enabled flag and listen address in host:port format.
// Returns: pprof runtime settings.
type PprofConfig struct {
	Enabled bool   `toml:"enabled"`
	Listen  string `toml:"listen"`
}

// InfluxConfig contains destination write parameters. Immutable after
// initialization; metric records may override db/rp/precision per record.
// Params: endpoint, credentials, and transport settings.
// Returns: destination configuration.
type InfluxConfig struct {
	Hostname        string   `toml:"hostname" env:"INFLUX_HOSTNAME"`
	Port            uint16   `toml:"port" env:"INFLUX_PORT"`
	User            string   `toml:"user" env:"INFLUX_USER"`
	Passwd          string   `toml:"passwd" env:"INFLUX_PASSWD"`
	DB              string   `toml:"db" env:"INFLUX_DB"`
	RetentionPolicy string   `toml:"retention_policy" env:"INFLUX_RETENTION_POLICY"`
	Consistency     string   `toml:"consistency" env:"INFLUX_CONSISTENCY"`
	Precision       string   `toml:"precision" env:"INFLUX_PRECISION"`
	SSL             bool     `toml:"ssl" env:"INFLUX_SSL"`
	SSLCert         string   `toml:"ssl_cert" env:"INFLUX_SSL_CERT"`
	HTTPCompression *bool    `toml:"http_compression" env:"INFLUX_HTTP_COMPRESSION"`
	HTTPTimeout     Duration `toml:"http_timeout" env:"INFLUX_HTTP_TIMEOUT"`
}

// BufferConfig bounds buffering and retry behavior.
// Params: flush thresholds and retry limits.
// Returns: per-pipeline buffer settings.
type BufferConfig struct {
	Size     int      `toml:"size" env:"BUFFER_SIZE"`
	MaxAge   Duration `toml:"max_age" env:"BUFFER_MAX_AGE"`
	MaxTry   int      `toml:"max_try" env:"BUFFER_MAX_TRY"`
	TryDelay Duration `toml:"try_delay" env:"BUFFER_MAX_TRY_DELAY"`
}

// IngestConfig defines the inbound record HTTP endpoint.
// Params: enabled flag and listen address in host:port format.
// Returns: ingest server settings.
type IngestConfig struct {
	Enabled *bool  `toml:"enabled" env:"INGEST_ENABLED"`
	Listen  string `toml:"listen" env:"INGEST_LISTEN"`
}

// HostMetricsConfig defines the optional built-in host sampler.
// Params: enabled flag, scrape interval, and collector toggles.
// Returns: host sampler settings.
type HostMetricsConfig struct {
	Enabled bool     `toml:"enabled" env:"HOST_METRICS_ENABLED"`
	Scrape  Duration `toml:"scrape" env:"HOST_METRICS_SCRAPE"`
	CPU     *bool    `toml:"cpu"`
	RAM     *bool    `toml:"ram"`
	Swap    *bool    `toml:"swap"`
}

// Load reads, expands, overrides, validates, and returns config from path.
// Params: path to TOML config file or directory with *.toml files.
// Returns: validated config pointer or error.
func Load(path string) (*Config, error) {
	raw, err := readConfigSource(path)
	if err != nil {
		return nil, err
	}

	expanded := os.ExpandEnv(string(raw))

	var cfg Config
	if err := toml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("decode TOML %q: %w", path, err)
	}

	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: envPrefix}); err != nil {
		return nil, fmt.Errorf("apply env overrides: %w", err)
	}

	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// readConfigSource reads one TOML file or concatenates *.toml files from directory.
// Params: path to config file or directory.
// Returns: raw TOML bytes or error.
func readConfigSource(path string) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat config %q: %w", path, err)
	}

	if !info.IsDir() {
		raw, readErr := os.ReadFile(path)
		if readErr != nil {
			return nil, fmt.Errorf("read config %q: %w", path, readErr)
		}
		return raw, nil
	}

	return readConfigDir(path)
}

// readConfigDir concatenates config snippets from one directory.
// Params: path to directory that contains *.toml files.
// Returns: concatenated TOML content or error.
func readConfigDir(path string) ([]byte, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("read config dir %q: %w", path, err)
	}

	files := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if strings.EqualFold(filepath.Ext(entry.Name()), ".toml") {
			files = append(files, entry.Name())
		}
	}

	sort.Strings(files)
	if len(files) == 0 {
		return nil, fmt.Errorf("read config dir %q: no *.toml files", path)
	}

	var builder strings.Builder
	for _, name := range files {
		filePath := filepath.Join(path, name)
		raw, readErr := os.ReadFile(filePath)
		if readErr != nil {
			return nil, fmt.Errorf("read config %q: %w", filePath, readErr)
		}
		builder.Write(raw)
		if len(raw) == 0 || raw[len(raw)-1] != '\n' {
			builder.WriteByte('\n')
		}
		builder.WriteByte('\n')
	}

	return []byte(builder.String()), nil
}

// applyDefaults fills defaults for optional configuration fields.
// Params: receiver config pointer.
// Returns: error if defaulting needs host lookup and it fails.
func (c *Config) applyDefaults() error {
	c.Log.Console.Level = lowerOrDefault(c.Log.Console.Level, defaultLogLevel)
	c.Log.Console.Format = lowerOrDefault(c.Log.Console.Format, defaultLogFormat)
	c.Log.File.Level = lowerOrDefault(c.Log.File.Level, defaultLogLevel)
	c.Log.File.Format = lowerOrDefault(c.Log.File.Format, "json")

	if !c.Log.Console.Enabled && !c.Log.File.Enabled {
		c.Log.Console.Enabled = true
	}

	if strings.TrimSpace(c.Global.Source) == "" {
		c.Global.Source = defaultSource
	}
	if strings.TrimSpace(c.Global.Host) == "" {
		host, err := os.Hostname()
		if err != nil {
			return fmt.Errorf("resolve hostname: %w", err)
		}
		c.Global.Host = host
	}

	if c.Influx.Port == 0 {
		c.Influx.Port = defaultInfluxPort
	}
	if c.Influx.HTTPTimeout.Duration <= 0 {
		c.Influx.HTTPTimeout.Duration = defaultInfluxTimeout
	}
	if c.Influx.HTTPCompression == nil {
		c.Influx.HTTPCompression = boolPtr(true)
	}
	if strings.TrimSpace(c.Influx.Precision) == "" {
		c.Influx.Precision = defaultPrecision
	}

	if c.Buffer.Size == 0 {
		c.Buffer.Size = defaultBufferSize
	}
	if c.Buffer.MaxAge.Duration <= 0 {
		c.Buffer.MaxAge.Duration = defaultBufferMaxAge
	}
	if c.Buffer.MaxTry == 0 {
		c.Buffer.MaxTry = defaultBufferMaxTry
	}
	if c.Buffer.TryDelay.Duration <= 0 {
		c.Buffer.TryDelay.Duration = defaultBufferTryDelay
	}

	if c.Ingest.Enabled == nil {
		c.Ingest.Enabled = boolPtr(true)
	}
	if strings.TrimSpace(c.Ingest.Listen) == "" {
		c.Ingest.Listen = defaultIngestListen
	}

	if c.HostMetrics.Scrape.Duration <= 0 {
		c.HostMetrics.Scrape.Duration = defaultHostScrape
	}
	if c.HostMetrics.CPU == nil {
		c.HostMetrics.CPU = boolPtr(true)
	}
	if c.HostMetrics.RAM == nil {
		c.HostMetrics.RAM = boolPtr(true)
	}
	if c.HostMetrics.Swap == nil {
		c.HostMetrics.Swap = boolPtr(false)
	}

	if c.Pprof.Enabled && strings.TrimSpace(c.Pprof.Listen) == "" {
		c.Pprof.Listen = defaultPprofListen
	}

	return nil
}

// validate checks config consistency and required fields. Validation
// failure is the only condition preventing engine startup.
// Params: receiver config pointer.
// Returns: validation error for invalid or incomplete config.
func (c *Config) validate() error {
	if strings.TrimSpace(c.Global.Host) == "" {
		return fmt.Errorf("global.host resolved to empty value")
	}

	if err := validateSink("log.console", c.Log.Console, false); err != nil {
		return err
	}
	if err := validateSink("log.file", c.Log.File, true); err != nil {
		return err
	}

	if strings.TrimSpace(c.Influx.Hostname) == "" {
		return fmt.Errorf("influx.hostname is required")
	}
	if strings.TrimSpace(c.Influx.DB) == "" {
		return fmt.Errorf("influx.db is required")
	}
	if err := validateEnumField("influx.consistency", c.Influx.Consistency, "", "any", "one", "quorum", "all"); err != nil {
		return err
	}
	if err := validateEnumField("influx.precision", c.Influx.Precision, "ns", "u", "ms", "s", "m", "h"); err != nil {
		return err
	}
	if !c.Influx.SSL && strings.TrimSpace(c.Influx.SSLCert) != "" {
		return fmt.Errorf("influx.ssl_cert requires influx.ssl = true")
	}
	if c.Influx.HTTPTimeout.Duration <= 0 {
		return fmt.Errorf("influx.http_timeout must be > 0")
	}

	if c.Buffer.Size <= 0 {
		return fmt.Errorf("buffer.size must be > 0")
	}
	if c.Buffer.MaxAge.Duration <= 0 {
		return fmt.Errorf("buffer.max_age must be > 0")
	}
	if c.Buffer.MaxTry <= 0 {
		return fmt.Errorf("buffer.max_try must be > 0")
	}
	if c.Buffer.TryDelay.Duration < 0 {
		return fmt.Errorf("buffer.try_delay must be >= 0")
	}

	if *c.Ingest.Enabled {
		if err := validateListenField("ingest.listen", c.Ingest.Listen); err != nil {
			return err
		}
	}
	if c.Pprof.Enabled {
		if err := validateListenField("pprof.listen", c.Pprof.Listen); err != nil {
			return err
		}
	}

	if c.HostMetrics.Enabled {
		if c.HostMetrics.Scrape.Duration <= 0 {
			return fmt.Errorf("host_metrics.scrape must be > 0")
		}
		if !*c.HostMetrics.CPU && !*c.HostMetrics.RAM && !*c.HostMetrics.Swap {
			return fmt.Errorf("host_metrics requires at least one collector enabled")
		}
	}

	if !*c.Ingest.Enabled && !c.HostMetrics.Enabled {
		return fmt.Errorf("no record source configured: enable ingest or host_metrics")
	}

	return nil
}

// validateSink checks one logging sink configuration.
// Params: path config path prefix; sink sink config; needsPath true for file sinks.
// Returns: validation error or nil.
func validateSink(path string, sink LogSinkConfig, needsPath bool) error {
	if err := validateEnumField(path+".level", sink.Level, "debug", "info", "warn", "error"); err != nil {
		return err
	}
	if err := validateEnumField(path+".format", sink.Format, "line", "json"); err != nil {
		return err
	}
	if sink.Enabled && needsPath && strings.TrimSpace(sink.Path) == "" {
		return fmt.Errorf("%s.path is required when sink is enabled", path)
	}
	return nil
}

// validateEnumField checks a string field against its allowed values.
// Params: path config path; value current value; allowed accepted values.
// Returns: validation error or nil.
func validateEnumField(path string, value string, allowed ...string) error {
	for _, candidate := range allowed {
		if value == candidate {
			return nil
		}
	}
	return fmt.Errorf("%s must be one of %s, got %q", path, strings.Join(allowed, "/"), value)
}

// validateListenField checks a host:port listen address.
// Params: path config path; value listen address.
// Returns: validation error or nil.
func validateListenField(path string, value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("%s is required", path)
	}
	if _, _, err := net.SplitHostPort(value); err != nil {
		return fmt.Errorf("%s must be host:port: %w", path, err)
	}
	return nil
}

// lowerOrDefault lowercases a value or substitutes a default for empty input.
// Params: value raw config value; fallback default.
// Returns: normalized value.
func lowerOrDefault(value string, fallback string) string {
	cleaned := strings.ToLower(strings.TrimSpace(value))
	if cleaned == "" {
		return fallback
	}
	return cleaned
}

// boolPtr returns a pointer to the given bool.
// Params: value bool value.
// Returns: pointer for optional config fields.
func boolPtr(value bool) *bool {
	return &value
}
