package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"fluxrelay/internal/config"
)

// TestLoad_ExpandsEnvAndAppliesDefaults verifies env expansion and defaulting.
// Params: testing.T for assertions.
// Returns: none.
func TestLoad_ExpandsEnvAndAppliesDefaults(t *testing.T) {
	t.Setenv("TEST_INFLUX_HOST", "influx.example.com")
	t.Setenv("TEST_INFLUX_DB", "telemetry")

	path := writeConfig(t, `
[influx]
hostname = "${TEST_INFLUX_HOST}"
db = "${TEST_INFLUX_DB}"
`)

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	if cfg.Influx.Hostname != "influx.example.com" {
		t.Fatalf("unexpected influx hostname: %q", cfg.Influx.Hostname)
	}
	if cfg.Influx.DB != "telemetry" {
		t.Fatalf("unexpected influx db: %q", cfg.Influx.DB)
	}
	if cfg.Global.Source != "fluxrelay" {
		t.Fatalf("unexpected source default: %q", cfg.Global.Source)
	}
	if cfg.Global.Host == "" {
		t.Fatalf("expected host default")
	}
	if !cfg.Log.Console.Enabled {
		t.Fatalf("expected console logging to be enabled by default")
	}
	if cfg.Influx.Port != 8086 {
		t.Fatalf("unexpected influx port default: %d", cfg.Influx.Port)
	}
	if got := cfg.Influx.HTTPTimeout.Duration; got != 15*time.Second {
		t.Fatalf("unexpected http_timeout default: %v", got)
	}
	if cfg.Influx.HTTPCompression == nil || !*cfg.Influx.HTTPCompression {
		t.Fatalf("expected http_compression default true")
	}
	if cfg.Influx.Precision != "s" {
		t.Fatalf("unexpected precision default: %q", cfg.Influx.Precision)
	}
	if cfg.Buffer.Size != 5125 {
		t.Fatalf("unexpected buffer size default: %d", cfg.Buffer.Size)
	}
	if got := cfg.Buffer.MaxAge.Duration; got != 300*time.Second {
		t.Fatalf("unexpected buffer max_age default: %v", got)
	}
	if cfg.Buffer.MaxTry != 6 {
		t.Fatalf("unexpected buffer max_try default: %d", cfg.Buffer.MaxTry)
	}
	if got := cfg.Buffer.TryDelay.Duration; got != 120*time.Second {
		t.Fatalf("unexpected buffer try_delay default: %v", got)
	}
	if cfg.Ingest.Enabled == nil || !*cfg.Ingest.Enabled {
		t.Fatalf("expected ingest enabled by default")
	}
	if cfg.Ingest.Listen != "127.0.0.1:8090" {
		t.Fatalf("unexpected ingest listen default: %q", cfg.Ingest.Listen)
	}
}

// TestLoad_EnvOverridesTakePrecedence verifies FLUXRELAY_ env overrides win over TOML.
// Params: testing.T for assertions.
// Returns: none.
func TestLoad_EnvOverridesTakePrecedence(t *testing.T) {
	t.Setenv("FLUXRELAY_INFLUX_HOSTNAME", "override.example.com")
	t.Setenv("FLUXRELAY_INFLUX_PASSWD", "secret")
	t.Setenv("FLUXRELAY_BUFFER_SIZE", "42")

	path := writeConfig(t, `
[influx]
hostname = "influx.example.com"
db = "telemetry"

[buffer]
size = 1000
`)

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	if cfg.Influx.Hostname != "override.example.com" {
		t.Fatalf("unexpected influx hostname: %q", cfg.Influx.Hostname)
	}
	if cfg.Influx.Passwd != "secret" {
		t.Fatalf("unexpected influx passwd: %q", cfg.Influx.Passwd)
	}
	if cfg.Buffer.Size != 42 {
		t.Fatalf("unexpected buffer size: %d", cfg.Buffer.Size)
	}
}

// TestLoad_ConfigDirMergesTomlFiles verifies config directory loading and file-order merge.
// Params: testing.T for assertions.
// Returns: none.
func TestLoad_ConfigDirMergesTomlFiles(t *testing.T) {
	dir := writeConfigDir(t, map[string]string{
		"00-global.toml": `
[global]
source = "edge-relay"
host = "host1"
`,
		"10-influx.toml": `
[influx]
hostname = "influx.example.com"
db = "telemetry"
`,
		"20-buffer.toml": `
[buffer]
size = 3
`,
	})

	cfg, err := config.Load(dir)
	if err != nil {
		t.Fatalf("load config dir: %v", err)
	}

	if cfg.Global.Source != "edge-relay" {
		t.Fatalf("unexpected source: %q", cfg.Global.Source)
	}
	if cfg.Influx.Hostname != "influx.example.com" {
		t.Fatalf("unexpected influx hostname: %q", cfg.Influx.Hostname)
	}
	if cfg.Buffer.Size != 3 {
		t.Fatalf("unexpected buffer size: %d", cfg.Buffer.Size)
	}
}

// TestLoad_ConfigDirRejectsWithoutToml verifies directory without *.toml files fails.
// Params: testing.T for assertions.
// Returns: none.
func TestLoad_ConfigDirRejectsWithoutToml(t *testing.T) {
	dir := writeConfigDir(t, map[string]string{
		"readme.md": "not a config",
	})

	_, err := config.Load(dir)
	if err == nil {
		t.Fatalf("expected error for config dir without toml files")
	}
	if !strings.Contains(err.Error(), "no *.toml files") {
		t.Fatalf("unexpected error: %v", err)
	}
}

// TestLoad_ConfigDirIgnoresNonToml verifies non-toml files are skipped during merge.
// Params: testing.T for assertions.
// Returns: none.
func TestLoad_ConfigDirIgnoresNonToml(t *testing.T) {
	dir := writeConfigDir(t, map[string]string{
		"00-influx.toml": `
[influx]
hostname = "influx.example.com"
db = "telemetry"
`,
		"notes.txt": "hostname = \"bogus\"",
	})

	cfg, err := config.Load(dir)
	if err != nil {
		t.Fatalf("load config dir: %v", err)
	}
	if cfg.Influx.Hostname != "influx.example.com" {
		t.Fatalf("unexpected influx hostname: %q", cfg.Influx.Hostname)
	}
}

// TestLoad_RejectsMissingInfluxHostname verifies required destination host validation.
// Params: testing.T for assertions.
// Returns: none.
func TestLoad_RejectsMissingInfluxHostname(t *testing.T) {
	path := writeConfig(t, `
[influx]
db = "telemetry"
`)

	_, err := config.Load(path)
	if err == nil {
		t.Fatalf("expected validation error for missing influx.hostname")
	}
	if !strings.Contains(err.Error(), "influx.hostname") {
		t.Fatalf("unexpected error: %v", err)
	}
}

// TestLoad_RejectsMissingInfluxDB verifies required database validation.
// Params: testing.T for assertions.
// Returns: none.
func TestLoad_RejectsMissingInfluxDB(t *testing.T) {
	path := writeConfig(t, `
[influx]
hostname = "influx.example.com"
`)

	_, err := config.Load(path)
	if err == nil {
		t.Fatalf("expected validation error for missing influx.db")
	}
	if !strings.Contains(err.Error(), "influx.db") {
		t.Fatalf("unexpected error: %v", err)
	}
}

// TestLoad_RejectsInvalidConsistency verifies consistency enum validation.
// Params: testing.T for assertions.
// Returns: none.
func TestLoad_RejectsInvalidConsistency(t *testing.T) {
	path := writeConfig(t, `
[influx]
hostname = "influx.example.com"
db = "telemetry"
consistency = "most"
`)

	_, err := config.Load(path)
	if err == nil {
		t.Fatalf("expected validation error for invalid influx.consistency")
	}
	if !strings.Contains(err.Error(), "influx.consistency") {
		t.Fatalf("unexpected error: %v", err)
	}
}

// TestLoad_RejectsInvalidPrecision verifies precision enum validation.
// Params: testing.T for assertions.
// Returns: none.
func TestLoad_RejectsInvalidPrecision(t *testing.T) {
	path := writeConfig(t, `
[influx]
hostname = "influx.example.com"
db = "telemetry"
precision = "weeks"
`)

	_, err := config.Load(path)
	if err == nil {
		t.Fatalf("expected validation error for invalid influx.precision")
	}
	if !strings.Contains(err.Error(), "influx.precision") {
		t.Fatalf("unexpected error: %v", err)
	}
}

// TestLoad_RejectsSSLCertWithoutSSL verifies ssl_cert requires ssl.
// Params: testing.T for assertions.
// Returns: none.
func TestLoad_RejectsSSLCertWithoutSSL(t *testing.T) {
	path := writeConfig(t, `
[influx]
hostname = "influx.example.com"
db = "telemetry"
ssl_cert = "/etc/ssl/influx.pem"
`)

	_, err := config.Load(path)
	if err == nil {
		t.Fatalf("expected validation error for ssl_cert without ssl")
	}
	if !strings.Contains(err.Error(), "ssl_cert") {
		t.Fatalf("unexpected error: %v", err)
	}
}

// TestLoad_RejectsInvalidIngestListen verifies ingest listen validation.
// Params: testing.T for assertions.
// Returns: none.
func TestLoad_RejectsInvalidIngestListen(t *testing.T) {
	path := writeConfig(t, `
[influx]
hostname = "influx.example.com"
db = "telemetry"

[ingest]
enabled = true
listen = "invalid"
`)

	_, err := config.Load(path)
	if err == nil {
		t.Fatalf("expected validation error for invalid ingest.listen")
	}
}

// TestLoad_RejectsInvalidPprofListen verifies pprof listen validation.
// Params: testing.T for assertions.
// Returns: none.
func TestLoad_RejectsInvalidPprofListen(t *testing.T) {
	path := writeConfig(t, `
[influx]
hostname = "influx.example.com"
db = "telemetry"

[pprof]
enabled = true
listen = "invalid"
`)

	_, err := config.Load(path)
	if err == nil {
		t.Fatalf("expected validation error for invalid pprof.listen")
	}
}

// TestLoad_RejectsHostMetricsWithoutCollectors verifies collector toggle validation.
// Params: testing.T for assertions.
// Returns: none.
func TestLoad_RejectsHostMetricsWithoutCollectors(t *testing.T) {
	path := writeConfig(t, `
[influx]
hostname = "influx.example.com"
db = "telemetry"

[host_metrics]
enabled = true
cpu = false
ram = false
`)

	_, err := config.Load(path)
	if err == nil {
		t.Fatalf("expected validation error for host_metrics without collectors")
	}
	if !strings.Contains(err.Error(), "host_metrics") {
		t.Fatalf("unexpected error: %v", err)
	}
}

// TestLoad_RejectsNoRecordSource verifies at least one record source is required.
// Params: testing.T for assertions.
// Returns: none.
func TestLoad_RejectsNoRecordSource(t *testing.T) {
	path := writeConfig(t, `
[influx]
hostname = "influx.example.com"
db = "telemetry"

[ingest]
enabled = false
`)

	_, err := config.Load(path)
	if err == nil {
		t.Fatalf("expected validation error for missing record source")
	}
	if !strings.Contains(err.Error(), "no record source") {
		t.Fatalf("unexpected error: %v", err)
	}
}

// TestLoad_ParsesHostMetricsSection verifies host sampler settings parse and defaulting.
// Params: testing.T for assertions.
// Returns: none.
func TestLoad_ParsesHostMetricsSection(t *testing.T) {
	path := writeConfig(t, `
[influx]
hostname = "influx.example.com"
db = "telemetry"

[host_metrics]
enabled = true
scrape = "10s"
swap = true
`)

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	if !cfg.HostMetrics.Enabled {
		t.Fatalf("expected host_metrics enabled")
	}
	if got := cfg.HostMetrics.Scrape.Duration; got != 10*time.Second {
		t.Fatalf("unexpected scrape interval: %v", got)
	}
	if cfg.HostMetrics.CPU == nil || !*cfg.HostMetrics.CPU {
		t.Fatalf("expected cpu collector default true")
	}
	if cfg.HostMetrics.Swap == nil || !*cfg.HostMetrics.Swap {
		t.Fatalf("expected swap collector enabled")
	}
}

// TestLoad_RejectsInvalidDuration verifies duration parse failure surfaces.
// Params: testing.T for assertions.
// Returns: none.
func TestLoad_RejectsInvalidDuration(t *testing.T) {
	path := writeConfig(t, `
[influx]
hostname = "influx.example.com"
db = "telemetry"
http_timeout = "fifteen"
`)

	_, err := config.Load(path)
	if err == nil {
		t.Fatalf("expected parse error for invalid duration")
	}
}

// writeConfig creates a temp TOML config for tests.
// Params: t test handle; body TOML content.
// Returns: absolute path to temp config.
func writeConfig(t *testing.T, body string) string {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")

	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	return path
}

// writeConfigDir creates a temp config directory populated with provided files.
// Params: t test handle; files map[name]body.
// Returns: absolute directory path.
func writeConfigDir(t *testing.T, files map[string]string) string {
	t.Helper()

	dir := t.TempDir()
	for name, body := range files {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
			t.Fatalf("write config file %q: %v", name, err)
		}
	}

	return dir
}
