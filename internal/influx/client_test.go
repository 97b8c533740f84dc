package influx

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"
)

type capturedRequest struct {
	query    url.Values
	header   http.Header
	body     []byte
	user     string
	password string
	hasAuth  bool
}

// startWriteServer starts a fake /write endpoint that records requests.
// Params: t test handle; status HTTP status to return; responseBody response payload.
// Returns: server handle and pointer to the last captured request.
func startWriteServer(t *testing.T, status int, responseBody string) (*httptest.Server, *capturedRequest) {
	t.Helper()

	captured := &capturedRequest{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			t.Errorf("read request body: %v", err)
		}

		captured.query = r.URL.Query()
		captured.header = r.Header.Clone()
		captured.body = body
		captured.user, captured.password, captured.hasAuth = r.BasicAuth()

		w.WriteHeader(status)
		if responseBody != "" {
			_, _ = w.Write([]byte(responseBody))
		}
	}))
	t.Cleanup(server.Close)

	return server, captured
}

// clientForServer builds a client pointed at a test server.
// Params: t test handle; server target test server; cfg partial config (hostname/port filled in).
// Returns: configured client.
func clientForServer(t *testing.T, server *httptest.Server, cfg ClientConfig) *Client {
	t.Helper()

	parsed, err := url.Parse(server.URL)
	if err != nil {
		t.Fatalf("parse server url: %v", err)
	}
	host, portText, err := net.SplitHostPort(parsed.Host)
	if err != nil {
		t.Fatalf("split server host: %v", err)
	}
	port, err := strconv.Atoi(portText)
	if err != nil {
		t.Fatalf("parse server port: %v", err)
	}

	cfg.Hostname = host
	cfg.Port = uint16(port)
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Second
	}

	client, err := NewClient(cfg)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return client
}

// TestWrite_SuccessSendsQueryParamsAndPayload verifies a 204 write round trip.
// Params: testing.T for assertions.
// Returns: none.
func TestWrite_SuccessSendsQueryParamsAndPayload(t *testing.T) {
	server, captured := startWriteServer(t, http.StatusNoContent, "")
	client := clientForServer(t, server, ClientConfig{})

	params := WriteParams{
		DB:              "telemetry",
		RetentionPolicy: "rp30d",
		Consistency:     "one",
		Precision:       "s",
	}
	payload := []byte("cpu,host=a util=50 1000\nram,host=a used=10i 1000")

	if err := client.Write(context.Background(), payload, params); err != nil {
		t.Fatalf("write: %v", err)
	}

	if got := captured.query.Get("db"); got != "telemetry" {
		t.Fatalf("unexpected db query param: %q", got)
	}
	if got := captured.query.Get("rp"); got != "rp30d" {
		t.Fatalf("unexpected rp query param: %q", got)
	}
	if got := captured.query.Get("consistency"); got != "one" {
		t.Fatalf("unexpected consistency query param: %q", got)
	}
	if got := captured.query.Get("precision"); got != "s" {
		t.Fatalf("unexpected precision query param: %q", got)
	}
	if string(captured.body) != string(payload) {
		t.Fatalf("unexpected payload:\n got=%q\nwant=%q", captured.body, payload)
	}
}

// TestWrite_OmitsEmptyQueryParams verifies empty optional parameters stay off the query string.
// Params: testing.T for assertions.
// Returns: none.
func TestWrite_OmitsEmptyQueryParams(t *testing.T) {
	server, captured := startWriteServer(t, http.StatusNoContent, "")
	client := clientForServer(t, server, ClientConfig{})

	if err := client.Write(context.Background(), []byte("cpu v=1 1"), WriteParams{DB: "telemetry"}); err != nil {
		t.Fatalf("write: %v", err)
	}

	for _, key := range []string{"rp", "consistency", "precision"} {
		if captured.query.Has(key) {
			t.Fatalf("unexpected %q query param: %q", key, captured.query.Get(key))
		}
	}
}

// TestWrite_CredentialsUseBasicAuthNotQuery verifies credentials travel in the auth header only.
// Params: testing.T for assertions.
// Returns: none.
func TestWrite_CredentialsUseBasicAuthNotQuery(t *testing.T) {
	server, captured := startWriteServer(t, http.StatusNoContent, "")
	client := clientForServer(t, server, ClientConfig{
		User:     "writer",
		Password: "s3cret",
	})

	if err := client.Write(context.Background(), []byte("cpu v=1 1"), WriteParams{DB: "telemetry"}); err != nil {
		t.Fatalf("write: %v", err)
	}

	if !captured.hasAuth {
		t.Fatalf("expected basic auth header")
	}
	if captured.user != "writer" || captured.password != "s3cret" {
		t.Fatalf("unexpected credentials: %q/%q", captured.user, captured.password)
	}
	if captured.query.Has("u") || captured.query.Has("p") {
		t.Fatalf("credentials must not appear in query: %v", captured.query)
	}
}

// TestWrite_CompressionGzipsPayload verifies gzip body and Content-Encoding when compression is on.
// Params: testing.T for assertions.
// Returns: none.
func TestWrite_CompressionGzipsPayload(t *testing.T) {
	server, captured := startWriteServer(t, http.StatusNoContent, "")
	client := clientForServer(t, server, ClientConfig{Compression: true})

	payload := []byte("cpu,host=a util=50 1000")
	if err := client.Write(context.Background(), payload, WriteParams{DB: "telemetry"}); err != nil {
		t.Fatalf("write: %v", err)
	}

	if got := captured.header.Get("Content-Encoding"); got != "gzip" {
		t.Fatalf("unexpected content encoding: %q", got)
	}

	reader, err := gzip.NewReader(bytes.NewReader(captured.body))
	if err != nil {
		t.Fatalf("gzip reader: %v", err)
	}
	decompressed, err := io.ReadAll(reader)
	if err != nil {
		t.Fatalf("gunzip payload: %v", err)
	}
	if string(decompressed) != string(payload) {
		t.Fatalf("unexpected decompressed payload:\n got=%q\nwant=%q", decompressed, payload)
	}
}

// TestWrite_NonNoContentIsRejected verifies any status other than 204 yields a rejected error.
// Params: testing.T for assertions.
// Returns: none.
func TestWrite_NonNoContentIsRejected(t *testing.T) {
	server, _ := startWriteServer(t, http.StatusBadRequest, `{"error":"unable to parse"}`)
	client := clientForServer(t, server, ClientConfig{})

	err := client.Write(context.Background(), []byte("not line protocol"), WriteParams{DB: "telemetry"})
	if err == nil {
		t.Fatalf("expected delivery error")
	}

	var deliveryErr *DeliveryError
	if !errors.As(err, &deliveryErr) {
		t.Fatalf("expected *DeliveryError, got %T", err)
	}
	if deliveryErr.Kind != KindRejected {
		t.Fatalf("unexpected kind: %v", deliveryErr.Kind)
	}
	if deliveryErr.Status != http.StatusBadRequest {
		t.Fatalf("unexpected status: %d", deliveryErr.Status)
	}
	if deliveryErr.Body != `{"error":"unable to parse"}` {
		t.Fatalf("unexpected body: %q", deliveryErr.Body)
	}
}

// TestWrite_OKStatusIsStillRejected verifies 200 is not treated as success.
// Params: testing.T for assertions.
// Returns: none.
func TestWrite_OKStatusIsStillRejected(t *testing.T) {
	server, _ := startWriteServer(t, http.StatusOK, "")
	client := clientForServer(t, server, ClientConfig{})

	err := client.Write(context.Background(), []byte("cpu v=1 1"), WriteParams{DB: "telemetry"})
	var deliveryErr *DeliveryError
	if !errors.As(err, &deliveryErr) {
		t.Fatalf("expected *DeliveryError, got %v", err)
	}
	if deliveryErr.Kind != KindRejected {
		t.Fatalf("unexpected kind: %v", deliveryErr.Kind)
	}
}

// TestWrite_TimeoutClassified verifies slow destinations map to the timeout kind.
// Params: testing.T for assertions.
// Returns: none.
func TestWrite_TimeoutClassified(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		<-release
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(func() {
		close(release)
		server.Close()
	})

	client := clientForServer(t, server, ClientConfig{Timeout: 50 * time.Millisecond})

	err := client.Write(context.Background(), []byte("cpu v=1 1"), WriteParams{DB: "telemetry"})
	var deliveryErr *DeliveryError
	if !errors.As(err, &deliveryErr) {
		t.Fatalf("expected *DeliveryError, got %v", err)
	}
	if deliveryErr.Kind != KindTimeout {
		t.Fatalf("unexpected kind: %v (err=%v)", deliveryErr.Kind, err)
	}
}

// TestWrite_ConnectionRefusedIsUnreachable verifies closed destinations map to the unreachable kind.
// Params: testing.T for assertions.
// Returns: none.
func TestWrite_ConnectionRefusedIsUnreachable(t *testing.T) {
	server, _ := startWriteServer(t, http.StatusNoContent, "")
	client := clientForServer(t, server, ClientConfig{Timeout: 2 * time.Second})
	server.Close()

	err := client.Write(context.Background(), []byte("cpu v=1 1"), WriteParams{DB: "telemetry"})
	var deliveryErr *DeliveryError
	if !errors.As(err, &deliveryErr) {
		t.Fatalf("expected *DeliveryError, got %v", err)
	}
	if deliveryErr.Kind != KindUnreachable {
		t.Fatalf("unexpected kind: %v (err=%v)", deliveryErr.Kind, err)
	}
}

// TestNewClient_RejectsInvalidConfig verifies constructor validation.
// Params: testing.T for assertions.
// Returns: none.
func TestNewClient_RejectsInvalidConfig(t *testing.T) {
	if _, err := NewClient(ClientConfig{Port: 8086, Timeout: time.Second}); err == nil {
		t.Fatalf("expected error for missing hostname")
	}
	if _, err := NewClient(ClientConfig{Hostname: "influx.local", Port: 8086}); err == nil {
		t.Fatalf("expected error for missing timeout")
	}
}
