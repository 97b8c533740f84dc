package influx

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// ErrorKind classifies one failed delivery attempt.
// Params: none.
// Returns: taxonomy value consumed by the retry controller and logs.
type ErrorKind int

const (
	// KindUnreachable covers connection refused/reset and DNS failures.
	KindUnreachable ErrorKind = iota
	// KindTimeout marks round trips that exceeded the configured timeout.
	KindTimeout
	// KindRejected marks responses with any status other than 204.
	KindRejected
)

// String returns a stable label for the error kind.
// Params: none.
// Returns: kind label.
func (k ErrorKind) String() string {
	switch k {
	case KindTimeout:
		return "timeout"
	case KindRejected:
		return "rejected"
	default:
		return "unreachable"
	}
}

// DeliveryError reports one failed write attempt with diagnostics.
// Params: kind classification plus status/body for rejected writes.
// Returns: error implementation carried up to the retry controller.
type DeliveryError struct {
	Kind   ErrorKind
	Status int
	Body   string
	Err    error
}

// Error renders the delivery failure for logs.
// Params: none.
// Returns: one-line failure description.
func (e *DeliveryError) Error() string {
	switch e.Kind {
	case KindRejected:
		return fmt.Sprintf("influx write rejected: status=%d body=%q", e.Status, e.Body)
	default:
		return fmt.Sprintf("influx write %s: %v", e.Kind, e.Err)
	}
}

// Unwrap exposes the underlying transport error.
// Params: none.
// Returns: wrapped error or nil.
func (e *DeliveryError) Unwrap() error {
	return e.Err
}

// WriteParams is one resolved set of destination write parameters.
// Params: database routing values emitted as query parameters.
// Returns: value attached to each delivery unit.
type WriteParams struct {
	DB              string
	RetentionPolicy string
	Consistency     string
	Precision       string
}

// Key returns a grouping key identifying one logical destination.
// Params: none.
// Returns: stable key; units with equal keys share one write payload.
func (p WriteParams) Key() string {
	return p.DB + "\x00" + p.RetentionPolicy + "\x00" + p.Consistency + "\x00" + p.Precision
}

// queryParams maps non-empty write parameters to /write query keys.
// Params: none.
// Returns: query parameter map without credential fields.
func (p WriteParams) queryParams() map[string]string {
	out := make(map[string]string, 4)
	if p.DB != "" {
		out["db"] = p.DB
	}
	if p.RetentionPolicy != "" {
		out["rp"] = p.RetentionPolicy
	}
	if p.Consistency != "" {
		out["consistency"] = p.Consistency
	}
	if p.Precision != "" {
		out["precision"] = p.Precision
	}
	return out
}

// ClientConfig defines connection parameters for one InfluxDB endpoint.
// Params: endpoint/credential/transport settings from config.
// Returns: immutable client construction input.
type ClientConfig struct {
	Hostname    string
	Port        uint16
	SSL         bool
	SSLCert     string
	User        string
	Password    string
	Timeout     time.Duration
	Compression bool
}

// Client performs single-attempt batched writes to the InfluxDB /write API.
// Params: none.
// Returns: client reusing one HTTP connection pool across flushes.
type Client struct {
	http     *resty.Client
	writeURL string
	user     string
	password string
	compress bool
}

// NewClient builds a delivery client from endpoint configuration.
// Params: cfg validated endpoint settings.
// Returns: client instance or configuration error.
func NewClient(cfg ClientConfig) (*Client, error) {
	if strings.TrimSpace(cfg.Hostname) == "" {
		return nil, fmt.Errorf("influx hostname is required")
	}
	if cfg.Timeout <= 0 {
		return nil, fmt.Errorf("influx timeout must be > 0")
	}

	scheme := "http"
	if cfg.SSL {
		scheme = "https"
	}
	host := net.JoinHostPort(strings.TrimSpace(cfg.Hostname), strconv.Itoa(int(cfg.Port)))

	httpClient := resty.New().
		SetTimeout(cfg.Timeout).
		SetRetryCount(0).
		SetHeader("User-Agent", "fluxrelay")
	if cfg.SSL && strings.TrimSpace(cfg.SSLCert) != "" {
		httpClient.SetRootCertificate(cfg.SSLCert)
	}

	return &Client{
		http:     httpClient,
		writeURL: fmt.Sprintf("%s://%s/write", scheme, host),
		user:     cfg.User,
		password: cfg.Password,
		compress: cfg.Compression,
	}, nil
}

// Write posts one newline-joined payload to the destination. Exactly one attempt.
// Params: ctx bounds the round trip together with the client timeout; payload
// line protocol bytes; params resolved destination parameters.
// Returns: nil on HTTP 204, otherwise *DeliveryError.
func (c *Client) Write(ctx context.Context, payload []byte, params WriteParams) error {
	request := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "text/plain; charset=utf-8").
		SetQueryParams(params.queryParams())

	if c.user != "" {
		request.SetBasicAuth(c.user, c.password)
	}

	body := payload
	if c.compress {
		compressed, err := gzipPayload(payload)
		if err != nil {
			return &DeliveryError{Kind: KindUnreachable, Err: fmt.Errorf("gzip payload: %w", err)}
		}
		body = compressed
		request.SetHeader("Content-Encoding", "gzip")
	}

	response, err := request.SetBody(body).Post(c.writeURL)
	if err != nil {
		return classifyTransportError(err)
	}

	if response.StatusCode() != http.StatusNoContent {
		return &DeliveryError{
			Kind:   KindRejected,
			Status: response.StatusCode(),
			Body:   strings.TrimSpace(string(response.Body())),
		}
	}

	return nil
}

// classifyTransportError maps transport failures onto the delivery taxonomy.
// Params: err error returned before any HTTP status was produced.
// Returns: *DeliveryError of kind Timeout or Unreachable.
func classifyTransportError(err error) *DeliveryError {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return &DeliveryError{Kind: KindTimeout, Err: err}
	}
	return &DeliveryError{Kind: KindUnreachable, Err: err}
}

// gzipPayload compresses one write payload.
// Params: payload raw line protocol bytes.
// Returns: gzip-compressed bytes or compression error.
func gzipPayload(payload []byte) ([]byte, error) {
	var buf bytes.Buffer
	writer := gzip.NewWriter(&buf)
	if _, err := writer.Write(payload); err != nil {
		return nil, err
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
