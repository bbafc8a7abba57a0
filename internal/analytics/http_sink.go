package analytics

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"abtest-engine/internal/observability"
)

// HTTPSinkConfig configures HTTP sink behavior.
type HTTPSinkConfig struct {
	// Endpoint receives one POSTed JSON event per request.
	Endpoint string
	// Timeout bounds each delivery attempt.
	Timeout time.Duration
}

// DefaultHTTPSinkConfig returns default HTTP sink configuration.
func DefaultHTTPSinkConfig(endpoint string) HTTPSinkConfig {
	return HTTPSinkConfig{
		Endpoint: endpoint,
		Timeout:  5 * time.Second,
	}
}

// HTTPSink POSTs each event as a JSON document to a collector endpoint.
type HTTPSink struct {
	config HTTPSinkConfig
	client *http.Client
}

// NewHTTPSink creates an HTTP sink for the given configuration.
func NewHTTPSink(config HTTPSinkConfig) *HTTPSink {
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPSink{
		config: config,
		client: &http.Client{Timeout: timeout},
	}
}

// Compile-time interface check.
var _ Sink = (*HTTPSink)(nil)

// Send POSTs the event. Any status below 300 counts as delivered.
func (s *HTTPSink) Send(ctx context.Context, event Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		observability.RecordSinkError("http")
		return fmt.Errorf("encode event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.Endpoint, bytes.NewReader(body))
	if err != nil {
		observability.RecordSinkError("http")
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		observability.RecordSinkError("http")
		return fmt.Errorf("post event: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 300 {
		observability.RecordSinkError("http")
		return fmt.Errorf("collector returned status %d", resp.StatusCode)
	}
	return nil
}

// Close releases idle connections.
func (s *HTTPSink) Close() error {
	s.client.CloseIdleConnections()
	return nil
}
