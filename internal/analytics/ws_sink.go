package analytics

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"abtest-engine/internal/observability"
)

// WSSinkConfig configures WebSocket sink behavior.
type WSSinkConfig struct {
	// Endpoint is the ws:// or wss:// collector URL.
	Endpoint string
	// ReconnectDelay is initial delay before reconnect attempt.
	ReconnectDelay time.Duration
	// MaxReconnectDelay is maximum delay between reconnect attempts.
	MaxReconnectDelay time.Duration
	// WriteTimeout is timeout for writing messages.
	WriteTimeout time.Duration
	// PingInterval is interval for sending ping frames.
	PingInterval time.Duration
}

// DefaultWSSinkConfig returns default WebSocket sink configuration.
func DefaultWSSinkConfig(endpoint string) WSSinkConfig {
	return WSSinkConfig{
		Endpoint:          endpoint,
		ReconnectDelay:    1 * time.Second,
		MaxReconnectDelay: 30 * time.Second,
		WriteTimeout:      10 * time.Second,
		PingInterval:      30 * time.Second,
	}
}

// WSSink streams events over a persistent WebSocket connection. Events
// produced while the connection is down are dropped; delivery here is
// fire and forget, the registry document remains the durable record.
type WSSink struct {
	config WSSinkConfig

	conn   *websocket.Conn
	connMu sync.Mutex
	closed atomic.Bool

	// reconnecting indicates reconnection in progress
	reconnecting atomic.Bool

	done chan struct{}
	wg   sync.WaitGroup
}

// NewWSSink creates the sink and connects to the endpoint.
func NewWSSink(ctx context.Context, config WSSinkConfig) (*WSSink, error) {
	s := &WSSink{
		config: config,
		done:   make(chan struct{}),
	}

	if err := s.connect(ctx); err != nil {
		return nil, err
	}

	s.wg.Add(1)
	go s.pingLoop()

	return s, nil
}

// Compile-time interface check.
var _ Sink = (*WSSink)(nil)

// connect establishes the WebSocket connection.
func (s *WSSink) connect(ctx context.Context) error {
	s.connMu.Lock()
	defer s.connMu.Unlock()

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, s.config.Endpoint, nil)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}

	s.conn = conn
	return nil
}

// Send writes the event as a JSON text frame. A write failure drops the
// event and triggers background reconnection.
func (s *WSSink) Send(_ context.Context, event Event) error {
	if s.closed.Load() {
		return fmt.Errorf("sink closed")
	}

	s.connMu.Lock()
	conn := s.conn
	if conn == nil {
		s.connMu.Unlock()
		observability.RecordSinkError("websocket")
		return fmt.Errorf("not connected")
	}

	conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
	err := conn.WriteJSON(event)
	s.connMu.Unlock()

	if err != nil {
		observability.RecordSinkError("websocket")
		if !s.reconnecting.Swap(true) {
			go s.reconnect(s.config.ReconnectDelay)
		}
		return fmt.Errorf("write event: %w", err)
	}
	return nil
}

// Close closes the WebSocket connection.
func (s *WSSink) Close() error {
	if s.closed.Swap(true) {
		return nil // Already closed
	}

	close(s.done)

	s.connMu.Lock()
	if s.conn != nil {
		s.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		s.conn.Close()
	}
	s.connMu.Unlock()

	s.wg.Wait()
	return nil
}

// reconnect attempts to re-establish the connection with exponential
// backoff until it succeeds or the sink closes.
func (s *WSSink) reconnect(delay time.Duration) {
	defer s.reconnecting.Store(false)

	for !s.closed.Load() {
		select {
		case <-s.done:
			return
		case <-time.After(delay):
		}

		s.connMu.Lock()
		if s.conn != nil {
			s.conn.Close()
			s.conn = nil
		}
		s.connMu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		err := s.connect(ctx)
		cancel()
		if err == nil {
			return
		}

		delay *= 2
		if delay > s.config.MaxReconnectDelay {
			delay = s.config.MaxReconnectDelay
		}
	}
}

// pingLoop sends periodic ping frames to keep the connection alive.
func (s *WSSink) pingLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.connMu.Lock()
			if s.conn != nil {
				s.conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
				if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					// Connection might be dead, next Send triggers reconnect
				}
			}
			s.connMu.Unlock()
		}
	}
}
