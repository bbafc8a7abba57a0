// Package analytics forwards experiment lifecycle events to external
// collectors. Delivery is best effort: a sink failure never blocks or
// fails the operation that produced the event.
package analytics

import (
	"context"
	"errors"
)

// Event types emitted by the engine.
const (
	EventParticipation string = "participation"
	EventConversion    string = "conversion"
	EventConcluded     string = "experiment-concluded"
)

// Event is a single analytics record.
type Event struct {
	Type      string         `json:"type"`
	Data      map[string]any `json:"data"`
	Timestamp int64          `json:"timestamp"`
}

// Sink delivers events to an external collector.
type Sink interface {
	// Send delivers one event. Implementations must be safe for
	// concurrent use.
	Send(ctx context.Context, event Event) error

	// Close releases any held connections.
	Close() error
}

// NopSink discards all events.
type NopSink struct{}

// Compile-time interface check.
var _ Sink = NopSink{}

func (NopSink) Send(context.Context, Event) error { return nil }
func (NopSink) Close() error                      { return nil }

// MultiSink fans an event out to all configured sinks. Every sink sees
// every event even when an earlier sink fails.
type MultiSink struct {
	sinks []Sink
}

// NewMultiSink creates a MultiSink over the given sinks.
func NewMultiSink(sinks ...Sink) *MultiSink {
	return &MultiSink{sinks: sinks}
}

// Compile-time interface check.
var _ Sink = (*MultiSink)(nil)

// Send delivers the event to all sinks and joins their errors.
func (m *MultiSink) Send(ctx context.Context, event Event) error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Send(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes all sinks and joins their errors.
func (m *MultiSink) Close() error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
