package analytics

import (
	"context"
	"errors"
	"testing"
)

type recordingSink struct {
	events []Event
	err    error
	closed bool
}

func (r *recordingSink) Send(_ context.Context, e Event) error {
	r.events = append(r.events, e)
	return r.err
}

func (r *recordingSink) Close() error {
	r.closed = true
	return nil
}

func TestNopSink(t *testing.T) {
	s := NopSink{}
	if err := s.Send(context.Background(), Event{Type: EventParticipation}); err != nil {
		t.Errorf("NopSink.Send returned %v", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("NopSink.Close returned %v", err)
	}
}

func TestMultiSinkFanOut(t *testing.T) {
	a := &recordingSink{}
	b := &recordingSink{}
	m := NewMultiSink(a, b)

	event := Event{
		Type:      EventConversion,
		Data:      map[string]any{"experiment": "exp-1", "variant": "control", "metric": "click"},
		Timestamp: 1700000000000,
	}
	if err := m.Send(context.Background(), event); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	if len(a.events) != 1 || len(b.events) != 1 {
		t.Errorf("fan-out delivered %d/%d events, want 1/1", len(a.events), len(b.events))
	}
	if a.events[0].Type != EventConversion {
		t.Errorf("event type = %s", a.events[0].Type)
	}
}

func TestMultiSinkDeliversPastFailure(t *testing.T) {
	failErr := errors.New("collector down")
	a := &recordingSink{err: failErr}
	b := &recordingSink{}
	m := NewMultiSink(a, b)

	err := m.Send(context.Background(), Event{Type: EventParticipation})
	if !errors.Is(err, failErr) {
		t.Errorf("expected joined error containing failErr, got %v", err)
	}
	if len(b.events) != 1 {
		t.Error("second sink must still receive the event after first sink fails")
	}
}

func TestMultiSinkClose(t *testing.T) {
	a := &recordingSink{}
	b := &recordingSink{}
	m := NewMultiSink(a, b)

	if err := m.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if !a.closed || !b.closed {
		t.Error("Close must close all sinks")
	}
}
