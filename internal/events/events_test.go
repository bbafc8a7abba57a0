package events

import (
	"context"
	"io"
	"log"
	"testing"

	"abtest-engine/internal/analytics"
	"abtest-engine/internal/domain"
	"abtest-engine/internal/keyvalue/memory"
	"abtest-engine/internal/registry"
)

type staticAssignments []domain.ActiveAssignment

func (s staticAssignments) Active() []domain.ActiveAssignment { return s }

func seedExperiment(t *testing.T, reg *registry.Registry, id string, status domain.Status, metrics ...string) {
	t.Helper()
	exp := &domain.Experiment{
		ID:   id,
		Name: id,
		Variants: []domain.Variant{
			{ID: "control", Name: "a", Weight: 50},
			{ID: "treatment", Name: "b", Weight: 50},
		},
		TargetSegments: []string{domain.SegmentAll},
		TrackedMetrics: metrics,
		StartTime:      0,
		EndTime:        1 << 50,
	}
	ctx := context.Background()
	if err := reg.Put(ctx, exp); err != nil {
		t.Fatalf("seed %s: %v", id, err)
	}
	if err := reg.UpdateStatus(ctx, id, status); err != nil {
		t.Fatalf("status %s: %v", id, err)
	}
}

func newRecorder(reg *registry.Registry, assigned staticAssignments, emit func(analytics.Event)) *Recorder {
	return New(Options{
		Registry:    reg,
		Assignments: assigned,
		Emit:        emit,
		Logger:      log.New(io.Discard, "", 0),
		Clock:       func() int64 { return 1700000000000 },
	})
}

func TestRecordConversionAttributesToActiveAssignments(t *testing.T) {
	reg := registry.New(memory.NewStore(), "", log.New(io.Discard, "", 0))
	seedExperiment(t, reg, "exp-1", domain.StatusRunning, "click")
	seedExperiment(t, reg, "exp-2", domain.StatusRunning, "click", "signup")

	var events []analytics.Event
	rec := newRecorder(reg, staticAssignments{
		{ExperimentID: "exp-1", VariantID: "control"},
		{ExperimentID: "exp-2", VariantID: "treatment"},
	}, func(e analytics.Event) { events = append(events, e) })

	ctx := context.Background()
	rec.RecordConversion(ctx, "click")
	rec.RecordConversion(ctx, "click")

	e1, _ := reg.Get("exp-1")
	if got := e1.Metrics["control"].Conversions["click"]; got != 2 {
		t.Errorf("exp-1 conversions = %d, want 2", got)
	}
	e2, _ := reg.Get("exp-2")
	if got := e2.Metrics["treatment"].Conversions["click"]; got != 2 {
		t.Errorf("exp-2 conversions = %d, want 2", got)
	}
	if len(events) != 4 {
		t.Errorf("emitted %d events, want 4", len(events))
	}
	if events[0].Type != analytics.EventConversion || events[0].Data["metric"] != "click" {
		t.Errorf("event = %+v", events[0])
	}
}

func TestRecordConversionSkipsUntrackedMetric(t *testing.T) {
	reg := registry.New(memory.NewStore(), "", log.New(io.Discard, "", 0))
	seedExperiment(t, reg, "exp-1", domain.StatusRunning, "click")

	rec := newRecorder(reg, staticAssignments{
		{ExperimentID: "exp-1", VariantID: "control"},
	}, nil)

	rec.RecordConversion(context.Background(), "purchase")

	e, _ := reg.Get("exp-1")
	if m := e.Metrics["control"]; m != nil && m.Conversions["purchase"] != 0 {
		t.Error("untracked metric must not be recorded")
	}
}

func TestRecordConversionAcceptedAfterConclusion(t *testing.T) {
	reg := registry.New(memory.NewStore(), "", log.New(io.Discard, "", 0))
	seedExperiment(t, reg, "exp-1", domain.StatusConcluded, "click")

	rec := newRecorder(reg, staticAssignments{
		{ExperimentID: "exp-1", VariantID: "control"},
	}, nil)

	rec.RecordConversion(context.Background(), "click")

	e, _ := reg.Get("exp-1")
	if got := e.Metrics["control"].Conversions["click"]; got != 1 {
		t.Errorf("concluded experiment conversions = %d, want 1", got)
	}
}

func TestRecordConversionSkipsForcedAssignment(t *testing.T) {
	reg := registry.New(memory.NewStore(), "", log.New(io.Discard, "", 0))
	seedExperiment(t, reg, "exp-1", domain.StatusRunning, "click")

	rec := newRecorder(reg, staticAssignments{
		{ExperimentID: "exp-1", VariantID: "treatment", Forced: true},
	}, nil)

	rec.RecordConversion(context.Background(), "click")

	e, _ := reg.Get("exp-1")
	if m := e.Metrics["treatment"]; m != nil && m.Conversions["click"] != 0 {
		t.Error("forced assignment must not contribute data")
	}
}

func TestRecordCustomMetric(t *testing.T) {
	reg := registry.New(memory.NewStore(), "", log.New(io.Discard, "", 0))
	seedExperiment(t, reg, "exp-1", domain.StatusRunning, "time_on_page")

	rec := newRecorder(reg, staticAssignments{
		{ExperimentID: "exp-1", VariantID: "control"},
	}, nil)

	ctx := context.Background()
	rec.RecordCustomMetric(ctx, "time_on_page", 42.5)
	rec.RecordCustomMetric(ctx, "unknown_metric", 1.0)

	e, _ := reg.Get("exp-1")
	samples := e.Metrics["control"].CustomMetricSamples["time_on_page"]
	if len(samples) != 1 {
		t.Fatalf("got %d samples, want 1", len(samples))
	}
	if samples[0].Value != 42.5 || samples[0].Timestamp != 1700000000000 {
		t.Errorf("sample = %+v", samples[0])
	}
	if len(e.Metrics["control"].CustomMetricSamples["unknown_metric"]) != 0 {
		t.Error("unknown metric must be ignored")
	}
}
