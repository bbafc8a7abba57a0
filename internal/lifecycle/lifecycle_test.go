package lifecycle

import (
	"context"
	"errors"
	"io"
	"log"
	"testing"

	"abtest-engine/internal/analytics"
	"abtest-engine/internal/domain"
	"abtest-engine/internal/keyvalue/memory"
	"abtest-engine/internal/registry"
	"abtest-engine/internal/stats"
)

const nowMs = int64(1_500_000)

func newController(t *testing.T, reg *registry.Registry, emit func(analytics.Event)) *Controller {
	t.Helper()
	return New(Options{
		Registry: reg,
		Analyzer: stats.NewAnalyzer(stats.DefaultConfig()),
		Emit:     emit,
		Logger:   log.New(io.Discard, "", 0),
		Clock:    func() int64 { return nowMs },
	})
}

func seed(t *testing.T, reg *registry.Registry, id string, start, end int64, autoStop bool) {
	t.Helper()
	exp := &domain.Experiment{
		ID:   id,
		Name: id,
		Variants: []domain.Variant{
			{ID: "control", Name: "a", Weight: 50},
			{ID: "treatment", Name: "b", Weight: 50},
		},
		TargetSegments: []string{domain.SegmentAll},
		TrackedMetrics: []string{"click"},
		StartTime:      start,
		EndTime:        end,
		AutoStop:       autoStop,
	}
	if err := reg.Put(context.Background(), exp); err != nil {
		t.Fatalf("seed %s: %v", id, err)
	}
}

func fill(t *testing.T, reg *registry.Registry, id string, n1, x1, n2, x2 int) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < n1; i++ {
		if err := reg.RecordParticipant(ctx, id, "control"); err != nil {
			t.Fatalf("participant: %v", err)
		}
	}
	for i := 0; i < x1; i++ {
		if err := reg.RecordConversion(ctx, id, "control", "click"); err != nil {
			t.Fatalf("conversion: %v", err)
		}
	}
	for i := 0; i < n2; i++ {
		if err := reg.RecordParticipant(ctx, id, "treatment"); err != nil {
			t.Fatalf("participant: %v", err)
		}
	}
	for i := 0; i < x2; i++ {
		if err := reg.RecordConversion(ctx, id, "treatment", "click"); err != nil {
			t.Fatalf("conversion: %v", err)
		}
	}
}

func TestMaybePromote(t *testing.T) {
	reg := registry.New(memory.NewStore(), "", log.New(io.Discard, "", 0))
	c := newController(t, reg, nil)
	ctx := context.Background()

	seed(t, reg, "open", nowMs-1000, nowMs+1000, false)
	seed(t, reg, "future", nowMs+1000, nowMs+2000, false)

	open, _ := reg.Get("open")
	if !c.MaybePromote(ctx, open) {
		t.Error("experiment inside its window must promote")
	}
	if open.Status != domain.StatusRunning {
		t.Errorf("status = %s", open.Status)
	}
	stored, _ := reg.Get("open")
	if stored.Status != domain.StatusRunning {
		t.Errorf("persisted status = %s", stored.Status)
	}

	future, _ := reg.Get("future")
	if c.MaybePromote(ctx, future) {
		t.Error("experiment before its window must stay draft")
	}

	// Already running: no promotion.
	if c.MaybePromote(ctx, open) {
		t.Error("running experiment must not promote again")
	}
}

func TestCheckExpiry(t *testing.T) {
	reg := registry.New(memory.NewStore(), "", log.New(io.Discard, "", 0))
	var events []analytics.Event
	c := newController(t, reg, func(e analytics.Event) { events = append(events, e) })
	ctx := context.Background()

	seed(t, reg, "expired", 0, nowMs-1, false)
	seed(t, reg, "live", 0, nowMs+1000, false)
	for _, id := range []string{"expired", "live"} {
		if err := reg.UpdateStatus(ctx, id, domain.StatusRunning); err != nil {
			t.Fatalf("status: %v", err)
		}
	}

	c.SweepExpired(ctx)

	expired, _ := reg.Get("expired")
	if expired.Status != domain.StatusConcluded {
		t.Errorf("expired status = %s, want concluded", expired.Status)
	}
	live, _ := reg.Get("live")
	if live.Status != domain.StatusRunning {
		t.Errorf("live status = %s, want running", live.Status)
	}

	if len(events) != 1 || events[0].Type != analytics.EventConcluded {
		t.Fatalf("events = %+v", events)
	}
	if events[0].Data["reason"] != "window-closed" {
		t.Errorf("reason = %v", events[0].Data["reason"])
	}
}

func TestStop(t *testing.T) {
	reg := registry.New(memory.NewStore(), "", log.New(io.Discard, "", 0))
	c := newController(t, reg, nil)
	ctx := context.Background()

	seed(t, reg, "exp-1", 0, nowMs+1000, false)
	if err := reg.UpdateStatus(ctx, "exp-1", domain.StatusRunning); err != nil {
		t.Fatalf("status: %v", err)
	}

	if err := c.Stop(ctx, "exp-1"); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	e, _ := reg.Get("exp-1")
	if e.Status != domain.StatusStopped {
		t.Errorf("status = %s, want stopped", e.Status)
	}

	if err := c.Stop(ctx, "exp-1"); !errors.Is(err, ErrTerminal) {
		t.Errorf("stopping a stopped experiment: %v", err)
	}
	if err := c.Stop(ctx, "missing"); !errors.Is(err, registry.ErrNotFound) {
		t.Errorf("stopping a missing experiment: %v", err)
	}
}

func TestEvaluateStoresResults(t *testing.T) {
	reg := registry.New(memory.NewStore(), "", log.New(io.Discard, "", 0))
	c := newController(t, reg, nil)
	ctx := context.Background()

	seed(t, reg, "exp-1", 0, nowMs+1000, false)
	if err := reg.UpdateStatus(ctx, "exp-1", domain.StatusRunning); err != nil {
		t.Fatalf("status: %v", err)
	}
	fill(t, reg, "exp-1", 1000, 100, 1000, 150)

	e, _ := reg.Get("exp-1")
	results, err := c.Evaluate(ctx, e)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if len(results) != 1 || !results[0].IsSignificant {
		t.Fatalf("results = %+v", results)
	}

	stored, err := reg.Results("exp-1")
	if err != nil {
		t.Fatalf("Results failed: %v", err)
	}
	if len(stored) != 1 || stored[0].WinnerVariantID != "treatment" {
		t.Errorf("stored results = %+v", stored)
	}

	// No AutoStop: experiment keeps running.
	after, _ := reg.Get("exp-1")
	if after.Status != domain.StatusRunning {
		t.Errorf("status = %s, want running", after.Status)
	}
}

func TestEvaluateAutoConcludes(t *testing.T) {
	reg := registry.New(memory.NewStore(), "", log.New(io.Discard, "", 0))
	var events []analytics.Event
	c := newController(t, reg, func(e analytics.Event) { events = append(events, e) })
	ctx := context.Background()

	seed(t, reg, "exp-1", 0, nowMs+1000, true)
	if err := reg.UpdateStatus(ctx, "exp-1", domain.StatusRunning); err != nil {
		t.Fatalf("status: %v", err)
	}
	fill(t, reg, "exp-1", 1000, 100, 1000, 150)

	c.EvaluateAll(ctx)

	e, _ := reg.Get("exp-1")
	if e.Status != domain.StatusConcluded {
		t.Errorf("status = %s, want concluded", e.Status)
	}
	if len(events) != 1 || events[0].Data["reason"] != "significance" {
		t.Errorf("events = %+v", events)
	}
}

func TestEvaluateInsufficientSampleKeepsRunning(t *testing.T) {
	reg := registry.New(memory.NewStore(), "", log.New(io.Discard, "", 0))
	c := newController(t, reg, nil)
	ctx := context.Background()

	seed(t, reg, "exp-1", 0, nowMs+1000, true)
	if err := reg.UpdateStatus(ctx, "exp-1", domain.StatusRunning); err != nil {
		t.Fatalf("status: %v", err)
	}
	fill(t, reg, "exp-1", 40, 30, 45, 10)

	c.EvaluateAll(ctx)

	e, _ := reg.Get("exp-1")
	if e.Status != domain.StatusRunning {
		t.Errorf("status = %s, want running", e.Status)
	}
	results, _ := reg.Results("exp-1")
	if len(results) != 1 || !results[0].InsufficientSample {
		t.Errorf("results = %+v", results)
	}
}
