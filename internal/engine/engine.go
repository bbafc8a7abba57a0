// Package engine wires the full experimentation flow together.
// Flow: fingerprint → segment → eligibility → assignment → dispatch,
// with tracking, significance evaluation and reporting on top.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"abtest-engine/internal/analytics"
	"abtest-engine/internal/assignment"
	"abtest-engine/internal/dispatch"
	"abtest-engine/internal/domain"
	"abtest-engine/internal/events"
	"abtest-engine/internal/idhash"
	"abtest-engine/internal/keyvalue"
	"abtest-engine/internal/lifecycle"
	"abtest-engine/internal/observability"
	"abtest-engine/internal/registry"
	"abtest-engine/internal/reporting"
	"abtest-engine/internal/segment"
	"abtest-engine/internal/stats"
)

// ErrVariantNotFound is returned when a forced variant does not exist.
var ErrVariantNotFound = errors.New("variant not found")

// Options for creating an Engine.
type Options struct {
	// Store persists the registry document. Required.
	Store keyvalue.Store
	// Slot is the storage key. Empty uses the registry default.
	Slot string
	// Renderer applies treatment payloads. Nil uses a no-op renderer.
	Renderer dispatch.Renderer
	// Sink receives analytics events. Nil discards them.
	Sink analytics.Sink
	// StatsConfig controls significance evaluation.
	StatsConfig stats.Config
	Logger      *log.Logger
	// Clock returns the current unix time in milliseconds.
	Clock func() int64
	// SinkTimeout bounds each asynchronous event delivery.
	SinkTimeout time.Duration
}

// Engine is the public facade of the experimentation runtime.
type Engine struct {
	reg        *registry.Registry
	dispatcher *dispatch.Dispatcher
	recorder   *events.Recorder
	controller *lifecycle.Controller
	generator  *reporting.Generator

	sink        analytics.Sink
	sinkTimeout time.Duration
	logger      *log.Logger
	clock       func() int64
}

// VisitResult describes what a page view resolved to.
type VisitResult struct {
	Fingerprint string                    `json:"fingerprint"`
	Segment     domain.VisitorSegment     `json:"segment"`
	Assignments []domain.ActiveAssignment `json:"assignments"`
}

// New creates an Engine.
func New(opts Options) *Engine {
	if opts.Sink == nil {
		opts.Sink = analytics.NopSink{}
	}
	if opts.Logger == nil {
		opts.Logger = log.New(os.Stdout, "[engine] ", log.LstdFlags)
	}
	if opts.Clock == nil {
		opts.Clock = func() int64 { return time.Now().UnixMilli() }
	}
	if opts.SinkTimeout <= 0 {
		opts.SinkTimeout = 5 * time.Second
	}

	e := &Engine{
		sink:        opts.Sink,
		sinkTimeout: opts.SinkTimeout,
		logger:      opts.Logger,
		clock:       opts.Clock,
	}

	e.reg = registry.New(opts.Store, opts.Slot, opts.Logger)
	e.dispatcher = dispatch.New(dispatch.Options{
		Registry: e.reg,
		Renderer: opts.Renderer,
		Emit:     e.emit,
		Logger:   opts.Logger,
		Clock:    opts.Clock,
	})
	e.recorder = events.New(events.Options{
		Registry:    e.reg,
		Assignments: e.dispatcher,
		Emit:        e.emit,
		Logger:      opts.Logger,
		Clock:       opts.Clock,
	})
	e.controller = lifecycle.New(lifecycle.Options{
		Registry: e.reg,
		Analyzer: stats.NewAnalyzer(opts.StatsConfig),
		Emit:     e.emit,
		Logger:   opts.Logger,
		Clock:    opts.Clock,
	})
	e.generator = reporting.NewGenerator(e.reg)

	return e
}

// Load restores persisted state.
func (e *Engine) Load(ctx context.Context) error {
	return e.reg.Load(ctx)
}

// AddExperiment registers an experiment definition.
func (e *Engine) AddExperiment(ctx context.Context, exp *domain.Experiment) error {
	return e.reg.Put(ctx, exp)
}

// Experiment returns one experiment by id.
func (e *Engine) Experiment(id string) (*domain.Experiment, error) {
	return e.reg.Get(id)
}

// Experiments returns all experiments in creation order.
func (e *Engine) Experiments() []*domain.Experiment {
	return e.reg.All()
}

// Results returns the latest significance results for one experiment.
func (e *Engine) Results(experimentID string) ([]domain.SignificanceResult, error) {
	return e.reg.Results(experimentID)
}

// AllResults returns the latest significance results for all experiments.
func (e *Engine) AllResults() map[string][]domain.SignificanceResult {
	return e.reg.AllResults()
}

// Visit processes a page view: fingerprints the visitor, derives the
// segment and resolves every eligible experiment to a variant. Failures
// inside a single experiment are logged and leave the visitor on the
// default page for that experiment; the visit itself always succeeds.
func (e *Engine) Visit(ctx context.Context, signals idhash.Signals, isReturning bool) VisitResult {
	fingerprint := idhash.Fingerprint(signals)
	seg := segment.Derive(signals, isReturning)
	seg.Fingerprint = fingerprint

	for _, exp := range e.reg.All() {
		e.controller.CheckExpiry(ctx, exp)

		switch exp.Status {
		case domain.StatusRunning:
		case domain.StatusDraft:
			if !exp.WindowOpen(e.clock()) {
				continue
			}
		default:
			continue
		}
		// Sessions keep whatever they were shown; only new resolutions
		// go through eligibility and bucketing.
		if _, assigned := e.dispatcher.Assignment(exp.ID); assigned {
			continue
		}
		if !segment.Eligible(seg, exp.TargetSegments) {
			observability.RecordEligibilityRejection(exp.ID)
			continue
		}
		// Draft experiments go live on the first eligible visitor inside
		// their window.
		if exp.Status == domain.StatusDraft && !e.controller.MaybePromote(ctx, exp) {
			continue
		}

		variant, err := assignment.Pick(fingerprint, exp.ID, exp.Variants)
		if err != nil {
			e.logger.Printf("pick variant for %s: %v", exp.ID, err)
			continue
		}
		if err := e.dispatcher.Dispatch(ctx, exp, variant, false); err != nil {
			e.logger.Printf("dispatch %s: %v", exp.ID, err)
		}
	}

	return VisitResult{
		Fingerprint: fingerprint,
		Segment:     seg,
		Assignments: e.dispatcher.Active(),
	}
}

// RecordConversion credits a conversion metric to the session's
// assignments.
func (e *Engine) RecordConversion(ctx context.Context, metric string) {
	e.recorder.RecordConversion(ctx, metric)
}

// RecordCustomMetric stores a numeric observation for the session's
// assignments.
func (e *Engine) RecordCustomMetric(ctx context.Context, metric string, value float64) {
	e.recorder.RecordCustomMetric(ctx, metric, value)
}

// ForceVariant overrides the session's assignment for debugging. The
// override renders the treatment but never contributes participant or
// conversion data. Terminal experiments cannot be forced.
func (e *Engine) ForceVariant(ctx context.Context, experimentID, variantID string) error {
	exp, err := e.reg.Get(experimentID)
	if err != nil {
		return err
	}
	if exp.Status.Terminal() {
		return lifecycle.ErrTerminal
	}
	variant, ok := exp.Variant(variantID)
	if !ok {
		return fmt.Errorf("%w: %s in experiment %s", ErrVariantNotFound, variantID, experimentID)
	}
	return e.dispatcher.Dispatch(ctx, exp, variant, true)
}

// StopExperiment halts an experiment immediately.
func (e *Engine) StopExperiment(ctx context.Context, experimentID string) error {
	return e.controller.Stop(ctx, experimentID)
}

// EvaluateSignificance runs the z-test over every running experiment.
func (e *Engine) EvaluateSignificance(ctx context.Context) {
	e.controller.EvaluateAll(ctx)
}

// EvaluateExperiment runs the z-test for one experiment and returns the
// stored results.
func (e *Engine) EvaluateExperiment(ctx context.Context, experimentID string) ([]domain.SignificanceResult, error) {
	exp, err := e.reg.Get(experimentID)
	if err != nil {
		return nil, err
	}
	return e.controller.Evaluate(ctx, exp)
}

// Assignments returns the session's active assignments.
func (e *Engine) Assignments() []domain.ActiveAssignment {
	return e.dispatcher.Active()
}

// NewSession clears session state. Persisted experiment data is
// unaffected.
func (e *Engine) NewSession() {
	e.dispatcher.Reset()
}

// GenerateReport builds a snapshot report of all experiments.
func (e *Engine) GenerateReport() *reporting.Report {
	return e.generator.Generate()
}

// RunSchedulers drives the periodic snapshot and significance sweeps
// until the context is canceled. Blocks; run in a goroutine.
func (e *Engine) RunSchedulers(ctx context.Context, snapshotInterval, significanceInterval time.Duration) {
	snapshot := time.NewTicker(snapshotInterval)
	defer snapshot.Stop()
	significance := time.NewTicker(significanceInterval)
	defer significance.Stop()

	e.logger.Printf("schedulers started: snapshot every %s, significance every %s",
		snapshotInterval, significanceInterval)

	for {
		select {
		case <-ctx.Done():
			e.logger.Printf("schedulers stopped: %v", ctx.Err())
			return
		case <-snapshot.C:
			e.reg.Snapshot(ctx)
			observability.UpdateSnapshotTimestamp(time.Now().Unix())
			observability.UpdateExperimentCounts(e.statusCounts())
		case <-significance.C:
			e.controller.SweepExpired(ctx)
			e.controller.EvaluateAll(ctx)
		}
	}
}

// Close flushes and releases the analytics sink.
func (e *Engine) Close() error {
	return e.sink.Close()
}

// emit forwards an analytics event without blocking the caller.
func (e *Engine) emit(event analytics.Event) {
	observability.RecordEventEmitted(event.Type)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), e.sinkTimeout)
		defer cancel()
		if err := e.sink.Send(ctx, event); err != nil {
			e.logger.Printf("emit %s event: %v", event.Type, err)
		}
	}()
}

func (e *Engine) statusCounts() map[string]int {
	counts := make(map[string]int, 4)
	for _, exp := range e.reg.All() {
		counts[string(exp.Status)]++
	}
	return counts
}
