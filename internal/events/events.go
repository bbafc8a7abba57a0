// Package events records conversions and custom metric observations
// against the session's active assignments.
package events

import (
	"context"
	"log"
	"os"
	"time"

	"abtest-engine/internal/analytics"
	"abtest-engine/internal/domain"
	"abtest-engine/internal/observability"
	"abtest-engine/internal/registry"
)

// Assignments exposes the session's active variant assignments.
type Assignments interface {
	Active() []domain.ActiveAssignment
}

// Options configures the Recorder.
type Options struct {
	Registry    *registry.Registry
	Assignments Assignments
	// Emit forwards analytics events. May be nil.
	Emit   func(analytics.Event)
	Logger *log.Logger
	// Clock returns the current unix time in milliseconds.
	Clock func() int64
}

// Recorder attributes tracking calls to every experiment the session is
// currently assigned to. A conversion counts events, so one visitor can
// contribute several conversions to the same metric.
type Recorder struct {
	reg         *registry.Registry
	assignments Assignments
	emit        func(analytics.Event)
	logger      *log.Logger
	clock       func() int64
}

// New creates a Recorder.
func New(opts Options) *Recorder {
	if opts.Logger == nil {
		opts.Logger = log.New(os.Stdout, "[events] ", log.LstdFlags)
	}
	if opts.Clock == nil {
		opts.Clock = func() int64 { return time.Now().UnixMilli() }
	}
	return &Recorder{
		reg:         opts.Registry,
		assignments: opts.Assignments,
		emit:        opts.Emit,
		logger:      opts.Logger,
		clock:       opts.Clock,
	}
}

// RecordConversion credits the metric to each experiment of the session
// that tracks it. Concluded and stopped experiments still accept events so
// historical data stays complete; forced assignments are debug overrides
// and never contribute data.
func (r *Recorder) RecordConversion(ctx context.Context, metric string) {
	now := r.clock()

	for _, a := range r.assignments.Active() {
		if a.Forced {
			continue
		}

		exp, err := r.reg.Get(a.ExperimentID)
		if err != nil {
			continue
		}
		if !exp.TracksMetric(metric) {
			continue
		}

		if err := r.reg.RecordConversion(ctx, a.ExperimentID, a.VariantID, metric); err != nil {
			r.logger.Printf("record conversion %s/%s/%s: %v", a.ExperimentID, a.VariantID, metric, err)
			continue
		}
		observability.RecordConversion(metric)

		if r.emit != nil {
			r.emit(analytics.Event{
				Type: analytics.EventConversion,
				Data: map[string]any{
					"experiment": a.ExperimentID,
					"variant":    a.VariantID,
					"metric":     metric,
				},
				Timestamp: now,
			})
		}
	}
}

// RecordCustomMetric stores a numeric observation for each experiment of
// the session that tracks the metric. Unknown metrics are ignored without
// error.
func (r *Recorder) RecordCustomMetric(ctx context.Context, metric string, value float64) {
	now := r.clock()

	for _, a := range r.assignments.Active() {
		if a.Forced {
			continue
		}

		exp, err := r.reg.Get(a.ExperimentID)
		if err != nil {
			continue
		}
		if !exp.TracksMetric(metric) {
			continue
		}

		if err := r.reg.RecordCustomSample(ctx, a.ExperimentID, a.VariantID, metric, value, now); err != nil {
			r.logger.Printf("record sample %s/%s/%s: %v", a.ExperimentID, a.VariantID, metric, err)
			continue
		}
		observability.RecordCustomSample(metric)
	}
}
