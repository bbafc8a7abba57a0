// Package lifecycle drives experiment state transitions: promotion into
// the live window, expiry, manual stops, and auto-conclusion on
// statistical significance.
package lifecycle

import (
	"context"
	"errors"
	"log"
	"os"
	"time"

	"abtest-engine/internal/analytics"
	"abtest-engine/internal/domain"
	"abtest-engine/internal/observability"
	"abtest-engine/internal/registry"
	"abtest-engine/internal/stats"
)

// ErrTerminal is returned when a transition targets an experiment that
// already reached a terminal status.
var ErrTerminal = errors.New("experiment already terminal")

// Options configures the Controller.
type Options struct {
	Registry *registry.Registry
	Analyzer *stats.Analyzer
	// Emit forwards analytics events. May be nil.
	Emit   func(analytics.Event)
	Logger *log.Logger
	// Clock returns the current unix time in milliseconds.
	Clock func() int64
}

// Controller owns all status transitions. Experiments never run outside
// their configured window: drafts promote lazily on the first assignment
// attempt inside the window, and running experiments conclude when the
// window closes.
type Controller struct {
	reg      *registry.Registry
	analyzer *stats.Analyzer
	emit     func(analytics.Event)
	logger   *log.Logger
	clock    func() int64
}

// New creates a Controller.
func New(opts Options) *Controller {
	if opts.Analyzer == nil {
		opts.Analyzer = stats.NewAnalyzer(stats.DefaultConfig())
	}
	if opts.Logger == nil {
		opts.Logger = log.New(os.Stdout, "[lifecycle] ", log.LstdFlags)
	}
	if opts.Clock == nil {
		opts.Clock = func() int64 { return time.Now().UnixMilli() }
	}
	return &Controller{
		reg:      opts.Registry,
		analyzer: opts.Analyzer,
		emit:     opts.Emit,
		logger:   opts.Logger,
		clock:    opts.Clock,
	}
}

// MaybePromote moves a draft experiment to running when the current time
// falls inside its window. Returns true when a promotion happened; the
// passed experiment is updated in place.
func (c *Controller) MaybePromote(ctx context.Context, e *domain.Experiment) bool {
	if e.Status != domain.StatusDraft || !e.WindowOpen(c.clock()) {
		return false
	}
	if err := c.reg.UpdateStatus(ctx, e.ID, domain.StatusRunning); err != nil {
		c.logger.Printf("promote %s: %v", e.ID, err)
		return false
	}
	e.Status = domain.StatusRunning
	c.logger.Printf("experiment %s promoted to running", e.ID)
	return true
}

// CheckExpiry concludes a running experiment whose window has closed.
// Returns true when a conclusion happened; the passed experiment is
// updated in place.
func (c *Controller) CheckExpiry(ctx context.Context, e *domain.Experiment) bool {
	if e.Status != domain.StatusRunning || c.clock() < e.EndTime {
		return false
	}
	if err := c.reg.UpdateStatus(ctx, e.ID, domain.StatusConcluded); err != nil {
		c.logger.Printf("conclude %s: %v", e.ID, err)
		return false
	}
	e.Status = domain.StatusConcluded
	c.logger.Printf("experiment %s concluded, window closed", e.ID)
	c.emitConcluded(e.ID, "window-closed")
	return true
}

// Stop halts an experiment immediately. New visitors stop receiving
// assignments; sessions that already hold one keep their treatment.
// Stopping a terminal experiment is an error.
func (c *Controller) Stop(ctx context.Context, experimentID string) error {
	e, err := c.reg.Get(experimentID)
	if err != nil {
		return err
	}
	if e.Status.Terminal() {
		return ErrTerminal
	}
	if err := c.reg.UpdateStatus(ctx, experimentID, domain.StatusStopped); err != nil {
		return err
	}
	c.logger.Printf("experiment %s stopped", experimentID)
	return nil
}

// Evaluate computes significance results for one experiment, stores them
// as the experiment's latest result set, and auto-concludes when the
// experiment opted in and a metric reached significance.
func (c *Controller) Evaluate(ctx context.Context, e *domain.Experiment) ([]domain.SignificanceResult, error) {
	results, err := c.analyzer.Evaluate(e, c.clock())
	if err != nil {
		observability.RecordSignificanceRun("error")
		return nil, err
	}

	if err := c.reg.SetResults(ctx, e.ID, results); err != nil {
		c.logger.Printf("store results for %s: %v", e.ID, err)
	}

	significant := false
	for _, r := range results {
		switch {
		case r.InsufficientSample:
			observability.RecordSignificanceRun("insufficient_sample")
		case r.IsSignificant:
			observability.RecordSignificanceRun("significant")
			significant = true
		default:
			observability.RecordSignificanceRun("not_significant")
		}
	}

	if significant && e.AutoStop && e.Status == domain.StatusRunning {
		if err := c.reg.UpdateStatus(ctx, e.ID, domain.StatusConcluded); err != nil {
			c.logger.Printf("auto-conclude %s: %v", e.ID, err)
			return results, nil
		}
		e.Status = domain.StatusConcluded
		observability.RecordAutoConclusion()
		c.logger.Printf("experiment %s auto-concluded on significance", e.ID)
		c.emitConcluded(e.ID, "significance")
	}

	return results, nil
}

// EvaluateAll runs Evaluate over every running experiment. Evaluation
// errors are logged per experiment and never abort the sweep.
func (c *Controller) EvaluateAll(ctx context.Context) {
	for _, e := range c.reg.All() {
		if e.Status != domain.StatusRunning {
			continue
		}
		if _, err := c.Evaluate(ctx, e); err != nil {
			c.logger.Printf("evaluate %s: %v", e.ID, err)
		}
	}
}

// SweepExpired concludes every running experiment whose window closed.
func (c *Controller) SweepExpired(ctx context.Context) {
	for _, e := range c.reg.All() {
		c.CheckExpiry(ctx, e)
	}
}

func (c *Controller) emitConcluded(experimentID, reason string) {
	if c.emit == nil {
		return
	}
	c.emit(analytics.Event{
		Type: analytics.EventConcluded,
		Data: map[string]any{
			"experiment": experimentID,
			"reason":     reason,
		},
		Timestamp: c.clock(),
	})
}
