// Package dispatch applies treatment payloads and tracks which variant
// each experiment resolved to for the current session.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"abtest-engine/internal/analytics"
	"abtest-engine/internal/domain"
	"abtest-engine/internal/observability"
	"abtest-engine/internal/registry"
)

// Renderer applies a variant's treatment payload to the host surface.
type Renderer interface {
	Apply(ctx context.Context, experimentID, variantID string, payload json.RawMessage) error
}

// NopRenderer accepts every payload without side effects. Useful for
// headless operation and simulations.
type NopRenderer struct{}

// Compile-time interface check.
var _ Renderer = NopRenderer{}

func (NopRenderer) Apply(context.Context, string, string, json.RawMessage) error { return nil }

// Options configures the Dispatcher.
type Options struct {
	Registry *registry.Registry
	Renderer Renderer
	// Emit forwards analytics events. May be nil.
	Emit   func(analytics.Event)
	Logger *log.Logger
	// Clock returns the current unix time in milliseconds.
	Clock func() int64
}

// Dispatcher applies treatments and owns the session's active
// assignments. An assignment sticks for the whole session: repeat
// dispatches of the same experiment are no-ops and never recount the
// participant.
type Dispatcher struct {
	reg      *registry.Registry
	renderer Renderer
	emit     func(analytics.Event)
	logger   *log.Logger
	clock    func() int64

	mu      sync.RWMutex
	active  map[string]domain.ActiveAssignment
	order   []string
	counted map[string]bool
}

// New creates a Dispatcher.
func New(opts Options) *Dispatcher {
	if opts.Renderer == nil {
		opts.Renderer = NopRenderer{}
	}
	if opts.Logger == nil {
		opts.Logger = log.New(os.Stdout, "[dispatch] ", log.LstdFlags)
	}
	if opts.Clock == nil {
		opts.Clock = func() int64 { return time.Now().UnixMilli() }
	}
	return &Dispatcher{
		reg:      opts.Registry,
		renderer: opts.Renderer,
		emit:     opts.Emit,
		logger:   opts.Logger,
		clock:    opts.Clock,
		active:   make(map[string]domain.ActiveAssignment),
		counted:  make(map[string]bool),
	}
}

// Dispatch renders the treatment and records the assignment. When the
// render fails no assignment is recorded and the session stays on
// whatever the page already shows. Forced dispatches replace an existing
// assignment without touching participant counts.
func (d *Dispatcher) Dispatch(ctx context.Context, e *domain.Experiment, variant domain.Variant, forced bool) error {
	d.mu.RLock()
	existing, assigned := d.active[e.ID]
	d.mu.RUnlock()

	if assigned && existing.VariantID == variant.ID && !forced {
		return nil
	}

	start := time.Now()
	err := d.renderer.Apply(ctx, e.ID, variant.ID, variant.TreatmentPayload)
	observability.RecordDispatch(time.Since(start).Seconds(), err)
	if err != nil {
		return fmt.Errorf("render treatment for %s/%s: %w", e.ID, variant.ID, err)
	}

	now := d.clock()

	d.mu.Lock()
	if _, seen := d.active[e.ID]; !seen {
		d.order = append(d.order, e.ID)
	}
	d.active[e.ID] = domain.ActiveAssignment{
		ExperimentID: e.ID,
		VariantID:    variant.ID,
		StartTime:    now,
		Forced:       forced,
	}
	firstCount := !forced && !d.counted[e.ID]
	if firstCount {
		d.counted[e.ID] = true
	}
	d.mu.Unlock()

	if forced {
		observability.RecordForcedAssignment()
		return nil
	}
	if !firstCount {
		return nil
	}

	observability.RecordAssignment(e.ID)
	if err := d.reg.RecordParticipant(ctx, e.ID, variant.ID); err != nil {
		d.logger.Printf("record participant %s/%s: %v", e.ID, variant.ID, err)
	}

	if d.emit != nil {
		d.emit(analytics.Event{
			Type: analytics.EventParticipation,
			Data: map[string]any{
				"experiment": e.ID,
				"variant":    variant.ID,
			},
			Timestamp: now,
		})
	}
	return nil
}

// Assignment returns the session's assignment for an experiment.
func (d *Dispatcher) Assignment(experimentID string) (domain.ActiveAssignment, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	a, ok := d.active[experimentID]
	return a, ok
}

// Active returns all assignments of the session in dispatch order.
func (d *Dispatcher) Active() []domain.ActiveAssignment {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]domain.ActiveAssignment, 0, len(d.order))
	for _, id := range d.order {
		out = append(out, d.active[id])
	}
	return out
}

// Reset clears all session state. A new session starts counting
// participants again.
func (d *Dispatcher) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.active = make(map[string]domain.ActiveAssignment)
	d.order = nil
	d.counted = make(map[string]bool)
}
