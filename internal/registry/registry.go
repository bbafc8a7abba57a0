// Package registry owns all experiment and result state for the engine's
// lifetime. It is an explicit object passed into each component, not an
// ambient singleton, and persists the whole document to one key-value
// slot after every state-changing operation.
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"

	"abtest-engine/internal/domain"
	"abtest-engine/internal/keyvalue"
	"abtest-engine/internal/observability"
)

// DefaultSlot is the storage slot holding the registry document.
const DefaultSlot = "abtest-registry"

// Registry errors.
var (
	// ErrNotFound is returned when a requested experiment does not exist.
	ErrNotFound = errors.New("experiment not found")

	// ErrUnknownVariant is returned when a variant id does not belong to
	// the experiment.
	ErrUnknownVariant = errors.New("unknown variant")
)

// Document is the persistence format: experiments with embedded variants
// and metrics, plus the last computed significance result set per
// experiment, serialized as one JSON document under one slot.
type Document struct {
	Experiments []*domain.Experiment                    `json:"experiments"`
	Results     map[string][]domain.SignificanceResult `json:"results"`
}

// Registry holds experiments and their accumulated results.
type Registry struct {
	store  keyvalue.Store
	slot   string
	logger *log.Logger

	mu          sync.RWMutex
	experiments map[string]*domain.Experiment
	order       []string // creation order, for deterministic serialization
	results     map[string][]domain.SignificanceResult
}

// New creates a Registry backed by the given store and slot.
func New(store keyvalue.Store, slot string, logger *log.Logger) *Registry {
	if slot == "" {
		slot = DefaultSlot
	}
	if logger == nil {
		logger = log.New(os.Stdout, "[registry] ", log.LstdFlags)
	}
	return &Registry{
		store:       store,
		slot:        slot,
		logger:      logger,
		experiments: make(map[string]*domain.Experiment),
		results:     make(map[string][]domain.SignificanceResult),
	}
}

// Load restores state from the store. A missing slot or an unreadable
// document degrades to empty state; persistence failures are never fatal
// to the host page.
func (r *Registry) Load(ctx context.Context) error {
	data, err := r.store.Get(ctx, r.slot)
	if err != nil {
		if errors.Is(err, keyvalue.ErrNotFound) {
			return nil
		}
		r.logger.Printf("read slot %s failed, starting empty: %v", r.slot, err)
		observability.RecordPersistenceError("read")
		return nil
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		r.logger.Printf("decode slot %s failed, starting empty: %v", r.slot, err)
		observability.RecordPersistenceError("decode")
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.experiments = make(map[string]*domain.Experiment, len(doc.Experiments))
	r.order = r.order[:0]
	for _, e := range doc.Experiments {
		r.experiments[e.ID] = e
		r.order = append(r.order, e.ID)
	}
	r.results = doc.Results
	if r.results == nil {
		r.results = make(map[string][]domain.SignificanceResult)
	}
	return nil
}

// Put adds or replaces an experiment definition. Malformed definitions are
// rejected and never stored; new experiments enter draft unless the
// definition carries an explicit status (restored state).
func (r *Registry) Put(ctx context.Context, e *domain.Experiment) error {
	if e == nil {
		return keyvalue.ErrInvalidInput
	}
	if err := e.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	stored := cloneExperiment(e)
	if stored.Status == "" {
		stored.Status = domain.StatusDraft
	}
	if _, exists := r.experiments[stored.ID]; !exists {
		r.order = append(r.order, stored.ID)
	}
	r.experiments[stored.ID] = stored

	r.persistLocked(ctx)
	return nil
}

// Get retrieves an experiment by id. Returns ErrNotFound if not exists.
func (r *Registry) Get(id string) (*domain.Experiment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, exists := r.experiments[id]
	if !exists {
		return nil, ErrNotFound
	}
	return cloneExperiment(e), nil
}

// All returns all experiments in creation order.
func (r *Registry) All() []*domain.Experiment {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*domain.Experiment, 0, len(r.order))
	for _, id := range r.order {
		result = append(result, cloneExperiment(r.experiments[id]))
	}
	return result
}

// UpdateStatus transitions an experiment to the given status.
func (r *Registry) UpdateStatus(ctx context.Context, id string, status domain.Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, exists := r.experiments[id]
	if !exists {
		return ErrNotFound
	}
	e.Status = status

	r.persistLocked(ctx)
	return nil
}

// RecordParticipant increments the participant count for (experiment,
// variant). Callers guarantee once-per-session semantics; the registry
// only counts.
func (r *Registry) RecordParticipant(ctx context.Context, experimentID, variantID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, exists := r.experiments[experimentID]
	if !exists {
		return ErrNotFound
	}
	if _, ok := e.Variant(variantID); !ok {
		return fmt.Errorf("%w: %s in experiment %s", ErrUnknownVariant, variantID, experimentID)
	}

	e.VariantMetricsFor(variantID).Participants++
	e.ParticipantCount++

	r.persistLocked(ctx)
	return nil
}

// RecordConversion increments the conversion event count for (experiment,
// variant, metric). Conversions count events, not unique converters.
func (r *Registry) RecordConversion(ctx context.Context, experimentID, variantID, metric string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, exists := r.experiments[experimentID]
	if !exists {
		return ErrNotFound
	}
	if _, ok := e.Variant(variantID); !ok {
		return fmt.Errorf("%w: %s in experiment %s", ErrUnknownVariant, variantID, experimentID)
	}

	m := e.VariantMetricsFor(variantID)
	if m.Conversions == nil {
		m.Conversions = make(map[string]int)
	}
	m.Conversions[metric]++

	r.persistLocked(ctx)
	return nil
}

// RecordCustomSample appends a custom-metric observation for (experiment,
// variant, metric).
func (r *Registry) RecordCustomSample(ctx context.Context, experimentID, variantID, metric string, value float64, ts int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, exists := r.experiments[experimentID]
	if !exists {
		return ErrNotFound
	}
	if _, ok := e.Variant(variantID); !ok {
		return fmt.Errorf("%w: %s in experiment %s", ErrUnknownVariant, variantID, experimentID)
	}

	m := e.VariantMetricsFor(variantID)
	if m.CustomMetricSamples == nil {
		m.CustomMetricSamples = make(map[string][]domain.MetricSample)
	}
	m.CustomMetricSamples[metric] = append(m.CustomMetricSamples[metric], domain.MetricSample{
		Value:     value,
		Timestamp: ts,
	})

	r.persistLocked(ctx)
	return nil
}

// SetResults stores the last computed significance result set for an
// experiment.
func (r *Registry) SetResults(ctx context.Context, experimentID string, results []domain.SignificanceResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.experiments[experimentID]; !exists {
		return ErrNotFound
	}
	r.results[experimentID] = append([]domain.SignificanceResult(nil), results...)

	r.persistLocked(ctx)
	return nil
}

// Results returns the last computed result set for an experiment.
// Returns ErrNotFound if the experiment does not exist; an experiment
// without results yields an empty slice.
func (r *Registry) Results(experimentID string) ([]domain.SignificanceResult, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if _, exists := r.experiments[experimentID]; !exists {
		return nil, ErrNotFound
	}
	return append([]domain.SignificanceResult(nil), r.results[experimentID]...), nil
}

// AllResults returns the last computed result sets for all experiments.
func (r *Registry) AllResults() map[string][]domain.SignificanceResult {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string][]domain.SignificanceResult, len(r.results))
	for id, rs := range r.results {
		out[id] = append([]domain.SignificanceResult(nil), rs...)
	}
	return out
}

// Snapshot persists the current document. Used by the periodic snapshot
// scheduler; every mutator already persists synchronously.
func (r *Registry) Snapshot(ctx context.Context) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	r.persistLocked(ctx)
}

// persistLocked writes the whole document to the slot. Failures are logged
// and swallowed: the in-memory state stays authoritative and the next
// mutation retries the write. Callers must hold at least a read lock.
func (r *Registry) persistLocked(ctx context.Context) {
	doc := Document{
		Experiments: make([]*domain.Experiment, 0, len(r.order)),
		Results:     r.results,
	}
	for _, id := range r.order {
		doc.Experiments = append(doc.Experiments, r.experiments[id])
	}

	data, err := json.Marshal(doc)
	if err != nil {
		r.logger.Printf("encode registry document failed: %v", err)
		observability.RecordPersistenceError("encode")
		return
	}

	if err := r.store.Set(ctx, r.slot, data); err != nil {
		r.logger.Printf("persist slot %s failed, will retry on next mutation: %v", r.slot, err)
		observability.RecordPersistenceError("write")
	}
}

// cloneExperiment deep-copies an experiment so callers cannot mutate
// registry state through returned pointers.
func cloneExperiment(e *domain.Experiment) *domain.Experiment {
	c := *e

	c.Variants = make([]domain.Variant, len(e.Variants))
	copy(c.Variants, e.Variants)
	for i, v := range e.Variants {
		if v.TreatmentPayload != nil {
			payload := make(json.RawMessage, len(v.TreatmentPayload))
			copy(payload, v.TreatmentPayload)
			c.Variants[i].TreatmentPayload = payload
		}
	}

	c.TargetSegments = append([]string(nil), e.TargetSegments...)
	c.TrackedMetrics = append([]string(nil), e.TrackedMetrics...)

	if e.Metrics != nil {
		c.Metrics = make(map[string]*domain.VariantMetrics, len(e.Metrics))
		for id, m := range e.Metrics {
			mc := &domain.VariantMetrics{Participants: m.Participants}
			if m.Conversions != nil {
				mc.Conversions = make(map[string]int, len(m.Conversions))
				for k, v := range m.Conversions {
					mc.Conversions[k] = v
				}
			}
			if m.CustomMetricSamples != nil {
				mc.CustomMetricSamples = make(map[string][]domain.MetricSample, len(m.CustomMetricSamples))
				for k, samples := range m.CustomMetricSamples {
					mc.CustomMetricSamples[k] = append([]domain.MetricSample(nil), samples...)
				}
			}
			c.Metrics[id] = mc
		}
	}

	return &c
}
