package domain

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Status represents experiment lifecycle state.
type Status string

// Experiment status constants
const (
	StatusDraft     Status = "draft"
	StatusRunning   Status = "running"
	StatusConcluded Status = "concluded"
	StatusStopped   Status = "stopped"
)

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusConcluded || s == StatusStopped
}

// SegmentAll is the wildcard target segment matching every visitor.
const SegmentAll = "all"

// ErrInvalidConfig is returned when an experiment definition is malformed.
// Invalid experiments are rejected at creation time and never leave draft.
var ErrInvalidConfig = errors.New("invalid experiment configuration")

// Variant is one treatment option within an experiment.
type Variant struct {
	ID     string `json:"id"`   // unique within the experiment
	Name   string `json:"name"`
	Weight int    `json:"weight"` // traffic share, integer percentage 0-100

	// TreatmentPayload is owned by the rendering layer. The engine hands it
	// to the renderer verbatim and never interprets its contents.
	TreatmentPayload json.RawMessage `json:"treatment_payload,omitempty"`
}

// MetricSample is one custom-metric observation.
type MetricSample struct {
	Value     float64 `json:"value"`
	Timestamp int64   `json:"timestamp"` // unix ms
}

// VariantMetrics accumulates per-variant counters for the life of an
// experiment. Conversions count events, not unique converters: a participant
// converting twice adds two. Counters only ever grow.
type VariantMetrics struct {
	Participants int `json:"participants"`

	// Conversions maps metric name -> event count.
	Conversions map[string]int `json:"conversions"`

	// CustomMetricSamples maps metric name -> ordered observations.
	CustomMetricSamples map[string][]MetricSample `json:"custom_metric_samples,omitempty"`
}

// NewVariantMetrics creates empty metrics with initialized maps.
func NewVariantMetrics() *VariantMetrics {
	return &VariantMetrics{
		Conversions:         make(map[string]int),
		CustomMetricSamples: make(map[string][]MetricSample),
	}
}

// ConversionRate computes conversions/participants on demand.
// Never cached, so it cannot drift from the underlying counts.
func (m *VariantMetrics) ConversionRate(metric string) float64 {
	if m == nil || m.Participants == 0 {
		return 0
	}
	return float64(m.Conversions[metric]) / float64(m.Participants)
}

// Experiment is a configured comparison between treatment variants.
type Experiment struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`

	Variants []Variant `json:"variants"`

	// TargetSegments holds segment tags (device type, traffic source,
	// returning/new) or the wildcard "all".
	TargetSegments []string `json:"target_segments"`

	// TrackedMetrics lists conversion-event names this experiment cares about.
	TrackedMetrics []string `json:"tracked_metrics"`

	StartTime int64  `json:"start_time"` // unix ms
	EndTime   int64  `json:"end_time"`   // unix ms
	Status    Status `json:"status"`

	// AutoStop opts the experiment into auto-conclusion once significance
	// is reached.
	AutoStop bool `json:"auto_stop,omitempty"`

	ParticipantCount int `json:"participant_count"`

	// Metrics maps variant id -> accumulated counters.
	Metrics map[string]*VariantMetrics `json:"metrics"`
}

// Validate checks structural invariants: at least one variant, weights in
// 0..100 summing to exactly 100, unique variant ids, a sane time window.
func (e *Experiment) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("%w: empty experiment id", ErrInvalidConfig)
	}
	if len(e.Variants) == 0 {
		return fmt.Errorf("%w: experiment %s has no variants", ErrInvalidConfig, e.ID)
	}

	sum := 0
	seen := make(map[string]bool, len(e.Variants))
	for _, v := range e.Variants {
		if v.ID == "" {
			return fmt.Errorf("%w: experiment %s has a variant with empty id", ErrInvalidConfig, e.ID)
		}
		if seen[v.ID] {
			return fmt.Errorf("%w: experiment %s has duplicate variant id %s", ErrInvalidConfig, e.ID, v.ID)
		}
		seen[v.ID] = true
		if v.Weight < 0 || v.Weight > 100 {
			return fmt.Errorf("%w: variant %s/%s weight %d outside 0-100", ErrInvalidConfig, e.ID, v.ID, v.Weight)
		}
		sum += v.Weight
	}
	if sum != 100 {
		return fmt.Errorf("%w: experiment %s variant weights sum to %d, want 100", ErrInvalidConfig, e.ID, sum)
	}

	if e.EndTime != 0 && e.EndTime <= e.StartTime {
		return fmt.Errorf("%w: experiment %s end_time %d not after start_time %d", ErrInvalidConfig, e.ID, e.EndTime, e.StartTime)
	}

	return nil
}

// Variant returns the variant with the given id.
func (e *Experiment) Variant(id string) (Variant, bool) {
	for _, v := range e.Variants {
		if v.ID == id {
			return v, true
		}
	}
	return Variant{}, false
}

// TracksMetric reports whether the experiment declares the metric name.
func (e *Experiment) TracksMetric(name string) bool {
	for _, m := range e.TrackedMetrics {
		if m == name {
			return true
		}
	}
	return false
}

// WindowOpen reports whether now falls within [StartTime, EndTime).
func (e *Experiment) WindowOpen(now int64) bool {
	return now >= e.StartTime && now < e.EndTime
}

// VariantMetricsFor returns the counters for a variant, creating them on
// first access so callers never see a nil map.
func (e *Experiment) VariantMetricsFor(variantID string) *VariantMetrics {
	if e.Metrics == nil {
		e.Metrics = make(map[string]*VariantMetrics)
	}
	m, ok := e.Metrics[variantID]
	if !ok {
		m = NewVariantMetrics()
		e.Metrics[variantID] = m
	}
	return m
}
