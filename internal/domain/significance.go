package domain

// SignificanceResult is the outcome of one two-proportion z-test for a
// (experiment, metric) pair.
type SignificanceResult struct {
	ExperimentID string `json:"experiment_id"`
	Metric       string `json:"metric"`

	IsSignificant bool    `json:"is_significant"`
	PValue        float64 `json:"p_value"`
	ZScore        float64 `json:"z_score"`

	WinnerVariantID        string  `json:"winner_variant_id,omitempty"`
	RelativeImprovementPct float64 `json:"relative_improvement_pct"`

	ControlRate   float64 `json:"control_rate"`
	TreatmentRate float64 `json:"treatment_rate"`

	// InsufficientSample marks the "not yet decidable" case: sample sizes
	// below the configured minimum. Distinct from "not significant".
	InsufficientSample bool `json:"insufficient_sample,omitempty"`

	// AdditionalParticipantsNeeded is the shortfall across both variants
	// when InsufficientSample is set.
	AdditionalParticipantsNeeded int `json:"additional_participants_needed,omitempty"`

	EvaluatedAt int64 `json:"evaluated_at"` // unix ms
}

// ActiveAssignment records that the session's visitor holds a variant for
// an experiment, so later events attribute correctly. At most one exists
// per experiment per session.
type ActiveAssignment struct {
	ExperimentID string `json:"experiment_id"`
	VariantID    string `json:"variant_id"`
	StartTime    int64  `json:"start_time"` // unix ms

	// Forced marks assignments made through the testing override,
	// bypassing hashing and eligibility.
	Forced bool `json:"forced,omitempty"`
}
