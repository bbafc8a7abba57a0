package reporting

import "time"

// Report summarizes the state of every experiment the engine knows about.
type Report struct {
	// Metadata
	GeneratedAt time.Time

	// Status counts
	TotalExperiments     int
	DraftExperiments     int
	RunningExperiments   int
	ConcludedExperiments int
	StoppedExperiments   int

	// Experiments (creation order)
	Experiments []ExperimentRow

	// Conversion rates, one row per (experiment, variant, metric)
	Conversions []ConversionRow

	// Latest significance verdicts
	Verdicts []VerdictRow
}

// ExperimentRow represents one row in the experiments table.
type ExperimentRow struct {
	ExperimentID string
	Name         string
	Status       string
	Variants     int
	Participants int
	StartTime    int64 // Unix ms
	EndTime      int64 // Unix ms
}

// ConversionRow represents one variant's performance on one metric.
type ConversionRow struct {
	ExperimentID string
	VariantID    string
	VariantName  string
	Weight       int
	Metric       string
	Participants int
	Conversions  int
	Rate         float64
}

// VerdictRow represents the latest significance result for one metric.
type VerdictRow struct {
	ExperimentID           string
	Metric                 string
	Significant            bool
	InsufficientSample     bool
	AdditionalParticipants int
	PValue                 float64
	ZScore                 float64
	WinnerVariantID        string
	RelativeImprovementPct float64
	ControlRate            float64
	TreatmentRate          float64
}
