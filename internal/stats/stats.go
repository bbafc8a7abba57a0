// Package stats evaluates experiment results with a two-proportion
// z-test for conversion rates.
package stats

import (
	"errors"
	"fmt"
	"math"

	"abtest-engine/internal/domain"
)

// Analyzer errors.
var (
	// ErrVariantCount is returned when an experiment does not have
	// exactly one control and one treatment variant.
	ErrVariantCount = errors.New("significance testing requires exactly two variants")

	// ErrUnsupportedConfidence is returned for confidence levels without
	// a tabulated critical value.
	ErrUnsupportedConfidence = errors.New("unsupported confidence level")
)

// criticalValues maps supported confidence levels to two-tailed critical
// z values.
var criticalValues = map[float64]float64{
	0.90: 1.645,
	0.95: 1.96,
	0.99: 2.576,
}

// Config controls significance evaluation.
type Config struct {
	// MinSampleSize is the minimum participants per variant before a
	// verdict is attempted.
	MinSampleSize int
	// ConfidenceLevel is one of 0.90, 0.95, 0.99.
	ConfidenceLevel float64
}

// DefaultConfig returns the default evaluation configuration.
func DefaultConfig() Config {
	return Config{
		MinSampleSize:   100,
		ConfidenceLevel: 0.95,
	}
}

// Analyzer computes significance results for experiments.
type Analyzer struct {
	config Config
}

// NewAnalyzer creates an Analyzer. Zero or invalid config fields fall back
// to defaults.
func NewAnalyzer(config Config) *Analyzer {
	def := DefaultConfig()
	if config.MinSampleSize <= 0 {
		config.MinSampleSize = def.MinSampleSize
	}
	if _, ok := criticalValues[config.ConfidenceLevel]; !ok {
		config.ConfidenceLevel = def.ConfidenceLevel
	}
	return &Analyzer{config: config}
}

// Evaluate runs the z-test for every tracked metric of the experiment.
// The first variant is the control, the second the treatment.
func (a *Analyzer) Evaluate(e *domain.Experiment, now int64) ([]domain.SignificanceResult, error) {
	if len(e.Variants) != 2 {
		return nil, fmt.Errorf("%w: experiment %s has %d", ErrVariantCount, e.ID, len(e.Variants))
	}

	control := e.Variants[0]
	treatment := e.Variants[1]

	results := make([]domain.SignificanceResult, 0, len(e.TrackedMetrics))
	for _, metric := range e.TrackedMetrics {
		r := a.evaluateMetric(e, control.ID, treatment.ID, metric)
		r.EvaluatedAt = now
		results = append(results, r)
	}
	return results, nil
}

// evaluateMetric runs a single two-proportion z-test.
func (a *Analyzer) evaluateMetric(e *domain.Experiment, controlID, treatmentID, metric string) domain.SignificanceResult {
	result := domain.SignificanceResult{
		ExperimentID: e.ID,
		Metric:       metric,
	}

	cm := e.Metrics[controlID]
	tm := e.Metrics[treatmentID]

	var n1, n2 int
	if cm != nil {
		n1 = cm.Participants
	}
	if tm != nil {
		n2 = tm.Participants
	}

	if n1 < a.config.MinSampleSize || n2 < a.config.MinSampleSize {
		result.InsufficientSample = true
		result.PValue = 1
		shortfall := 0
		if d := a.config.MinSampleSize - n1; d > shortfall {
			shortfall = d
		}
		if d := a.config.MinSampleSize - n2; d > shortfall {
			shortfall = d
		}
		result.AdditionalParticipantsNeeded = shortfall
		return result
	}

	var x1, x2 int
	if cm.Conversions != nil {
		x1 = cm.Conversions[metric]
	}
	if tm.Conversions != nil {
		x2 = tm.Conversions[metric]
	}

	p1 := float64(x1) / float64(n1)
	p2 := float64(x2) / float64(n2)
	result.ControlRate = p1
	result.TreatmentRate = p2

	// Pooled proportion under the null hypothesis of equal rates.
	pooled := float64(x1+x2) / float64(n1+n2)
	se := math.Sqrt(pooled * (1 - pooled) * (1/float64(n1) + 1/float64(n2)))

	if se == 0 {
		// Identical degenerate rates (all zero or all converted).
		result.PValue = 1
		return result
	}

	z := (p2 - p1) / se
	absZ := math.Abs(z)
	result.ZScore = z
	result.PValue = 2 * (1 - normalCDF(absZ))

	critical := criticalValues[a.config.ConfidenceLevel]
	if absZ <= critical {
		return result
	}

	result.IsSignificant = true
	if p2 > p1 {
		result.WinnerVariantID = treatmentID
	} else {
		result.WinnerVariantID = controlID
	}
	// Improvement is a magnitude; direction is carried by the winner.
	if p1 > 0 {
		result.RelativeImprovementPct = math.Abs(p2-p1) / p1 * 100
	}
	return result
}

// normalCDF is the standard normal cumulative distribution function.
func normalCDF(z float64) float64 {
	return 0.5 * (1 + erf(z/math.Sqrt2))
}

// erf approximates the error function with the Abramowitz and Stegun
// formula 7.1.26, accurate to about 1.5e-7.
func erf(x float64) float64 {
	sign := 1.0
	if x < 0 {
		sign = -1.0
		x = -x
	}

	const (
		a1 = 0.254829592
		a2 = -0.284496736
		a3 = 1.421413741
		a4 = -1.453152027
		a5 = 1.061405429
		p  = 0.3275911
	)

	t := 1.0 / (1.0 + p*x)
	y := 1.0 - ((((a5*t+a4)*t+a3)*t+a2)*t+a1)*t*math.Exp(-x*x)

	return sign * y
}
