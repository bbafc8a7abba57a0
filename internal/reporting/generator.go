package reporting

import (
	"time"

	"abtest-engine/internal/domain"
	"abtest-engine/internal/registry"
)

// Generator produces reports from registry state.
type Generator struct {
	reg *registry.Registry
	now func() time.Time // Injectable clock for deterministic output
}

// NewGenerator creates a new report generator.
func NewGenerator(reg *registry.Registry) *Generator {
	return &Generator{
		reg: reg,
		now: func() time.Time { return time.Now().UTC() },
	}
}

// WithClock sets a custom clock function for deterministic output.
func (g *Generator) WithClock(now func() time.Time) *Generator {
	g.now = now
	return g
}

// Generate produces a complete experiment report.
func (g *Generator) Generate() *Report {
	experiments := g.reg.All()
	allResults := g.reg.AllResults()

	report := &Report{
		GeneratedAt:      g.now(),
		TotalExperiments: len(experiments),
	}

	for _, e := range experiments {
		switch e.Status {
		case domain.StatusDraft:
			report.DraftExperiments++
		case domain.StatusRunning:
			report.RunningExperiments++
		case domain.StatusConcluded:
			report.ConcludedExperiments++
		case domain.StatusStopped:
			report.StoppedExperiments++
		}

		report.Experiments = append(report.Experiments, ExperimentRow{
			ExperimentID: e.ID,
			Name:         e.Name,
			Status:       string(e.Status),
			Variants:     len(e.Variants),
			Participants: e.ParticipantCount,
			StartTime:    e.StartTime,
			EndTime:      e.EndTime,
		})

		report.Conversions = append(report.Conversions, conversionRows(e)...)
		report.Verdicts = append(report.Verdicts, verdictRows(allResults[e.ID])...)
	}

	return report
}

// conversionRows flattens one experiment's metrics into table rows.
func conversionRows(e *domain.Experiment) []ConversionRow {
	var rows []ConversionRow
	for _, v := range e.Variants {
		m := e.Metrics[v.ID]
		for _, metric := range e.TrackedMetrics {
			row := ConversionRow{
				ExperimentID: e.ID,
				VariantID:    v.ID,
				VariantName:  v.Name,
				Weight:       v.Weight,
				Metric:       metric,
			}
			if m != nil {
				row.Participants = m.Participants
				row.Conversions = m.Conversions[metric]
				row.Rate = m.ConversionRate(metric)
			}
			rows = append(rows, row)
		}
	}
	return rows
}

// verdictRows converts stored significance results into table rows.
func verdictRows(results []domain.SignificanceResult) []VerdictRow {
	var rows []VerdictRow
	for _, r := range results {
		rows = append(rows, VerdictRow{
			ExperimentID:           r.ExperimentID,
			Metric:                 r.Metric,
			Significant:            r.IsSignificant,
			InsufficientSample:     r.InsufficientSample,
			AdditionalParticipants: r.AdditionalParticipantsNeeded,
			PValue:                 r.PValue,
			ZScore:                 r.ZScore,
			WinnerVariantID:        r.WinnerVariantID,
			RelativeImprovementPct: r.RelativeImprovementPct,
			ControlRate:            r.ControlRate,
			TreatmentRate:          r.TreatmentRate,
		})
	}
	return rows
}
