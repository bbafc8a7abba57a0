package reporting

import (
	"fmt"
	"strings"
	"time"
)

// RenderMarkdown renders report as Markdown string.
func RenderMarkdown(r *Report) string {
	var sb strings.Builder

	// Header
	sb.WriteString("# Experiment Report\n\n")
	sb.WriteString(fmt.Sprintf("Generated: %s\n\n", r.GeneratedAt.Format(time.RFC3339)))
	sb.WriteString(fmt.Sprintf("Experiments: %d | Running: %d | Concluded: %d | Stopped: %d | Draft: %d\n\n",
		r.TotalExperiments, r.RunningExperiments, r.ConcludedExperiments, r.StoppedExperiments, r.DraftExperiments))

	// Experiments
	sb.WriteString("## Experiments\n\n")
	if len(r.Experiments) > 0 {
		sb.WriteString("| Experiment | Name | Status | Variants | Participants | Start (ms) | End (ms) |\n")
		sb.WriteString("|------------|------|--------|----------|--------------|------------|----------|\n")
		for _, e := range r.Experiments {
			sb.WriteString(fmt.Sprintf("| %s | %s | %s | %d | %d | %d | %d |\n",
				e.ExperimentID, e.Name, e.Status, e.Variants, e.Participants, e.StartTime, e.EndTime))
		}
	} else {
		sb.WriteString("No experiments registered.\n")
	}
	sb.WriteString("\n")

	// Conversion rates
	sb.WriteString("## Conversion Rates\n\n")
	if len(r.Conversions) > 0 {
		sb.WriteString("| Experiment | Variant | Name | Weight | Metric | Participants | Conversions | Rate |\n")
		sb.WriteString("|------------|---------|------|--------|--------|--------------|-------------|------|\n")
		for _, c := range r.Conversions {
			sb.WriteString(fmt.Sprintf("| %s | %s | %s | %d | %s | %d | %d | %.4f |\n",
				c.ExperimentID, c.VariantID, c.VariantName, c.Weight, c.Metric,
				c.Participants, c.Conversions, c.Rate))
		}
	} else {
		sb.WriteString("No conversion data available.\n")
	}
	sb.WriteString("\n")

	// Verdicts
	sb.WriteString("## Significance Verdicts\n\n")
	if len(r.Verdicts) > 0 {
		sb.WriteString("| Experiment | Metric | Verdict | Winner | p-value | z | Improvement% | Control | Treatment |\n")
		sb.WriteString("|------------|--------|---------|--------|---------|---|--------------|---------|-----------|\n")
		for _, v := range r.Verdicts {
			verdict := "NOT SIGNIFICANT"
			if v.InsufficientSample {
				verdict = fmt.Sprintf("NEED %d MORE", v.AdditionalParticipants)
			} else if v.Significant {
				verdict = "SIGNIFICANT"
			}
			sb.WriteString(fmt.Sprintf("| %s | %s | %s | %s | %.4f | %.4f | %.2f | %.4f | %.4f |\n",
				v.ExperimentID, v.Metric, verdict, v.WinnerVariantID,
				v.PValue, v.ZScore, v.RelativeImprovementPct, v.ControlRate, v.TreatmentRate))
		}
	} else {
		sb.WriteString("No significance results available.\n")
	}
	sb.WriteString("\n")

	return sb.String()
}
