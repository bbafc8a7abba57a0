package reporting

import (
	"fmt"
	"strings"
)

// RenderConversionsCSV renders conversion rows as CSV string.
func RenderConversionsCSV(rows []ConversionRow) string {
	var sb strings.Builder

	// Header
	sb.WriteString("experiment_id,variant_id,variant_name,weight,metric,participants,conversions,rate\n")

	// Rows
	for _, c := range rows {
		sb.WriteString(fmt.Sprintf("%s,%s,%s,%d,%s,%d,%d,%.6f\n",
			c.ExperimentID,
			c.VariantID,
			c.VariantName,
			c.Weight,
			c.Metric,
			c.Participants,
			c.Conversions,
			c.Rate,
		))
	}

	return sb.String()
}

// RenderVerdictsCSV renders significance verdicts as CSV string.
func RenderVerdictsCSV(rows []VerdictRow) string {
	var sb strings.Builder

	// Header
	sb.WriteString("experiment_id,metric,significant,insufficient_sample,additional_participants,")
	sb.WriteString("p_value,z_score,winner_variant_id,relative_improvement_pct,control_rate,treatment_rate\n")

	// Rows
	for _, v := range rows {
		sb.WriteString(fmt.Sprintf("%s,%s,%t,%t,%d,%.6f,%.6f,%s,%.6f,%.6f,%.6f\n",
			v.ExperimentID,
			v.Metric,
			v.Significant,
			v.InsufficientSample,
			v.AdditionalParticipants,
			v.PValue,
			v.ZScore,
			v.WinnerVariantID,
			v.RelativeImprovementPct,
			v.ControlRate,
			v.TreatmentRate,
		))
	}

	return sb.String()
}
