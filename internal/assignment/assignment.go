// Package assignment deterministically picks experiment variants.
package assignment

import (
	"errors"

	"abtest-engine/internal/domain"
	"abtest-engine/internal/idhash"
)

// ErrNoVariants is returned when an experiment declares no variants.
var ErrNoVariants = errors.New("experiment has no variants")

// Pick selects a variant for (identity, experiment) by reducing the hash of
// both to a bucket in [1,100] and walking the variant list accumulating
// weights. The same visitor+experiment always yields the same variant for
// the life of the experiment; nothing is stored.
//
// If the weights sum below 100, the residual probability mass falls to the
// first variant. This is documented behavior, not silent truncation:
// Experiment.Validate rejects such configurations at creation time, so the
// fallback is only reachable for definitions that bypassed validation
// (e.g. restored legacy state).
func Pick(identity, experimentID string, variants []domain.Variant) (domain.Variant, error) {
	if len(variants) == 0 {
		return domain.Variant{}, ErrNoVariants
	}

	bucket := idhash.Bucket(identity, experimentID)

	cumulative := 0
	for _, v := range variants {
		cumulative += v.Weight
		if bucket <= cumulative {
			return v, nil
		}
	}

	// Residual mass (weights undersum 100).
	return variants[0], nil
}
