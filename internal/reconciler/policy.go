package reconciler

import (
	"fmt"

	"aih-reconciliation-service/internal/models"
	"aih-reconciliation-service/internal/normalize"
	"aih-reconciliation-service/pkg/errors"
)

// DefaultValueTolerance is the largest value difference, in minor units,
// still treated as a match by the audit reconciler.
const DefaultValueTolerance models.MinorUnits = 50

// DefaultSimilarityThreshold is the default threshold of the description tier
// of the procedure matcher.
const DefaultSimilarityThreshold = 0.8

// Policy carries the tunable thresholds of a reconciliation run. The
// defaults were chosen empirically and should be reviewed per hospital and
// payer.
type Policy struct {
	// MinKeyLength is the shortest normalized authorization number accepted
	// by the AIH set reconciler.
	MinKeyLength int `json:"min_key_length" yaml:"min_key_length" mapstructure:"min_key_length"`

	// ValueTolerance is the largest audit value difference, in minor units,
	// that still counts as a match. The comparison is strict.
	ValueTolerance models.MinorUnits `json:"value_tolerance" yaml:"value_tolerance" mapstructure:"value_tolerance"`

	// SimilarityThreshold is the lowest Jaccard score accepted when matching
	// procedure descriptions.
	SimilarityThreshold float64 `json:"similarity_threshold" yaml:"similarity_threshold" mapstructure:"similarity_threshold"`
}

// DefaultPolicy returns the default thresholds.
func DefaultPolicy() Policy {
	return Policy{
		MinKeyLength:        normalize.DefaultMinKeyLength,
		ValueTolerance:      DefaultValueTolerance,
		SimilarityThreshold: DefaultSimilarityThreshold,
	}
}

// Validate fails fast on thresholds that cannot be honoured.
func (p Policy) Validate() error {
	var err error
	switch {
	case p.MinKeyLength < 0:
		err = fmt.Errorf("min key length cannot be negative: %d", p.MinKeyLength)
	case p.ValueTolerance < 0:
		err = fmt.Errorf("value tolerance cannot be negative: %d", p.ValueTolerance)
	case p.SimilarityThreshold < 0 || p.SimilarityThreshold > 1:
		err = fmt.Errorf("similarity threshold must be between 0.0 and 1.0: %f", p.SimilarityThreshold)
	}
	if err != nil {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "policy", p, err)
	}
	return nil
}

// KeyPolicy returns the authorization key policy.
func (p Policy) KeyPolicy() normalize.Policy {
	return normalize.Policy{MinKeyLength: p.MinKeyLength}
}
