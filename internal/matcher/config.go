// Package matcher resolves procedure codes against a SIGTAP-style reference
// catalog.
//
// Matching runs in three tiers and stops at the first success:
//  1. Exact: the code equals a catalog code verbatim (confidence 1.0)
//  2. Normalized code: the digit-only forms are equal (confidence 0.9)
//  3. Text similarity: Jaccard overlap between the query description and
//     each catalog description, accepted at or above a threshold
//
// Finding nothing is a normal outcome (MatchNone, confidence 0), not an error.
//
// Example usage:
//
//	config := matcher.DefaultMatcherConfig()
//	config.SimilarityThreshold = 0.7
//
//	m, err := matcher.NewProcedureMatcher(catalog, config, matcher.WithCache(matcher.NewCache()))
//	result := m.Match("03.01.01.007-2", "consulta medica em atencao especializada")
package matcher

import (
	"fmt"
)

// MatchMethod records which tier resolved a query.
type MatchMethod int

const (
	// MatchNone means no tier found a catalog entry.
	MatchNone MatchMethod = iota

	// MatchExact means the query code equals a catalog code verbatim.
	MatchExact

	// MatchNormalizedCode means the codes are equal once punctuation is removed.
	MatchNormalizedCode

	// MatchTextSimilarity means the descriptions overlap enough word-wise.
	// These matches usually deserve manual review.
	MatchTextSimilarity
)

// Confidence values of the code tiers. Text similarity reports the
// Jaccard score itself.
const (
	ExactConfidence          = 1.0
	NormalizedCodeConfidence = 0.9
)

// String returns the string representation of MatchMethod
func (m MatchMethod) String() string {
	switch m {
	case MatchNone:
		return "none"
	case MatchExact:
		return "exact"
	case MatchNormalizedCode:
		return "normalized_code"
	case MatchTextSimilarity:
		return "text_similarity"
	default:
		return "unknown"
	}
}

// MarshalText renders the method by name in JSON and YAML output.
func (m MatchMethod) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText parses a method name.
func (m *MatchMethod) UnmarshalText(b []byte) error {
	for _, candidate := range []MatchMethod{MatchNone, MatchExact, MatchNormalizedCode, MatchTextSimilarity} {
		if candidate.String() == string(b) {
			*m = candidate
			return nil
		}
	}
	return fmt.Errorf("unknown match method %q", string(b))
}

// MatcherConfig holds the parameters of the text similarity tier.
//
// The default threshold of 0.8 was chosen empirically and should be
// reviewed for each catalog and data source.
type MatcherConfig struct {
	// SimilarityThreshold is the lowest Jaccard score accepted (0.0 to 1.0)
	SimilarityThreshold float64 `json:"similarity_threshold" mapstructure:"similarity_threshold"`

	// MinDescriptionLength is the shortest query description, in characters,
	// for which text similarity is attempted
	MinDescriptionLength int `json:"min_description_length" mapstructure:"min_description_length"`

	// MinWordLength drops words of this length or shorter before comparing
	MinWordLength int `json:"min_word_length" mapstructure:"min_word_length"`

	// EnableTextSimilarity turns the third tier on or off
	EnableTextSimilarity bool `json:"enable_text_similarity" mapstructure:"enable_text_similarity"`
}

// DefaultMatcherConfig returns a configuration with sensible defaults
func DefaultMatcherConfig() *MatcherConfig {
	return &MatcherConfig{
		SimilarityThreshold:  0.8,
		MinDescriptionLength: 5,
		MinWordLength:        2,
		EnableTextSimilarity: true,
	}
}

// StrictMatcherConfig returns a configuration that only accepts code matches
func StrictMatcherConfig() *MatcherConfig {
	config := DefaultMatcherConfig()
	config.EnableTextSimilarity = false
	return config
}

// RelaxedMatcherConfig returns a configuration for exploratory matching
// of free-text descriptions
func RelaxedMatcherConfig() *MatcherConfig {
	config := DefaultMatcherConfig()
	config.SimilarityThreshold = 0.5
	return config
}

// Validate checks if the matcher configuration is valid
func (mc *MatcherConfig) Validate() error {
	if mc.SimilarityThreshold < 0.0 || mc.SimilarityThreshold > 1.0 {
		return fmt.Errorf("similarity threshold must be between 0.0 and 1.0: %f", mc.SimilarityThreshold)
	}

	if mc.MinDescriptionLength < 0 {
		return fmt.Errorf("min description length cannot be negative: %d", mc.MinDescriptionLength)
	}

	if mc.MinWordLength < 0 {
		return fmt.Errorf("min word length cannot be negative: %d", mc.MinWordLength)
	}

	return nil
}

// Clone creates a copy of the matcher configuration
func (mc *MatcherConfig) Clone() *MatcherConfig {
	if mc == nil {
		return nil
	}
	clone := *mc
	return &clone
}

// String returns a human-readable description of the configuration
func (mc *MatcherConfig) String() string {
	return fmt.Sprintf("MatcherConfig{Threshold: %.2f, MinDescription: %d, MinWord: %d, TextSimilarity: %t}",
		mc.SimilarityThreshold, mc.MinDescriptionLength, mc.MinWordLength, mc.EnableTextSimilarity)
}
