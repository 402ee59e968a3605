package matcher

import (
	"strings"
	"unicode/utf8"

	"aih-reconciliation-service/internal/models"
	"aih-reconciliation-service/pkg/errors"
)

// ProcedureMatcher resolves procedure codes against one catalog. It is
// built once and may be used from several goroutines.
type ProcedureMatcher struct {
	Config *MatcherConfig
	Index  *CatalogIndex
	cache  *Cache
}

// Option customises a ProcedureMatcher.
type Option func(*ProcedureMatcher)

// WithCache makes the matcher remember results in cache. The cache is owned
// by the caller and must only be shared between matchers built from the
// same catalog.
func WithCache(cache *Cache) Option {
	return func(pm *ProcedureMatcher) {
		pm.cache = cache
	}
}

// Query is one code and optional description to resolve.
type Query struct {
	Code        string `json:"code" yaml:"code"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

// ProcedureMatchResult is the outcome of resolving one query. Entry is nil
// when Method is MatchNone.
type ProcedureMatchResult struct {
	Query      Query                         `json:"query" yaml:"query"`
	Entry      *models.ProcedureCatalogEntry `json:"entry,omitempty" yaml:"entry,omitempty"`
	Method     MatchMethod                   `json:"method" yaml:"method"`
	Confidence float64                       `json:"confidence" yaml:"confidence"`
}

// Matched reports whether a catalog entry was found.
func (r ProcedureMatchResult) Matched() bool {
	return r.Method != MatchNone
}

// MatchSummary counts results per method.
type MatchSummary struct {
	Total          int `json:"total" yaml:"total"`
	Exact          int `json:"exact" yaml:"exact"`
	NormalizedCode int `json:"normalized_code" yaml:"normalized_code"`
	TextSimilarity int `json:"text_similarity" yaml:"text_similarity"`
	None           int `json:"none" yaml:"none"`
}

// NewProcedureMatcher indexes catalog and returns a matcher. A nil config
// uses DefaultMatcherConfig.
func NewProcedureMatcher(catalog []models.ProcedureCatalogEntry, config *MatcherConfig, opts ...Option) (*ProcedureMatcher, error) {
	if config == nil {
		config = DefaultMatcherConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "matcher", config.String(), err)
	}

	pm := &ProcedureMatcher{
		Config: config.Clone(),
		Index:  NewCatalogIndex(catalog, config.MinWordLength),
	}
	for _, opt := range opts {
		opt(pm)
	}
	return pm, nil
}

// Match resolves one code, trying exact, normalized code and then text
// similarity on description.
func (pm *ProcedureMatcher) Match(code, description string) ProcedureMatchResult {
	query := Query{Code: code, Description: description}

	if pm.cache != nil {
		if cached, ok := pm.cache.Get(query); ok {
			return cached
		}
	}

	result := pm.match(query)

	if pm.cache != nil {
		pm.cache.Put(query, result)
	}
	return result
}

func (pm *ProcedureMatcher) match(query Query) ProcedureMatchResult {
	if i, ok := pm.Index.LookupExact(query.Code); ok {
		return pm.resultFor(query, i, MatchExact, ExactConfidence)
	}

	if i, ok := pm.Index.LookupNormalized(query.Code); ok {
		return pm.resultFor(query, i, MatchNormalizedCode, NormalizedCodeConfidence)
	}

	if pm.Config.EnableTextSimilarity && pm.describable(query.Description) {
		words := NewWordSet(query.Description, pm.Config.MinWordLength)
		if i, score := pm.Index.BestSimilarity(words); i >= 0 && score >= pm.Config.SimilarityThreshold {
			return pm.resultFor(query, i, MatchTextSimilarity, score)
		}
	}

	return ProcedureMatchResult{Query: query, Method: MatchNone}
}

func (pm *ProcedureMatcher) describable(description string) bool {
	description = strings.TrimSpace(description)
	return description != "" && utf8.RuneCountInString(description) >= pm.Config.MinDescriptionLength
}

func (pm *ProcedureMatcher) resultFor(query Query, i int, method MatchMethod, confidence float64) ProcedureMatchResult {
	entry := pm.Index.Entries[i]
	return ProcedureMatchResult{
		Query:      query,
		Entry:      &entry,
		Method:     method,
		Confidence: confidence,
	}
}

// MatchBatch resolves every query in order. Text similarity scans the whole
// catalog for each query that reaches the third tier.
func (pm *ProcedureMatcher) MatchBatch(queries []Query) []ProcedureMatchResult {
	results := make([]ProcedureMatchResult, len(queries))
	for i, q := range queries {
		results[i] = pm.Match(q.Code, q.Description)
	}
	return results
}

// Summarize counts results per method.
func Summarize(results []ProcedureMatchResult) MatchSummary {
	summary := MatchSummary{Total: len(results)}
	for _, r := range results {
		switch r.Method {
		case MatchExact:
			summary.Exact++
		case MatchNormalizedCode:
			summary.NormalizedCode++
		case MatchTextSimilarity:
			summary.TextSimilarity++
		default:
			summary.None++
		}
	}
	return summary
}
