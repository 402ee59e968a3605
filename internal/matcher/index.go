package matcher

import (
	"aih-reconciliation-service/internal/models"
	"aih-reconciliation-service/internal/normalize"
)

// CatalogIndex pre-indexes a procedure catalog for repeated lookups.
// Code lookups are constant time; description similarity scans the
// pre-tokenised entries linearly.
type CatalogIndex struct {
	// Entries holds the catalog in its original order
	Entries []models.ProcedureCatalogEntry

	// ExactCodeIndex maps each verbatim code to its first position
	ExactCodeIndex map[string]int

	// NormalizedCodeIndex maps each digit-only code to its first position
	NormalizedCodeIndex map[string]int

	// WordSets holds the description words of each entry
	WordSets []WordSet
}

// WordSet is the set of words of one description.
type WordSet map[string]struct{}

// NewWordSet tokenises text into folded words longer than minLen characters.
func NewWordSet(text string, minLen int) WordSet {
	words := normalize.Words(text, minLen)
	set := make(WordSet, len(words))
	for _, w := range words {
		set[w] = struct{}{}
	}
	return set
}

// Jaccard returns |a ∩ b| / |a ∪ b|. Two empty sets score 0.
func (a WordSet) Jaccard(b WordSet) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	small, large := a, b
	if len(small) > len(large) {
		small, large = large, small
	}
	intersection := 0
	for w := range small {
		if _, ok := large[w]; ok {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	return float64(intersection) / float64(union)
}

// NewCatalogIndex indexes entries. When several entries share a code or a
// normalized code, the first one wins.
func NewCatalogIndex(entries []models.ProcedureCatalogEntry, minWordLength int) *CatalogIndex {
	index := &CatalogIndex{
		Entries:             entries,
		ExactCodeIndex:      make(map[string]int, len(entries)),
		NormalizedCodeIndex: make(map[string]int, len(entries)),
		WordSets:            make([]WordSet, len(entries)),
	}

	index.buildIndexes(minWordLength)
	return index
}

func (ci *CatalogIndex) buildIndexes(minWordLength int) {
	for i, entry := range ci.Entries {
		if _, exists := ci.ExactCodeIndex[entry.Code]; !exists {
			ci.ExactCodeIndex[entry.Code] = i
		}

		if key := normalize.ProcedureKey(entry.Code); key != "" {
			if _, exists := ci.NormalizedCodeIndex[key]; !exists {
				ci.NormalizedCodeIndex[key] = i
			}
		}

		ci.WordSets[i] = NewWordSet(entry.Description, minWordLength)
	}
}

// Len returns the number of indexed entries.
func (ci *CatalogIndex) Len() int {
	return len(ci.Entries)
}

// LookupExact returns the first entry whose code equals code verbatim.
func (ci *CatalogIndex) LookupExact(code string) (int, bool) {
	i, ok := ci.ExactCodeIndex[code]
	return i, ok
}

// LookupNormalized returns the first entry whose digit-only code equals
// the digit-only form of code. Codes without digits never match.
func (ci *CatalogIndex) LookupNormalized(code string) (int, bool) {
	key := normalize.ProcedureKey(code)
	if key == "" {
		return 0, false
	}
	i, ok := ci.NormalizedCodeIndex[key]
	return i, ok
}

// BestSimilarity returns the entry whose description scores highest
// against words. Ties go to the earlier entry. It returns -1 when no entry
// scores above zero.
func (ci *CatalogIndex) BestSimilarity(words WordSet) (int, float64) {
	best, bestScore := -1, 0.0
	if len(words) == 0 {
		return best, bestScore
	}
	for i, candidate := range ci.WordSets {
		if score := words.Jaccard(candidate); score > bestScore {
			best, bestScore = i, score
		}
	}
	return best, bestScore
}
