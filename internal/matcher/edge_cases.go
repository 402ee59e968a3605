package matcher

import (
	"sort"
	"strings"

	"aih-reconciliation-service/internal/normalize"
)

// Duplicate group reasons.
const (
	ReasonDuplicateCode   = "duplicate_code"
	ReasonNormalizedCode  = "normalized_code_collision"
	ReasonSameDescription = "same_description_words"
)

// DuplicateGroup is a set of catalog positions that the matcher cannot tell
// apart at some tier. Only the first position is ever returned.
type DuplicateGroup struct {
	Key       string `json:"key" yaml:"key"`
	Reason    string `json:"reason" yaml:"reason"`
	Positions []int  `json:"positions" yaml:"positions"`
}

// Shadowed returns the positions that can never be matched at that tier.
func (g DuplicateGroup) Shadowed() []int {
	if len(g.Positions) < 2 {
		return nil
	}
	return g.Positions[1:]
}

// CatalogDiagnostics describes catalog problems that make some entries
// unreachable or matches ambiguous.
type CatalogDiagnostics struct {
	Entries             int              `json:"entries" yaml:"entries"`
	Groups              []DuplicateGroup `json:"groups,omitempty" yaml:"groups,omitempty"`
	EmptyDescriptions   []int            `json:"empty_descriptions,omitempty" yaml:"empty_descriptions,omitempty"`
	DuplicateCodes      int              `json:"duplicate_codes" yaml:"duplicate_codes"`
	NormalizedCollision int              `json:"normalized_collisions" yaml:"normalized_collisions"`
	SameDescriptions    int              `json:"same_descriptions" yaml:"same_descriptions"`
}

// Clean reports whether no problem was found.
func (d *CatalogDiagnostics) Clean() bool {
	return len(d.Groups) == 0 && len(d.EmptyDescriptions) == 0
}

// Diagnose inspects the indexed catalog.
func (ci *CatalogIndex) Diagnose() *CatalogDiagnostics {
	diag := &CatalogDiagnostics{Entries: len(ci.Entries)}

	exact := make(map[string][]int)
	normalized := make(map[string][]int)
	descriptions := make(map[string][]int)

	for i, entry := range ci.Entries {
		exact[entry.Code] = append(exact[entry.Code], i)

		if key := normalize.ProcedureKey(entry.Code); key != "" {
			normalized[key] = append(normalized[key], i)
		}

		if len(ci.WordSets[i]) == 0 {
			diag.EmptyDescriptions = append(diag.EmptyDescriptions, i)
			continue
		}
		signature := wordSignature(ci.WordSets[i])
		descriptions[signature] = append(descriptions[signature], i)
	}

	for code, positions := range exact {
		if len(positions) > 1 {
			diag.Groups = append(diag.Groups, DuplicateGroup{Key: code, Reason: ReasonDuplicateCode, Positions: positions})
			diag.DuplicateCodes++
		}
	}

	for key, positions := range normalized {
		// Groups already reported as verbatim duplicates are not repeated.
		if len(positions) > 1 && !sameCode(ci, positions) {
			diag.Groups = append(diag.Groups, DuplicateGroup{Key: key, Reason: ReasonNormalizedCode, Positions: positions})
			diag.NormalizedCollision++
		}
	}

	for signature, positions := range descriptions {
		if len(positions) > 1 {
			diag.Groups = append(diag.Groups, DuplicateGroup{Key: signature, Reason: ReasonSameDescription, Positions: positions})
			diag.SameDescriptions++
		}
	}

	sort.Slice(diag.Groups, func(i, j int) bool {
		if diag.Groups[i].Positions[0] != diag.Groups[j].Positions[0] {
			return diag.Groups[i].Positions[0] < diag.Groups[j].Positions[0]
		}
		return diag.Groups[i].Reason < diag.Groups[j].Reason
	})

	return diag
}

// Diagnostics inspects the matcher's catalog.
func (pm *ProcedureMatcher) Diagnostics() *CatalogDiagnostics {
	return pm.Index.Diagnose()
}

func sameCode(ci *CatalogIndex, positions []int) bool {
	first := ci.Entries[positions[0]].Code
	for _, p := range positions[1:] {
		if ci.Entries[p].Code != first {
			return false
		}
	}
	return true
}

func wordSignature(set WordSet) string {
	words := make([]string, 0, len(set))
	for w := range set {
		words = append(words, w)
	}
	sort.Strings(words)
	return strings.Join(words, " ")
}
