package matcher

import (
	"testing"

	"aih-reconciliation-service/internal/models"
)

func setOf(words ...string) WordSet {
	set := make(WordSet, len(words))
	for _, w := range words {
		set[w] = struct{}{}
	}
	return set
}

func TestWordSet_Jaccard(t *testing.T) {
	tests := []struct {
		name string
		a, b WordSet
		want float64
	}{
		{"identical", setOf("consulta", "medica"), setOf("medica", "consulta"), 1.0},
		{"subset", setOf("a1", "b1", "c1"), setOf("a1"), 1.0 / 3.0},
		{"half", setOf("a1", "b1"), setOf("a1", "c1", "b1", "d1"), 0.5},
		{"disjoint", setOf("a1"), setOf("b1"), 0},
		{"one empty", setOf("a1"), setOf(), 0},
		{"both empty", setOf(), setOf(), 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.a.Jaccard(tt.b); got != tt.want {
				t.Errorf("Jaccard() = %v, want %v", got, tt.want)
			}
			if got := tt.b.Jaccard(tt.a); got != tt.want {
				t.Errorf("Jaccard() is not symmetric: %v", got)
			}
		})
	}
}

func TestNewWordSet(t *testing.T) {
	set := NewWordSet("Consulta de Rotina / RETORNO, em UTI", 2)

	for _, want := range []string{"consulta", "rotina", "retorno"} {
		if _, ok := set[want]; !ok {
			t.Errorf("expected %q in %v", want, set)
		}
	}
	for _, short := range []string{"de", "em"} {
		if _, ok := set[short]; ok {
			t.Errorf("short word %q should be dropped", short)
		}
	}
	if _, ok := set["uti"]; !ok {
		t.Error("three letter words are longer than two characters and must be kept")
	}
}

func TestCatalogIndex_Lookups(t *testing.T) {
	entries := []models.ProcedureCatalogEntry{
		{Code: "0301010072", Description: "CONSULTA"},
		{Code: "03.01.01.007-2", Description: "CONSULTA PONTUADA"},
		{Code: "0301010072", Description: "CONSULTA REPETIDA"},
		{Code: "SEM-CODIGO", Description: "SEM DIGITOS"},
	}
	index := NewCatalogIndex(entries, 2)

	if index.Len() != 4 {
		t.Errorf("expected 4 entries, got %d", index.Len())
	}

	tests := []struct {
		name   string
		lookup func(string) (int, bool)
		code   string
		want   int
		found  bool
	}{
		{"exact first wins", index.LookupExact, "0301010072", 0, true},
		{"exact punctuated", index.LookupExact, "03.01.01.007-2", 1, true},
		{"exact missing", index.LookupExact, "0000000000", 0, false},
		{"normalized first wins", index.LookupNormalized, "03-01-01-007-2", 0, true},
		{"normalized without digits", index.LookupNormalized, "SEM-CODIGO", 0, false},
		{"normalized empty", index.LookupNormalized, "", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := tt.lookup(tt.code)
			if ok != tt.found || (ok && got != tt.want) {
				t.Errorf("lookup(%q) = %d, %v; want %d, %v", tt.code, got, ok, tt.want, tt.found)
			}
		})
	}
}

func TestCatalogIndex_BestSimilarity(t *testing.T) {
	entries := []models.ProcedureCatalogEntry{
		{Code: "1", Description: "RADIOGRAFIA DE TORAX"},
		{Code: "2", Description: "RADIOGRAFIA DE TORAX PA E PERFIL"},
		{Code: "3", Description: "TOMOGRAFIA DE TORAX"},
	}
	index := NewCatalogIndex(entries, 2)

	best, score := index.BestSimilarity(NewWordSet("radiografia torax", 2))
	if best != 0 || score != 1.0 {
		t.Errorf("expected entry 0 with score 1, got %d %v", best, score)
	}

	best, score = index.BestSimilarity(NewWordSet("torax", 2))
	if best != 0 || score != 0.5 {
		t.Errorf("expected the earliest best entry, got %d %v", best, score)
	}

	if best, _ := index.BestSimilarity(WordSet{}); best != -1 {
		t.Errorf("empty query should find nothing, got %d", best)
	}
	if best, _ := index.BestSimilarity(NewWordSet("ultrassom", 2)); best != -1 {
		t.Errorf("unrelated query should find nothing, got %d", best)
	}
}
