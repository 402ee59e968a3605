package matcher

import (
	"reflect"
	"testing"

	"aih-reconciliation-service/internal/models"
)

func TestCatalogIndex_Diagnose(t *testing.T) {
	entries := []models.ProcedureCatalogEntry{
		{Code: "0301010072", Description: "CONSULTA MEDICA"},
		{Code: "0301010072", Description: "CONSULTA REPETIDA"},
		{Code: "03.01.01.007-2", Description: "OUTRA CONSULTA ESPECIAL"},
		{Code: "0211020036", Description: "Consulta Médica"},
		{Code: "0211020037", Description: ""},
	}
	diag := NewCatalogIndex(entries, 2).Diagnose()

	if diag.Entries != 5 {
		t.Errorf("expected 5 entries, got %d", diag.Entries)
	}
	if diag.Clean() {
		t.Fatal("expected problems to be reported")
	}

	want := []DuplicateGroup{
		{Key: "0301010072", Reason: ReasonDuplicateCode, Positions: []int{0, 1}},
		{Key: "0301010072", Reason: ReasonNormalizedCode, Positions: []int{0, 1, 2}},
		{Key: "consulta medica", Reason: ReasonSameDescription, Positions: []int{0, 3}},
	}
	if !reflect.DeepEqual(diag.Groups, want) {
		t.Errorf("Groups = %+v, want %+v", diag.Groups, want)
	}

	if diag.DuplicateCodes != 1 || diag.NormalizedCollision != 1 || diag.SameDescriptions != 1 {
		t.Errorf("unexpected counters %+v", diag)
	}
	if !reflect.DeepEqual(diag.EmptyDescriptions, []int{4}) {
		t.Errorf("EmptyDescriptions = %v, want [4]", diag.EmptyDescriptions)
	}
	if shadowed := diag.Groups[0].Shadowed(); !reflect.DeepEqual(shadowed, []int{1}) {
		t.Errorf("Shadowed() = %v, want [1]", shadowed)
	}
}

func TestCatalogIndex_DiagnoseClean(t *testing.T) {
	m, err := NewProcedureMatcher([]models.ProcedureCatalogEntry{
		{Code: "0301010072", Description: "CONSULTA MEDICA"},
		{Code: "0211020036", Description: "ELETROCARDIOGRAMA"},
	}, nil)
	if err != nil {
		t.Fatalf("NewProcedureMatcher() error = %v", err)
	}

	diag := m.Diagnostics()
	if !diag.Clean() {
		t.Errorf("expected a clean catalog, got %+v", diag)
	}
	if len(diag.Groups) != 0 {
		t.Errorf("expected no groups, got %+v", diag.Groups)
	}
}

func TestDuplicateGroup_ShadowedSingle(t *testing.T) {
	g := DuplicateGroup{Key: "x", Reason: ReasonDuplicateCode, Positions: []int{3}}
	if g.Shadowed() != nil {
		t.Error("a single position shadows nothing")
	}
}
