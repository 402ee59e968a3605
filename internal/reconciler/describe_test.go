package reconciler

import (
	"testing"

	"aih-reconciliation-service/internal/matcher"
	"aih-reconciliation-service/internal/models"
	"aih-reconciliation-service/internal/normalize"
)

func TestDescribeAudit(t *testing.T) {
	catalog := []models.ProcedureCatalogEntry{
		{Code: "0301010072", Description: "CONSULTA MEDICA EM ATENCAO ESPECIALIZADA"},
		{Code: "0211020036", Description: "ELETROCARDIOGRAMA"},
		{Code: "0303140151", Description: "TRATAMENTO DE PNEUMONIAS OU INFLUENZA (GRIPE)"},
	}
	pm, err := matcher.NewProcedureMatcher(catalog, nil)
	if err != nil {
		t.Fatalf("NewProcedureMatcher() error = %v", err)
	}

	audit := []*models.PayerAuditRecord{
		{AuthorizationNumber: "3524100000011", ProcedureCode: "0301010072", Quantity: 1, Value: 1000},
		{AuthorizationNumber: "3524100000011", ProcedureCode: "03.01.01.007-2", Quantity: 1, Value: 1000},
		{AuthorizationNumber: "3524100000022", ProcedureCode: "9999999999", Description: "Tratamento de pneumonias ou influenza (gripe)"},
	}
	system := []*models.SystemProcedureRecord{
		{AuthorizationNumber: "3524100000011", ProcedureCode: "0301010072", Quantity: 1, Value: 1000},
		{AuthorizationNumber: "3524100000033", ProcedureCode: "02.11.02.003-6", Description: "ECG"},
		{AuthorizationNumber: "3524100000044", ProcedureCode: "8888888888", Description: "x"},
	}
	result, err := ReconcileAudit(audit, system, DefaultPolicy())
	if err != nil {
		t.Fatalf("ReconcileAudit() error = %v", err)
	}

	annotations := DescribeAudit(result, pm)
	if len(annotations) != 4 {
		t.Fatalf("expected 4 annotated keys, got %d", len(annotations))
	}

	tests := []struct {
		key  normalize.CompoundKey
		want matcher.MatchMethod
	}{
		{normalize.NewCompoundKey("3524100000011", "0301010072"), matcher.MatchExact},
		{normalize.NewCompoundKey("3524100000022", "9999999999"), matcher.MatchTextSimilarity},
		{normalize.NewCompoundKey("3524100000033", "0211020036"), matcher.MatchNormalizedCode},
		{normalize.NewCompoundKey("3524100000044", "8888888888"), matcher.MatchNone},
	}
	for _, tt := range tests {
		got, ok := annotations[tt.key]
		if !ok {
			t.Errorf("missing annotation for %s", tt.key)
			continue
		}
		if got.Method != tt.want {
			t.Errorf("%s: method = %s, want %s", tt.key, got.Method, tt.want)
		}
	}

	summary := annotations.Summary()
	if summary.Total != 4 || summary.None != 1 {
		t.Errorf("unexpected summary %+v", summary)
	}
	if audit[1].ProcedureCode != "03.01.01.007-2" {
		t.Error("annotation must not modify records")
	}
}

func TestDescribeAudit_NilMatcher(t *testing.T) {
	result, err := ReconcileAudit(
		[]*models.PayerAuditRecord{{AuthorizationNumber: "1", ProcedureCode: "2"}},
		nil,
		DefaultPolicy(),
	)
	if err != nil {
		t.Fatal(err)
	}
	if got := DescribeAudit(result, nil); len(got) != 0 {
		t.Errorf("expected no annotations without a matcher, got %v", got)
	}
	if got := DescribeAudit(nil, nil); got == nil {
		t.Error("expected an empty, non-nil map")
	}
}

func TestPolicy_Validate(t *testing.T) {
	tests := []struct {
		name    string
		policy  Policy
		wantErr bool
	}{
		{"default", DefaultPolicy(), false},
		{"zero", Policy{}, false},
		{"negative key length", Policy{MinKeyLength: -1}, true},
		{"negative tolerance", Policy{ValueTolerance: -1}, true},
		{"threshold above one", Policy{SimilarityThreshold: 1.1}, true},
		{"negative threshold", Policy{SimilarityThreshold: -0.1}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.policy.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}

	p := DefaultPolicy()
	if p.MinKeyLength != 10 || p.ValueTolerance != 50 || p.SimilarityThreshold != 0.8 {
		t.Errorf("unexpected defaults %+v", p)
	}
	if p.KeyPolicy().MinKeyLength != 10 {
		t.Errorf("KeyPolicy() did not carry the key length")
	}
}
