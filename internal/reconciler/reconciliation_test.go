package reconciler

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"aih-reconciliation-service/internal/matcher"
	"aih-reconciliation-service/internal/models"
	"aih-reconciliation-service/internal/parsers"
	"aih-reconciliation-service/pkg/errors"
	"aih-reconciliation-service/pkg/logger"
)

// Test fixtures and test data setup

type fixtureFiles struct {
	dir      string
	internal string
	extract  string
	audit    string
	system   string
	catalog  string
}

func writeFixture(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write %s: %v", name, err)
	}
	return path
}

func extractRecord(number, competence string) *models.AIHRecord {
	return &models.AIHRecord{
		AuthorizationNumber: number,
		RecordType:          models.RecordTypePrincipal,
		CompetencePeriod:    competence,
		FacilityCode:        "2077485",
		Patient:             models.Patient{Name: "PACIENTE TESTE"},
	}
}

func createTestDataFiles(t *testing.T) fixtureFiles {
	t.Helper()
	dir := t.TempDir()
	f := fixtureFiles{dir: dir}

	f.internal = writeFixture(t, dir, "internal.csv",
		"numero_aih;competencia;cnes;criado_em\n"+
			"3524100000011;202401;2077485;2024-01-05 10:00:00\n"+
			"3524100000022;202401;2077485;2024-01-06 10:00:00\n"+
			"3524-1000-0002-2;202401;2077485;2024-01-07 10:00:00\n"+
			"3524100000033;202312;2077485;2023-12-20 10:00:00\n")

	lines := []string{
		parsers.EncodeLine(extractRecord("3524100000011", "202401")),
		parsers.EncodeLine(extractRecord("3524100000044", "202401")),
		parsers.EncodeLine(extractRecord("3524100000055", "202312")),
	}
	f.extract = writeFixture(t, dir, "AIH202401.TXT", strings.Join(lines, "\r\n")+"\r\n")

	f.audit = writeFixture(t, dir, "tabwin.csv",
		"Relatorio TabWin;;;;;\n"+
			"N AIH;Procedimento;Descricao;Qtd;Valor Total;Competencia\n"+
			"3524100000011;0301010072;CONSULTA MEDICA;1;123,45;202401\n"+
			"3524100000011;0211020036;ELETROCARDIOGRAMA;1;10,00;202401\n"+
			"3524100000099;0301010072;CONSULTA MEDICA;1;50,00;202312\n")

	f.system = writeFixture(t, dir, "system.csv",
		"AIH;Procedimento;Descricao;Quantidade;Valor\n"+
			"3524100000011;0301010072;CONSULTA;1;123.00\n"+
			"3524100000022;03.03.14.015-1;PNEUMONIA;1;500.00\n")

	f.catalog = writeFixture(t, dir, "sigtap.csv",
		"codigo;descricao\n"+
			"0301010072;CONSULTA MEDICA EM ATENCAO ESPECIALIZADA\n"+
			"0211020036;ELETROCARDIOGRAMA\n"+
			"0303140151;TRATAMENTO DE PNEUMONIAS OU INFLUENZA (GRIPE)\n")

	return f
}

func newTestService(t *testing.T, modify func(c *Config)) *Service {
	t.Helper()
	config := DefaultConfig()
	if modify != nil {
		modify(config)
	}
	svc, err := NewService(nil, nil, nil, config, logger.Discard())
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}
	return svc
}

func newSystemParser(t *testing.T) *parsers.SystemParser {
	t.Helper()
	parser, err := parsers.NewSystemParser(nil, nil, nil, logger.Discard())
	if err != nil {
		t.Fatalf("NewSystemParser() error = %v", err)
	}
	return parser
}

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()
	if err := config.Validate(); err != nil {
		t.Fatalf("default config should be valid: %v", err)
	}
	if config.Policy != DefaultPolicy() {
		t.Errorf("unexpected policy %+v", config.Policy)
	}
	if config.MaxConcurrentRuns != 4 || !config.ValidateInputs {
		t.Errorf("unexpected defaults %+v", config)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(c *Config)
	}{
		{"zero concurrency", func(c *Config) { c.MaxConcurrentRuns = 0 }},
		{"negative tolerance", func(c *Config) { c.Policy.ValueTolerance = -1 }},
		{"threshold above one", func(c *Config) { c.Policy.SimilarityThreshold = 2 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultConfig()
			tt.modify(config)
			_, err := NewService(nil, nil, nil, config, logger.Discard())
			if !errors.IsCode(err, errors.CodeInvalidConfig) {
				t.Errorf("expected invalid config error, got %v", err)
			}
		})
	}
}

func TestService_RunSync(t *testing.T) {
	f := createTestDataFiles(t)
	svc := newTestService(t, nil)
	source := NewFileAIHSource(f.internal, newSystemParser(t))

	report, err := svc.RunSync(context.Background(), &SyncRequest{
		Label:         "hospital",
		Internal:      source,
		ExternalFiles: []string{f.extract},
		Competence:    "01/2024",
	})
	if err != nil {
		t.Fatalf("RunSync() error = %v", err)
	}

	wantStatus := map[string]Status{
		"3524100000011": StatusSynced,
		"3524100000022": StatusPending,
		"3524100000044": StatusUnprocessed,
	}
	if len(report.Result.Entries) != len(wantStatus) {
		t.Fatalf("expected %d entries, got %+v", len(wantStatus), report.Result.Entries)
	}
	for _, e := range report.Result.Entries {
		if want, ok := wantStatus[e.Key]; !ok || e.Status != want {
			t.Errorf("%s: status = %s, want %s", e.Key, e.Status, want)
		}
	}

	pending := report.Result.ByStatus(StatusPending)[0]
	if pending.Internal.AuthorizationNumber != "3524-1000-0002-2" {
		t.Errorf("collision should keep the most recent record, got %s", pending.Internal.AuthorizationNumber)
	}
	if report.Result.Diagnostics.CollisionsInternal != 1 {
		t.Errorf("CollisionsInternal = %d, want 1", report.Result.Diagnostics.CollisionsInternal)
	}

	if report.Competence != "202401" {
		t.Errorf("Competence = %s, want 202401", report.Competence)
	}
	if report.InternalFilter.OutsideCompetence != 1 || report.ExternalFilter.OutsideCompetence != 1 {
		t.Errorf("expected one record outside the period on each side, got %+v / %+v",
			report.InternalFilter, report.ExternalFilter)
	}
	if report.ExternalStats == nil || report.ExternalStats.Records != 3 {
		t.Errorf("unexpected extract stats %+v", report.ExternalStats)
	}
	if report.InternalStats == nil || report.InternalStats.RecordsParsed != 4 {
		t.Errorf("unexpected internal stats %+v", report.InternalStats)
	}
	if report.InternalSource != "file:"+f.internal {
		t.Errorf("InternalSource = %s", report.InternalSource)
	}
}

func TestService_RunSyncErrors(t *testing.T) {
	f := createTestDataFiles(t)
	svc := newTestService(t, nil)
	source := NewFileAIHSource(f.internal, newSystemParser(t))

	tests := []struct {
		name    string
		request *SyncRequest
		code    errors.ErrorCode
	}{
		{"no internal source", &SyncRequest{ExternalFiles: []string{f.extract}}, errors.CodeMissingField},
		{"no extracts", &SyncRequest{Internal: source}, errors.CodeMissingField},
		{"bad competence", &SyncRequest{Internal: source, ExternalFiles: []string{f.extract}, Competence: "2024"}, errors.CodeInvalidCompetence},
		{"missing extract", &SyncRequest{Internal: source, ExternalFiles: []string{filepath.Join(f.dir, "missing.txt")}}, errors.CodeFileNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.RunSync(context.Background(), tt.request)
			if !errors.IsCode(err, tt.code) {
				t.Errorf("expected %s, got %v", tt.code, err)
			}
		})
	}
}

func TestService_RunSyncCancelled(t *testing.T) {
	f := createTestDataFiles(t)
	svc := newTestService(t, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := svc.RunSync(ctx, &SyncRequest{
		Internal:      NewFileAIHSource(f.internal, newSystemParser(t)),
		ExternalFiles: []string{f.extract},
	})
	if err == nil {
		t.Fatal("expected an error for a cancelled context")
	}
}

func TestService_RunAudit(t *testing.T) {
	f := createTestDataFiles(t)
	svc := newTestService(t, func(c *Config) { c.CatalogCache = true })
	source := NewFileProcedureSource(f.system, newSystemParser(t))

	request := &AuditRequest{
		Label:       "hospital",
		AuditFile:   f.audit,
		System:      source,
		CatalogFile: f.catalog,
		Competence:  "202401",
	}
	report, err := svc.RunAudit(context.Background(), request)
	if err != nil {
		t.Fatalf("RunAudit() error = %v", err)
	}

	result := report.Result
	if len(result.Matches) != 1 || result.Matches[0].Status != AuditMatched {
		t.Fatalf("expected one matched row, got %+v", result.Matches)
	}
	if result.Matches[0].ValueDifference != 45 {
		t.Errorf("ValueDifference = %d, want 45", result.Matches[0].ValueDifference)
	}
	if result.Summary.GlosasPossiveis != 1 || result.Summary.RejeicoesPossiveis != 1 {
		t.Errorf("unexpected summary %+v", result.Summary)
	}
	if report.AuditFilter.OutsideCompetence != 1 {
		t.Errorf("expected one audit row outside the period, got %+v", report.AuditFilter)
	}

	if len(report.Annotations) != 3 {
		t.Fatalf("expected 3 annotations, got %d", len(report.Annotations))
	}
	leftover := result.SystemLeftovers[0]
	if got := report.Annotations[leftover.Key]; got.Method != matcher.MatchNormalizedCode {
		t.Errorf("system leftover annotation = %+v", got)
	}
	if report.MatchSummary == nil || report.MatchSummary.Total != 3 {
		t.Errorf("unexpected match summary %+v", report.MatchSummary)
	}
	if report.CatalogDiagnostics == nil || !report.CatalogDiagnostics.Clean() {
		t.Errorf("expected clean catalog diagnostics, got %+v", report.CatalogDiagnostics)
	}
	if report.SystemStats == nil || report.AuditStats == nil {
		t.Error("expected parse statistics for both files")
	}

	if _, err := svc.RunAudit(context.Background(), request); err != nil {
		t.Fatalf("second RunAudit() error = %v", err)
	}
	if hits := svc.catalogCache(f.catalog).Stats().Hits; hits != 3 {
		t.Errorf("expected the second run to hit the catalog cache 3 times, got %d", hits)
	}
}

func TestService_RunAuditWithoutCatalog(t *testing.T) {
	f := createTestDataFiles(t)
	svc := newTestService(t, nil)

	report, err := svc.RunAudit(context.Background(), &AuditRequest{
		AuditFile: f.audit,
		System:    NewFileProcedureSource(f.system, newSystemParser(t)),
	})
	if err != nil {
		t.Fatalf("RunAudit() error = %v", err)
	}
	if report.Annotations != nil || report.MatchSummary != nil {
		t.Error("no annotations expected without a catalog")
	}
	if report.Result.Summary.GlosasPossiveis != 2 {
		t.Errorf("without a competence every audit row is reconciled, got %+v", report.Result.Summary)
	}
	if svc.catalogCache(f.catalog) != nil {
		t.Error("catalog cache should be disabled by default")
	}
}

func TestService_RunAuditErrors(t *testing.T) {
	f := createTestDataFiles(t)
	svc := newTestService(t, nil)
	source := NewFileProcedureSource(f.system, newSystemParser(t))

	tests := []struct {
		name    string
		request *AuditRequest
		code    errors.ErrorCode
	}{
		{"no audit file", &AuditRequest{System: source}, errors.CodeMissingField},
		{"no system source", &AuditRequest{AuditFile: f.audit}, errors.CodeMissingField},
		{"missing audit file", &AuditRequest{AuditFile: filepath.Join(f.dir, "none.csv"), System: source}, errors.CodeFileNotFound},
		{"structural error", &AuditRequest{AuditFile: f.catalog, System: source}, errors.CodeHeaderNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.RunAudit(context.Background(), tt.request)
			if !errors.IsCode(err, tt.code) {
				t.Errorf("expected %s, got %v", tt.code, err)
			}
		})
	}
}
