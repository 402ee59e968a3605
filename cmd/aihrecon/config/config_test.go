package config

import (
	"testing"
	"time"

	"aih-reconciliation-service/internal/models"
	"aih-reconciliation-service/internal/reconciler"
	"aih-reconciliation-service/internal/reporter"
	"aih-reconciliation-service/pkg/errors"
)

func TestCreateParseConfig(t *testing.T) {
	tests := []struct {
		name          string
		encoding      string
		delimiter     string
		wantDelimiter rune
		expectError   bool
	}{
		{name: "defaults", wantDelimiter: 0},
		{name: "auto delimiter", delimiter: "auto", wantDelimiter: 0},
		{name: "semicolon", delimiter: ";", wantDelimiter: ';'},
		{name: "tab", delimiter: "tab", wantDelimiter: '\t'},
		{name: "latin1", encoding: "LATIN1", wantDelimiter: 0},
		{name: "multi-char delimiter", delimiter: ";;", expectError: true},
		{name: "unknown encoding", encoding: "ebcdic", expectError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config, err := CreateParseConfig(tt.encoding, tt.delimiter, 50)
			if tt.expectError {
				if err == nil {
					t.Fatal("expected error but got none")
				}
				if !errors.IsCode(err, errors.CodeInvalidConfig) {
					t.Errorf("expected invalid config code, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if config.Delimiter != tt.wantDelimiter {
				t.Errorf("expected delimiter %q, got %q", tt.wantDelimiter, config.Delimiter)
			}
			if config.MaxErrors != 50 {
				t.Errorf("expected max errors 50, got %d", config.MaxErrors)
			}
		})
	}
}

func TestCreateSISAIHConfig(t *testing.T) {
	config, err := CreateSISAIHConfig(true, "utf-8", 8)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !config.StrictLength || config.Encoding != "utf-8" || config.MaxConcurrency != 8 {
		t.Errorf("unexpected config %+v", config)
	}

	config, err = CreateSISAIHConfig(false, "", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if config.MaxConcurrency != 4 {
		t.Errorf("expected default concurrency 4, got %d", config.MaxConcurrency)
	}

	if _, err := CreateSISAIHConfig(false, "auto", 1); err == nil {
		t.Error("expected auto encoding to be rejected for SISAIH01")
	}
}

func TestCreatePolicy(t *testing.T) {
	tests := []struct {
		name          string
		minKeyLength  int
		tolerance     string
		similarity    float64
		wantTolerance models.MinorUnits
		expectError   bool
	}{
		{name: "defaults", minKeyLength: 4, tolerance: "", similarity: 0.8, wantTolerance: reconciler.DefaultValueTolerance},
		{name: "dot decimal", minKeyLength: 4, tolerance: "1.25", similarity: 0.8, wantTolerance: 125},
		{name: "comma decimal", minKeyLength: 4, tolerance: "0,10", similarity: 0.8, wantTolerance: 10},
		{name: "zero tolerance", minKeyLength: 4, tolerance: "0", similarity: 0.8, wantTolerance: 0},
		{name: "bad tolerance", minKeyLength: 4, tolerance: "abc", similarity: 0.8, expectError: true},
		{name: "negative tolerance", minKeyLength: 4, tolerance: "-1", similarity: 0.8, expectError: true},
		{name: "similarity too high", minKeyLength: 4, similarity: 1.5, expectError: true},
		{name: "negative key length", minKeyLength: -1, similarity: 0.8, expectError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			policy, err := CreatePolicy(tt.minKeyLength, tt.tolerance, tt.similarity)
			if tt.expectError {
				if err == nil {
					t.Fatal("expected error but got none")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if policy.ValueTolerance != tt.wantTolerance {
				t.Errorf("expected tolerance %d, got %d", tt.wantTolerance, policy.ValueTolerance)
			}
			if policy.MinKeyLength != tt.minKeyLength {
				t.Errorf("expected min key length %d, got %d", tt.minKeyLength, policy.MinKeyLength)
			}
		})
	}
}

func TestCreateReconcilerConfig(t *testing.T) {
	config := CreateReconcilerConfig(reconciler.DefaultPolicy(), 2)
	if config.MaxConcurrentRuns != 2 {
		t.Errorf("expected 2 concurrent runs, got %d", config.MaxConcurrentRuns)
	}
	if !config.CatalogCache {
		t.Error("expected catalog cache to be enabled")
	}
	if err := config.Validate(); err != nil {
		t.Errorf("reconciler config should be valid: %v", err)
	}

	if config := CreateReconcilerConfig(reconciler.DefaultPolicy(), 0); config.MaxConcurrentRuns != 4 {
		t.Errorf("expected default concurrency, got %d", config.MaxConcurrentRuns)
	}
}

func TestCreateColumns(t *testing.T) {
	columns := CreateColumns(nil, nil)
	if columns.Audit != nil || columns.Catalog != nil {
		t.Error("expected nil specs without overrides")
	}

	columns = CreateColumns(map[string]string{"aih": "AIH_NUM"}, nil)
	if columns.Audit == nil {
		t.Fatal("expected an audit spec")
	}
	if err := columns.Audit.Validate(); err != nil {
		t.Errorf("overridden spec should be valid: %v", err)
	}
}

func TestCreateMatcherConfig(t *testing.T) {
	tests := []struct {
		preset        string
		threshold     float64
		wantThreshold float64
		wantText      bool
		expectError   bool
	}{
		{preset: "", wantThreshold: 0.8, wantText: true},
		{preset: "strict", wantThreshold: 0.8, wantText: false},
		{preset: "Relaxed", wantThreshold: 0.5, wantText: true},
		{preset: "default", threshold: 0.65, wantThreshold: 0.65, wantText: true},
		{preset: "fuzzy", expectError: true},
		{preset: "default", threshold: 2, expectError: true},
	}

	for _, tt := range tests {
		t.Run(tt.preset, func(t *testing.T) {
			config, err := CreateMatcherConfig(tt.preset, tt.threshold)
			if tt.expectError {
				if err == nil {
					t.Fatal("expected error but got none")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if config.SimilarityThreshold != tt.wantThreshold {
				t.Errorf("expected threshold %.2f, got %.2f", tt.wantThreshold, config.SimilarityThreshold)
			}
			if config.EnableTextSimilarity != tt.wantText {
				t.Errorf("expected text similarity %t", tt.wantText)
			}
		})
	}
}

func TestCreateStoreConfig(t *testing.T) {
	if _, err := CreateStoreConfig("", 0, 0); !errors.IsCode(err, errors.CodeMissingConfig) {
		t.Errorf("expected missing config for empty dsn, got %v", err)
	}

	config, err := CreateStoreConfig("postgres://localhost/hospital", 250, time.Minute)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if config.PageSize != 250 || config.QueryTimeout != time.Minute {
		t.Errorf("unexpected config %+v", config)
	}
}

func TestCreateReportConfig(t *testing.T) {
	tests := []struct {
		format       string
		verbose      bool
		wantSynced   bool
		wantStats    bool
		expectError  bool
		wantMaxItems int
	}{
		{format: "console", wantSynced: false, wantStats: true, wantMaxItems: 10},
		{format: "console", verbose: true, wantSynced: true, wantStats: true, wantMaxItems: 10},
		{format: "JSON", wantSynced: false, wantStats: true, wantMaxItems: 10},
		{format: "csv", wantSynced: true, wantStats: false, wantMaxItems: 10},
		{format: "parquet", wantSynced: true, wantStats: false, wantMaxItems: 10},
		{format: "xml", expectError: true},
	}

	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			config, err := CreateReportConfig(tt.format, -1, tt.verbose)
			if tt.expectError {
				if err == nil {
					t.Fatal("expected error but got none")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if config.IncludeSynced != tt.wantSynced {
				t.Errorf("IncludeSynced = %t, want %t", config.IncludeSynced, tt.wantSynced)
			}
			if config.IncludeProcessingStats != tt.wantStats {
				t.Errorf("IncludeProcessingStats = %t, want %t", config.IncludeProcessingStats, tt.wantStats)
			}
			if config.MaxListItems != tt.wantMaxItems {
				t.Errorf("MaxListItems = %d, want %d", config.MaxListItems, tt.wantMaxItems)
			}
		})
	}

	config, err := CreateReportConfig("console", 0, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if config.MaxListItems != 0 || config.Format != reporter.FormatConsole {
		t.Errorf("expected unlimited console listing, got %+v", config)
	}
}

func TestDeriveLabel(t *testing.T) {
	tests := map[string]string{
		"/data/AIH202403.TXT": "AIH202403",
		"tabwin_marco.csv":    "tabwin_marco",
		"relative/dir/noext":  "noext",
		"archive.tar.gz":      "archive.tar",
	}
	for input, want := range tests {
		if got := DeriveLabel(input); got != want {
			t.Errorf("DeriveLabel(%q) = %q, want %q", input, got, want)
		}
	}
}

func TestNormalizeCompetences(t *testing.T) {
	got, err := NormalizeCompetences([]string{"03/2024", "202403", "", "2024-04"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 || got[0] != "202403" || got[1] != "202404" {
		t.Errorf("unexpected competences %v", got)
	}

	if _, err := NormalizeCompetences([]string{"13/2024"}); !errors.IsCode(err, errors.CodeInvalidCompetence) {
		t.Errorf("expected invalid competence, got %v", err)
	}
}
