package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"aih-reconciliation-service/internal/parsers"
	"aih-reconciliation-service/internal/reconciler"
	"aih-reconciliation-service/pkg/logger"
)

// Manifest mirrors the file written by the scenario generator.
type Manifest struct {
	Seed       int64  `json:"seed"`
	Competence string `json:"competence"`
	Files      struct {
		Internal   string `json:"internal"`
		Extract    string `json:"extract"`
		Procedures string `json:"procedures"`
		Audit      string `json:"audit"`
		Catalog    string `json:"catalog"`
	} `json:"files"`
	Sync struct {
		Synced      int `json:"synced"`
		Pending     int `json:"pending"`
		Unprocessed int `json:"unprocessed"`
	} `json:"sync"`
	Audit struct {
		PerfectMatches      int `json:"perfect_matches"`
		ValueDifferences    int `json:"value_differences"`
		QuantityDifferences int `json:"quantity_differences"`
		GlosasPossiveis     int `json:"glosas_possiveis"`
		RejeicoesPossiveis  int `json:"rejeicoes_possiveis"`
	} `json:"audit"`
}

// ScenarioValidator runs both reconciliations over a generated scenario and
// compares the outcome with its manifest.
type ScenarioValidator struct {
	DataDir  string
	Verbose  bool
	manifest *Manifest
	failures []string
}

func main() {
	var (
		dataDir = flag.String("data-dir", "../generators/generated", "Directory written by the scenario generator")
		verbose = flag.Bool("verbose", false, "Verbose output")
	)
	flag.Parse()

	validator := &ScenarioValidator{DataDir: *dataDir, Verbose: *verbose}
	if err := validator.loadManifest(); err != nil {
		log.Fatalf("Failed to read manifest: %v", err)
	}

	fmt.Println("Scenario Validator")
	fmt.Println("==================")
	fmt.Printf("Data directory: %s\n", *dataDir)
	fmt.Printf("Competence: %s (seed %d)\n\n", validator.manifest.Competence, validator.manifest.Seed)

	if err := validator.Run(context.Background()); err != nil {
		log.Fatalf("Validation aborted: %v", err)
	}

	if len(validator.failures) > 0 {
		fmt.Printf("\n%d check(s) failed:\n", len(validator.failures))
		for _, f := range validator.failures {
			fmt.Printf("  ✗ %s\n", f)
		}
		os.Exit(1)
	}
	fmt.Println("\n✓ All checks passed")
}

func (sv *ScenarioValidator) loadManifest() error {
	data, err := os.ReadFile(filepath.Join(sv.DataDir, "manifest.json"))
	if err != nil {
		return err
	}
	sv.manifest = &Manifest{}
	return json.Unmarshal(data, sv.manifest)
}

// Run executes the sync and audit reconciliations.
func (sv *ScenarioValidator) Run(ctx context.Context) error {
	log := logger.Discard()
	if sv.Verbose {
		log = logger.GetGlobalLogger()
	}

	config := reconciler.DefaultConfig()
	config.CatalogCache = true
	service, err := reconciler.NewService(nil, nil, nil, config, log)
	if err != nil {
		return err
	}
	parser, err := parsers.NewSystemParser(nil, nil, nil, log)
	if err != nil {
		return err
	}

	m := sv.manifest
	syncReport, err := service.RunSync(ctx, &reconciler.SyncRequest{
		Label:         "generated scenario",
		Internal:      reconciler.NewFileAIHSource(sv.path(m.Files.Internal), parser),
		ExternalFiles: []string{sv.path(m.Files.Extract)},
		Competence:    m.Competence,
	})
	if err != nil {
		return err
	}
	got := syncReport.Result.Summary
	sv.check("synced", m.Sync.Synced, got.Synced)
	sv.check("pending", m.Sync.Pending, got.Pending)
	sv.check("unprocessed", m.Sync.Unprocessed, got.Unprocessed)
	sv.check("internal collisions", 0, syncReport.Result.Diagnostics.CollisionsInternal)

	auditReport, err := service.RunAudit(ctx, &reconciler.AuditRequest{
		Label:       "generated scenario",
		AuditFile:   sv.path(m.Files.Audit),
		System:      reconciler.NewFileProcedureSource(sv.path(m.Files.Procedures), parser),
		CatalogFile: sv.path(m.Files.Catalog),
		Competence:  m.Competence,
	})
	if err != nil {
		return err
	}
	audit := auditReport.Result.Summary
	sv.check("perfect matches", m.Audit.PerfectMatches, audit.PerfectMatches)
	sv.check("value differences", m.Audit.ValueDifferences, audit.ValueDifferences)
	sv.check("quantity differences", m.Audit.QuantityDifferences, audit.QuantityDifferences)
	sv.check("possible glosas", m.Audit.GlosasPossiveis, audit.GlosasPossiveis)
	sv.check("possible rejections", m.Audit.RejeicoesPossiveis, audit.RejeicoesPossiveis)
	if auditReport.MatchSummary != nil {
		sv.check("unmatched catalog lookups", 0, auditReport.MatchSummary.None)
	}
	return nil
}

func (sv *ScenarioValidator) path(name string) string {
	return filepath.Join(sv.DataDir, name)
}

func (sv *ScenarioValidator) check(name string, want, got int) {
	if want != got {
		sv.failures = append(sv.failures, fmt.Sprintf("%s: expected %d, got %d", name, want, got))
		return
	}
	if sv.Verbose {
		fmt.Printf("  ✓ %s: %d\n", name, got)
	}
}
