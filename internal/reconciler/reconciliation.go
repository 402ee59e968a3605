// Package reconciler compares hospital authorization data across the
// internal processing system, the government SISAIH01 extract and the payer
// audit export.
//
// The core functions ReconcileAIHSets and ReconcileAudit are pure: they take
// already loaded records and a Policy and return a result. The Service wraps
// them with loading, period filtering and logging, and the Orchestrator runs
// several services' requests in parallel.
//
// Example usage:
//
//	svc, err := reconciler.NewService(nil, nil, nil, nil, log)
//	report, err := svc.RunSync(ctx, &reconciler.SyncRequest{
//		Internal:      reconciler.NewFileAIHSource("internal.csv", systemParser),
//		ExternalFiles: []string{"AIH202401.TXT"},
//		Competence:    "202401",
//	})
package reconciler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"aih-reconciliation-service/internal/matcher"
	"aih-reconciliation-service/internal/parsers"
	"aih-reconciliation-service/pkg/errors"
	"aih-reconciliation-service/pkg/logger"
)

// Service loads the inputs of a reconciliation run and reconciles them.
type Service struct {
	sisaih  *parsers.SISAIHReader
	audit   *parsers.AuditParser
	catalog *parsers.CatalogParser
	config  *Config
	logger  logger.Logger

	cachesMu sync.Mutex
	caches   map[string]*matcher.Cache
}

// Config holds configuration options for the reconciliation service
type Config struct {
	// Policy holds the reconciliation thresholds.
	Policy Policy

	// MaxConcurrentRuns bounds the Orchestrator.
	MaxConcurrentRuns int

	// ValidateInputs drops records failing their own validation.
	ValidateInputs bool

	// CatalogCache shares procedure matches across audit runs that use the
	// same catalog file.
	CatalogCache bool
}

// DefaultConfig returns a default configuration for the reconciliation service
func DefaultConfig() *Config {
	return &Config{
		Policy:            DefaultPolicy(),
		MaxConcurrentRuns: 4,
		ValidateInputs:    true,
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.MaxConcurrentRuns <= 0 {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "max_concurrent_runs", c.MaxConcurrentRuns,
			fmt.Errorf("max concurrent runs must be positive, got %d", c.MaxConcurrentRuns))
	}
	return c.Policy.Validate()
}

// Columns overrides the column layouts of the tabular inputs. Nil fields use
// the parser defaults.
type Columns struct {
	Audit   *parsers.ColumnSpec
	Catalog *parsers.ColumnSpec
}

// SyncRequest asks for an AIH set reconciliation of one hospital and period.
type SyncRequest struct {
	Label         string
	Internal      AIHSource
	ExternalFiles []string
	Competence    string
	FacilityCode  string
}

// Validate validates the sync request
func (r *SyncRequest) Validate() error {
	if r.Internal == nil {
		return errors.ValidationError(errors.CodeMissingField, "internal_source", nil, nil).
			WithSuggestion("Provide the internal system export or a database connection")
	}
	if len(r.ExternalFiles) == 0 {
		return errors.ValidationError(errors.CodeMissingField, "external_files", nil, nil).
			WithSuggestion("Provide at least one SISAIH01 extract")
	}
	return nil
}

// AuditRequest asks for a payer audit reconciliation.
type AuditRequest struct {
	Label       string
	AuditFile   string
	System      ProcedureSource
	CatalogFile string
	Competence  string
}

// Validate validates the audit request
func (r *AuditRequest) Validate() error {
	if r.AuditFile == "" {
		return errors.ValidationError(errors.CodeMissingField, "audit_file", nil, nil).
			WithSuggestion("Provide the TabWin audit export")
	}
	if r.System == nil {
		return errors.ValidationError(errors.CodeMissingField, "system_source", nil, nil).
			WithSuggestion("Provide the system procedure export or a database connection")
	}
	return nil
}

// SyncReport is the outcome of RunSync.
type SyncReport struct {
	Label          string               `json:"label,omitempty" yaml:"label,omitempty"`
	Competence     string               `json:"competence,omitempty" yaml:"competence,omitempty"`
	InternalSource string               `json:"internal_source" yaml:"internal_source"`
	ExternalFiles  []string             `json:"external_files" yaml:"external_files"`
	Result         *SetResult           `json:"result" yaml:"result"`
	InternalStats  *parsers.ParseStats  `json:"internal_stats,omitempty" yaml:"internal_stats,omitempty"`
	ExternalStats  *parsers.SISAIHStats `json:"external_stats,omitempty" yaml:"external_stats,omitempty"`
	InternalFilter PreprocessingStats   `json:"internal_filter" yaml:"internal_filter"`
	ExternalFilter PreprocessingStats   `json:"external_filter" yaml:"external_filter"`
	ProcessedAt    time.Time            `json:"processed_at" yaml:"processed_at"`
	Duration       time.Duration        `json:"duration" yaml:"duration"`
}

// AuditReport is the outcome of RunAudit.
type AuditReport struct {
	Label              string                      `json:"label,omitempty" yaml:"label,omitempty"`
	Competence         string                      `json:"competence,omitempty" yaml:"competence,omitempty"`
	AuditFile          string                      `json:"audit_file" yaml:"audit_file"`
	SystemSource       string                      `json:"system_source" yaml:"system_source"`
	Result             *AuditResult                `json:"result" yaml:"result"`
	Annotations        Annotations                 `json:"annotations,omitempty" yaml:"annotations,omitempty"`
	MatchSummary       *matcher.MatchSummary       `json:"match_summary,omitempty" yaml:"match_summary,omitempty"`
	CatalogDiagnostics *matcher.CatalogDiagnostics `json:"catalog_diagnostics,omitempty" yaml:"catalog_diagnostics,omitempty"`
	AuditStats         *parsers.ParseStats         `json:"audit_stats,omitempty" yaml:"audit_stats,omitempty"`
	SystemStats        *parsers.ParseStats         `json:"system_stats,omitempty" yaml:"system_stats,omitempty"`
	AuditFilter        PreprocessingStats          `json:"audit_filter" yaml:"audit_filter"`
	SystemFilter       PreprocessingStats          `json:"system_filter" yaml:"system_filter"`
	ProcessedAt        time.Time                   `json:"processed_at" yaml:"processed_at"`
	Duration           time.Duration               `json:"duration" yaml:"duration"`
}

// NewService creates a reconciliation service. Nil arguments use defaults.
func NewService(
	sisaihConfig *parsers.SISAIHConfig,
	parseConfig *parsers.ParseConfig,
	columns *Columns,
	config *Config,
	log logger.Logger,
) (*Service, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if columns == nil {
		columns = &Columns{}
	}
	if log == nil {
		log = logger.GetGlobalLogger()
	}

	sisaih, err := parsers.NewSISAIHReader(sisaihConfig, log)
	if err != nil {
		return nil, err
	}
	audit, err := parsers.NewAuditParser(columns.Audit, parseConfig, log)
	if err != nil {
		return nil, err
	}
	catalog, err := parsers.NewCatalogParser(columns.Catalog, parseConfig, log)
	if err != nil {
		return nil, err
	}

	return &Service{
		sisaih:  sisaih,
		audit:   audit,
		catalog: catalog,
		config:  config,
		logger:  log.WithComponent("reconciliation_service"),
	}, nil
}

// RunSync loads both sides of an AIH set reconciliation and classifies them.
func (s *Service) RunSync(ctx context.Context, request *SyncRequest) (*SyncReport, error) {
	if err := request.Validate(); err != nil {
		return nil, err
	}
	preprocessor, err := s.preprocessor(request.Competence, request.FacilityCode)
	if err != nil {
		return nil, err
	}

	startTime := time.Now()
	log := s.logger.WithRun(request.Label, preprocessor.Config().Competence).
		WithField(logger.FieldSource, request.Internal.Describe())
	log.Info("Starting AIH set reconciliation")

	internal, external, extStats, err := s.loadSyncInputs(ctx, request, preprocessor.Config().Competence)
	if err != nil {
		return nil, err
	}

	report := &SyncReport{
		Label:          request.Label,
		Competence:     preprocessor.Config().Competence,
		InternalSource: request.Internal.Describe(),
		ExternalFiles:  request.ExternalFiles,
		InternalStats:  sourceStats(request.Internal),
		ExternalStats:  extStats,
		ProcessedAt:    startTime,
	}

	internal, report.InternalFilter = preprocessor.FilterAIHs(internal)
	external, report.ExternalFilter = preprocessor.FilterAIHs(external)

	result, err := ReconcileAIHSets(internal, external, s.config.Policy)
	if err != nil {
		return nil, err
	}
	report.Result = result
	report.Duration = time.Since(startTime)

	s.logCollisions(log, result)
	log.WithFields(logger.Fields{
		"run_id":      result.RunID.String(),
		"synced":      result.Summary.Synced,
		"pending":     result.Summary.Pending,
		"unprocessed": result.Summary.Unprocessed,
		"duration":    report.Duration.String(),
	}).Info("AIH set reconciliation completed")

	return report, nil
}

// RunAudit loads the payer audit and the system procedures, reconciles them
// and, when a catalog is given, annotates every entry with its procedure.
func (s *Service) RunAudit(ctx context.Context, request *AuditRequest) (*AuditReport, error) {
	if err := request.Validate(); err != nil {
		return nil, err
	}
	preprocessor, err := s.preprocessor(request.Competence, "")
	if err != nil {
		return nil, err
	}

	startTime := time.Now()
	log := s.logger.WithRun(request.Label, preprocessor.Config().Competence).WithFields(logger.Fields{
		logger.FieldFile:   request.AuditFile,
		logger.FieldSource: request.System.Describe(),
	})
	log.Info("Starting payer audit reconciliation")

	auditRows, auditStats, systemRows, err := s.loadAuditInputs(ctx, request, preprocessor.Config().Competence)
	if err != nil {
		return nil, err
	}

	report := &AuditReport{
		Label:        request.Label,
		Competence:   preprocessor.Config().Competence,
		AuditFile:    request.AuditFile,
		SystemSource: request.System.Describe(),
		AuditStats:   auditStats,
		SystemStats:  sourceStats(request.System),
		ProcessedAt:  startTime,
	}

	auditRows, report.AuditFilter = preprocessor.FilterAuditRows(auditRows)
	systemRows, report.SystemFilter = preprocessor.FilterSystemRows(systemRows)

	result, err := ReconcileAudit(auditRows, systemRows, s.config.Policy)
	if err != nil {
		return nil, err
	}
	report.Result = result

	if request.CatalogFile != "" {
		if err := s.annotate(ctx, request.CatalogFile, report); err != nil {
			return nil, err
		}
	}
	report.Duration = time.Since(startTime)

	log.WithFields(logger.Fields{
		"run_id":         result.RunID.String(),
		"matches":        len(result.Matches),
		"value_diffs":    result.Summary.ValueDifferences,
		"quantity_diffs": result.Summary.QuantityDifferences,
		"glosas":         result.Summary.GlosasPossiveis,
		"rejeicoes":      result.Summary.RejeicoesPossiveis,
		"duration":       report.Duration.String(),
	}).Info("Payer audit reconciliation completed")

	return report, nil
}

// Policy returns the thresholds the service reconciles with.
func (s *Service) Policy() Policy {
	return s.config.Policy
}

// GetConfiguration returns the current configuration
func (s *Service) GetConfiguration() *Config {
	return s.config
}
