// Package reporter renders reconciliation results for people and for other
// tools.
//
// Four report kinds are supported: AIH set reconciliation (sync), payer audit
// reconciliation (audit), parsed SISAIH01 records (parse) and catalog match
// results (match). Each can be written as:
//   - Console: sectioned, human-readable text for a terminal
//   - JSON and YAML: structured documents filtered by the Include* flags
//   - CSV: one flat row per entry, for spreadsheets
//   - Parquet: the same flat rows, for analytics tooling (binary, file only)
//
// Example usage:
//
//	rg, err := reporter.NewReportGenerator(reporter.DefaultReportConfig())
//	if err != nil {
//		return err
//	}
//	err = rg.GenerateSyncReport(report, os.Stdout)
package reporter

import (
	"fmt"
	"io"
	"strings"

	"aih-reconciliation-service/internal/matcher"
	"aih-reconciliation-service/internal/models"
	"aih-reconciliation-service/internal/parsers"
	"aih-reconciliation-service/internal/reconciler"
	"aih-reconciliation-service/pkg/errors"
)

// OutputFormat represents the supported report output formats.
type OutputFormat string

const (
	FormatConsole OutputFormat = "console"
	FormatJSON    OutputFormat = "json"
	FormatCSV     OutputFormat = "csv"
	FormatYAML    OutputFormat = "yaml"
	FormatParquet OutputFormat = "parquet"
)

// IsValid checks if the output format is supported
func (f OutputFormat) IsValid() bool {
	switch f {
	case FormatConsole, FormatJSON, FormatCSV, FormatYAML, FormatParquet:
		return true
	default:
		return false
	}
}

// IsBinary reports whether the format cannot be written to a terminal.
func (f OutputFormat) IsBinary() bool {
	return f == FormatParquet
}

// SupportedFormats lists every format name, for flag help.
func SupportedFormats() []string {
	return []string{
		string(FormatConsole),
		string(FormatJSON),
		string(FormatCSV),
		string(FormatYAML),
		string(FormatParquet),
	}
}

// ReportConfig holds configuration options for report generation
type ReportConfig struct {
	Format OutputFormat `json:"format" yaml:"format" mapstructure:"format"`

	// Sync sections
	IncludeSynced      bool `json:"include_synced" yaml:"include_synced" mapstructure:"include_synced"`
	IncludePending     bool `json:"include_pending" yaml:"include_pending" mapstructure:"include_pending"`
	IncludeUnprocessed bool `json:"include_unprocessed" yaml:"include_unprocessed" mapstructure:"include_unprocessed"`

	// Audit sections
	IncludePerfectMatches bool `json:"include_perfect_matches" yaml:"include_perfect_matches" mapstructure:"include_perfect_matches"`
	IncludeDiscrepancies  bool `json:"include_discrepancies" yaml:"include_discrepancies" mapstructure:"include_discrepancies"`
	IncludeLeftovers      bool `json:"include_leftovers" yaml:"include_leftovers" mapstructure:"include_leftovers"`
	IncludeAnnotations    bool `json:"include_annotations" yaml:"include_annotations" mapstructure:"include_annotations"`

	IncludeProcessingStats bool `json:"include_processing_stats" yaml:"include_processing_stats" mapstructure:"include_processing_stats"`

	// Console formatting. MaxListItems of 0 prints every entry.
	MaxListItems  int `json:"max_list_items" yaml:"max_list_items" mapstructure:"max_list_items"`
	TableMaxWidth int `json:"table_max_width" yaml:"table_max_width" mapstructure:"table_max_width"`

	// CSV options
	CSVDelimiter rune `json:"csv_delimiter" yaml:"csv_delimiter" mapstructure:"csv_delimiter"`
	CSVHeaders   bool `json:"csv_headers" yaml:"csv_headers" mapstructure:"csv_headers"`

	// SortByValue orders audit discrepancies by absolute value difference.
	SortByValue bool `json:"sort_by_value" yaml:"sort_by_value" mapstructure:"sort_by_value"`
}

// DefaultReportConfig returns a default report configuration
func DefaultReportConfig() *ReportConfig {
	return &ReportConfig{
		Format:                 FormatConsole,
		IncludeSynced:          false,
		IncludePending:         true,
		IncludeUnprocessed:     true,
		IncludePerfectMatches:  false,
		IncludeDiscrepancies:   true,
		IncludeLeftovers:       true,
		IncludeAnnotations:     true,
		IncludeProcessingStats: true,
		MaxListItems:           10,
		TableMaxWidth:          120,
		CSVDelimiter:           ',',
		CSVHeaders:             true,
		SortByValue:            false,
	}
}

// Validate validates the report configuration
func (c *ReportConfig) Validate() error {
	if !c.Format.IsValid() {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "format", c.Format, nil).
			WithSuggestion("use one of: " + strings.Join(SupportedFormats(), ", "))
	}

	if c.TableMaxWidth < 50 {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "table_max_width", c.TableMaxWidth,
			fmt.Errorf("table max width must be at least 50 characters, got %d", c.TableMaxWidth))
	}

	if c.MaxListItems < 0 {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "max_list_items", c.MaxListItems, nil)
	}

	switch c.CSVDelimiter {
	case 0, '\r', '\n', '"':
		return errors.ConfigurationError(errors.CodeInvalidConfig, "csv_delimiter", string(c.CSVDelimiter), nil)
	}

	return nil
}

// ParseReport is the output of the parse command: SISAIH01 records and the
// reader's counters.
type ParseReport struct {
	Files   []string             `json:"files" yaml:"files"`
	Records []*models.AIHRecord  `json:"records" yaml:"records"`
	Stats   *parsers.SISAIHStats `json:"stats,omitempty" yaml:"stats,omitempty"`
}

// MatchReport is the output of the match command.
type MatchReport struct {
	Catalog     string                         `json:"catalog" yaml:"catalog"`
	Results     []matcher.ProcedureMatchResult `json:"results" yaml:"results"`
	Summary     matcher.MatchSummary           `json:"summary" yaml:"summary"`
	Diagnostics *matcher.CatalogDiagnostics    `json:"diagnostics,omitempty" yaml:"diagnostics,omitempty"`
}

// ReportGenerator generates reconciliation reports in various formats
type ReportGenerator struct {
	config *ReportConfig
}

// NewReportGenerator creates a new report generator with the specified configuration
func NewReportGenerator(config *ReportConfig) (*ReportGenerator, error) {
	if config == nil {
		config = DefaultReportConfig()
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &ReportGenerator{
		config: config,
	}, nil
}

// GenerateSyncReport writes an AIH set reconciliation report.
func (rg *ReportGenerator) GenerateSyncReport(report *reconciler.SyncReport, writer io.Writer) error {
	if report == nil || report.Result == nil {
		return errors.ValidationError(errors.CodeMissingField, "sync_report", nil, nil)
	}

	switch rg.config.Format {
	case FormatConsole:
		return rg.writeSyncConsole(report, writer)
	case FormatJSON:
		return writeJSON(rg.filterSyncReport(report), writer)
	case FormatYAML:
		return writeYAML(rg.filterSyncReport(report), writer)
	case FormatCSV:
		return rg.writeCSV(SyncRowHeaders, csvRows(rg.syncRows(report)), writer)
	case FormatParquet:
		return writeParquet(rg.syncRows(report), writer)
	default:
		return rg.unsupported()
	}
}

// GenerateAuditReport writes a payer audit reconciliation report.
func (rg *ReportGenerator) GenerateAuditReport(report *reconciler.AuditReport, writer io.Writer) error {
	if report == nil || report.Result == nil {
		return errors.ValidationError(errors.CodeMissingField, "audit_report", nil, nil)
	}

	switch rg.config.Format {
	case FormatConsole:
		return rg.writeAuditConsole(report, writer)
	case FormatJSON:
		return writeJSON(rg.filterAuditReport(report), writer)
	case FormatYAML:
		return writeYAML(rg.filterAuditReport(report), writer)
	case FormatCSV:
		return rg.writeCSV(AuditRowHeaders, csvRows(rg.auditRows(report)), writer)
	case FormatParquet:
		return writeParquet(rg.auditRows(report), writer)
	default:
		return rg.unsupported()
	}
}

// GenerateParseReport writes parsed SISAIH01 records.
func (rg *ReportGenerator) GenerateParseReport(report *ParseReport, writer io.Writer) error {
	if report == nil {
		return errors.ValidationError(errors.CodeMissingField, "parse_report", nil, nil)
	}

	switch rg.config.Format {
	case FormatConsole:
		return rg.writeParseConsole(report, writer)
	case FormatJSON:
		return writeJSON(report, writer)
	case FormatYAML:
		return writeYAML(report, writer)
	case FormatCSV:
		return rg.writeCSV(RecordRowHeaders, csvRows(recordRows(report.Records)), writer)
	case FormatParquet:
		return writeParquet(recordRows(report.Records), writer)
	default:
		return rg.unsupported()
	}
}

// GenerateMatchReport writes catalog match results.
func (rg *ReportGenerator) GenerateMatchReport(report *MatchReport, writer io.Writer) error {
	if report == nil {
		return errors.ValidationError(errors.CodeMissingField, "match_report", nil, nil)
	}

	switch rg.config.Format {
	case FormatConsole:
		return rg.writeMatchConsole(report, writer)
	case FormatJSON:
		return writeJSON(report, writer)
	case FormatYAML:
		return writeYAML(report, writer)
	case FormatCSV:
		return rg.writeCSV(MatchRowHeaders, csvRows(matchRows(report.Results)), writer)
	case FormatParquet:
		return writeParquet(matchRows(report.Results), writer)
	default:
		return rg.unsupported()
	}
}

func (rg *ReportGenerator) unsupported() error {
	return errors.ConfigurationError(errors.CodeInvalidConfig, "format", rg.config.Format,
		fmt.Errorf("unsupported output format: %s", rg.config.Format))
}

func (rg *ReportGenerator) calculatePercentage(part, total int) float64 {
	if total == 0 {
		return 0.0
	}
	return float64(part) / float64(total) * 100.0
}

// UpdateConfiguration updates the report generator configuration
func (rg *ReportGenerator) UpdateConfiguration(config *ReportConfig) error {
	if err := config.Validate(); err != nil {
		return err
	}

	rg.config = config
	return nil
}

// GetConfiguration returns the current configuration
func (rg *ReportGenerator) GetConfiguration() *ReportConfig {
	return rg.config
}
