package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"aih-reconciliation-service/internal/matcher"
	"aih-reconciliation-service/internal/models"
	"aih-reconciliation-service/internal/parsers"
	"aih-reconciliation-service/internal/reconciler"
	"aih-reconciliation-service/internal/reporter"
	"aih-reconciliation-service/internal/store"
	"aih-reconciliation-service/pkg/errors"
)

// CreateParseConfig creates the tabular parse configuration. An empty
// delimiter is detected from the data.
func CreateParseConfig(encoding, delimiter string, maxErrors int) (*parsers.ParseConfig, error) {
	config := parsers.DefaultParseConfig()
	if encoding != "" {
		config.Encoding = strings.ToLower(encoding)
	}
	config.MaxErrors = maxErrors

	switch delimiter {
	case "", "auto":
		config.Delimiter = 0
	case "tab", `\t`:
		config.Delimiter = '\t'
	default:
		runes := []rune(delimiter)
		if len(runes) != 1 {
			return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "delimiter", delimiter,
				fmt.Errorf("delimiter must be a single character, 'tab' or 'auto'"))
		}
		config.Delimiter = runes[0]
	}

	if err := config.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "parse", encoding, err)
	}
	return config, nil
}

// CreateSISAIHConfig creates the SISAIH01 reader configuration.
func CreateSISAIHConfig(strict bool, encoding string, concurrency int) (*parsers.SISAIHConfig, error) {
	config := parsers.DefaultSISAIHConfig()
	config.StrictLength = strict
	if encoding != "" {
		config.Encoding = strings.ToLower(encoding)
	}
	if concurrency > 0 {
		config.MaxConcurrency = concurrency
	}

	if err := config.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "sisaih", encoding, err)
	}
	return config, nil
}

// CreatePolicy builds the reconciliation thresholds. valueTolerance is in
// major units ("0.50" or "0,50").
func CreatePolicy(minKeyLength int, valueTolerance string, similarity float64) (reconciler.Policy, error) {
	policy := reconciler.DefaultPolicy()
	policy.MinKeyLength = minKeyLength
	policy.SimilarityThreshold = similarity

	if strings.TrimSpace(valueTolerance) != "" {
		tolerance, err := models.ParseMajorUnits(valueTolerance)
		if err != nil {
			return policy, errors.ConfigurationError(errors.CodeInvalidConfig, "value-tolerance", valueTolerance, err).
				WithSuggestion("use a decimal amount such as 0.50")
		}
		policy.ValueTolerance = tolerance
	}

	if err := policy.Validate(); err != nil {
		return policy, err
	}
	return policy, nil
}

// CreateReconcilerConfig creates the service configuration.
func CreateReconcilerConfig(policy reconciler.Policy, concurrency int) *reconciler.Config {
	config := reconciler.DefaultConfig()
	config.Policy = policy
	if concurrency > 0 {
		config.MaxConcurrentRuns = concurrency
	}
	config.CatalogCache = true
	return config
}

// CreateColumns applies header overrides from the configuration file to the
// audit and catalog layouts.
func CreateColumns(auditOverrides, catalogOverrides map[string]string) *reconciler.Columns {
	columns := &reconciler.Columns{}
	if len(auditOverrides) > 0 {
		columns.Audit = parsers.DefaultAuditColumns().WithOverrides(auditOverrides)
	}
	if len(catalogOverrides) > 0 {
		columns.Catalog = parsers.DefaultCatalogColumns().WithOverrides(catalogOverrides)
	}
	return columns
}

// CreateSystemParser creates the parser of the internal system's CSV
// exports, applying header overrides.
func CreateSystemParser(parseConfig *parsers.ParseConfig, procedureOverrides, aihOverrides map[string]string) (*parsers.SystemParser, error) {
	var procedureSpec, aihSpec *parsers.ColumnSpec
	if len(procedureOverrides) > 0 {
		procedureSpec = parsers.DefaultSystemColumns().WithOverrides(procedureOverrides)
	}
	if len(aihOverrides) > 0 {
		aihSpec = parsers.DefaultInternalAIHColumns().WithOverrides(aihOverrides)
	}
	return parsers.NewSystemParser(procedureSpec, aihSpec, parseConfig, nil)
}

// CreateMatcherConfig creates a matcher configuration from a preset name.
// A positive threshold overrides the preset's.
func CreateMatcherConfig(preset string, threshold float64) (*matcher.MatcherConfig, error) {
	var config *matcher.MatcherConfig
	switch strings.ToLower(preset) {
	case "", "default":
		config = matcher.DefaultMatcherConfig()
	case "strict":
		config = matcher.StrictMatcherConfig()
	case "relaxed":
		config = matcher.RelaxedMatcherConfig()
	default:
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "preset", preset,
			fmt.Errorf("unknown matcher preset %q", preset)).
			WithSuggestion("use one of: default, strict, relaxed")
	}
	if threshold > 0 {
		config.SimilarityThreshold = threshold
	}
	if err := config.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "matcher", config.String(), err)
	}
	return config, nil
}

// CreateStoreConfig creates the database configuration.
func CreateStoreConfig(dsn string, pageSize int, timeout time.Duration) (*store.Config, error) {
	config := store.DefaultConfig()
	config.DSN = dsn
	if pageSize > 0 {
		config.PageSize = pageSize
	}
	if timeout > 0 {
		config.QueryTimeout = timeout
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// CreateReportConfig creates a report configuration for the specified output format
func CreateReportConfig(format string, maxItems int, verbose bool) (*reporter.ReportConfig, error) {
	config := reporter.DefaultReportConfig()
	config.Format = reporter.OutputFormat(strings.ToLower(format))
	if maxItems >= 0 {
		config.MaxListItems = maxItems
	}

	switch config.Format {
	case reporter.FormatConsole:
		config.IncludeSynced = verbose
		config.IncludePerfectMatches = verbose
	case reporter.FormatJSON, reporter.FormatYAML:
		config.IncludeSynced = false
		config.IncludePerfectMatches = false
	case reporter.FormatCSV, reporter.FormatParquet:
		// Tabular exports list every entry.
		config.IncludeSynced = true
		config.IncludePerfectMatches = true
		config.IncludeProcessingStats = false
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// DeriveLabel names a run after its input file, without the extension.
func DeriveLabel(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// NormalizeCompetences validates and deduplicates competences given as
// YYYYMM, MM/YYYY or YYYY-MM.
func NormalizeCompetences(values []string) ([]string, error) {
	seen := make(map[string]bool, len(values))
	out := make([]string, 0, len(values))
	for _, value := range values {
		if strings.TrimSpace(value) == "" {
			continue
		}
		competence, err := models.NormalizeCompetence(value)
		if err != nil {
			return nil, errors.ValidationError(errors.CodeInvalidCompetence, "competence", value, err).
				WithSuggestion("use YYYYMM, e.g. 202403")
		}
		if !seen[competence] {
			seen[competence] = true
			out = append(out, competence)
		}
	}
	return out, nil
}
