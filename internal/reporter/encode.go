package reporter

import (
	"encoding/csv"
	"encoding/json"
	"io"

	"github.com/parquet-go/parquet-go"
	"gopkg.in/yaml.v3"

	"aih-reconciliation-service/internal/reconciler"
	"aih-reconciliation-service/pkg/errors"
)

func writeJSON(v interface{}, writer io.Writer) error {
	encoder := json.NewEncoder(writer)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(v); err != nil {
		return errors.InternalError(errors.CodeProcessingError, "encode json report", err)
	}
	return nil
}

func writeYAML(v interface{}, writer io.Writer) error {
	encoder := yaml.NewEncoder(writer)
	encoder.SetIndent(2)
	if err := encoder.Encode(v); err != nil {
		return errors.InternalError(errors.CodeProcessingError, "encode yaml report", err)
	}
	if err := encoder.Close(); err != nil {
		return errors.InternalError(errors.CodeProcessingError, "encode yaml report", err)
	}
	return nil
}

func (rg *ReportGenerator) writeCSV(headers []string, records [][]string, writer io.Writer) error {
	csvWriter := csv.NewWriter(writer)
	csvWriter.Comma = rg.config.CSVDelimiter

	if rg.config.CSVHeaders {
		if err := csvWriter.Write(headers); err != nil {
			return errors.InternalError(errors.CodeProcessingError, "write csv headers", err)
		}
	}
	if err := csvWriter.WriteAll(records); err != nil {
		return errors.InternalError(errors.CodeProcessingError, "write csv records", err)
	}
	return nil
}

// writeParquet writes rows as a single Parquet file. The schema comes from
// the parquet struct tags of T.
func writeParquet[T any](rows []T, writer io.Writer) error {
	pw := parquet.NewGenericWriter[T](writer)
	if _, err := pw.Write(rows); err != nil {
		return errors.InternalError(errors.CodeProcessingError, "write parquet rows", err)
	}
	if err := pw.Close(); err != nil {
		return errors.InternalError(errors.CodeProcessingError, "close parquet writer", err)
	}
	return nil
}

// filterSyncReport builds the structured document for JSON and YAML output.
func (rg *ReportGenerator) filterSyncReport(report *reconciler.SyncReport) map[string]interface{} {
	result := report.Result
	output := map[string]interface{}{
		"run_id":         result.RunID.String(),
		"label":          report.Label,
		"competence":     report.Competence,
		"internal":       report.InternalSource,
		"external_files": report.ExternalFiles,
		"summary":        result.Summary,
		"diagnostics":    result.Diagnostics,
		"processed_at":   report.ProcessedAt,
		"duration":       report.Duration.String(),
	}

	var entries []reconciler.SetEntry
	for _, e := range result.Entries {
		if rg.includeStatus(e.Status) {
			entries = append(entries, e)
		}
	}
	if entries != nil {
		output["entries"] = entries
	}

	if rg.config.IncludeProcessingStats {
		stats := map[string]interface{}{
			"internal_filter": report.InternalFilter,
			"external_filter": report.ExternalFilter,
		}
		if report.InternalStats != nil {
			stats["internal"] = report.InternalStats
		}
		if report.ExternalStats != nil {
			stats["external"] = report.ExternalStats
		}
		output["processing_stats"] = stats
	}

	return output
}

// filterAuditReport builds the structured document for JSON and YAML output.
func (rg *ReportGenerator) filterAuditReport(report *reconciler.AuditReport) map[string]interface{} {
	result := report.Result
	output := map[string]interface{}{
		"run_id":        result.RunID.String(),
		"label":         report.Label,
		"competence":    report.Competence,
		"audit_file":    report.AuditFile,
		"system_source": report.SystemSource,
		"summary":       result.Summary,
		"processed_at":  report.ProcessedAt,
		"duration":      report.Duration.String(),
	}

	var matches []reconciler.AuditMatch
	for _, m := range rg.orderedMatches(result.Matches) {
		if rg.includeAuditStatus(m.Status) {
			matches = append(matches, m)
		}
	}
	if matches != nil {
		output["matches"] = matches
	}

	if rg.config.IncludeLeftovers {
		output["tabwin_leftovers"] = result.TabwinLeftovers
		output["system_leftovers"] = result.SystemLeftovers
	}

	if rg.config.IncludeAnnotations && report.MatchSummary != nil {
		output["match_summary"] = report.MatchSummary
		output["annotations"] = report.Annotations
		if report.CatalogDiagnostics != nil {
			output["catalog_diagnostics"] = report.CatalogDiagnostics
		}
	}

	if rg.config.IncludeProcessingStats {
		stats := map[string]interface{}{
			"audit_filter":  report.AuditFilter,
			"system_filter": report.SystemFilter,
		}
		if report.AuditStats != nil {
			stats["audit"] = report.AuditStats
		}
		if report.SystemStats != nil {
			stats["system"] = report.SystemStats
		}
		output["processing_stats"] = stats
	}

	return output
}
