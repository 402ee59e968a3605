package reporter

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"aih-reconciliation-service/internal/matcher"
	"aih-reconciliation-service/internal/parsers"
	"aih-reconciliation-service/internal/reconciler"
)

func (rg *ReportGenerator) writeSyncConsole(report *reconciler.SyncReport, writer io.Writer) error {
	result := report.Result

	fmt.Fprintf(writer, "AIH SYNC REPORT\n")
	rg.printHeader(writer, report.Label, report.Competence, result.RunID.String(), report.ProcessedAt, report.Duration)
	fmt.Fprintf(writer, "Internal: %s\n", report.InternalSource)
	fmt.Fprintf(writer, "SISAIH01: %s\n\n", strings.Join(report.ExternalFiles, ", "))

	fmt.Fprintf(writer, "=== SUMMARY ===\n")
	rg.printSetSummary(result.Summary, writer)
	fmt.Fprintf(writer, "\n")

	d := result.Diagnostics
	if d.DroppedInternal+d.DroppedExternal+d.CollisionsInternal+d.CollisionsExternal > 0 {
		fmt.Fprintf(writer, "=== DIAGNOSTICS ===\n")
		fmt.Fprintf(writer, "Dropped (short or empty key): internal %d, SISAIH01 %d\n", d.DroppedInternal, d.DroppedExternal)
		fmt.Fprintf(writer, "Key collisions:               internal %d, SISAIH01 %d\n", d.CollisionsInternal, d.CollisionsExternal)
		if len(d.CollidingKeys) > 0 {
			fmt.Fprintf(writer, "Colliding keys: %s\n", rg.joinLimited(d.CollidingKeys))
		}
		fmt.Fprintf(writer, "\n")
	}

	sections := []struct {
		status  reconciler.Status
		title   string
		include bool
	}{
		{reconciler.StatusPending, "PENDING (internal only)", rg.config.IncludePending},
		{reconciler.StatusUnprocessed, "UNPROCESSED (SISAIH01 only)", rg.config.IncludeUnprocessed},
		{reconciler.StatusSynced, "SYNCED", rg.config.IncludeSynced},
	}
	for _, s := range sections {
		entries := result.ByStatus(s.status)
		if !s.include || len(entries) == 0 {
			continue
		}
		fmt.Fprintf(writer, "=== %s ===\n", s.title)
		rg.printSetEntries(entries, writer)
		fmt.Fprintf(writer, "\n")
	}

	if rg.config.IncludeProcessingStats {
		fmt.Fprintf(writer, "=== PROCESSING STATISTICS ===\n")
		rg.printFilterStats("Internal filter", report.InternalFilter, writer)
		rg.printFilterStats("SISAIH01 filter", report.ExternalFilter, writer)
		if report.InternalStats != nil {
			rg.printParseStats("Internal export", report.InternalStats, writer)
		}
		if report.ExternalStats != nil {
			rg.printSISAIHStats(report.ExternalStats, writer)
		}
	}

	return nil
}

func (rg *ReportGenerator) writeAuditConsole(report *reconciler.AuditReport, writer io.Writer) error {
	result := report.Result
	summary := result.Summary

	fmt.Fprintf(writer, "PAYER AUDIT REPORT\n")
	rg.printHeader(writer, report.Label, report.Competence, result.RunID.String(), report.ProcessedAt, report.Duration)
	fmt.Fprintf(writer, "TabWin: %s\n", report.AuditFile)
	fmt.Fprintf(writer, "System: %s\n\n", report.SystemSource)

	fmt.Fprintf(writer, "=== SUMMARY ===\n")
	compared := len(result.Matches)
	fmt.Fprintf(writer, "Audit rows:  %d (%d skipped)\n", summary.TotalAuditRows, summary.SkippedAuditRows)
	fmt.Fprintf(writer, "System rows: %d (%d skipped)\n\n", summary.TotalSystemRows, summary.SkippedSystemRows)
	fmt.Fprintf(writer, "Perfect matches:      %d (%.1f%%)\n",
		summary.PerfectMatches, rg.calculatePercentage(summary.PerfectMatches, compared))
	fmt.Fprintf(writer, "Value differences:    %d (%.1f%%)\n",
		summary.ValueDifferences, rg.calculatePercentage(summary.ValueDifferences, compared))
	fmt.Fprintf(writer, "Quantity differences: %d (%.1f%%)\n",
		summary.QuantityDifferences, rg.calculatePercentage(summary.QuantityDifferences, compared))
	fmt.Fprintf(writer, "Glosas possiveis:     %d\n", summary.GlosasPossiveis)
	fmt.Fprintf(writer, "Rejeicoes possiveis:  %d\n\n", summary.RejeicoesPossiveis)

	fmt.Fprintf(writer, "=== FINANCIAL SUMMARY ===\n")
	rg.printFinancialSummary(summary, writer)
	fmt.Fprintf(writer, "\n")

	if rg.config.IncludeDiscrepancies {
		var diffs []reconciler.AuditMatch
		for _, m := range rg.orderedMatches(result.Matches) {
			if m.Status != reconciler.AuditMatched {
				diffs = append(diffs, m)
			}
		}
		if len(diffs) > 0 {
			fmt.Fprintf(writer, "=== DISCREPANCIES ===\n")
			rg.printAuditMatches(diffs, report.Annotations, writer)
			fmt.Fprintf(writer, "\n")
		}
	}

	if rg.config.IncludePerfectMatches {
		if matched := result.ByStatus(reconciler.AuditMatched); len(matched) > 0 {
			fmt.Fprintf(writer, "=== PERFECT MATCHES ===\n")
			rg.printAuditMatches(matched, report.Annotations, writer)
			fmt.Fprintf(writer, "\n")
		}
	}

	if rg.config.IncludeLeftovers {
		if len(result.TabwinLeftovers) > 0 {
			fmt.Fprintf(writer, "=== GLOSAS POSSIVEIS (TabWin only) ===\n")
			rg.printTabwinLeftovers(result.TabwinLeftovers, report.Annotations, writer)
			fmt.Fprintf(writer, "\n")
		}
		if len(result.SystemLeftovers) > 0 {
			fmt.Fprintf(writer, "=== REJEICOES POSSIVEIS (system only) ===\n")
			rg.printSystemLeftovers(result.SystemLeftovers, report.Annotations, writer)
			fmt.Fprintf(writer, "\n")
		}
	}

	if rg.config.IncludeAnnotations && report.MatchSummary != nil {
		fmt.Fprintf(writer, "=== CATALOG MATCHES ===\n")
		rg.printMatchSummary(*report.MatchSummary, writer)
		if d := report.CatalogDiagnostics; d != nil && !d.Clean() {
			fmt.Fprintf(writer, "Catalog warnings: %d duplicate codes, %d normalized collisions, %d shared descriptions\n",
				d.DuplicateCodes, d.NormalizedCollision, d.SameDescriptions)
		}
		fmt.Fprintf(writer, "\n")
	}

	if rg.config.IncludeProcessingStats {
		fmt.Fprintf(writer, "=== PROCESSING STATISTICS ===\n")
		rg.printFilterStats("TabWin filter", report.AuditFilter, writer)
		rg.printFilterStats("System filter", report.SystemFilter, writer)
		if report.AuditStats != nil {
			rg.printParseStats("TabWin export", report.AuditStats, writer)
		}
		if report.SystemStats != nil {
			rg.printParseStats("System export", report.SystemStats, writer)
		}
	}

	return nil
}

func (rg *ReportGenerator) writeParseConsole(report *ParseReport, writer io.Writer) error {
	fmt.Fprintf(writer, "SISAIH01 PARSE REPORT\n")
	fmt.Fprintf(writer, "Files: %s\n\n", strings.Join(report.Files, ", "))

	if report.Stats != nil {
		fmt.Fprintf(writer, "=== SUMMARY ===\n")
		rg.printSISAIHStats(report.Stats, writer)
		fmt.Fprintf(writer, "\n")
	}

	fmt.Fprintf(writer, "=== RECORDS ===\n")
	fmt.Fprintf(writer, "Total Records: %d\n\n", len(report.Records))
	limit := rg.listLimit(len(report.Records))
	for i, r := range report.Records[:limit] {
		fmt.Fprintf(writer, "  %d. AIH: %s, Type: %s, Competence: %s, CNES: %s, Admission: %s, Patient: %s\n",
			i+1, r.AuthorizationNumber, r.RecordType, r.CompetencePeriod, r.FacilityCode,
			r.AdmissionDate.Display(), rg.truncate(r.Patient.Name))
	}
	rg.printRemainder(len(report.Records), limit, writer)
	return nil
}

func (rg *ReportGenerator) writeMatchConsole(report *MatchReport, writer io.Writer) error {
	fmt.Fprintf(writer, "PROCEDURE MATCH REPORT\n")
	fmt.Fprintf(writer, "Catalog: %s\n\n", report.Catalog)

	fmt.Fprintf(writer, "=== SUMMARY ===\n")
	rg.printMatchSummary(report.Summary, writer)
	fmt.Fprintf(writer, "\n")

	if d := report.Diagnostics; d != nil && !d.Clean() {
		fmt.Fprintf(writer, "=== CATALOG DIAGNOSTICS ===\n")
		fmt.Fprintf(writer, "Entries:               %d\n", d.Entries)
		fmt.Fprintf(writer, "Duplicate codes:       %d\n", d.DuplicateCodes)
		fmt.Fprintf(writer, "Normalized collisions: %d\n", d.NormalizedCollision)
		fmt.Fprintf(writer, "Shared descriptions:   %d\n", d.SameDescriptions)
		fmt.Fprintf(writer, "Empty descriptions:    %d\n\n", len(d.EmptyDescriptions))
	}

	fmt.Fprintf(writer, "=== RESULTS ===\n")
	limit := rg.listLimit(len(report.Results))
	for i, r := range report.Results[:limit] {
		fmt.Fprintf(writer, "  %d. %s -> %s (%s, %.2f)\n",
			i+1, r.Query.Code, rg.describeEntry(r), r.Method, r.Confidence)
	}
	rg.printRemainder(len(report.Results), limit, writer)
	return nil
}

// Helper methods for console output formatting

func (rg *ReportGenerator) printHeader(writer io.Writer, label, competence, runID string, processedAt time.Time, duration time.Duration) {
	if label != "" {
		fmt.Fprintf(writer, "Run: %s\n", label)
	}
	fmt.Fprintf(writer, "Run ID: %s\n", runID)
	if competence != "" {
		fmt.Fprintf(writer, "Competence: %s\n", competence)
	}
	fmt.Fprintf(writer, "Generated: %s\n", processedAt.Format(time.RFC3339))
	fmt.Fprintf(writer, "Processing Duration: %v\n", duration)
}

func (rg *ReportGenerator) printSetSummary(summary reconciler.SetSummary, writer io.Writer) {
	total := summary.Total()
	fmt.Fprintf(writer, "Authorizations: %d\n", total)
	fmt.Fprintf(writer, "  Synced:      %d (%.1f%%)\n", summary.Synced, rg.calculatePercentage(summary.Synced, total))
	fmt.Fprintf(writer, "  Pending:     %d (%.1f%%)\n", summary.Pending, rg.calculatePercentage(summary.Pending, total))
	fmt.Fprintf(writer, "  Unprocessed: %d (%.1f%%)\n", summary.Unprocessed, rg.calculatePercentage(summary.Unprocessed, total))
	fmt.Fprintf(writer, "\nValid keys: internal %d, SISAIH01 %d\n", summary.ValidInternal, summary.ValidExternal)
}

func (rg *ReportGenerator) printSetEntries(entries []reconciler.SetEntry, writer io.Writer) {
	fmt.Fprintf(writer, "Total: %d\n\n", len(entries))
	limit := rg.listLimit(len(entries))
	for i, e := range entries[:limit] {
		rec := preferredRecord(e)
		if rec == nil {
			fmt.Fprintf(writer, "  %d. Key: %s\n", i+1, e.Key)
			continue
		}
		fmt.Fprintf(writer, "  %d. AIH: %s, Competence: %s, Admission: %s, Patient: %s\n",
			i+1, rec.AuthorizationNumber, rec.CompetencePeriod, rec.AdmissionDate.Display(), rg.truncate(rec.Patient.Name))
	}
	rg.printRemainder(len(entries), limit, writer)
}

// printFinancialSummary compares value totals. Percentages go through decimal
// so large totals do not lose precision.
func (rg *ReportGenerator) printFinancialSummary(summary reconciler.AuditSummary, writer io.Writer) {
	net := summary.AuditValueTotal - summary.SystemValueTotal
	fmt.Fprintf(writer, "TabWin Total:   %s\n", summary.AuditValueTotal.BRL())
	fmt.Fprintf(writer, "System Total:   %s\n", summary.SystemValueTotal.BRL())
	fmt.Fprintf(writer, "Net Difference: %s\n", net.BRL())

	if net != 0 && summary.SystemValueTotal != 0 {
		pct := net.Decimal().Abs().Div(summary.SystemValueTotal.Decimal().Abs()).Mul(decimal.NewFromInt(100))
		fmt.Fprintf(writer, "Difference Percentage: %s%%\n", pct.StringFixed(2))
	}
}

func (rg *ReportGenerator) printAuditMatches(matches []reconciler.AuditMatch, annotations reconciler.Annotations, writer io.Writer) {
	fmt.Fprintf(writer, "Total: %d\n\n", len(matches))
	limit := rg.listLimit(len(matches))
	for i, m := range matches[:limit] {
		fmt.Fprintf(writer, "  %d. AIH: %s, Procedure: %s, Status: %s", i+1, m.Key.Authorization, m.Key.Procedure, m.Status)
		if m.Audit != nil && m.System != nil {
			fmt.Fprintf(writer, ", TabWin: %s x%d, System: %s x%d",
				m.Audit.Value.BRL(), m.Audit.Quantity, m.System.Value.BRL(), m.System.Quantity)
		}
		if m.ValueDifference != 0 {
			fmt.Fprintf(writer, ", Difference: %s", m.ValueDifference.BRL())
		}
		fmt.Fprintf(writer, "%s\n", rg.annotationSuffix(annotations, m.Key.Authorization, m.Key.Procedure))
	}
	rg.printRemainder(len(matches), limit, writer)
}

func (rg *ReportGenerator) printTabwinLeftovers(leftovers []reconciler.TabwinLeftover, annotations reconciler.Annotations, writer io.Writer) {
	fmt.Fprintf(writer, "Total: %d\n\n", len(leftovers))
	limit := rg.listLimit(len(leftovers))
	for i, l := range leftovers[:limit] {
		fmt.Fprintf(writer, "  %d. AIH: %s, Procedure: %s", i+1, l.Key.Authorization, l.Key.Procedure)
		if l.Audit != nil {
			fmt.Fprintf(writer, ", Value: %s x%d, Row: %d", l.Audit.Value.BRL(), l.Audit.Quantity, l.Audit.Row)
		}
		fmt.Fprintf(writer, "%s\n", rg.annotationSuffix(annotations, l.Key.Authorization, l.Key.Procedure))
	}
	rg.printRemainder(len(leftovers), limit, writer)
}

func (rg *ReportGenerator) printSystemLeftovers(leftovers []reconciler.SystemLeftover, annotations reconciler.Annotations, writer io.Writer) {
	fmt.Fprintf(writer, "Total: %d\n\n", len(leftovers))
	limit := rg.listLimit(len(leftovers))
	for i, l := range leftovers[:limit] {
		fmt.Fprintf(writer, "  %d. AIH: %s, Procedure: %s, Rows: %d", i+1, l.Key.Authorization, l.Key.Procedure, l.Rows)
		if l.System != nil {
			fmt.Fprintf(writer, ", Value: %s x%d", l.System.Value.BRL(), l.System.Quantity)
			if l.System.PatientName != "" {
				fmt.Fprintf(writer, ", Patient: %s", rg.truncate(l.System.PatientName))
			}
		}
		fmt.Fprintf(writer, "%s\n", rg.annotationSuffix(annotations, l.Key.Authorization, l.Key.Procedure))
	}
	rg.printRemainder(len(leftovers), limit, writer)
}

func (rg *ReportGenerator) printMatchSummary(summary matcher.MatchSummary, writer io.Writer) {
	fmt.Fprintf(writer, "Queries:          %d\n", summary.Total)
	fmt.Fprintf(writer, "Exact:            %d (%.1f%%)\n", summary.Exact, rg.calculatePercentage(summary.Exact, summary.Total))
	fmt.Fprintf(writer, "Normalized code:  %d (%.1f%%)\n", summary.NormalizedCode, rg.calculatePercentage(summary.NormalizedCode, summary.Total))
	fmt.Fprintf(writer, "Text similarity:  %d (%.1f%%)\n", summary.TextSimilarity, rg.calculatePercentage(summary.TextSimilarity, summary.Total))
	fmt.Fprintf(writer, "Not found:        %d (%.1f%%)\n", summary.None, rg.calculatePercentage(summary.None, summary.Total))
}

func (rg *ReportGenerator) printFilterStats(name string, stats reconciler.PreprocessingStats, writer io.Writer) {
	fmt.Fprintf(writer, "%-18s input %d, kept %d, other competence %d, other facility %d, invalid %d\n",
		name+":", stats.Input, stats.Kept, stats.OutsideCompetence, stats.OtherFacility, stats.FailedValidation)
}

func (rg *ReportGenerator) printParseStats(name string, stats *parsers.ParseStats, writer io.Writer) {
	fmt.Fprintf(writer, "%-18s rows %d, parsed %d, valid %d, errors %d%s\n",
		name+":", stats.TotalRows, stats.RecordsParsed, stats.RecordsValid, stats.ErrorCount, formatSkipped(stats.Skipped))
}

func (rg *ReportGenerator) printSISAIHStats(stats *parsers.SISAIHStats, writer io.Writer) {
	fmt.Fprintf(writer, "%-18s files %d, lines %d, blank %d, records %d%s\n",
		"SISAIH01:", len(stats.Files), stats.Lines, stats.BlankLines, stats.Records, formatSkipped(stats.Skipped))
	if len(stats.ByType) > 0 {
		types := make([]string, 0, len(stats.ByType))
		for t, n := range stats.ByType {
			types = append(types, fmt.Sprintf("%s=%d", t, n))
		}
		sort.Strings(types)
		fmt.Fprintf(writer, "%-18s %s\n", "Record types:", strings.Join(types, ", "))
	}
}

func formatSkipped(skipped map[parsers.SkipReason]int) string {
	if len(skipped) == 0 {
		return ""
	}
	parts := make([]string, 0, len(skipped))
	for reason, n := range skipped {
		parts = append(parts, fmt.Sprintf("%s=%d", reason, n))
	}
	sort.Strings(parts)
	return ", skipped " + strings.Join(parts, " ")
}

func (rg *ReportGenerator) annotationSuffix(annotations reconciler.Annotations, authorization, procedure string) string {
	if !rg.config.IncludeAnnotations || annotations == nil {
		return ""
	}
	a, ok := annotations[keyFor(authorization, procedure)]
	if !ok || !a.Matched() {
		return ""
	}
	return fmt.Sprintf(" [%s]", rg.truncate(a.Entry.Code+" "+a.Entry.Description))
}

func (rg *ReportGenerator) describeEntry(r matcher.ProcedureMatchResult) string {
	if r.Entry == nil {
		return "-"
	}
	return rg.truncate(r.Entry.Code + " " + r.Entry.Description)
}

func (rg *ReportGenerator) listLimit(n int) int {
	if rg.config.MaxListItems > 0 && n > rg.config.MaxListItems {
		return rg.config.MaxListItems
	}
	return n
}

func (rg *ReportGenerator) printRemainder(total, shown int, writer io.Writer) {
	if total > shown {
		fmt.Fprintf(writer, "  ... and %d more\n", total-shown)
	}
}

func (rg *ReportGenerator) joinLimited(items []string) string {
	limit := rg.listLimit(len(items))
	joined := strings.Join(items[:limit], ", ")
	if len(items) > limit {
		joined += fmt.Sprintf(" (+%d)", len(items)-limit)
	}
	return joined
}

// truncate keeps free text within a third of the table width.
func (rg *ReportGenerator) truncate(s string) string {
	limit := rg.config.TableMaxWidth / 3
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit-3]) + "..."
}
