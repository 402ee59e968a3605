package parsers

import (
	"context"
	"fmt"
	"strings"
	"time"

	"aih-reconciliation-service/internal/models"
	"aih-reconciliation-service/pkg/errors"
	"aih-reconciliation-service/pkg/logger"
)

// SystemParser loads exports of the internal processing system: its
// procedure listing and its authorization listing.
type SystemParser struct {
	procedures *tabularParser
	aihs       *tabularParser
}

// NewSystemParser creates a parser. Nil specs use DefaultSystemColumns and
// DefaultInternalAIHColumns.
func NewSystemParser(procedureSpec, aihSpec *ColumnSpec, config *ParseConfig, log logger.Logger) (*SystemParser, error) {
	if procedureSpec == nil {
		procedureSpec = DefaultSystemColumns()
	}
	if aihSpec == nil {
		aihSpec = DefaultInternalAIHColumns()
	}

	procedures, err := newTabularParser(procedureSpec, config, log, "system_parser")
	if err != nil {
		return nil, err
	}
	aihs, err := newTabularParser(aihSpec, config, log, "internal_aih_parser")
	if err != nil {
		return nil, err
	}
	return &SystemParser{procedures: procedures, aihs: aihs}, nil
}

// ParseProcedures reads the procedure rows billed by the internal system.
// Like the audit loader it keeps rows with blank keys for the reconciler
// to count.
func (sp *SystemParser) ParseProcedures(ctx context.Context, path string) ([]*models.SystemProcedureRecord, *ParseStats, error) {
	sheet, stats, err := sp.procedures.load(ctx, path)
	if err != nil {
		return nil, stats, err
	}

	records := make([]*models.SystemProcedureRecord, 0, len(sheet.Rows))
	for _, row := range sheet.Rows {
		stats.RecordsParsed++

		quantity, reason, rowErr := parseQuantityCell(path, row)
		if reason != SkipNone {
			stats.Skip(reason, rowErr)
			continue
		}
		value, reason, rowErr := parseValueCell(path, row)
		if reason != SkipNone {
			stats.Skip(reason, rowErr)
			continue
		}

		records = append(records, &models.SystemProcedureRecord{
			AuthorizationNumber: row.Value(ColAuthorization),
			ProcedureCode:       row.Value(ColProcedure),
			Description:         row.Value(ColDescription),
			Quantity:            quantity,
			Value:               value,
			PatientName:         row.Value(ColPatient),
			Row:                 row.Line,
		})
		stats.RecordsValid++
	}

	sp.procedures.finish(stats)
	return records, stats, nil
}

// ParseAIHs reads the internal authorization listing. Rows without an
// authorization number are skipped. A blank creation timestamp leaves
// CreatedAt zero, so such a row never outranks one with a known time.
func (sp *SystemParser) ParseAIHs(ctx context.Context, path string) ([]*models.AIHRecord, *ParseStats, error) {
	sheet, stats, err := sp.aihs.load(ctx, path)
	if err != nil {
		return nil, stats, err
	}

	records := make([]*models.AIHRecord, 0, len(sheet.Rows))
	for _, row := range sheet.Rows {
		stats.RecordsParsed++

		rec, reason, rowErr := parseInternalAIHRow(path, row)
		if reason != SkipNone {
			stats.Skip(reason, rowErr)
			continue
		}
		records = append(records, rec)
		stats.RecordsValid++
	}

	sp.aihs.finish(stats)
	return records, stats, nil
}

func parseInternalAIHRow(path string, row Row) (*models.AIHRecord, SkipReason, *errors.RowError) {
	number := row.Value(ColAuthorization)
	if number == "" {
		return nil, SkipMissingKey, nil
	}

	rec := &models.AIHRecord{
		AuthorizationNumber:  number,
		RecordType:           models.RecordType(row.Value(ColRecordType)),
		PrimaryProcedureCode: row.Value(ColPrimaryProcedure),
		FacilityCode:         row.Value(ColFacility),
		Patient:              models.Patient{Name: row.Value(ColPatient)},
		Source:               models.SourceInternal,
		LineNumber:           row.Line,
	}
	if rec.RecordType != "" && len(rec.RecordType) == 1 {
		rec.RecordType = "0" + rec.RecordType
	}

	if raw := row.Value(ColCompetence); raw != "" {
		competence, err := models.NormalizeCompetence(raw)
		if err != nil {
			return nil, SkipInvalidCompetence, errors.NewRowError(errors.CodeInvalidCompetence,
				&errors.ParseContext{File: path, Line: row.Line, Column: ColCompetence, Value: raw, Expected: "YYYYMM"},
				"invalid competence", err)
		}
		rec.CompetencePeriod = competence
	}

	dates := []struct {
		column string
		target **models.Date
	}{
		{ColAdmissionDate, &rec.AdmissionDate},
		{ColDischargeDate, &rec.DischargeDate},
	}
	for _, field := range dates {
		column, target := field.column, field.target
		raw := row.Value(column)
		if raw == "" {
			continue
		}
		d, err := models.ParseDate(raw)
		if err != nil {
			return nil, SkipInvalidDate, errors.NewRowError(errors.CodeInvalidDate,
				&errors.ParseContext{File: path, Line: row.Line, Column: column, Value: raw, Expected: "YYYY-MM-DD or DD/MM/YYYY"},
				"invalid date", err)
		}
		*target = d
	}

	if raw := row.Value(ColCreatedAt); raw != "" {
		created, err := ParseTimestamp(raw)
		if err != nil {
			return nil, SkipInvalidDate, errors.NewRowError(errors.CodeInvalidDate,
				&errors.ParseContext{File: path, Line: row.Line, Column: ColCreatedAt, Value: raw, Expected: "RFC 3339 timestamp"},
				"invalid creation timestamp", err)
		}
		rec.CreatedAt = created
	}

	if err := rec.Validate(); err != nil {
		return nil, SkipInvalidValue, errors.NewRowError(errors.CodeInvalidData,
			&errors.ParseContext{File: path, Line: row.Line}, "authorization row failed validation", err)
	}
	return rec, SkipNone, nil
}

// ParseTimestamp accepts the timestamp layouts seen in internal exports.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	layouts := []string{
		time.RFC3339,
		"2006-01-02 15:04:05",
		"2006-01-02T15:04:05",
		"02/01/2006 15:04:05",
		"02/01/2006 15:04",
		"2006-01-02",
		"02/01/2006",
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unable to parse timestamp '%s'", s)
}
