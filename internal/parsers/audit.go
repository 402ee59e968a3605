package parsers

import (
	"context"

	"aih-reconciliation-service/internal/models"
	"aih-reconciliation-service/pkg/errors"
	"aih-reconciliation-service/pkg/logger"
)

// tabularParser binds a column spec to the shared tabular reader.
type tabularParser struct {
	*BaseParser
	spec   *ColumnSpec
	config *ParseConfig
	logger logger.Logger
}

func newTabularParser(spec *ColumnSpec, config *ParseConfig, log logger.Logger, component string) (*tabularParser, error) {
	if config == nil {
		config = DefaultParseConfig()
	}
	if err := spec.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, component+"_columns", spec.Source, err)
	}
	if err := config.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, component+"_parse_config", config, err)
	}
	if log == nil {
		log = logger.GetGlobalLogger()
	}

	return &tabularParser{
		BaseParser: NewBaseParser(config, log),
		spec:       spec,
		config:     config,
		logger:     log.WithComponent(component),
	}, nil
}

func (tp *tabularParser) load(ctx context.Context, path string) (*Sheet, *ParseStats, error) {
	tp.logger.WithFields(logger.Fields{
		logger.FieldFile:   path,
		logger.FieldSource: tp.spec.Source,
	}).Info("Loading tabular file")

	stats := NewParseStats(path, tp.config.MaxErrors)
	sheet, err := tp.ReadSheet(ctx, path, tp.spec, stats)
	if err != nil {
		return nil, stats, err
	}
	return sheet, stats, nil
}

func (tp *tabularParser) finish(stats *ParseStats) {
	log := tp.logger.WithFields(logger.Fields{
		logger.FieldFile: stats.File,
		"header_line":    stats.HeaderLine,
		"total_rows":     stats.TotalRows,
		"records_valid":  stats.RecordsValid,
		"skipped":        stats.SkippedTotal(),
		"error_count":    stats.ErrorCount,
	})
	log.Info("Tabular file loaded")

	if stats.HasErrors() {
		tp.logger.WithField("sample_errors", stats.GetSampleErrors(3)).Warn("Encountered errors during parsing")
	}
}

// AuditParser loads the payer audit spreadsheet (TabWin export).
type AuditParser struct {
	*tabularParser
}

// NewAuditParser creates a parser for the given columns. A nil spec uses
// DefaultAuditColumns.
func NewAuditParser(spec *ColumnSpec, config *ParseConfig, log logger.Logger) (*AuditParser, error) {
	if spec == nil {
		spec = DefaultAuditColumns()
	}
	tp, err := newTabularParser(spec, config, log, "audit_parser")
	if err != nil {
		return nil, err
	}
	return &AuditParser{tabularParser: tp}, nil
}

// ParseAudit reads every audit row. Rows whose authorization or procedure is
// blank are kept: the audit reconciler counts them as malformed input.
// Rows with an unreadable amount, quantity or competence are skipped.
func (ap *AuditParser) ParseAudit(ctx context.Context, path string) ([]*models.PayerAuditRecord, *ParseStats, error) {
	sheet, stats, err := ap.load(ctx, path)
	if err != nil {
		return nil, stats, err
	}

	records := make([]*models.PayerAuditRecord, 0, len(sheet.Rows))
	for _, row := range sheet.Rows {
		stats.RecordsParsed++

		rec, reason, rowErr := ap.parseRow(path, row)
		if reason != SkipNone {
			stats.Skip(reason, rowErr)
			continue
		}
		records = append(records, rec)
		stats.RecordsValid++
	}

	ap.finish(stats)
	return records, stats, nil
}

func (ap *AuditParser) parseRow(path string, row Row) (*models.PayerAuditRecord, SkipReason, *errors.RowError) {
	rec := &models.PayerAuditRecord{
		AuthorizationNumber: row.Value(ColAuthorization),
		ProcedureCode:       row.Value(ColProcedure),
		Description:         row.Value(ColDescription),
		Row:                 row.Line,
	}

	quantity, reason, rowErr := parseQuantityCell(path, row)
	if reason != SkipNone {
		return nil, reason, rowErr
	}
	rec.Quantity = quantity

	value, reason, rowErr := parseValueCell(path, row)
	if reason != SkipNone {
		return nil, reason, rowErr
	}
	rec.Value = value

	if raw := row.Value(ColCompetence); raw != "" {
		competence, err := models.NormalizeCompetence(raw)
		if err != nil {
			return nil, SkipInvalidCompetence, errors.NewRowError(errors.CodeInvalidCompetence,
				&errors.ParseContext{File: path, Line: row.Line, Column: ColCompetence, Value: raw, Expected: "YYYYMM"},
				"invalid competence", err)
		}
		rec.Competence = competence
	}

	if err := rec.Validate(); err != nil {
		return nil, SkipInvalidValue, errors.NewRowError(errors.CodeInvalidData,
			&errors.ParseContext{File: path, Line: row.Line}, "audit row failed validation", err)
	}
	return rec, SkipNone, nil
}

// parseQuantityCell reads the quantity column. A blank cell counts as zero.
func parseQuantityCell(path string, row Row) (int, SkipReason, *errors.RowError) {
	raw := row.Value(ColQuantity)
	if raw == "" {
		return 0, SkipNone, nil
	}
	quantity, err := models.ParseQuantity(raw)
	if err != nil {
		return 0, SkipInvalidQuantity, errors.InvalidQuantityError(path, row.Line, ColQuantity, raw, err)
	}
	return quantity, SkipNone, nil
}

// parseValueCell reads the value column in major units. A blank cell counts as zero.
func parseValueCell(path string, row Row) (models.MinorUnits, SkipReason, *errors.RowError) {
	raw := row.Value(ColValue)
	if raw == "" {
		return 0, SkipNone, nil
	}
	value, err := models.ParseMajorUnits(raw)
	if err != nil {
		return 0, SkipInvalidValue, errors.InvalidAmountError(path, row.Line, ColValue, raw, err)
	}
	return value, SkipNone, nil
}
