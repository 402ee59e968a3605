package store

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"aih-reconciliation-service/internal/models"
	"aih-reconciliation-service/internal/parsers"
	"aih-reconciliation-service/pkg/errors"
	"aih-reconciliation-service/pkg/logger"
)

const aihColumns = `id, numero_aih, COALESCE(competencia, ''), COALESCE(tipo, ''), COALESCE(paciente, ''),
	data_internacao, data_saida, COALESCE(procedimento_principal, ''), COALESCE(cnes, ''), criado_em`

// aihRow is one scanned row of the authorization table.
type aihRow struct {
	ID               int64
	Number           string
	Competence       string
	RecordType       string
	Patient          string
	AdmissionDate    *time.Time
	DischargeDate    *time.Time
	PrimaryProcedure string
	Facility         string
	CreatedAt        *time.Time
}

// AIHLoader reads internal authorizations from PostgreSQL.
type AIHLoader struct {
	db       Querier
	table    pgx.Identifier
	name     string
	pageSize int
	timeout  time.Duration
	logger   logger.Logger

	mu    sync.Mutex
	stats *parsers.ParseStats
}

// NewAIHLoader creates a loader over cfg.AIHTable.
func NewAIHLoader(db Querier, cfg *Config, log logger.Logger) (*AIHLoader, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	table, err := tableIdentifier(cfg.AIHTable)
	if err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "aih_table", cfg.AIHTable, err)
	}
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &AIHLoader{
		db:       db,
		table:    table,
		name:     cfg.AIHTable,
		pageSize: pageSize,
		timeout:  cfg.QueryTimeout,
		logger:   log.WithComponent("store"),
	}, nil
}

// Describe implements reconciler.AIHSource.
func (l *AIHLoader) Describe() string {
	return "postgres:" + l.name
}

// Stats returns the row statistics of the last load.
func (l *AIHLoader) Stats() *parsers.ParseStats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stats
}

// LoadAIHs implements reconciler.AIHSource. Rows that cannot be turned into
// a valid record are counted and skipped.
func (l *AIHLoader) LoadAIHs(ctx context.Context, competence string) ([]*models.AIHRecord, error) {
	if competence != "" {
		normalized, err := models.NormalizeCompetence(competence)
		if err != nil {
			return nil, errors.ValidationError(errors.CodeInvalidCompetence, "competence", competence, err)
		}
		competence = normalized
	}

	query := fmt.Sprintf(`SELECT %s FROM %s
	WHERE id > $1 AND ($2::text = '' OR competencia::text = $2::text)
	ORDER BY id LIMIT $3`, aihColumns, l.table.Sanitize())

	log := l.logger.WithFields(logger.Fields{logger.FieldSource: l.Describe(), logger.FieldCompetence: competence})
	log.Debug("Loading authorizations")

	stats := parsers.NewParseStats(l.Describe(), 100)
	records := make([]*models.AIHRecord, 0, l.pageSize)
	var lastID int64
	pages := 0

	for {
		page, err := l.fetchPage(ctx, query, lastID, competence)
		if err != nil {
			return nil, err
		}
		pages++

		for _, row := range page {
			lastID = row.ID
			stats.TotalRows++
			rec, reason, rowErr := convertAIHRow(l.Describe(), row)
			if reason != parsers.SkipNone {
				stats.Skip(reason, rowErr)
				continue
			}
			stats.RecordsParsed++
			stats.RecordsValid++
			records = append(records, rec)
		}

		if len(page) < l.pageSize {
			break
		}
	}

	l.mu.Lock()
	l.stats = stats
	l.mu.Unlock()

	log.WithFields(logger.Fields{
		"rows":    stats.TotalRows,
		"records": len(records),
		"skipped": stats.SkippedTotal(),
		"pages":   pages,
	}).Info("Authorizations loaded")
	return records, nil
}

func (l *AIHLoader) fetchPage(ctx context.Context, query string, after int64, competence string) ([]aihRow, error) {
	qctx, cancel := withTimeout(ctx, l.timeout)
	defer cancel()

	rows, err := l.db.Query(qctx, query, after, competence, l.pageSize)
	if err != nil {
		return nil, queryError(qctx, "load authorizations", err)
	}
	page, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (aihRow, error) {
		var row aihRow
		err := r.Scan(&row.ID, &row.Number, &row.Competence, &row.RecordType, &row.Patient,
			&row.AdmissionDate, &row.DischargeDate, &row.PrimaryProcedure, &row.Facility, &row.CreatedAt)
		return row, err
	})
	if err != nil {
		return nil, queryError(qctx, "scan authorizations", err)
	}
	return page, nil
}

// convertAIHRow applies the same rules as the CSV export reader. LineNumber
// carries the row id.
func convertAIHRow(source string, row aihRow) (*models.AIHRecord, parsers.SkipReason, *errors.RowError) {
	number := strings.TrimSpace(row.Number)
	if number == "" {
		return nil, parsers.SkipMissingKey, nil
	}
	line := int(row.ID)

	rec := &models.AIHRecord{
		AuthorizationNumber:  number,
		RecordType:           models.RecordType(strings.TrimSpace(row.RecordType)),
		PrimaryProcedureCode: strings.TrimSpace(row.PrimaryProcedure),
		FacilityCode:         strings.TrimSpace(row.Facility),
		Patient:              models.Patient{Name: strings.TrimSpace(row.Patient)},
		AdmissionDate:        dateOf(row.AdmissionDate),
		DischargeDate:        dateOf(row.DischargeDate),
		Source:               models.SourceInternal,
		LineNumber:           line,
	}
	if len(rec.RecordType) == 1 {
		rec.RecordType = "0" + rec.RecordType
	}
	if row.CreatedAt != nil {
		rec.CreatedAt = *row.CreatedAt
	}

	if raw := strings.TrimSpace(row.Competence); raw != "" {
		competence, err := models.NormalizeCompetence(raw)
		if err != nil {
			return nil, parsers.SkipInvalidCompetence, errors.NewRowError(errors.CodeInvalidCompetence,
				&errors.ParseContext{File: source, Line: line, Column: "competencia", Value: raw, Expected: "YYYYMM"},
				"invalid competence", err)
		}
		rec.CompetencePeriod = competence
	}

	if err := rec.Validate(); err != nil {
		return nil, parsers.SkipInvalidValue, errors.NewRowError(errors.CodeInvalidData,
			&errors.ParseContext{File: source, Line: line}, "authorization row failed validation", err)
	}
	return rec, parsers.SkipNone, nil
}

func dateOf(t *time.Time) *models.Date {
	if t == nil {
		return nil
	}
	return models.NewDate(t.Year(), t.Month(), t.Day())
}
