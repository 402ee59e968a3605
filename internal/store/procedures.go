package store

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"aih-reconciliation-service/internal/models"
	"aih-reconciliation-service/internal/parsers"
	"aih-reconciliation-service/pkg/errors"
	"aih-reconciliation-service/pkg/logger"
)

// valor is read as text so NUMERIC keeps its exact digits.
const procedureColumns = `id, COALESCE(numero_aih, ''), codigo, COALESCE(descricao, ''),
	COALESCE(quantidade, 0), COALESCE(valor, 0)::text, COALESCE(paciente, '')`

type procedureRow struct {
	ID          int64
	Number      string
	Code        string
	Description string
	Quantity    int32
	Value       string
	Patient     string
}

// ProcedureLoader reads billed procedure rows from PostgreSQL.
type ProcedureLoader struct {
	db       Querier
	table    pgx.Identifier
	name     string
	pageSize int
	timeout  time.Duration
	logger   logger.Logger

	mu    sync.Mutex
	stats *parsers.ParseStats
}

// NewProcedureLoader creates a loader over cfg.ProcedureTable.
func NewProcedureLoader(db Querier, cfg *Config, log logger.Logger) (*ProcedureLoader, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	table, err := tableIdentifier(cfg.ProcedureTable)
	if err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "procedure_table", cfg.ProcedureTable, err)
	}
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &ProcedureLoader{
		db:       db,
		table:    table,
		name:     cfg.ProcedureTable,
		pageSize: pageSize,
		timeout:  cfg.QueryTimeout,
		logger:   log.WithComponent("store"),
	}, nil
}

// Describe implements reconciler.ProcedureSource.
func (l *ProcedureLoader) Describe() string {
	return "postgres:" + l.name
}

// Stats returns the row statistics of the last load.
func (l *ProcedureLoader) Stats() *parsers.ParseStats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stats
}

// LoadProcedures implements reconciler.ProcedureSource.
func (l *ProcedureLoader) LoadProcedures(ctx context.Context, competence string) ([]*models.SystemProcedureRecord, error) {
	if competence != "" {
		normalized, err := models.NormalizeCompetence(competence)
		if err != nil {
			return nil, errors.ValidationError(errors.CodeInvalidCompetence, "competence", competence, err)
		}
		competence = normalized
	}

	query := fmt.Sprintf(`SELECT %s FROM %s
	WHERE id > $1 AND ($2::text = '' OR competencia::text = $2::text)
	ORDER BY id LIMIT $3`, procedureColumns, l.table.Sanitize())

	log := l.logger.WithFields(logger.Fields{logger.FieldSource: l.Describe(), logger.FieldCompetence: competence})
	log.Debug("Loading billed procedures")

	stats := parsers.NewParseStats(l.Describe(), 100)
	records := make([]*models.SystemProcedureRecord, 0, l.pageSize)
	var lastID int64

	for {
		page, err := l.fetchPage(ctx, query, lastID, competence)
		if err != nil {
			return nil, err
		}
		for _, row := range page {
			lastID = row.ID
			stats.TotalRows++
			rec, reason, rowErr := convertProcedureRow(l.Describe(), row)
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
	}).Info("Billed procedures loaded")
	return records, nil
}

func (l *ProcedureLoader) fetchPage(ctx context.Context, query string, after int64, competence string) ([]procedureRow, error) {
	qctx, cancel := withTimeout(ctx, l.timeout)
	defer cancel()

	rows, err := l.db.Query(qctx, query, after, competence, l.pageSize)
	if err != nil {
		return nil, queryError(qctx, "load procedures", err)
	}
	page, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (procedureRow, error) {
		var row procedureRow
		err := r.Scan(&row.ID, &row.Number, &row.Code, &row.Description, &row.Quantity, &row.Value, &row.Patient)
		return row, err
	})
	if err != nil {
		return nil, queryError(qctx, "scan procedures", err)
	}
	return page, nil
}

func convertProcedureRow(source string, row procedureRow) (*models.SystemProcedureRecord, parsers.SkipReason, *errors.RowError) {
	line := int(row.ID)
	number := strings.TrimSpace(row.Number)
	code := strings.TrimSpace(row.Code)
	if number == "" && code == "" {
		return nil, parsers.SkipMissingKey, nil
	}

	value, err := decimal.NewFromString(strings.TrimSpace(row.Value))
	if err != nil {
		return nil, parsers.SkipInvalidValue, errors.InvalidAmountError(source, line, "valor", row.Value, err)
	}
	if row.Quantity < 0 {
		return nil, parsers.SkipInvalidQuantity,
			errors.InvalidQuantityError(source, line, "quantidade", fmt.Sprint(row.Quantity), nil)
	}

	rec := &models.SystemProcedureRecord{
		AuthorizationNumber: number,
		ProcedureCode:       code,
		Description:         strings.TrimSpace(row.Description),
		Quantity:            int(row.Quantity),
		Value:               models.FromDecimal(value),
		PatientName:         strings.TrimSpace(row.Patient),
		Row:                 line,
	}
	if err := rec.Validate(); err != nil {
		return nil, parsers.SkipInvalidValue, errors.NewRowError(errors.CodeInvalidData,
			&errors.ParseContext{File: source, Line: line}, "procedure row failed validation", err)
	}
	return rec, parsers.SkipNone, nil
}
