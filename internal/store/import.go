package store

import (
	"context"
	"math/big"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"aih-reconciliation-service/internal/models"
	"aih-reconciliation-service/pkg/errors"
	"aih-reconciliation-service/pkg/logger"
)

var (
	aihCopyColumns = []string{
		"numero_aih", "competencia", "tipo", "paciente", "data_internacao",
		"data_saida", "procedimento_principal", "cnes", "criado_em",
	}
	procedureCopyColumns = []string{
		"numero_aih", "competencia", "codigo", "descricao", "quantidade", "valor", "paciente",
	}
)

// Importer bulk-loads parsed exports into the internal tables.
type Importer struct {
	db        Querier
	aihTable  pgx.Identifier
	procTable pgx.Identifier
	timeout   time.Duration
	logger    logger.Logger
}

// NewImporter creates an importer writing to the tables named in cfg.
func NewImporter(db Querier, cfg *Config, log logger.Logger) (*Importer, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	aihTable, err := tableIdentifier(cfg.AIHTable)
	if err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "aih_table", cfg.AIHTable, err)
	}
	procTable, err := tableIdentifier(cfg.ProcedureTable)
	if err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "procedure_table", cfg.ProcedureTable, err)
	}
	return &Importer{
		db:        db,
		aihTable:  aihTable,
		procTable: procTable,
		timeout:   cfg.QueryTimeout,
		logger:    log.WithComponent("store"),
	}, nil
}

// ImportAIHs copies authorizations into the AIH table and returns the
// number of rows written.
func (im *Importer) ImportAIHs(ctx context.Context, records []*models.AIHRecord) (int64, error) {
	qctx, cancel := withTimeout(ctx, im.timeout)
	defer cancel()

	n, err := im.db.CopyFrom(qctx, im.aihTable, aihCopyColumns,
		pgx.CopyFromSlice(len(records), func(i int) ([]interface{}, error) {
			return aihCopyRow(records[i]), nil
		}))
	if err != nil {
		return n, queryError(qctx, "import authorizations", err)
	}
	im.logger.WithFields(logger.Fields{"table": im.aihTable.Sanitize(), "rows": n}).Info("Authorizations imported")
	return n, nil
}

// ImportProcedures copies billed procedures for one competence.
func (im *Importer) ImportProcedures(ctx context.Context, competence string, records []*models.SystemProcedureRecord) (int64, error) {
	if competence != "" {
		normalized, err := models.NormalizeCompetence(competence)
		if err != nil {
			return 0, errors.ValidationError(errors.CodeInvalidCompetence, "competence", competence, err)
		}
		competence = normalized
	}

	qctx, cancel := withTimeout(ctx, im.timeout)
	defer cancel()

	n, err := im.db.CopyFrom(qctx, im.procTable, procedureCopyColumns,
		pgx.CopyFromSlice(len(records), func(i int) ([]interface{}, error) {
			return procedureCopyRow(competence, records[i]), nil
		}))
	if err != nil {
		return n, queryError(qctx, "import procedures", err)
	}
	im.logger.WithFields(logger.Fields{"table": im.procTable.Sanitize(), "rows": n}).Info("Billed procedures imported")
	return n, nil
}

func aihCopyRow(rec *models.AIHRecord) []interface{} {
	var created interface{}
	if !rec.CreatedAt.IsZero() {
		created = rec.CreatedAt
	}
	return []interface{}{
		rec.AuthorizationNumber,
		nullable(rec.CompetencePeriod),
		nullable(string(rec.RecordType)),
		nullable(rec.Patient.Name),
		dateValue(rec.AdmissionDate),
		dateValue(rec.DischargeDate),
		nullable(rec.PrimaryProcedureCode),
		nullable(rec.FacilityCode),
		created,
	}
}

func procedureCopyRow(competence string, rec *models.SystemProcedureRecord) []interface{} {
	return []interface{}{
		nullable(rec.AuthorizationNumber),
		nullable(competence),
		rec.ProcedureCode,
		nullable(rec.Description),
		int32(rec.Quantity),
		pgtype.Numeric{Int: big.NewInt(int64(rec.Value)), Exp: -2, Valid: true},
		nullable(rec.PatientName),
	}
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func dateValue(d *models.Date) interface{} {
	if d == nil {
		return nil
	}
	return d.Time()
}
