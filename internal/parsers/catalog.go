package parsers

import (
	"context"

	"aih-reconciliation-service/internal/models"
	"aih-reconciliation-service/pkg/logger"
)

// CatalogParser loads a procedure reference table.
type CatalogParser struct {
	*tabularParser
}

// NewCatalogParser creates a parser. A nil spec uses DefaultCatalogColumns.
func NewCatalogParser(spec *ColumnSpec, config *ParseConfig, log logger.Logger) (*CatalogParser, error) {
	if spec == nil {
		spec = DefaultCatalogColumns()
	}
	tp, err := newTabularParser(spec, config, log, "catalog_parser")
	if err != nil {
		return nil, err
	}
	return &CatalogParser{tabularParser: tp}, nil
}

// ParseCatalog reads catalog entries in file order. Rows without a code are skipped.
func (cp *CatalogParser) ParseCatalog(ctx context.Context, path string) ([]models.ProcedureCatalogEntry, *ParseStats, error) {
	sheet, stats, err := cp.load(ctx, path)
	if err != nil {
		return nil, stats, err
	}

	entries := make([]models.ProcedureCatalogEntry, 0, len(sheet.Rows))
	for _, row := range sheet.Rows {
		stats.RecordsParsed++
		code := row.Value(ColCode)
		if code == "" {
			stats.Skip(SkipMissingKey, nil)
			continue
		}
		entries = append(entries, models.ProcedureCatalogEntry{Code: code, Description: row.Value(ColDescription)})
		stats.RecordsValid++
	}

	cp.finish(stats)
	return entries, stats, nil
}
