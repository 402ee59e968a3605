package parsers

import (
	"fmt"
	"strings"
	"time"
	"unicode"

	"aih-reconciliation-service/internal/normalize"
)

// Logical column names shared by the tabular loaders.
const (
	ColAuthorization    = "aih"
	ColProcedure        = "procedure"
	ColDescription      = "description"
	ColQuantity         = "quantity"
	ColValue            = "value"
	ColCompetence       = "competence"
	ColPatient          = "patient"
	ColRecordType       = "record_type"
	ColAdmissionDate    = "admission_date"
	ColDischargeDate    = "discharge_date"
	ColPrimaryProcedure = "primary_procedure"
	ColFacility         = "facility"
	ColCreatedAt        = "created_at"
	ColCode             = "code"
)

// Column describes a logical column and the header spellings it goes by.
type Column struct {
	Name     string   `json:"name" mapstructure:"name"`
	Headers  []string `json:"headers" mapstructure:"headers"`
	Required bool     `json:"required" mapstructure:"required"`
}

// Names returns the logical name followed by every header spelling.
func (c Column) Names() []string {
	return append([]string{c.Name}, c.Headers...)
}

// ColumnSpec lists the columns a loader reads from one kind of sheet. The
// marker column is used to find the header row.
type ColumnSpec struct {
	Source     string   `json:"source" mapstructure:"source"`
	MarkerName string   `json:"marker" mapstructure:"marker"`
	Columns    []Column `json:"columns" mapstructure:"columns"`
}

// Validate checks if the column specification is valid
func (s *ColumnSpec) Validate() error {
	if strings.TrimSpace(s.Source) == "" {
		return fmt.Errorf("column spec source cannot be empty")
	}
	if len(s.Columns) == 0 {
		return fmt.Errorf("column spec %s has no columns", s.Source)
	}

	seen := make(map[string]bool)
	markerFound := false
	for _, c := range s.Columns {
		if strings.TrimSpace(c.Name) == "" {
			return fmt.Errorf("column spec %s has a column without a name", s.Source)
		}
		if seen[c.Name] {
			return fmt.Errorf("column spec %s declares %s twice", s.Source, c.Name)
		}
		seen[c.Name] = true
		if c.Name == s.MarkerName {
			markerFound = true
		}
	}
	if !markerFound {
		return fmt.Errorf("marker column %q is not declared in %s", s.MarkerName, s.Source)
	}
	return nil
}

// Marker returns the column used to locate the header row.
func (s *ColumnSpec) Marker() Column {
	for _, c := range s.Columns {
		if c.Name == s.MarkerName {
			return c
		}
	}
	return Column{Name: s.MarkerName}
}

// WithOverrides returns a copy of the spec where each logical column named
// in overrides also matches the given header. Overrides take precedence
// over the built-in spellings.
func (s *ColumnSpec) WithOverrides(overrides map[string]string) *ColumnSpec {
	out := &ColumnSpec{Source: s.Source, MarkerName: s.MarkerName, Columns: make([]Column, len(s.Columns))}
	for i, c := range s.Columns {
		headers := append([]string(nil), c.Headers...)
		if header, ok := overrides[c.Name]; ok && strings.TrimSpace(header) != "" {
			headers = append([]string{header}, headers...)
		}
		out.Columns[i] = Column{Name: c.Name, Headers: headers, Required: c.Required}
	}
	return out
}

// Resolve maps each logical column to its index in headers. It returns the
// names of required columns that could not be found.
func (s *ColumnSpec) Resolve(headers []string) (map[string]int, []string) {
	index := make(map[string]int, len(headers))
	for i, h := range headers {
		key := HeaderKey(h)
		if _, exists := index[key]; !exists && key != "" {
			index[key] = i
		}
	}

	columns := make(map[string]int, len(s.Columns))
	var missing []string
	for _, c := range s.Columns {
		found := false
		for _, name := range c.Names() {
			if i, ok := index[HeaderKey(name)]; ok {
				columns[c.Name] = i
				found = true
				break
			}
		}
		if !found && c.Required {
			missing = append(missing, c.Name)
		}
	}
	return columns, missing
}

// HeaderKey folds a header cell so that "Nº AIH", "n_aih" and "N AIH"
// compare equal to their plain spellings.
func HeaderKey(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return r
		}
		return -1
	}, normalize.FoldText(s))
}

// DefaultAuditColumns describes the payer audit spreadsheet (TabWin export).
func DefaultAuditColumns() *ColumnSpec {
	return &ColumnSpec{
		Source:     "tabwin",
		MarkerName: ColAuthorization,
		Columns: []Column{
			{Name: ColAuthorization, Required: true, Headers: []string{"n_aih", "num_aih", "numero_aih", "nº aih", "numero da aih", "sp_naih"}},
			{Name: ColProcedure, Required: true, Headers: []string{"procedimento", "proc", "cod_procedimento", "codigo procedimento", "proc_rea", "procedimento realizado", "sp_atoprof"}},
			{Name: ColDescription, Headers: []string{"descricao", "desc_procedimento", "nome procedimento", "descricao procedimento"}},
			{Name: ColQuantity, Required: true, Headers: []string{"quantidade", "qtd", "qt", "qtd_aprov", "quantidade aprovada", "sp_qtd_ato"}},
			{Name: ColValue, Required: true, Headers: []string{"valor", "vl", "valor total", "val_tot", "vl_total", "valor aprovado", "sp_valato"}},
			{Name: ColCompetence, Headers: []string{"competencia", "cmpt", "mes_ano", "sp_mm", "comp"}},
		},
	}
}

// DefaultSystemColumns describes the internal system's procedure listing.
func DefaultSystemColumns() *ColumnSpec {
	return &ColumnSpec{
		Source:     "system",
		MarkerName: ColAuthorization,
		Columns: []Column{
			{Name: ColAuthorization, Required: true, Headers: []string{"n_aih", "num_aih", "numero_aih", "nº aih", "numero da aih"}},
			{Name: ColProcedure, Required: true, Headers: []string{"procedimento", "proc", "cod_procedimento", "codigo procedimento", "codigo"}},
			{Name: ColDescription, Headers: []string{"descricao", "desc_procedimento", "nome procedimento"}},
			{Name: ColQuantity, Required: true, Headers: []string{"quantidade", "qtd", "qt"}},
			{Name: ColValue, Required: true, Headers: []string{"valor", "vl", "valor total", "vl_total"}},
			{Name: ColPatient, Headers: []string{"paciente", "nome_paciente", "nm_paciente", "nome do paciente"}},
		},
	}
}

// DefaultInternalAIHColumns describes the internal system's authorization listing.
func DefaultInternalAIHColumns() *ColumnSpec {
	return &ColumnSpec{
		Source:     "internal",
		MarkerName: ColAuthorization,
		Columns: []Column{
			{Name: ColAuthorization, Required: true, Headers: []string{"n_aih", "num_aih", "numero_aih", "nº aih", "numero da aih"}},
			{Name: ColCompetence, Headers: []string{"competencia", "cmpt", "mes_ano"}},
			{Name: ColRecordType, Headers: []string{"tipo", "tipo_aih", "ident", "ident_aih"}},
			{Name: ColPatient, Headers: []string{"paciente", "nome_paciente", "nm_paciente"}},
			{Name: ColAdmissionDate, Headers: []string{"data_internacao", "dt_internacao", "internacao"}},
			{Name: ColDischargeDate, Headers: []string{"data_saida", "dt_saida", "alta"}},
			{Name: ColPrimaryProcedure, Headers: []string{"procedimento_principal", "proc_realizado", "procedimento"}},
			{Name: ColFacility, Headers: []string{"cnes", "estabelecimento"}},
			{Name: ColCreatedAt, Headers: []string{"criado_em", "data_cadastro", "dt_cadastro"}},
		},
	}
}

// DefaultCatalogColumns describes a SIGTAP-style procedure catalog.
func DefaultCatalogColumns() *ColumnSpec {
	return &ColumnSpec{
		Source:     "catalog",
		MarkerName: ColCode,
		Columns: []Column{
			{Name: ColCode, Required: true, Headers: []string{"codigo", "co_procedimento", "procedimento", "cod"}},
			{Name: ColDescription, Required: true, Headers: []string{"descricao", "no_procedimento", "nome"}},
		},
	}
}

// SISAIHConfig holds configuration for reading SISAIH01 extracts
type SISAIHConfig struct {
	// StrictLength skips every line shorter than FullLineLength.
	StrictLength     bool          `json:"strict_length" mapstructure:"strict_length"`
	Encoding         string        `json:"encoding" mapstructure:"encoding"`
	MaxConcurrency   int           `json:"max_concurrency" mapstructure:"max_concurrency"`
	BatchSize        int           `json:"batch_size" mapstructure:"batch_size"`
	ProgressInterval time.Duration `json:"progress_interval" mapstructure:"progress_interval"`
}

// DefaultSISAIHConfig returns a configuration with sensible defaults
func DefaultSISAIHConfig() *SISAIHConfig {
	return &SISAIHConfig{
		StrictLength:     false,
		Encoding:         EncodingLatin1,
		MaxConcurrency:   4,
		BatchSize:        1000,
		ProgressInterval: 5 * time.Second,
	}
}

// Validate checks if the SISAIH configuration is valid
func (c *SISAIHConfig) Validate() error {
	if c.Encoding != EncodingLatin1 && c.Encoding != EncodingUTF8 {
		return fmt.Errorf("unsupported SISAIH01 encoding %q", c.Encoding)
	}
	if c.MaxConcurrency <= 0 {
		return fmt.Errorf("max concurrency must be positive, got %d", c.MaxConcurrency)
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive, got %d", c.BatchSize)
	}
	if c.ProgressInterval < 0 {
		return fmt.Errorf("progress interval cannot be negative, got %s", c.ProgressInterval)
	}
	return nil
}
