package reconciler

import (
	"fmt"
	"strings"

	"aih-reconciliation-service/internal/models"
	"aih-reconciliation-service/pkg/errors"
)

// DataPreprocessor narrows loaded records to one billing period and facility
// before reconciliation. It never modifies the records it is given.
type DataPreprocessor struct {
	config *PreprocessingConfig
}

// PreprocessingConfig selects the records a run reconciles. Empty fields
// disable the corresponding filter.
type PreprocessingConfig struct {
	// Competence is the YYYYMM billing period.
	Competence string

	// FacilityCode is the CNES of the hospital.
	FacilityCode string

	// ValidateRecords drops records failing their own Validate method.
	ValidateRecords bool
}

// PreprocessingStats counts what each filter excluded.
type PreprocessingStats struct {
	Input             int `json:"input" yaml:"input"`
	Kept              int `json:"kept" yaml:"kept"`
	OutsideCompetence int `json:"outside_competence" yaml:"outside_competence"`
	OtherFacility     int `json:"other_facility" yaml:"other_facility"`
	FailedValidation  int `json:"failed_validation" yaml:"failed_validation"`
}

// Excluded returns the number of records dropped by any filter.
func (s PreprocessingStats) Excluded() int {
	return s.OutsideCompetence + s.OtherFacility + s.FailedValidation
}

// Add accumulates other into s.
func (s *PreprocessingStats) Add(other PreprocessingStats) {
	s.Input += other.Input
	s.Kept += other.Kept
	s.OutsideCompetence += other.OutsideCompetence
	s.OtherFacility += other.OtherFacility
	s.FailedValidation += other.FailedValidation
}

// DefaultPreprocessingConfig returns a configuration that keeps every valid record.
func DefaultPreprocessingConfig() *PreprocessingConfig {
	return &PreprocessingConfig{ValidateRecords: true}
}

// Validate normalizes the competence and rejects malformed values.
func (c *PreprocessingConfig) Validate() error {
	if c.Competence != "" {
		competence, err := models.NormalizeCompetence(c.Competence)
		if err != nil {
			return errors.ValidationError(errors.CodeInvalidCompetence, "competence", c.Competence, err).
				WithSuggestion("Use the YYYYMM form, for example 202401")
		}
		c.Competence = competence
	}
	c.FacilityCode = strings.TrimSpace(c.FacilityCode)
	return nil
}

// NewDataPreprocessor creates a preprocessor. A nil config keeps every valid record.
func NewDataPreprocessor(config *PreprocessingConfig) (*DataPreprocessor, error) {
	if config == nil {
		config = DefaultPreprocessingConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &DataPreprocessor{config: config}, nil
}

// Config returns the effective configuration.
func (dp *DataPreprocessor) Config() PreprocessingConfig {
	return *dp.config
}

// FilterAIHs keeps the authorizations of the configured period and facility.
// Records with no competence or facility are kept: internal exports often
// leave them blank.
func (dp *DataPreprocessor) FilterAIHs(records []*models.AIHRecord) ([]*models.AIHRecord, PreprocessingStats) {
	stats := PreprocessingStats{Input: len(records)}
	kept := make([]*models.AIHRecord, 0, len(records))

	for _, rec := range records {
		if rec == nil {
			continue
		}
		if dp.config.ValidateRecords {
			if err := rec.Validate(); err != nil {
				stats.FailedValidation++
				continue
			}
		}
		if !dp.inCompetence(rec.CompetencePeriod) {
			stats.OutsideCompetence++
			continue
		}
		if dp.config.FacilityCode != "" && rec.FacilityCode != "" && rec.FacilityCode != dp.config.FacilityCode {
			stats.OtherFacility++
			continue
		}
		kept = append(kept, rec)
	}

	stats.Kept = len(kept)
	return kept, stats
}

// FilterAuditRows keeps the payer rows of the configured period.
func (dp *DataPreprocessor) FilterAuditRows(rows []*models.PayerAuditRecord) ([]*models.PayerAuditRecord, PreprocessingStats) {
	stats := PreprocessingStats{Input: len(rows)}
	kept := make([]*models.PayerAuditRecord, 0, len(rows))

	for _, row := range rows {
		if row == nil {
			continue
		}
		if dp.config.ValidateRecords {
			if err := row.Validate(); err != nil {
				stats.FailedValidation++
				continue
			}
		}
		if !dp.inCompetence(row.Competence) {
			stats.OutsideCompetence++
			continue
		}
		kept = append(kept, row)
	}

	stats.Kept = len(kept)
	return kept, stats
}

// FilterSystemRows drops invalid system procedure rows. System rows carry
// no competence of their own; loaders select the period upstream.
func (dp *DataPreprocessor) FilterSystemRows(rows []*models.SystemProcedureRecord) ([]*models.SystemProcedureRecord, PreprocessingStats) {
	stats := PreprocessingStats{Input: len(rows)}
	kept := make([]*models.SystemProcedureRecord, 0, len(rows))

	for _, row := range rows {
		if row == nil {
			continue
		}
		if dp.config.ValidateRecords {
			if err := row.Validate(); err != nil {
				stats.FailedValidation++
				continue
			}
		}
		kept = append(kept, row)
	}

	stats.Kept = len(kept)
	return kept, stats
}

func (dp *DataPreprocessor) inCompetence(competence string) bool {
	if dp.config.Competence == "" || competence == "" {
		return true
	}
	return competence == dp.config.Competence
}

// String describes the active filters.
func (dp *DataPreprocessor) String() string {
	var parts []string
	if dp.config.Competence != "" {
		parts = append(parts, "competence="+dp.config.Competence)
	}
	if dp.config.FacilityCode != "" {
		parts = append(parts, "facility="+dp.config.FacilityCode)
	}
	if dp.config.ValidateRecords {
		parts = append(parts, "validate")
	}
	if len(parts) == 0 {
		return "DataPreprocessor{}"
	}
	return fmt.Sprintf("DataPreprocessor{%s}", strings.Join(parts, ", "))
}
