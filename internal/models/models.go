package models

import (
	"fmt"
	"strings"
	"time"
)

// RecordType identifies the kind of authorization record in a SISAIH01 line.
type RecordType string

const (
	// RecordTypePrincipal is the initial authorization of a stay
	RecordTypePrincipal RecordType = "01"
	// RecordTypeContinuation continues a previous authorization
	RecordTypeContinuation RecordType = "03"
	// RecordTypeLongStay is issued for long-stay admissions
	RecordTypeLongStay RecordType = "05"
)

// String returns the string representation of RecordType
func (t RecordType) String() string {
	return string(t)
}

// IsValid checks if the record type is one of the retained kinds
func (t RecordType) IsValid() bool {
	switch t {
	case RecordTypePrincipal, RecordTypeContinuation, RecordTypeLongStay:
		return true
	}
	return false
}

// Label returns a short human description of the record type
func (t RecordType) Label() string {
	switch t {
	case RecordTypePrincipal:
		return "principal"
	case RecordTypeContinuation:
		return "continuation"
	case RecordTypeLongStay:
		return "long stay"
	default:
		return "unknown"
	}
}

// Source names the side of a reconciliation that produced a record.
type Source string

const (
	SourceInternal Source = "internal"
	SourceSISAIH   Source = "sisaih"
	SourceTabwin   Source = "tabwin"
)

// DocumentTypeCPF is the SISAIH01 document type for the individual taxpayer number.
const DocumentTypeCPF = "4"

// Address is the patient address block of an authorization.
type Address struct {
	StreetType       string `json:"street_type,omitempty" yaml:"street_type,omitempty"`
	Street           string `json:"street,omitempty" yaml:"street,omitempty"`
	Number           string `json:"number,omitempty" yaml:"number,omitempty"`
	Complement       string `json:"complement,omitempty" yaml:"complement,omitempty"`
	District         string `json:"district,omitempty" yaml:"district,omitempty"`
	MunicipalityCode string `json:"municipality_code,omitempty" yaml:"municipality_code,omitempty"`
	State            string `json:"state,omitempty" yaml:"state,omitempty"`
	PostalCode       string `json:"postal_code,omitempty" yaml:"postal_code,omitempty"`
}

// Patient holds the demographic fields of an authorization. Sex is kept as
// it appears in the source.
type Patient struct {
	Name           string  `json:"name" yaml:"name"`
	BirthDate      *Date   `json:"birth_date,omitempty" yaml:"birth_date,omitempty"`
	Sex            string  `json:"sex,omitempty" yaml:"sex,omitempty"`
	Race           string  `json:"race,omitempty" yaml:"race,omitempty"`
	HealthCardID   string  `json:"health_card_id,omitempty" yaml:"health_card_id,omitempty"`
	DocumentType   string  `json:"document_type,omitempty" yaml:"document_type,omitempty"`
	DocumentNumber string  `json:"document_number,omitempty" yaml:"document_number,omitempty"`
	TaxID          string  `json:"tax_id,omitempty" yaml:"tax_id,omitempty"`
	MotherName     string  `json:"mother_name,omitempty" yaml:"mother_name,omitempty"`
	GuardianName   string  `json:"guardian_name,omitempty" yaml:"guardian_name,omitempty"`
	Nationality    string  `json:"nationality,omitempty" yaml:"nationality,omitempty"`
	MedicalRecord  string  `json:"medical_record,omitempty" yaml:"medical_record,omitempty"`
	Address        Address `json:"address" yaml:"address"`
}

// ProcedureItem is one secondary procedure performed under an authorization.
type ProcedureItem struct {
	Code       string `json:"code" yaml:"code"`
	Quantity   int    `json:"quantity" yaml:"quantity"`
	Competence string `json:"competence,omitempty" yaml:"competence,omitempty"`
	CBO        string `json:"cbo,omitempty" yaml:"cbo,omitempty"`
}

// AIHRecord is a hospital inpatient authorization as read from the internal
// system or the government extract. Records are not modified after creation.
type AIHRecord struct {
	AuthorizationNumber    string          `json:"authorization_number" yaml:"authorization_number"`
	RecordType             RecordType      `json:"record_type" yaml:"record_type"`
	BatchNumber            string          `json:"batch_number,omitempty" yaml:"batch_number,omitempty"`
	CompetencePeriod       string          `json:"competence_period,omitempty" yaml:"competence_period,omitempty"`
	IssuingAgency          string          `json:"issuing_agency,omitempty" yaml:"issuing_agency,omitempty"`
	FacilityCode           string          `json:"facility_code,omitempty" yaml:"facility_code,omitempty"`
	MunicipalityCode       string          `json:"municipality_code,omitempty" yaml:"municipality_code,omitempty"`
	Specialty              string          `json:"specialty,omitempty" yaml:"specialty,omitempty"`
	AdmissionMode          string          `json:"admission_mode,omitempty" yaml:"admission_mode,omitempty"`
	IssueDate              *Date           `json:"issue_date,omitempty" yaml:"issue_date,omitempty"`
	AdmissionDate          *Date           `json:"admission_date,omitempty" yaml:"admission_date,omitempty"`
	DischargeDate          *Date           `json:"discharge_date,omitempty" yaml:"discharge_date,omitempty"`
	RequestedProcedureCode string          `json:"requested_procedure_code,omitempty" yaml:"requested_procedure_code,omitempty"`
	PrimaryProcedureCode   string          `json:"primary_procedure_code,omitempty" yaml:"primary_procedure_code,omitempty"`
	AdmissionCharacter     string          `json:"admission_character,omitempty" yaml:"admission_character,omitempty"`
	DischargeReason        string          `json:"discharge_reason,omitempty" yaml:"discharge_reason,omitempty"`
	PrimaryDiagnosis       string          `json:"primary_diagnosis,omitempty" yaml:"primary_diagnosis,omitempty"`
	SecondaryDiagnosis     string          `json:"secondary_diagnosis,omitempty" yaml:"secondary_diagnosis,omitempty"`
	Patient                Patient         `json:"patient" yaml:"patient"`
	SecondaryProcedures    []ProcedureItem `json:"secondary_procedures,omitempty" yaml:"secondary_procedures,omitempty"`
	Source                 Source          `json:"source" yaml:"source"`
	CreatedAt              time.Time       `json:"created_at,omitempty" yaml:"created_at,omitempty"`
	LineNumber             int             `json:"line_number,omitempty" yaml:"line_number,omitempty"`
}

// String returns a string representation of the AIHRecord
func (r *AIHRecord) String() string {
	return fmt.Sprintf("AIH{Number: %s, Type: %s, Competence: %s, Patient: %s}",
		r.AuthorizationNumber, r.RecordType, r.CompetencePeriod, r.Patient.Name)
}

// Validate checks the fields every loader must populate
func (r *AIHRecord) Validate() error {
	if strings.TrimSpace(r.AuthorizationNumber) == "" {
		return fmt.Errorf("authorization number cannot be empty")
	}
	if r.RecordType != "" && !r.RecordType.IsValid() {
		return fmt.Errorf("invalid record type: %s", r.RecordType)
	}
	if r.CompetencePeriod != "" && !ValidCompetence(r.CompetencePeriod) {
		return fmt.Errorf("invalid competence period: %s", r.CompetencePeriod)
	}
	return nil
}

// ProcedureCatalogEntry is a row of the procedure reference table.
type ProcedureCatalogEntry struct {
	Code        string `json:"code" yaml:"code"`
	Description string `json:"description" yaml:"description"`
}

// PayerAuditRecord is one row of the payer audit spreadsheet (TabWin export).
type PayerAuditRecord struct {
	AuthorizationNumber string     `json:"authorization_number" yaml:"authorization_number"`
	ProcedureCode       string     `json:"procedure_code" yaml:"procedure_code"`
	Description         string     `json:"description,omitempty" yaml:"description,omitempty"`
	Quantity            int        `json:"quantity" yaml:"quantity"`
	Value               MinorUnits `json:"value" yaml:"value"`
	Competence          string     `json:"competence,omitempty" yaml:"competence,omitempty"`
	Row                 int        `json:"row,omitempty" yaml:"row,omitempty"`
}

// Validate performs basic validation on the PayerAuditRecord
func (r *PayerAuditRecord) Validate() error {
	if r.Quantity < 0 {
		return fmt.Errorf("quantity cannot be negative: %d", r.Quantity)
	}
	if r.Competence != "" && !ValidCompetence(r.Competence) {
		return fmt.Errorf("invalid competence: %s", r.Competence)
	}
	return nil
}

// SystemProcedureRecord is one procedure row billed by the internal system.
type SystemProcedureRecord struct {
	AuthorizationNumber string     `json:"authorization_number" yaml:"authorization_number"`
	ProcedureCode       string     `json:"procedure_code" yaml:"procedure_code"`
	Description         string     `json:"description,omitempty" yaml:"description,omitempty"`
	Quantity            int        `json:"quantity" yaml:"quantity"`
	Value               MinorUnits `json:"value" yaml:"value"`
	PatientName         string     `json:"patient_name,omitempty" yaml:"patient_name,omitempty"`
	Row                 int        `json:"row,omitempty" yaml:"row,omitempty"`
}

// Validate performs basic validation on the SystemProcedureRecord
func (r *SystemProcedureRecord) Validate() error {
	if r.Quantity < 0 {
		return fmt.Errorf("quantity cannot be negative: %d", r.Quantity)
	}
	return nil
}

// ValidCompetence reports whether s is a YYYYMM billing period.
func ValidCompetence(s string) bool {
	if len(s) != 6 {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	month := s[4:]
	return month >= "01" && month <= "12"
}

// NormalizeCompetence accepts YYYYMM, MM/YYYY, YYYY-MM and YYYY/MM and
// returns the YYYYMM form.
func NormalizeCompetence(s string) (string, error) {
	s = strings.TrimSpace(s)
	if ValidCompetence(s) {
		return s, nil
	}

	var candidate string
	switch {
	case len(s) == 7 && (s[2] == '/' || s[2] == '-'):
		candidate = s[3:] + s[:2]
	case len(s) == 7 && (s[4] == '/' || s[4] == '-'):
		candidate = s[:4] + s[5:]
	}
	if ValidCompetence(candidate) {
		return candidate, nil
	}
	return "", fmt.Errorf("invalid competence '%s': expected YYYYMM", s)
}
