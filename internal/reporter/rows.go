package reporter

import (
	"sort"
	"strconv"

	"aih-reconciliation-service/internal/matcher"
	"aih-reconciliation-service/internal/models"
	"aih-reconciliation-service/internal/normalize"
	"aih-reconciliation-service/internal/reconciler"
)

// Flat rows shared by the CSV and Parquet writers. Money columns hold minor
// units; the CSV writer renders them as decimal strings.

// SyncRow is one AIH set entry.
type SyncRow struct {
	RunID            string `parquet:"run_id"`
	Status           string `parquet:"status"`
	Key              string `parquet:"key"`
	InternalNumber   string `parquet:"internal_number"`
	ExternalNumber   string `parquet:"external_number"`
	Competence       string `parquet:"competence"`
	FacilityCode     string `parquet:"facility_code"`
	PatientName      string `parquet:"patient_name"`
	AdmissionDate    string `parquet:"admission_date"`
	DischargeDate    string `parquet:"discharge_date"`
	PrimaryProcedure string `parquet:"primary_procedure"`
}

// SyncRowHeaders are the CSV column names of SyncRow.
var SyncRowHeaders = []string{
	"run_id", "status", "key", "internal_number", "external_number", "competence",
	"facility_code", "patient_name", "admission_date", "discharge_date", "primary_procedure",
}

func (r SyncRow) csvRecord() []string {
	return []string{
		r.RunID, r.Status, r.Key, r.InternalNumber, r.ExternalNumber, r.Competence,
		r.FacilityCode, r.PatientName, r.AdmissionDate, r.DischargeDate, r.PrimaryProcedure,
	}
}

// AuditRow is one audit comparison or leftover. Side-specific columns are
// null when the row exists on one side only.
type AuditRow struct {
	RunID              string   `parquet:"run_id"`
	Kind               string   `parquet:"kind"`
	Status             string   `parquet:"status"`
	Authorization      string   `parquet:"authorization"`
	Procedure          string   `parquet:"procedure"`
	Description        string   `parquet:"description"`
	AuditQuantity      *int64   `parquet:"audit_quantity,optional"`
	SystemQuantity     *int64   `parquet:"system_quantity,optional"`
	AuditValue         *int64   `parquet:"audit_value,optional"`
	SystemValue        *int64   `parquet:"system_value,optional"`
	ValueDifference    int64    `parquet:"value_difference"`
	QuantityDifference int64    `parquet:"quantity_difference"`
	SystemRows         int64    `parquet:"system_rows"`
	CatalogCode        *string  `parquet:"catalog_code,optional"`
	CatalogMethod      *string  `parquet:"catalog_method,optional"`
	CatalogConfidence  *float64 `parquet:"catalog_confidence,optional"`
}

// AuditRowHeaders are the CSV column names of AuditRow.
var AuditRowHeaders = []string{
	"run_id", "kind", "status", "authorization", "procedure", "description",
	"audit_quantity", "system_quantity", "audit_value", "system_value",
	"value_difference", "quantity_difference", "system_rows",
	"catalog_code", "catalog_method", "catalog_confidence",
}

// Audit row kinds.
const (
	KindMatch    = "match"
	KindGlosa    = "glosa"
	KindRejeicao = "rejeicao"
)

func (r AuditRow) csvRecord() []string {
	return []string{
		r.RunID, r.Kind, r.Status, r.Authorization, r.Procedure, r.Description,
		optionalInt(r.AuditQuantity), optionalInt(r.SystemQuantity),
		optionalMoney(r.AuditValue), optionalMoney(r.SystemValue),
		models.MinorUnits(r.ValueDifference).String(),
		strconv.FormatInt(r.QuantityDifference, 10),
		strconv.FormatInt(r.SystemRows, 10),
		optionalString(r.CatalogCode), optionalString(r.CatalogMethod), optionalFloat(r.CatalogConfidence),
	}
}

// RecordRow is one parsed SISAIH01 record.
type RecordRow struct {
	AuthorizationNumber string `parquet:"authorization_number"`
	RecordType          string `parquet:"record_type"`
	Competence          string `parquet:"competence"`
	FacilityCode        string `parquet:"facility_code"`
	PatientName         string `parquet:"patient_name"`
	BirthDate           string `parquet:"birth_date"`
	Sex                 string `parquet:"sex"`
	HealthCardID        string `parquet:"health_card_id"`
	AdmissionDate       string `parquet:"admission_date"`
	DischargeDate       string `parquet:"discharge_date"`
	PrimaryProcedure    string `parquet:"primary_procedure"`
	PrimaryDiagnosis    string `parquet:"primary_diagnosis"`
	SecondaryProcedures int64  `parquet:"secondary_procedures"`
	Source              string `parquet:"source"`
	LineNumber          int64  `parquet:"line_number"`
}

// RecordRowHeaders are the CSV column names of RecordRow.
var RecordRowHeaders = []string{
	"authorization_number", "record_type", "competence", "facility_code", "patient_name",
	"birth_date", "sex", "health_card_id", "admission_date", "discharge_date",
	"primary_procedure", "primary_diagnosis", "secondary_procedures", "source", "line_number",
}

func (r RecordRow) csvRecord() []string {
	return []string{
		r.AuthorizationNumber, r.RecordType, r.Competence, r.FacilityCode, r.PatientName,
		r.BirthDate, r.Sex, r.HealthCardID, r.AdmissionDate, r.DischargeDate,
		r.PrimaryProcedure, r.PrimaryDiagnosis,
		strconv.FormatInt(r.SecondaryProcedures, 10), r.Source, strconv.FormatInt(r.LineNumber, 10),
	}
}

// MatchRow is one catalog lookup.
type MatchRow struct {
	QueryCode          string  `parquet:"query_code"`
	QueryDescription   string  `parquet:"query_description"`
	Method             string  `parquet:"method"`
	Confidence         float64 `parquet:"confidence"`
	CatalogCode        string  `parquet:"catalog_code"`
	CatalogDescription string  `parquet:"catalog_description"`
}

// MatchRowHeaders are the CSV column names of MatchRow.
var MatchRowHeaders = []string{
	"query_code", "query_description", "method", "confidence", "catalog_code", "catalog_description",
}

func (r MatchRow) csvRecord() []string {
	return []string{
		r.QueryCode, r.QueryDescription, r.Method,
		strconv.FormatFloat(r.Confidence, 'f', 2, 64),
		r.CatalogCode, r.CatalogDescription,
	}
}

type csvRecorder interface {
	csvRecord() []string
}

func csvRows[T csvRecorder](rows []T) [][]string {
	out := make([][]string, len(rows))
	for i, r := range rows {
		out[i] = r.csvRecord()
	}
	return out
}

// syncRows flattens the entries selected by the Include* flags.
func (rg *ReportGenerator) syncRows(report *reconciler.SyncReport) []SyncRow {
	runID := report.Result.RunID.String()
	rows := make([]SyncRow, 0, len(report.Result.Entries))
	for _, e := range report.Result.Entries {
		if !rg.includeStatus(e.Status) {
			continue
		}
		row := SyncRow{RunID: runID, Status: e.Status.String(), Key: e.Key}
		if e.Internal != nil {
			row.InternalNumber = e.Internal.AuthorizationNumber
		}
		if e.External != nil {
			row.ExternalNumber = e.External.AuthorizationNumber
		}
		if rec := preferredRecord(e); rec != nil {
			row.Competence = rec.CompetencePeriod
			row.FacilityCode = rec.FacilityCode
			row.PatientName = rec.Patient.Name
			row.AdmissionDate = rec.AdmissionDate.ISO()
			row.DischargeDate = rec.DischargeDate.ISO()
			row.PrimaryProcedure = rec.PrimaryProcedureCode
		}
		rows = append(rows, row)
	}
	return rows
}

func (rg *ReportGenerator) includeStatus(s reconciler.Status) bool {
	switch s {
	case reconciler.StatusSynced:
		return rg.config.IncludeSynced
	case reconciler.StatusPending:
		return rg.config.IncludePending
	case reconciler.StatusUnprocessed:
		return rg.config.IncludeUnprocessed
	default:
		return false
	}
}

// preferredRecord picks the SISAIH01 side when both exist.
func preferredRecord(e reconciler.SetEntry) *models.AIHRecord {
	if e.External != nil {
		return e.External
	}
	return e.Internal
}

// auditRows flattens matches and leftovers selected by the Include* flags.
func (rg *ReportGenerator) auditRows(report *reconciler.AuditReport) []AuditRow {
	result := report.Result
	runID := result.RunID.String()
	rows := make([]AuditRow, 0, len(result.Matches)+len(result.TabwinLeftovers)+len(result.SystemLeftovers))

	for _, m := range rg.orderedMatches(result.Matches) {
		if !rg.includeAuditStatus(m.Status) {
			continue
		}
		row := AuditRow{
			RunID:              runID,
			Kind:               KindMatch,
			Status:             m.Status.String(),
			Authorization:      m.Key.Authorization,
			Procedure:          m.Key.Procedure,
			ValueDifference:    int64(m.ValueDifference),
			QuantityDifference: int64(m.QuantityDifference),
			SystemRows:         1,
		}
		if m.Audit != nil {
			row.Description = m.Audit.Description
			row.AuditQuantity = int64Ptr(int64(m.Audit.Quantity))
			row.AuditValue = int64Ptr(int64(m.Audit.Value))
		}
		if m.System != nil {
			if row.Description == "" {
				row.Description = m.System.Description
			}
			row.SystemQuantity = int64Ptr(int64(m.System.Quantity))
			row.SystemValue = int64Ptr(int64(m.System.Value))
		}
		rg.annotateRow(&row, report.Annotations)
		rows = append(rows, row)
	}

	if !rg.config.IncludeLeftovers {
		return rows
	}

	for _, l := range result.TabwinLeftovers {
		row := AuditRow{
			RunID:         runID,
			Kind:          KindGlosa,
			Status:        string(l.Reason),
			Authorization: l.Key.Authorization,
			Procedure:     l.Key.Procedure,
		}
		if l.Audit != nil {
			row.Description = l.Audit.Description
			row.AuditQuantity = int64Ptr(int64(l.Audit.Quantity))
			row.AuditValue = int64Ptr(int64(l.Audit.Value))
		}
		rg.annotateRow(&row, report.Annotations)
		rows = append(rows, row)
	}

	for _, l := range result.SystemLeftovers {
		row := AuditRow{
			RunID:         runID,
			Kind:          KindRejeicao,
			Status:        string(l.Reason),
			Authorization: l.Key.Authorization,
			Procedure:     l.Key.Procedure,
			SystemRows:    int64(l.Rows),
		}
		if l.System != nil {
			row.Description = l.System.Description
			row.SystemQuantity = int64Ptr(int64(l.System.Quantity))
			row.SystemValue = int64Ptr(int64(l.System.Value))
		}
		rg.annotateRow(&row, report.Annotations)
		rows = append(rows, row)
	}

	return rows
}

func (rg *ReportGenerator) includeAuditStatus(s reconciler.AuditStatus) bool {
	if s == reconciler.AuditMatched {
		return rg.config.IncludePerfectMatches
	}
	return rg.config.IncludeDiscrepancies
}

func (rg *ReportGenerator) annotateRow(row *AuditRow, annotations reconciler.Annotations) {
	if !rg.config.IncludeAnnotations || annotations == nil {
		return
	}
	a, ok := annotations[keyFor(row.Authorization, row.Procedure)]
	if !ok {
		return
	}
	method := a.Method.String()
	confidence := a.Confidence
	row.CatalogMethod = &method
	row.CatalogConfidence = &confidence
	if a.Entry != nil {
		code := a.Entry.Code
		row.CatalogCode = &code
	}
}

// orderedMatches returns matches in result order, or by descending absolute
// value difference when SortByValue is set. The result is never modified.
func (rg *ReportGenerator) orderedMatches(matches []reconciler.AuditMatch) []reconciler.AuditMatch {
	if !rg.config.SortByValue {
		return matches
	}
	sorted := make([]reconciler.AuditMatch, len(matches))
	copy(sorted, matches)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].ValueDifference.Abs() > sorted[j].ValueDifference.Abs()
	})
	return sorted
}

func recordRows(records []*models.AIHRecord) []RecordRow {
	rows := make([]RecordRow, 0, len(records))
	for _, r := range records {
		if r == nil {
			continue
		}
		rows = append(rows, RecordRow{
			AuthorizationNumber: r.AuthorizationNumber,
			RecordType:          string(r.RecordType),
			Competence:          r.CompetencePeriod,
			FacilityCode:        r.FacilityCode,
			PatientName:         r.Patient.Name,
			BirthDate:           r.Patient.BirthDate.ISO(),
			Sex:                 r.Patient.Sex,
			HealthCardID:        r.Patient.HealthCardID,
			AdmissionDate:       r.AdmissionDate.ISO(),
			DischargeDate:       r.DischargeDate.ISO(),
			PrimaryProcedure:    r.PrimaryProcedureCode,
			PrimaryDiagnosis:    r.PrimaryDiagnosis,
			SecondaryProcedures: int64(len(r.SecondaryProcedures)),
			Source:              string(r.Source),
			LineNumber:          int64(r.LineNumber),
		})
	}
	return rows
}

func matchRows(results []matcher.ProcedureMatchResult) []MatchRow {
	rows := make([]MatchRow, len(results))
	for i, r := range results {
		rows[i] = MatchRow{
			QueryCode:        r.Query.Code,
			QueryDescription: r.Query.Description,
			Method:           r.Method.String(),
			Confidence:       r.Confidence,
		}
		if r.Entry != nil {
			rows[i].CatalogCode = r.Entry.Code
			rows[i].CatalogDescription = r.Entry.Description
		}
	}
	return rows
}

// keyFor rebuilds a key from components that are already normalized.
func keyFor(authorization, procedure string) normalize.CompoundKey {
	return normalize.CompoundKey{Authorization: authorization, Procedure: procedure}
}

func int64Ptr(v int64) *int64 { return &v }

func optionalInt(v *int64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatInt(*v, 10)
}

func optionalMoney(v *int64) string {
	if v == nil {
		return ""
	}
	return models.MinorUnits(*v).String()
}

func optionalString(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}

func optionalFloat(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', 2, 64)
}
