package parsers

import (
	"strconv"
	"strings"
	"unicode/utf8"

	"aih-reconciliation-service/internal/models"
	"aih-reconciliation-service/internal/normalize"
)

const (
	// MinLineLength is the shortest line that can carry an authorization.
	MinLineLength = 100
	// FullLineLength is the length of a complete SISAIH01 line.
	FullLineLength = 1600
)

// Secondary procedure block: nine repeated items of 63 characters.
const (
	procedureBlockStart = 682
	procedureItemWidth  = 63
	procedureItemCount  = 9
)

// fieldSpec is one fixed-width field. Start and End are 1-based and
// inclusive, as in the published layout.
type fieldSpec struct {
	name  string
	start int
	end   int
	set   func(r *models.AIHRecord, v string)
	get   func(r *models.AIHRecord) string
}

func dateField(name string, start, end int, ref func(r *models.AIHRecord) **models.Date) fieldSpec {
	return fieldSpec{
		name: name, start: start, end: end,
		set: func(r *models.AIHRecord, v string) { *ref(r) = models.ParseCompactDate(v) },
		get: func(r *models.AIHRecord) string { return (*ref(r)).Compact() },
	}
}

func textField(name string, start, end int, ref func(r *models.AIHRecord) *string) fieldSpec {
	return fieldSpec{
		name: name, start: start, end: end,
		set: func(r *models.AIHRecord, v string) { *ref(r) = v },
		get: func(r *models.AIHRecord) string { return *ref(r) },
	}
}

// sisaihLayout is the SISAIH01 record layout for the header block and
// patient data. Record type (columns 57-58) is handled by ParseLine.
var sisaihLayout = []fieldSpec{
	textField("NU_LOTE", 1, 8, func(r *models.AIHRecord) *string { return &r.BatchNumber }),
	textField("APRES_LOTE", 12, 17, func(r *models.AIHRecord) *string { return &r.CompetencePeriod }),
	textField("ORG_EMISSOR", 21, 30, func(r *models.AIHRecord) *string { return &r.IssuingAgency }),
	textField("CNES", 31, 37, func(r *models.AIHRecord) *string { return &r.FacilityCode }),
	textField("MUN_HOSP", 38, 43, func(r *models.AIHRecord) *string { return &r.MunicipalityCode }),
	textField("NU_AIH", 44, 56, func(r *models.AIHRecord) *string { return &r.AuthorizationNumber }),
	textField("ESPEC", 59, 60, func(r *models.AIHRecord) *string { return &r.Specialty }),
	textField("MOD_INTERN", 106, 107, func(r *models.AIHRecord) *string { return &r.AdmissionMode }),
	dateField("DT_EMISSAO", 137, 144, func(r *models.AIHRecord) **models.Date { return &r.IssueDate }),
	dateField("DT_INTERN", 145, 152, func(r *models.AIHRecord) **models.Date { return &r.AdmissionDate }),
	dateField("DT_SAIDA", 153, 160, func(r *models.AIHRecord) **models.Date { return &r.DischargeDate }),
	textField("PROC_SOLIC", 161, 170, func(r *models.AIHRecord) *string { return &r.RequestedProcedureCode }),
	textField("PROC_REALIZ", 172, 181, func(r *models.AIHRecord) *string { return &r.PrimaryProcedureCode }),
	textField("CAR_INTERN", 182, 183, func(r *models.AIHRecord) *string { return &r.AdmissionCharacter }),
	textField("MOT_SAIDA", 184, 185, func(r *models.AIHRecord) *string { return &r.DischargeReason }),
	textField("DIAG_PRINC", 250, 253, func(r *models.AIHRecord) *string { return &r.PrimaryDiagnosis }),
	textField("DIAG_SEC", 254, 257, func(r *models.AIHRecord) *string { return &r.SecondaryDiagnosis }),
	textField("NM_PAC", 266, 335, func(r *models.AIHRecord) *string { return &r.Patient.Name }),
	dateField("DT_NASC", 336, 343, func(r *models.AIHRecord) **models.Date { return &r.Patient.BirthDate }),
	textField("SEXO", 344, 344, func(r *models.AIHRecord) *string { return &r.Patient.Sex }),
	textField("RACA", 345, 346, func(r *models.AIHRecord) *string { return &r.Patient.Race }),
	textField("NM_MAE", 347, 416, func(r *models.AIHRecord) *string { return &r.Patient.MotherName }),
	textField("NM_RESP", 417, 486, func(r *models.AIHRecord) *string { return &r.Patient.GuardianName }),
	textField("TP_DOC", 487, 487, func(r *models.AIHRecord) *string { return &r.Patient.DocumentType }),
	textField("NU_DOC", 488, 519, func(r *models.AIHRecord) *string { return &r.Patient.DocumentNumber }),
	textField("CNS", 520, 534, func(r *models.AIHRecord) *string { return &r.Patient.HealthCardID }),
	textField("NAC", 535, 537, func(r *models.AIHRecord) *string { return &r.Patient.Nationality }),
	textField("TP_LOGR", 538, 540, func(r *models.AIHRecord) *string { return &r.Patient.Address.StreetType }),
	textField("LOGR", 541, 590, func(r *models.AIHRecord) *string { return &r.Patient.Address.Street }),
	textField("NUM", 591, 597, func(r *models.AIHRecord) *string { return &r.Patient.Address.Number }),
	textField("COMPL", 598, 612, func(r *models.AIHRecord) *string { return &r.Patient.Address.Complement }),
	textField("BAIRRO", 613, 642, func(r *models.AIHRecord) *string { return &r.Patient.Address.District }),
	textField("MUN_END", 643, 648, func(r *models.AIHRecord) *string { return &r.Patient.Address.MunicipalityCode }),
	textField("UF", 649, 650, func(r *models.AIHRecord) *string { return &r.Patient.Address.State }),
	textField("CEP", 651, 658, func(r *models.AIHRecord) *string { return &r.Patient.Address.PostalCode }),
	textField("PRONTUARIO", 659, 673, func(r *models.AIHRecord) *string { return &r.Patient.MedicalRecord }),
}

// Offsets inside one secondary procedure item, 1-based and relative to the
// item start.
const (
	itemCBOStart        = 17
	itemCBOEnd          = 22
	itemProcedureStart  = 39
	itemProcedureEnd    = 48
	itemQuantityStart   = 49
	itemQuantityEnd     = 51
	itemCompetenceStart = 52
	itemCompetenceEnd   = 57
)

const (
	recordTypeStart = 57
	recordTypeEnd   = 58
	taxIDMaxLength  = 11
)

// FixedWidthParser turns SISAIH01 lines into AIH records. It holds no state
// between lines and performs no I/O.
type FixedWidthParser struct {
	StrictLength bool
}

// NewFixedWidthParser creates a parser. With strictLength set, lines shorter
// than FullLineLength are skipped instead of read with empty trailing fields.
func NewFixedWidthParser(strictLength bool) *FixedWidthParser {
	return &FixedWidthParser{StrictLength: strictLength}
}

// ParseLine parses one decoded line. When the returned SkipReason is not
// SkipNone the record is nil. Trailing CR/LF is ignored.
func (p *FixedWidthParser) ParseLine(line string) (*models.AIHRecord, SkipReason) {
	line = strings.TrimRight(line, "\r\n")

	length := utf8.RuneCountInString(line)
	if length < MinLineLength || (p.StrictLength && length < FullLineLength) {
		return nil, SkipTooShort
	}

	runes := []rune(line)
	recordType := models.RecordType(slice(runes, recordTypeStart, recordTypeEnd))
	if !recordType.IsValid() {
		return nil, SkipUnsupportedType
	}

	rec := &models.AIHRecord{RecordType: recordType, Source: models.SourceSISAIH}
	for _, f := range sisaihLayout {
		f.set(rec, slice(runes, f.start, f.end))
	}

	if rec.Patient.DocumentType == models.DocumentTypeCPF {
		rec.Patient.TaxID = clip(normalize.Digits(rec.Patient.DocumentNumber), taxIDMaxLength)
	}
	rec.SecondaryProcedures = parseProcedureItems(runes)

	return rec, SkipNone
}

func parseProcedureItems(runes []rune) []models.ProcedureItem {
	var items []models.ProcedureItem
	for i := 0; i < procedureItemCount; i++ {
		base := procedureBlockStart + i*procedureItemWidth - 1
		code := slice(runes, base+itemProcedureStart, base+itemProcedureEnd)
		if strings.Trim(code, "0") == "" {
			continue
		}
		quantity, err := strconv.Atoi(slice(runes, base+itemQuantityStart, base+itemQuantityEnd))
		if err != nil {
			quantity = 0
		}
		items = append(items, models.ProcedureItem{
			Code:       code,
			Quantity:   quantity,
			Competence: slice(runes, base+itemCompetenceStart, base+itemCompetenceEnd),
			CBO:        slice(runes, base+itemCBOStart, base+itemCBOEnd),
		})
	}
	return items
}

// slice returns the trimmed text between 1-based inclusive offsets. A field
// that does not end inside the line is empty, even when it starts there.
func slice(runes []rune, start, end int) string {
	if start < 1 || end > len(runes) || start > end {
		return ""
	}
	return strings.TrimSpace(string(runes[start-1 : end]))
}

func clip(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	return string([]rune(s)[:max])
}

// EncodeLine renders a record in the SISAIH01 layout, padded to
// FullLineLength. Values longer than their field are truncated. Used to
// produce fixtures and to re-export filtered extracts.
func EncodeLine(rec *models.AIHRecord) string {
	buf := []rune(strings.Repeat(" ", FullLineLength))
	put := func(start, end int, v string) {
		width := end - start + 1
		copy(buf[start-1:end], []rune(clip(v, width)))
	}

	for _, f := range sisaihLayout {
		put(f.start, f.end, f.get(rec))
	}
	put(recordTypeStart, recordTypeEnd, string(rec.RecordType))

	for i, item := range rec.SecondaryProcedures {
		if i >= procedureItemCount {
			break
		}
		base := procedureBlockStart + i*procedureItemWidth - 1
		put(base+itemCBOStart, base+itemCBOEnd, item.CBO)
		put(base+itemProcedureStart, base+itemProcedureEnd, item.Code)
		put(base+itemQuantityStart, base+itemQuantityEnd, leftPad(strconv.Itoa(item.Quantity), 3))
		put(base+itemCompetenceStart, base+itemCompetenceEnd, item.Competence)
	}

	return string(buf)
}

func leftPad(s string, width int) string {
	if len(s) >= width {
		return s
	}
	return strings.Repeat("0", width-len(s)) + s
}
