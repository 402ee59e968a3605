package parsers

import (
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"aih-reconciliation-service/internal/models"
)

func sampleAIH() *models.AIHRecord {
	return &models.AIHRecord{
		AuthorizationNumber:    "3524100000011",
		RecordType:             models.RecordTypePrincipal,
		BatchNumber:            "00000012",
		CompetencePeriod:       "202401",
		FacilityCode:           "2077485",
		MunicipalityCode:       "355030",
		Specialty:              "03",
		IssueDate:              models.NewDate(2024, time.January, 10),
		AdmissionDate:          models.NewDate(2024, time.January, 15),
		DischargeDate:          models.NewDate(2024, time.January, 20),
		RequestedProcedureCode: "0303140151",
		PrimaryProcedureCode:   "0303140151",
		AdmissionCharacter:     "02",
		DischargeReason:        "12",
		PrimaryDiagnosis:       "J189",
		Patient: models.Patient{
			Name:           "MARIA DA CONCEIÇÃO SILVA",
			BirthDate:      models.NewDate(1950, time.March, 2),
			Sex:            "F",
			HealthCardID:   "898001234567890",
			DocumentType:   models.DocumentTypeCPF,
			DocumentNumber: "12345678909",
			MotherName:     "ANA SILVA",
			Address: models.Address{
				Street:           "RUA DAS FLORES",
				Number:           "100",
				District:         "CENTRO",
				MunicipalityCode: "355030",
				State:            "SP",
				PostalCode:       "01001000",
			},
		},
		SecondaryProcedures: []models.ProcedureItem{
			{Code: "0802010083", Quantity: 5, Competence: "202401", CBO: "225125"},
			{Code: "0301060029", Quantity: 1, Competence: "202401", CBO: "225125"},
		},
	}
}

func TestParseLine_FullRecord(t *testing.T) {
	parser := NewFixedWidthParser(false)
	line := EncodeLine(sampleAIH())

	if utf8.RuneCountInString(line) != FullLineLength {
		t.Fatalf("encoded line has %d characters", utf8.RuneCountInString(line))
	}

	rec, reason := parser.ParseLine(line + "\r\n")
	if reason != SkipNone {
		t.Fatalf("unexpected skip reason %q", reason)
	}

	checks := []struct {
		field string
		got   string
		want  string
	}{
		{"authorization", rec.AuthorizationNumber, "3524100000011"},
		{"record type", string(rec.RecordType), "01"},
		{"competence", rec.CompetencePeriod, "202401"},
		{"facility", rec.FacilityCode, "2077485"},
		{"admission ISO", rec.AdmissionDate.ISO(), "2024-01-15"},
		{"admission display", rec.AdmissionDate.Display(), "15/01/2024"},
		{"discharge", rec.DischargeDate.ISO(), "2024-01-20"},
		{"primary procedure", rec.PrimaryProcedureCode, "0303140151"},
		{"diagnosis", rec.PrimaryDiagnosis, "J189"},
		{"patient", rec.Patient.Name, "MARIA DA CONCEIÇÃO SILVA"},
		{"birth date", rec.Patient.BirthDate.ISO(), "1950-03-02"},
		{"sex", rec.Patient.Sex, "F"},
		{"tax id", rec.Patient.TaxID, "12345678909"},
		{"cns", rec.Patient.HealthCardID, "898001234567890"},
		{"state", rec.Patient.Address.State, "SP"},
		{"postal code", rec.Patient.Address.PostalCode, "01001000"},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %q, want %q", c.field, c.got, c.want)
		}
	}

	if rec.Source != models.SourceSISAIH {
		t.Errorf("expected source sisaih, got %s", rec.Source)
	}
	if !rec.CreatedAt.IsZero() {
		t.Error("parser output should carry no creation time")
	}
	if len(rec.SecondaryProcedures) != 2 {
		t.Fatalf("expected 2 secondary procedures, got %d", len(rec.SecondaryProcedures))
	}
	if item := rec.SecondaryProcedures[0]; item.Code != "0802010083" || item.Quantity != 5 || item.CBO != "225125" {
		t.Errorf("unexpected first item %+v", item)
	}
}

func TestParseLine_SkipReasons(t *testing.T) {
	parser := NewFixedWidthParser(false)

	unsupported := sampleAIH()
	unsupported.RecordType = "99"

	tests := []struct {
		name   string
		line   string
		reason SkipReason
	}{
		{"empty", "", SkipTooShort},
		{"short line", strings.Repeat("1", 50), SkipTooShort},
		{"just under minimum", strings.Repeat(" ", MinLineLength-1), SkipTooShort},
		{"unsupported type", EncodeLine(unsupported), SkipUnsupportedType},
		{"blank type", strings.Repeat(" ", FullLineLength), SkipUnsupportedType},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, reason := parser.ParseLine(tt.line)
			if reason != tt.reason {
				t.Errorf("reason = %q, want %q", reason, tt.reason)
			}
			if rec != nil {
				t.Error("skipped line must not produce a record")
			}
		})
	}
}

func TestParseLine_RetainedTypes(t *testing.T) {
	parser := NewFixedWidthParser(false)
	for _, rt := range []models.RecordType{models.RecordTypePrincipal, models.RecordTypeContinuation, models.RecordTypeLongStay} {
		rec := sampleAIH()
		rec.RecordType = rt
		parsed, reason := parser.ParseLine(EncodeLine(rec))
		if reason != SkipNone || parsed.RecordType != rt {
			t.Errorf("type %s: reason %q", rt, reason)
		}
	}
}

func TestParseLine_PartialLine(t *testing.T) {
	full := EncodeLine(sampleAIH())
	partial := string([]rune(full)[:120])

	rec, reason := NewFixedWidthParser(false).ParseLine(partial)
	if reason != SkipNone {
		t.Fatalf("partial line should be accepted, got %q", reason)
	}
	if rec.AuthorizationNumber != "3524100000011" {
		t.Errorf("fields inside the line should be read, got %q", rec.AuthorizationNumber)
	}
	if rec.AdmissionDate != nil || rec.Patient.Name != "" || len(rec.SecondaryProcedures) != 0 {
		t.Error("fields past the end of the line should be empty")
	}

	if _, reason := NewFixedWidthParser(true).ParseLine(partial); reason != SkipTooShort {
		t.Errorf("strict parser should skip partial lines, got %q", reason)
	}
}

func TestParseLine_FieldCrossingLineEnd(t *testing.T) {
	full := []rune(EncodeLine(sampleAIH()))

	tests := []struct {
		name      string
		length    int
		wantName  string
		wantDiag  string
		wantBirth bool
	}{
		{"name cut at 300", 300, "", "J189", false},
		{"name ends at 335", 335, "MARIA DA CONCEIÇÃO SILVA", "J189", false},
		{"name starts past the end", 265, "", "J189", false},
		{"birth date complete", 343, "MARIA DA CONCEIÇÃO SILVA", "J189", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, reason := NewFixedWidthParser(false).ParseLine(string(full[:tt.length]))
			if reason != SkipNone {
				t.Fatalf("unexpected skip %q", reason)
			}
			if rec.Patient.Name != tt.wantName {
				t.Errorf("Patient.Name = %q, want %q", rec.Patient.Name, tt.wantName)
			}
			if rec.PrimaryDiagnosis != tt.wantDiag {
				t.Errorf("PrimaryDiagnosis = %q, want %q", rec.PrimaryDiagnosis, tt.wantDiag)
			}
			if (rec.Patient.BirthDate != nil) != tt.wantBirth {
				t.Errorf("BirthDate = %v, want present=%v", rec.Patient.BirthDate, tt.wantBirth)
			}
		})
	}
}

func TestParseLine_Dates(t *testing.T) {
	rec := sampleAIH()
	line := []rune(EncodeLine(rec))
	copy(line[144:152], []rune("00000000"))
	copy(line[152:160], []rune("20240230"))

	parsed, reason := NewFixedWidthParser(false).ParseLine(string(line))
	if reason != SkipNone {
		t.Fatalf("unexpected skip %q", reason)
	}
	if parsed.AdmissionDate != nil {
		t.Errorf("zero date should be nil, got %s", parsed.AdmissionDate)
	}
	if parsed.DischargeDate != nil {
		t.Errorf("non-calendar date should be nil, got %s", parsed.DischargeDate)
	}
	if parsed.IssueDate.ISO() != "2024-01-10" {
		t.Errorf("issue date = %s", parsed.IssueDate.ISO())
	}
}

func TestParseLine_TaxIDOnlyForCPF(t *testing.T) {
	rec := sampleAIH()
	rec.Patient.DocumentType = "1"
	parsed, _ := NewFixedWidthParser(false).ParseLine(EncodeLine(rec))
	if parsed.Patient.TaxID != "" {
		t.Errorf("tax id should be empty for document type 1, got %q", parsed.Patient.TaxID)
	}
	if parsed.Patient.DocumentNumber != "12345678909" {
		t.Errorf("document number should still be read, got %q", parsed.Patient.DocumentNumber)
	}
}

func TestParseLine_Deterministic(t *testing.T) {
	parser := NewFixedWidthParser(false)
	line := EncodeLine(sampleAIH())
	a, _ := parser.ParseLine(line)
	b, _ := parser.ParseLine(line)
	if a.String() != b.String() || a == b {
		t.Error("parsing the same line twice should give equal, distinct records")
	}
}

func TestSISAIHLayout_NoOverlap(t *testing.T) {
	used := make(map[int]string)
	for _, f := range sisaihLayout {
		if f.start < 1 || f.end < f.start || f.end >= procedureBlockStart {
			t.Errorf("field %s has bad bounds %d-%d", f.name, f.start, f.end)
		}
		for col := f.start; col <= f.end; col++ {
			if other, ok := used[col]; ok {
				t.Errorf("column %d used by %s and %s", col, other, f.name)
			}
			used[col] = f.name
		}
	}
	for col := recordTypeStart; col <= recordTypeEnd; col++ {
		if other, ok := used[col]; ok {
			t.Errorf("record type column %d also used by %s", col, other)
		}
	}
	if last := procedureBlockStart + procedureItemCount*procedureItemWidth - 1; last > FullLineLength {
		t.Errorf("procedure block ends at %d, past the line", last)
	}
}
