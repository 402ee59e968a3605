package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestRecordType_IsValid(t *testing.T) {
	tests := []struct {
		recordType RecordType
		valid      bool
	}{
		{RecordTypePrincipal, true},
		{RecordTypeContinuation, true},
		{RecordTypeLongStay, true},
		{"02", false},
		{"99", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(string(tt.recordType), func(t *testing.T) {
			if got := tt.recordType.IsValid(); got != tt.valid {
				t.Errorf("RecordType.IsValid() = %v, want %v", got, tt.valid)
			}
		})
	}
}

func TestParseCompactDate(t *testing.T) {
	tests := []struct {
		input   string
		iso     string
		display string
		isNil   bool
	}{
		{input: "20240115", iso: "2024-01-15", display: "15/01/2024"},
		{input: "19991231", iso: "1999-12-31", display: "31/12/1999"},
		{input: "20240229", iso: "2024-02-29", display: "29/02/2024"},
		{input: "00000000", isNil: true},
		{input: "20230229", isNil: true},
		{input: "20241301", isNil: true},
		{input: "2024011", isNil: true},
		{input: "2024-01-15", isNil: true},
		{input: "", isNil: true},
		{input: "ABCDEFGH", isNil: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			d := ParseCompactDate(tt.input)
			if tt.isNil {
				if d != nil {
					t.Fatalf("expected nil date for %q, got %s", tt.input, d.ISO())
				}
				return
			}
			if d == nil {
				t.Fatalf("expected a date for %q", tt.input)
			}
			if d.ISO() != tt.iso {
				t.Errorf("ISO() = %s, want %s", d.ISO(), tt.iso)
			}
			if d.Display() != tt.display {
				t.Errorf("Display() = %s, want %s", d.Display(), tt.display)
			}
		})
	}
}

func TestDate_NilSafe(t *testing.T) {
	var d *Date
	if d.ISO() != "" || d.Display() != "" {
		t.Error("nil date should render as empty strings")
	}
	if !d.Time().IsZero() {
		t.Error("nil date should have zero time")
	}
	if !d.Equal(nil) {
		t.Error("two nil dates should be equal")
	}
	if d.Equal(NewDate(2024, time.January, 1)) {
		t.Error("nil date should not equal a real date")
	}
}

func TestParseDate_Forms(t *testing.T) {
	for _, input := range []string{"2024-01-15", "15/01/2024", "20240115"} {
		d, err := ParseDate(input)
		if err != nil {
			t.Fatalf("ParseDate(%q) error: %v", input, err)
		}
		if d.ISO() != "2024-01-15" {
			t.Errorf("ParseDate(%q) = %s", input, d.ISO())
		}
	}
	if _, err := ParseDate("15-01-2024"); err == nil {
		t.Error("expected error for unsupported layout")
	}
}

func TestDate_JSON(t *testing.T) {
	rec := AIHRecord{AuthorizationNumber: "3524100000011", AdmissionDate: NewDate(2024, time.January, 15)}

	data, err := json.Marshal(rec)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	var decoded AIHRecord
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if !decoded.AdmissionDate.Equal(rec.AdmissionDate) {
		t.Errorf("admission date changed: %s vs %s", decoded.AdmissionDate, rec.AdmissionDate)
	}
	if decoded.DischargeDate != nil {
		t.Error("absent discharge date should stay nil")
	}
}

func TestParseMajorUnits(t *testing.T) {
	tests := []struct {
		input    string
		expected MinorUnits
		wantErr  bool
	}{
		{input: "1234.56", expected: 123456},
		{input: "1.234,56", expected: 123456},
		{input: "1,234.56", expected: 123456},
		{input: "R$ 98,70", expected: 9870},
		{input: "123,45", expected: 12345},
		{input: "123", expected: 12300},
		{input: "1.234.567", expected: 123456700},
		{input: "0,505", expected: 51},
		{input: "0.504", expected: 50},
		{input: "-10,50", expected: -1050},
		{input: "", wantErr: true},
		{input: "abc", wantErr: true},
		{input: "1,2,3", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseMajorUnits(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseMajorUnits(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.expected {
				t.Errorf("ParseMajorUnits(%q) = %d, want %d", tt.input, got, tt.expected)
			}
		})
	}
}

func TestMinorUnits_Rendering(t *testing.T) {
	tests := []struct {
		value MinorUnits
		str   string
		brl   string
	}{
		{12345, "123.45", "R$ 123,45"},
		{123456789, "1234567.89", "R$ 1.234.567,89"},
		{5, "0.05", "R$ 0,05"},
		{-1050, "-10.50", "-R$ 10,50"},
	}

	for _, tt := range tests {
		t.Run(tt.str, func(t *testing.T) {
			if tt.value.String() != tt.str {
				t.Errorf("String() = %s, want %s", tt.value.String(), tt.str)
			}
			if tt.value.BRL() != tt.brl {
				t.Errorf("BRL() = %s, want %s", tt.value.BRL(), tt.brl)
			}
		})
	}

	if !MinorUnits(12345).Decimal().Equal(decimal.RequireFromString("123.45")) {
		t.Error("Decimal() should return major units")
	}
	if FromFloat(123.45) != 12345 {
		t.Errorf("FromFloat(123.45) = %d", FromFloat(123.45))
	}
}

func TestParseQuantity(t *testing.T) {
	tests := []struct {
		input    string
		expected int
		wantErr  bool
	}{
		{"1", 1, false},
		{"12", 12, false},
		{"2,00", 2, false},
		{"3.0", 3, false},
		{"1,5", 0, true},
		{"-1", 0, true},
		{"", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseQuantity(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseQuantity(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if got != tt.expected {
				t.Errorf("ParseQuantity(%q) = %d, want %d", tt.input, got, tt.expected)
			}
		})
	}
}

func TestNormalizeCompetence(t *testing.T) {
	tests := []struct {
		input    string
		expected string
		wantErr  bool
	}{
		{"202401", "202401", false},
		{"01/2024", "202401", false},
		{"2024-01", "202401", false},
		{"2024/12", "202412", false},
		{"202413", "", true},
		{"13/2024", "", true},
		{"jan/24", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := NormalizeCompetence(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NormalizeCompetence(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if got != tt.expected {
				t.Errorf("NormalizeCompetence(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestAIHRecord_Validate(t *testing.T) {
	tests := []struct {
		name    string
		record  AIHRecord
		wantErr bool
	}{
		{"valid", AIHRecord{AuthorizationNumber: "3524100000011", RecordType: RecordTypePrincipal, CompetencePeriod: "202401"}, false},
		{"internal without type", AIHRecord{AuthorizationNumber: "3524100000011"}, false},
		{"empty number", AIHRecord{AuthorizationNumber: "  "}, true},
		{"bad type", AIHRecord{AuthorizationNumber: "1", RecordType: "99"}, true},
		{"bad competence", AIHRecord{AuthorizationNumber: "1", CompetencePeriod: "2024"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.record.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestRowValidation(t *testing.T) {
	audit := PayerAuditRecord{AuthorizationNumber: "1", ProcedureCode: "2", Quantity: -1}
	if audit.Validate() == nil {
		t.Error("negative audit quantity should fail")
	}
	audit.Quantity = 1
	audit.Competence = "01/2024"
	if audit.Validate() == nil {
		t.Error("non-normalized competence should fail")
	}

	system := SystemProcedureRecord{AuthorizationNumber: "1", ProcedureCode: "2", Quantity: 2}
	if err := system.Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}
