package models

import (
	"fmt"
	"time"
)

const (
	isoLayout     = "2006-01-02"
	displayLayout = "02/01/2006"
	compactLayout = "20060102"
)

// Date is a calendar day without time of day or zone. Both textual forms
// are rendered from the same parsed value.
type Date struct {
	t time.Time
}

// NewDate builds a Date. Out-of-range components normalise the way time.Date does.
func NewDate(year int, month time.Month, day int) *Date {
	return &Date{t: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// ParseCompactDate parses an 8-digit YYYYMMDD value. The all-zero sentinel,
// values of the wrong length and non-calendar dates yield nil.
func ParseCompactDate(s string) *Date {
	if len(s) != 8 || s == "00000000" {
		return nil
	}
	t, err := time.Parse(compactLayout, s)
	if err != nil {
		return nil
	}
	return &Date{t: t}
}

// ParseDate accepts YYYY-MM-DD, DD/MM/YYYY and YYYYMMDD.
func ParseDate(s string) (*Date, error) {
	if d := ParseCompactDate(s); d != nil {
		return d, nil
	}
	for _, layout := range []string{isoLayout, displayLayout} {
		if t, err := time.Parse(layout, s); err == nil {
			return &Date{t: t}, nil
		}
	}
	return nil, fmt.Errorf("invalid date '%s'", s)
}

// ISO returns the YYYY-MM-DD form, or "" for a nil Date.
func (d *Date) ISO() string {
	if d == nil {
		return ""
	}
	return d.t.Format(isoLayout)
}

// Display returns the DD/MM/YYYY form, or "" for a nil Date.
func (d *Date) Display() string {
	if d == nil {
		return ""
	}
	return d.t.Format(displayLayout)
}

// Compact returns the YYYYMMDD form used by fixed-width extracts, or "" for a nil Date.
func (d *Date) Compact() string {
	if d == nil {
		return ""
	}
	return d.t.Format(compactLayout)
}

// Time returns the date at midnight UTC.
func (d *Date) Time() time.Time {
	if d == nil {
		return time.Time{}
	}
	return d.t
}

// Equal reports whether both dates are the same day. Two nil dates are equal.
func (d *Date) Equal(other *Date) bool {
	if d == nil || other == nil {
		return d == nil && other == nil
	}
	return d.t.Equal(other.t)
}

func (d *Date) String() string {
	return d.ISO()
}

// MarshalText renders the ISO form for JSON and YAML output.
func (d Date) MarshalText() ([]byte, error) {
	return []byte(d.t.Format(isoLayout)), nil
}

// UnmarshalText accepts any form understood by ParseDate.
func (d *Date) UnmarshalText(b []byte) error {
	parsed, err := ParseDate(string(b))
	if err != nil {
		return err
	}
	*d = *parsed
	return nil
}
