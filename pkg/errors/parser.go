package errors

import (
	"fmt"
	"path/filepath"
	"strings"
)

// ParseContext locates a problem inside an input file.
type ParseContext struct {
	File     string `json:"file"`
	Line     int    `json:"line"`
	Column   string `json:"column"`
	Value    string `json:"value"`
	Expected string `json:"expected,omitempty"`
}

// RowError is a ReconError raised for a single line or row of input.
// Recoverable row errors are counted and skipped; the rest abort the input.
type RowError struct {
	*ReconError
	Location    *ParseContext `json:"location"`
	Recoverable bool          `json:"recoverable"`
	Examples    []string      `json:"examples,omitempty"`
}

// Error implements the error interface with the location appended
func (e *RowError) Error() string {
	parts := []string{e.ReconError.Error()}

	if e.Location != nil {
		location := fmt.Sprintf("at %s", filepath.Base(e.Location.File))
		if e.Location.Line > 0 {
			location += fmt.Sprintf(":%d", e.Location.Line)
		}
		if e.Location.Column != "" {
			location += fmt.Sprintf(" column '%s'", e.Location.Column)
		}
		parts = append(parts, location)
	}

	return strings.Join(parts, " ")
}

// As lets errors.As find the embedded ReconError.
func (e *RowError) As(target interface{}) bool {
	if t, ok := target.(**ReconError); ok {
		*t = e.ReconError
		return true
	}
	return false
}

// GetDetailedError returns a detailed multi-line error description
func (e *RowError) GetDetailedError() string {
	lines := []string{fmt.Sprintf("ERROR: %s", e.Message)}

	if e.Location != nil {
		lines = append(lines, fmt.Sprintf("  → File: %s", e.Location.File))
		if e.Location.Line > 0 {
			lines = append(lines, fmt.Sprintf("  → Line: %d", e.Location.Line))
		}
		if e.Location.Column != "" {
			lines = append(lines, fmt.Sprintf("  → Column: %s", e.Location.Column))
		}
		if e.Location.Value != "" {
			lines = append(lines, fmt.Sprintf("  → Value: '%s'", e.Location.Value))
		}
		if e.Location.Expected != "" {
			lines = append(lines, fmt.Sprintf("  → Expected: %s", e.Location.Expected))
		}
	}

	if e.Suggestion != "" {
		lines = append(lines, fmt.Sprintf("  → Suggestion: %s", e.Suggestion))
	}

	if len(e.Examples) > 0 {
		lines = append(lines, "  → Examples:")
		for _, example := range e.Examples {
			lines = append(lines, fmt.Sprintf("    • %s", example))
		}
	}

	return strings.Join(lines, "\n")
}

// NewRowError creates a new row-level error
func NewRowError(code ErrorCode, location *ParseContext, message string, cause error) *RowError {
	base := newOrWrap(cause, CategoryParse, code, message)

	if location != nil {
		base.WithContext("file", location.File).
			WithContext("line", location.Line).
			WithContext("column", location.Column).
			WithContext("value", location.Value)
	}

	return &RowError{
		ReconError:  base,
		Location:    location,
		Recoverable: true,
	}
}

// WithExamples adds example values to help fix the error
func (e *RowError) WithExamples(examples ...string) *RowError {
	e.Examples = examples
	return e
}

// WithSuggestion adds a suggestion and returns the RowError
func (e *RowError) WithSuggestion(suggestion string) *RowError {
	e.ReconError.WithSuggestion(suggestion)
	return e
}

// InvalidAmountError reports a monetary column that is not a decimal number.
func InvalidAmountError(file string, line int, column, value string, cause error) *RowError {
	location := &ParseContext{File: file, Line: line, Column: column, Value: value, Expected: "decimal amount"}

	return NewRowError(CodeInvalidAmount, location, "invalid amount format", cause).
		WithExamples("1234.56", "1.234,56", "R$ 98,70").
		WithSuggestion("use a decimal amount; currency symbols and thousand separators are accepted")
}

// InvalidQuantityError reports a quantity column that is not a whole number.
func InvalidQuantityError(file string, line int, column, value string, cause error) *RowError {
	location := &ParseContext{File: file, Line: line, Column: column, Value: value, Expected: "non-negative integer"}

	return NewRowError(CodeInvalidQuantity, location, "invalid quantity", cause).
		WithExamples("1", "3", "12")
}

// EmptyValueError reports an empty required value.
func EmptyValueError(file string, line int, column string) *RowError {
	location := &ParseContext{File: file, Line: line, Column: column, Expected: "non-empty value"}

	return NewRowError(CodeMissingField, location, "required field is empty", nil).
		WithSuggestion("provide a value for this required field")
}

// MissingColumnError reports required columns absent from a header row.
// Structural failures are never recoverable.
func MissingColumnError(file string, expected, actual []string) *RowError {
	missing := findMissingColumns(expected, actual)
	location := &ParseContext{
		File:     file,
		Line:     1,
		Column:   strings.Join(missing, ", "),
		Expected: fmt.Sprintf("columns: %s", strings.Join(expected, ", ")),
	}

	err := NewRowError(CodeMissingColumn, location,
		fmt.Sprintf("missing required columns: %s", strings.Join(missing, ", ")), nil).
		WithSuggestion("add the missing columns or map them with a column alias")
	err.Recoverable = false
	return err
}

// RowErrorCollector collects row errors up to a limit.
type RowErrorCollector struct {
	errors    []*RowError
	maxErrors int
}

// NewRowErrorCollector creates a collector keeping at most maxErrors errors.
// A non-positive limit keeps every error.
func NewRowErrorCollector(maxErrors int) *RowErrorCollector {
	return &RowErrorCollector{maxErrors: maxErrors}
}

// Add records err and reports whether processing may continue.
func (c *RowErrorCollector) Add(err *RowError) bool {
	if err == nil {
		return true
	}
	if c.maxErrors <= 0 || len(c.errors) < c.maxErrors {
		c.errors = append(c.errors, err)
	}
	return err.Recoverable
}

// HasErrors returns true if any errors have been collected
func (c *RowErrorCollector) HasErrors() bool {
	return len(c.errors) > 0
}

// GetErrors returns all collected errors
func (c *RowErrorCollector) GetErrors() []*RowError {
	return c.errors
}

// GetSummary returns an error summary for all collected errors
func (c *RowErrorCollector) GetSummary() *ErrorSummary {
	base := make([]*ReconError, len(c.errors))
	for i, err := range c.errors {
		base[i] = err.ReconError
	}
	return NewErrorSummary(base)
}

func findMissingColumns(expected, actual []string) []string {
	actualSet := make(map[string]bool)
	for _, col := range actual {
		actualSet[strings.ToLower(strings.TrimSpace(col))] = true
	}

	var missing []string
	for _, col := range expected {
		if !actualSet[strings.ToLower(strings.TrimSpace(col))] {
			missing = append(missing, col)
		}
	}

	return missing
}
