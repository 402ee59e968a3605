// Package errors defines the categorized error type shared by the parsers,
// the reconciler, the store and the CLI. The category decides the process
// exit code; the code identifies the failure for tests and reports.
package errors

import (
	"fmt"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// ErrorCategory groups error codes by the layer that failed.
type ErrorCategory string

const (
	CategoryFile           ErrorCategory = "file"
	CategoryParse          ErrorCategory = "parse"
	CategoryValidation     ErrorCategory = "validation"
	CategoryConfiguration  ErrorCategory = "configuration"
	CategoryReconciliation ErrorCategory = "reconciliation"
	CategoryStore          ErrorCategory = "store"
	CategoryInternal       ErrorCategory = "internal"
)

// exitCodes maps categories to process exit codes. Unknown categories exit 1.
var exitCodes = map[ErrorCategory]int{
	CategoryFile:           2,
	CategoryParse:          3,
	CategoryValidation:     3,
	CategoryConfiguration:  4,
	CategoryReconciliation: 5,
	CategoryInternal:       5,
	CategoryStore:          6,
}

// ErrorCode identifies a specific failure.
type ErrorCode string

const (
	CodeFileNotFound   ErrorCode = "file_not_found"
	CodeFilePermission ErrorCode = "file_permission"
	CodeFileCorrupted  ErrorCode = "file_corrupted"
	CodeDirectoryError ErrorCode = "directory_error"

	CodeInvalidFormat  ErrorCode = "invalid_format"
	CodeMissingColumn  ErrorCode = "missing_column"
	CodeHeaderNotFound ErrorCode = "header_not_found"
	CodeInvalidData    ErrorCode = "invalid_data"
	CodeEncodingError  ErrorCode = "encoding_error"

	CodeInvalidAmount     ErrorCode = "invalid_amount"
	CodeInvalidQuantity   ErrorCode = "invalid_quantity"
	CodeInvalidCompetence ErrorCode = "invalid_competence"
	CodeInvalidDate       ErrorCode = "invalid_date"
	CodeMissingField      ErrorCode = "missing_field"
	CodeOutOfRange        ErrorCode = "out_of_range"

	CodeInvalidConfig  ErrorCode = "invalid_config"
	CodeMissingConfig  ErrorCode = "missing_config"
	CodeConfigConflict ErrorCode = "config_conflict"

	CodeDataInconsistent ErrorCode = "data_inconsistent"
	CodeProcessingError  ErrorCode = "processing_error"

	CodeConnectionFailed ErrorCode = "connection_failed"
	CodeQueryFailed      ErrorCode = "query_failed"

	CodeUnexpectedError ErrorCode = "unexpected_error"
	CodeCancelled       ErrorCode = "cancelled"
)

// template is the message layout and hint for one code. The message is a
// format string filled with the arguments of its category's constructor.
type template struct {
	message    string
	suggestion string
}

var templates = map[ErrorCategory]map[ErrorCode]template{
	CategoryFile: {
		CodeFileNotFound:   {"file not found: %s", "check the path; extracts are usually named AIH<competence>.TXT"},
		CodeFilePermission: {"permission denied reading %s", "check that the file is readable by the current user"},
		CodeFileCorrupted:  {"file could not be read: %s", "export the file again from its source system"},
		CodeDirectoryError: {"directory error: %s", "ensure the directory exists and is writable"},
	},
	CategoryParse: {
		CodeInvalidFormat:  {"malformed value in %s line %d, column '%s': '%s'", "compare the row with the expected export layout"},
		CodeMissingColumn:  {"%[1]s has no column '%[3]s'", "rename the header or map it under columns in the config file"},
		CodeHeaderNotFound: {"no header row found in %[1]s", "the header must appear in the first rows and name the authorization column"},
		CodeInvalidData:    {"invalid value in %s line %d, column '%s': '%s'", "correct the value or remove the row"},
		CodeEncodingError:  {"undecodable text in %[1]s line %[2]d", "SISAIH01 extracts are ISO-8859-1; tabular exports should be UTF-8 or ISO-8859-1"},
	},
	CategoryValidation: {
		CodeInvalidAmount:     {"invalid amount in '%s': %v", "use a decimal amount such as '1234.56' or '1.234,56'"},
		CodeInvalidQuantity:   {"invalid quantity in '%s': %v", "quantities are non-negative whole numbers"},
		CodeInvalidCompetence: {"invalid competence in '%s': %v", "use the YYYYMM form, e.g. 202401"},
		CodeInvalidDate:       {"invalid date in '%s': %v", "use YYYY-MM-DD, DD/MM/YYYY or YYYYMMDD"},
		CodeMissingField:      {"'%[1]s' is missing or empty", "provide a value for it"},
		CodeOutOfRange:        {"'%s' is out of range: %v", "check the accepted range in the command help"},
	},
	CategoryConfiguration: {
		CodeInvalidConfig:  {"invalid setting '%s': %v", "check the command help for valid values"},
		CodeMissingConfig:  {"setting '%[1]s' is required", "set it with a flag, an AIHRECON_ environment variable or the config file"},
		CodeConfigConflict: {"setting '%s' conflicts with another option: %v", "drop one of the conflicting options"},
	},
	CategoryReconciliation: {
		CodeDataInconsistent: {"inconsistent data during %s", "check that both sources cover the same competence and facility"},
		CodeProcessingError:  {"%s failed", "check the input files and try again"},
	},
	CategoryStore: {
		CodeConnectionFailed: {"cannot reach the internal system database during %s", "check --dsn and that PostgreSQL is reachable"},
		CodeQueryFailed:      {"query failed during %s", "run 'aihrecon db migrate' or check the table layout"},
		CodeCancelled:        {"%s was cancelled", "run the command again"},
	},
	CategoryInternal: {
		CodeProcessingError: {"%s failed", "check the output destination and try again"},
		CodeUnexpectedError: {"unexpected error during %s", "this is a bug; report it with the error details"},
		CodeCancelled:       {"%s was cancelled", "run the command again; partial results were discarded"},
	},
}

// describe renders the template registered for category and code, or
// fallback when there is none.
func describe(category ErrorCategory, code ErrorCode, fallback string, args ...interface{}) (string, string) {
	t, ok := templates[category][code]
	if !ok {
		return fmt.Sprintf(fallback, args...), ""
	}
	return fmt.Sprintf(t.message, args...), t.suggestion
}

// ReconError is the error type returned across package boundaries.
type ReconError struct {
	Category   ErrorCategory     `json:"category"`
	Code       ErrorCode         `json:"code"`
	Message    string            `json:"message"`
	Suggestion string            `json:"suggestion,omitempty"`
	Context    Context           `json:"context,omitempty"`
	Cause      error             `json:"-"`
	StackTrace errors.StackTrace `json:"-"`
}

// Context holds structured details such as the file, line or setting.
type Context map[string]interface{}

func (e *ReconError) Error() string {
	if e.Suggestion == "" {
		return e.Message
	}
	return e.Message + " (suggestion: " + e.Suggestion + ")"
}

func (e *ReconError) Unwrap() error { return e.Cause }

// GetExitCode returns the process exit code for the error's category.
func (e *ReconError) GetExitCode() int {
	if code, ok := exitCodes[e.Category]; ok {
		return code
	}
	return 1
}

// WithContext records a detail and returns e.
func (e *ReconError) WithContext(key string, value interface{}) *ReconError {
	if e.Context == nil {
		e.Context = Context{}
	}
	e.Context[key] = value
	return e
}

// WithSuggestion replaces the hint shown to the operator.
func (e *ReconError) WithSuggestion(suggestion string) *ReconError {
	e.Suggestion = suggestion
	return e
}

// ContextKeys returns the context keys sorted.
func (e *ReconError) ContextKeys() []string {
	keys := make([]string, 0, len(e.Context))
	for k := range e.Context {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

type stackTracer interface {
	StackTrace() errors.StackTrace
}

// New returns an error without a cause.
func New(category ErrorCategory, code ErrorCode, message string) *ReconError {
	return &ReconError{
		Category:   category,
		Code:       code,
		Message:    message,
		StackTrace: errors.New("").(stackTracer).StackTrace(),
	}
}

// Wrap attaches category and code to err. It returns nil for a nil err.
func Wrap(err error, category ErrorCategory, code ErrorCode, message string) *ReconError {
	if err == nil {
		return nil
	}
	e := New(category, code, message)
	e.Cause = err
	e.StackTrace = errors.WithStack(err).(stackTracer).StackTrace()
	return e
}

// newOrWrap wraps cause, or creates a fresh error when cause is nil.
func newOrWrap(cause error, category ErrorCategory, code ErrorCode, message string) *ReconError {
	if cause != nil {
		return Wrap(cause, category, code, message)
	}
	return New(category, code, message)
}

// build is shared by the category constructors: cause may be nil.
func build(category ErrorCategory, code ErrorCode, cause error, fallback string, args ...interface{}) *ReconError {
	message, suggestion := describe(category, code, fallback, args...)
	e := newOrWrap(cause, category, code, message)
	if suggestion != "" {
		e.Suggestion = suggestion
	}
	return e
}

// FileError reports a file that could not be opened, read or written.
func FileError(code ErrorCode, path string, err error) *ReconError {
	return build(CategoryFile, code, err, "file error: %s", path).
		WithContext("file_path", path)
}

// ParseError reports a malformed row or layout in file.
func ParseError(code ErrorCode, file string, line int, column string, value string, err error) *ReconError {
	return build(CategoryParse, code, err, "cannot parse %s line %d, column '%s': '%s'", file, line, column, value).
		WithContext("file", file).
		WithContext("line", line).
		WithContext("column", column).
		WithContext("value", value)
}

// ValidationError reports a field whose value is not acceptable.
func ValidationError(code ErrorCode, field string, value interface{}, err error) *ReconError {
	e := build(CategoryValidation, code, err, "invalid value in '%s': %v", field, value)
	if e.Suggestion == "" {
		e.Suggestion = "check the field value and format"
	}
	return e.WithContext("field", field).WithContext("value", value)
}

// ConfigurationError reports a bad or missing setting.
func ConfigurationError(code ErrorCode, setting string, value interface{}, err error) *ReconError {
	return build(CategoryConfiguration, code, err, "configuration error in '%s': %v", setting, value).
		WithContext("setting", setting).
		WithContext("value", value)
}

// ReconciliationError reports a failure while comparing sources.
func ReconciliationError(code ErrorCode, operation string, err error) *ReconError {
	return build(CategoryReconciliation, code, err, "reconciliation failed during %s", operation).
		WithContext("operation", operation)
}

// StoreError reports a failure talking to the internal system database.
func StoreError(code ErrorCode, operation string, err error) *ReconError {
	return build(CategoryStore, code, err, "store error during %s", operation).
		WithContext("operation", operation)
}

// InternalError reports a bug or a cancelled run.
func InternalError(code ErrorCode, operation string, err error) *ReconError {
	return build(CategoryInternal, code, err, "internal error during %s", operation).
		WithContext("operation", operation)
}

// ErrorSummary aggregates the errors collected while reading a file.
type ErrorSummary struct {
	Total        int                   `json:"total"`
	ByCategory   map[ErrorCategory]int `json:"by_category"`
	ByCode       map[ErrorCode]int     `json:"by_code"`
	Errors       []*ReconError         `json:"errors"`
	SampleErrors []*ReconError         `json:"sample_errors,omitempty"`
}

const summarySamples = 5

func NewErrorSummary(errs []*ReconError) *ErrorSummary {
	if errs == nil {
		errs = []*ReconError{}
	}
	s := &ErrorSummary{
		Total:      len(errs),
		ByCategory: map[ErrorCategory]int{},
		ByCode:     map[ErrorCode]int{},
		Errors:     errs,
	}
	for _, err := range errs {
		s.ByCategory[err.Category]++
		s.ByCode[err.Code]++
	}
	if len(errs) > 0 {
		s.SampleErrors = errs[:min(len(errs), summarySamples)]
	}
	return s
}

func (es *ErrorSummary) Error() string {
	switch es.Total {
	case 0:
		return "no errors"
	case 1:
		return es.Errors[0].Error()
	}

	parts := make([]string, 0, len(es.ByCategory))
	for category, count := range es.ByCategory {
		parts = append(parts, fmt.Sprintf("%s: %d", category, count))
	}
	sort.Strings(parts)
	return fmt.Sprintf("%d errors occurred (%s)", es.Total, strings.Join(parts, ", "))
}

func (es *ErrorSummary) HasCategory(category ErrorCategory) bool { return es.ByCategory[category] > 0 }

func (es *ErrorSummary) HasCode(code ErrorCode) bool { return es.ByCode[code] > 0 }

// GetExitCode returns the highest exit code among the errors, 0 when empty.
func (es *ErrorSummary) GetExitCode() int {
	if es.Total == 0 {
		return 0
	}
	highest := 1
	for _, err := range es.Errors {
		highest = max(highest, err.GetExitCode())
	}
	return highest
}

// AsReconError finds the first ReconError in err's chain.
func AsReconError(err error) (*ReconError, bool) {
	var reconErr *ReconError
	if errors.As(err, &reconErr) {
		return reconErr, true
	}
	return nil, false
}

// IsCode reports whether the first ReconError in err's chain carries code.
func IsCode(err error, code ErrorCode) bool {
	reconErr, ok := AsReconError(err)
	return ok && reconErr.Code == code
}

// WrapIfNeeded returns the ReconError already in err's chain, or wraps err.
func WrapIfNeeded(err error, category ErrorCategory, code ErrorCode, message string) *ReconError {
	if err == nil {
		return nil
	}
	if reconErr, ok := AsReconError(err); ok {
		return reconErr
	}
	return Wrap(err, category, code, message)
}
