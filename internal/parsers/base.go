// Package parsers reads the inputs of an AIH reconciliation run.
//
// Two families of input are supported:
//   - SISAIH01 fixed-width extracts from the government hospital information
//     system, one authorization per 1600-character line (FixedWidthParser,
//     SISAIHReader).
//   - Tabular exports: the payer audit spreadsheet (TabWin), the internal
//     system's AIH and procedure listings and the procedure catalog. These
//     are CSV files whose header row may be preceded by report titles, so
//     the header is located by scanning for a marker column.
//
// Malformed lines and rows are skipped and counted in the returned stats.
// Structural problems, such as a missing required column, fail the whole file.
//
// Example usage:
//
//	reader, err := NewSISAIHReader(DefaultSISAIHConfig(), log)
//	records, stats, err := reader.ReadFile(ctx, "SISAIH01_202401.txt")
//
//	audit, err := NewAuditParser(DefaultAuditColumns(), nil, log)
//	rows, stats, err := audit.ParseAudit(ctx, "tabwin_202401.csv")
package parsers

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"

	"aih-reconciliation-service/pkg/errors"
	"aih-reconciliation-service/pkg/logger"
)

// DefaultHeaderScanRows is how many leading rows are searched for the header.
const DefaultHeaderScanRows = 20

// Encoding names accepted by ParseConfig.Encoding.
const (
	EncodingAuto   = "auto"
	EncodingUTF8   = "utf-8"
	EncodingLatin1 = "latin1"
)

// ParseConfig holds configuration for tabular parsing
type ParseConfig struct {
	// Delimiter separates cells. Zero detects ';', ',' or tab from the data.
	Delimiter      rune   `json:"delimiter" mapstructure:"delimiter"`
	Encoding       string `json:"encoding" mapstructure:"encoding"`
	HeaderScanRows int    `json:"header_scan_rows" mapstructure:"header_scan_rows"`
	SkipEmptyRows  bool   `json:"skip_empty_rows" mapstructure:"skip_empty_rows"`
	MaxErrors      int    `json:"max_errors" mapstructure:"max_errors"`
}

// DefaultParseConfig returns a configuration with sensible defaults
func DefaultParseConfig() *ParseConfig {
	return &ParseConfig{
		Delimiter:      0,
		Encoding:       EncodingAuto,
		HeaderScanRows: DefaultHeaderScanRows,
		SkipEmptyRows:  true,
		MaxErrors:      100,
	}
}

// Validate checks if the parse configuration is valid
func (c *ParseConfig) Validate() error {
	switch c.Encoding {
	case EncodingAuto, EncodingUTF8, EncodingLatin1:
	default:
		return fmt.Errorf("unsupported encoding %q", c.Encoding)
	}
	if c.HeaderScanRows <= 0 {
		return fmt.Errorf("header scan rows must be positive, got %d", c.HeaderScanRows)
	}
	if c.MaxErrors < 0 {
		return fmt.Errorf("max errors cannot be negative, got %d", c.MaxErrors)
	}
	return nil
}

// SkipReason says why a line or row was not turned into a record.
// The empty value means the input was accepted.
type SkipReason string

const (
	SkipNone              SkipReason = ""
	SkipTooShort          SkipReason = "too_short"
	SkipTooLong           SkipReason = "too_long"
	SkipUnsupportedType   SkipReason = "unsupported_type"
	SkipEmptyRow          SkipReason = "empty_row"
	SkipMalformedRow      SkipReason = "malformed_row"
	SkipInvalidValue      SkipReason = "invalid_value"
	SkipInvalidQuantity   SkipReason = "invalid_quantity"
	SkipInvalidCompetence SkipReason = "invalid_competence"
	SkipInvalidDate       SkipReason = "invalid_date"
	SkipMissingKey        SkipReason = "missing_key"
)

// ParseStats holds statistics about a parsing operation
type ParseStats struct {
	File          string             `json:"file" yaml:"file"`
	TotalRows     int                `json:"total_rows" yaml:"total_rows"`
	HeaderLine    int                `json:"header_line,omitempty" yaml:"header_line,omitempty"`
	RecordsParsed int                `json:"records_parsed" yaml:"records_parsed"`
	RecordsValid  int                `json:"records_valid" yaml:"records_valid"`
	Skipped       map[SkipReason]int `json:"skipped,omitempty" yaml:"skipped,omitempty"`
	ErrorCount    int                `json:"error_count" yaml:"error_count"`
	Errors        []*errors.RowError `json:"-" yaml:"-"`
	collector     *errors.RowErrorCollector
}

// NewParseStats creates a new ParseStats instance
func NewParseStats(file string, maxErrors int) *ParseStats {
	return &ParseStats{
		File:      file,
		Skipped:   make(map[SkipReason]int),
		collector: errors.NewRowErrorCollector(maxErrors),
	}
}

// Skip counts a skipped row and keeps its error, if any.
func (ps *ParseStats) Skip(reason SkipReason, err *errors.RowError) {
	ps.Skipped[reason]++
	if err != nil {
		ps.ErrorCount++
		ps.collector.Add(err)
		ps.Errors = ps.collector.GetErrors()
	}
}

// SkippedTotal returns the number of skipped rows across all reasons.
func (ps *ParseStats) SkippedTotal() int {
	total := 0
	for _, n := range ps.Skipped {
		total += n
	}
	return total
}

// HasErrors returns true if there were any row errors
func (ps *ParseStats) HasErrors() bool {
	return ps.ErrorCount > 0
}

// String returns a human-readable summary of parsing statistics
func (ps *ParseStats) String() string {
	return fmt.Sprintf("Parsed %d rows, %d records (%d valid), %d skipped, %d errors",
		ps.TotalRows, ps.RecordsParsed, ps.RecordsValid, ps.SkippedTotal(), ps.ErrorCount)
}

// GetSampleErrors returns a sample of the row errors for logging
func (ps *ParseStats) GetSampleErrors(maxSamples int) []string {
	limit := len(ps.Errors)
	if maxSamples > 0 && maxSamples < limit {
		limit = maxSamples
	}

	samples := make([]string, 0, limit)
	for i := 0; i < limit; i++ {
		samples = append(samples, ps.Errors[i].Error())
	}
	return samples
}

// BaseParser provides the tabular reading shared by every loader
type BaseParser struct {
	config *ParseConfig
	logger logger.Logger
}

// NewBaseParser creates a new BaseParser with the given configuration
func NewBaseParser(config *ParseConfig, log logger.Logger) *BaseParser {
	if config == nil {
		config = DefaultParseConfig()
	}
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	return &BaseParser{config: config, logger: log.WithComponent("tabular_parser")}
}

// Row is one data row of a sheet, with its 1-based source line.
type Row struct {
	Line  int
	Cells []string
	sheet *Sheet
}

// Value returns the trimmed cell for a logical column, or "" when the column
// is absent or the row is short.
func (r Row) Value(column string) string {
	idx, ok := r.sheet.columns[column]
	if !ok || idx >= len(r.Cells) {
		return ""
	}
	return strings.TrimSpace(r.Cells[idx])
}

// Has reports whether the sheet resolved the logical column.
func (r Row) Has(column string) bool {
	_, ok := r.sheet.columns[column]
	return ok
}

// Sheet is a tabular file with its header located and columns resolved.
type Sheet struct {
	Path       string
	Headers    []string
	HeaderLine int
	Rows       []Row
	columns    map[string]int
}

// ReadSheet loads a tabular file, locates its header using spec and
// resolves every column of spec. Rows that the CSV reader cannot split are
// skipped and counted in stats.
func (bp *BaseParser) ReadSheet(ctx context.Context, path string, spec *ColumnSpec, stats *ParseStats) (*Sheet, error) {
	log := bp.logger.WithField(logger.FieldFile, path)
	log.Debug("Opening tabular file")

	data, err := os.ReadFile(path)
	if err != nil {
		log.WithError(err).Error("Failed to open tabular file")
		switch {
		case os.IsNotExist(err):
			return nil, errors.FileError(errors.CodeFileNotFound, path, err)
		case os.IsPermission(err):
			return nil, errors.FileError(errors.CodeFilePermission, path, err)
		default:
			return nil, errors.FileError(errors.CodeFileCorrupted, path, err)
		}
	}

	text, err := bp.decode(data, path)
	if err != nil {
		return nil, err
	}

	delimiter := bp.config.Delimiter
	if delimiter == 0 {
		delimiter = DetectDelimiter(text)
	}

	reader := csv.NewReader(bytes.NewReader(text))
	reader.Comma = delimiter
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true

	var raw []Row
	for {
		if err := ctx.Err(); err != nil {
			return nil, errors.InternalError(errors.CodeCancelled, "reading "+path, err)
		}

		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			line := 0
			if pe, ok := err.(*csv.ParseError); ok {
				line = pe.StartLine
			}
			stats.TotalRows++
			stats.Skip(SkipMalformedRow, errors.NewRowError(errors.CodeInvalidFormat,
				&errors.ParseContext{File: path, Line: line}, "row could not be split into cells", err))
			continue
		}
		line, _ := reader.FieldPos(0)
		raw = append(raw, Row{Line: line, Cells: record})
	}

	cells := make([][]string, len(raw))
	for i, r := range raw {
		cells[i] = r.Cells
	}

	headerIdx := DetectHeaderRow(cells, spec.Marker().Names(), bp.config.HeaderScanRows)
	if headerIdx < 0 {
		log.WithField("marker", spec.MarkerName).Error("Header row not found")
		return nil, errors.ParseError(errors.CodeHeaderNotFound, path, 0, spec.MarkerName, "", nil)
	}

	sheet := &Sheet{
		Path:       path,
		Headers:    cleanHeaders(raw[headerIdx].Cells),
		HeaderLine: raw[headerIdx].Line,
	}
	columns, missing := spec.Resolve(sheet.Headers)
	if len(missing) > 0 {
		log.WithFields(logger.Fields{
			"missing_columns":   missing,
			"available_headers": sheet.Headers,
		}).Error("Required columns are missing")
		return nil, errors.MissingColumnError(path, missing, sheet.Headers)
	}
	sheet.columns = columns
	stats.HeaderLine = sheet.HeaderLine

	for _, r := range raw[headerIdx+1:] {
		stats.TotalRows++
		if bp.config.SkipEmptyRows && isEmptyRecord(r.Cells) {
			stats.Skipped[SkipEmptyRow]++
			continue
		}
		r.sheet = sheet
		sheet.Rows = append(sheet.Rows, r)
	}

	log.WithFields(logger.Fields{
		"header_line": sheet.HeaderLine,
		"delimiter":   string(delimiter),
		"rows":        len(sheet.Rows),
	}).Debug("Tabular file loaded")

	return sheet, nil
}

func (bp *BaseParser) decode(data []byte, path string) ([]byte, error) {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))

	switch bp.config.Encoding {
	case EncodingUTF8:
		if !utf8.Valid(data) {
			return nil, errors.ParseError(errors.CodeEncodingError, path, 0, "encoding", "",
				fmt.Errorf("invalid UTF-8 encoding detected"))
		}
		return data, nil
	case EncodingLatin1:
		return decodeLatin1(data, path)
	default:
		if utf8.Valid(data) {
			return data, nil
		}
		bp.logger.WithField(logger.FieldFile, path).Debug("Input is not UTF-8, decoding as ISO-8859-1")
		return decodeLatin1(data, path)
	}
}

func decodeLatin1(data []byte, path string) ([]byte, error) {
	out, err := charmap.ISO8859_1.NewDecoder().Bytes(data)
	if err != nil {
		return nil, errors.ParseError(errors.CodeEncodingError, path, 0, "encoding", "", err)
	}
	return out, nil
}

// DetectDelimiter picks the most frequent of ';', ',' and tab over the
// first non-empty lines. Comma wins when nothing is found.
func DetectDelimiter(text []byte) rune {
	counts := map[rune]int{}
	lines := 0
	for _, line := range bytes.Split(text, []byte("\n")) {
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		counts[';'] += bytes.Count(line, []byte(";"))
		counts[','] += bytes.Count(line, []byte(","))
		counts['\t'] += bytes.Count(line, []byte("\t"))
		lines++
		if lines >= DefaultHeaderScanRows {
			break
		}
	}

	best := ','
	for _, candidate := range []rune{';', '\t'} {
		if counts[candidate] > counts[best] {
			best = candidate
		}
	}
	return best
}

// DetectHeaderRow returns the index of the first of the leading scanRows rows
// that contains a cell matching one of the marker aliases, or -1.
func DetectHeaderRow(rows [][]string, markerAliases []string, scanRows int) int {
	wanted := make(map[string]bool, len(markerAliases))
	for _, alias := range markerAliases {
		wanted[HeaderKey(alias)] = true
	}

	for i, row := range rows {
		if i >= scanRows {
			break
		}
		for _, cell := range row {
			if wanted[HeaderKey(cell)] {
				return i
			}
		}
	}
	return -1
}

func cleanHeaders(headers []string) []string {
	cleaned := make([]string, len(headers))
	for i, header := range headers {
		cleaned[i] = strings.TrimSpace(header)
	}
	return cleaned
}

func isEmptyRecord(record []string) bool {
	for _, field := range record {
		if strings.TrimSpace(field) != "" {
			return false
		}
	}
	return true
}
