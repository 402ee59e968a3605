package reporter

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	pkgerrors "github.com/pkg/errors"

	"aih-reconciliation-service/internal/reconciler"
	"aih-reconciliation-service/pkg/errors"
	"aih-reconciliation-service/pkg/logger"
)

// SafeReportGenerator wraps ReportGenerator with input checks, logging and
// two recovery paths: a failing output file is replaced by a backup file
// next to it, and a failing text format is replaced by the console layout.
type SafeReportGenerator struct {
	*ReportGenerator
	logger logger.Logger
}

// NewSafeReportGenerator validates config and returns a generator.
func NewSafeReportGenerator(config *ReportConfig, log logger.Logger) (*SafeReportGenerator, error) {
	if log == nil {
		log = logger.GetGlobalLogger()
	}

	generator, err := NewReportGenerator(config)
	if err != nil {
		return nil, errors.WrapIfNeeded(err, errors.CategoryConfiguration, errors.CodeInvalidConfig, "invalid report configuration").
			WithSuggestion("check the report format and list limits")
	}
	return &SafeReportGenerator{ReportGenerator: generator, logger: log.WithComponent("reporter")}, nil
}

// Generate renders a SyncReport, AuditReport, ParseReport or MatchReport.
func (srg *SafeReportGenerator) Generate(report interface{}, writer io.Writer) error {
	log := srg.logger.WithFields(logger.Fields{
		"format": srg.config.Format,
		"output": describeWriter(writer),
		"report": fmt.Sprintf("%T", report),
	})

	if err := srg.checkInputs(report, writer); err != nil {
		log.WithError(err).Error("Report rejected")
		return err
	}

	err := srg.render(srg.ReportGenerator, report, writer)
	if err == nil {
		log.Debug("Report written")
		return nil
	}
	log.WithError(err).Warn("Report generation failed, trying to recover")

	// A broken output file would also break a console rendering, so the
	// backup file is tried first.
	switch {
	case backupEligible(err, writer):
		err = srg.writeBackup(report, writer.(*os.File).Name(), err)
	case srg.consoleEligible(err):
		err = srg.writeConsole(report, writer, err)
	default:
		err = asReportError(err)
	}
	if err != nil {
		log.WithError(err).Error("Report generation failed")
	}
	return err
}

func (srg *SafeReportGenerator) checkInputs(report interface{}, writer io.Writer) error {
	if report == nil {
		return errors.ValidationError(errors.CodeMissingField, "report", nil, nil).
			WithSuggestion("provide a sync, audit, parse or match report")
	}
	if writer == nil {
		return errors.ValidationError(errors.CodeMissingField, "writer", nil, nil).
			WithSuggestion("provide a valid output writer")
	}

	switch report.(type) {
	case *reconciler.SyncReport, *reconciler.AuditReport, *ParseReport, *MatchReport:
	default:
		return errors.ValidationError(errors.CodeInvalidData, "report_type", fmt.Sprintf("%T", report), nil).
			WithSuggestion("provide a SyncReport, AuditReport, ParseReport or MatchReport")
	}

	if srg.config.Format.IsBinary() && isTerminal(writer) {
		return errors.ConfigurationError(errors.CodeConfigConflict, "format", srg.config.Format, nil).
			WithSuggestion("write parquet output to a file with --output")
	}
	return nil
}

func (srg *SafeReportGenerator) render(rg *ReportGenerator, report interface{}, writer io.Writer) error {
	switch r := report.(type) {
	case *reconciler.SyncReport:
		return rg.GenerateSyncReport(r, writer)
	case *reconciler.AuditReport:
		return rg.GenerateAuditReport(r, writer)
	case *ParseReport:
		return rg.GenerateParseReport(r, writer)
	case *MatchReport:
		return rg.GenerateMatchReport(r, writer)
	}
	return errors.ValidationError(errors.CodeInvalidData, "report_type", fmt.Sprintf("%T", report), nil)
}

// consoleEligible reports whether the console layout may succeed where the
// requested format failed. Parquet output is never mixed with text and
// validation errors would fail again.
func (srg *SafeReportGenerator) consoleEligible(err error) bool {
	if srg.config.Format == FormatConsole || srg.config.Format.IsBinary() {
		return false
	}
	reconErr, ok := errors.AsReconError(err)
	return !ok || reconErr.Category != errors.CategoryValidation
}

func (srg *SafeReportGenerator) writeConsole(report interface{}, writer io.Writer, cause error) error {
	config := *srg.config
	config.Format = FormatConsole
	console, err := NewReportGenerator(&config)
	if err != nil {
		return asReportError(cause)
	}

	fmt.Fprintf(writer, "NOTE: Report generated in fallback format (%s could not be rendered)\n", srg.config.Format)
	fmt.Fprintf(writer, "Original error: %v\n\n", cause)

	if err := srg.render(console, report, writer); err != nil {
		return errors.InternalError(errors.CodeUnexpectedError, "console fallback",
			fmt.Errorf("%s failed: %v; console failed: %w", srg.config.Format, cause, err))
	}
	srg.logger.WithField("format", srg.config.Format).Warn("Report written in console format instead")
	return nil
}

func (srg *SafeReportGenerator) writeBackup(report interface{}, originalPath string, cause error) error {
	path := backupPath(originalPath)
	file, err := os.Create(path)
	if err != nil {
		return asReportError(cause)
	}
	defer file.Close()

	if srg.config.Format == FormatConsole {
		fmt.Fprintf(file, "NOTE: Report saved to a backup file, %s could not be written\n", originalPath)
		fmt.Fprintf(file, "Original error: %v\n\n", cause)
	}

	if err := srg.render(srg.ReportGenerator, report, file); err != nil {
		return errors.InternalError(errors.CodeUnexpectedError, "backup output",
			fmt.Errorf("%s failed: %v; %s failed: %w", originalPath, cause, path, err))
	}
	srg.logger.WithFields(logger.Fields{
		"original_file": originalPath,
		"backup_file":   path,
	}).Warn("Report written to backup file")
	return nil
}

func asReportError(err error) error {
	if reconErr, ok := errors.AsReconError(err); ok {
		return reconErr
	}
	return errors.InternalError(errors.CodeProcessingError, "report generation", err).
		WithSuggestion("check the output destination and report format settings")
}

// backupEligible reports whether err came from writing to a named file.
func backupEligible(err error, writer io.Writer) bool {
	file, ok := writer.(*os.File)
	if !ok || file.Name() == "" || isTerminal(writer) {
		return false
	}
	for _, target := range []error{fs.ErrPermission, fs.ErrNotExist, fs.ErrClosed, syscall.ENOSPC} {
		if pkgerrors.Is(err, target) {
			return true
		}
	}
	return false
}

// backupPath turns report.json into report_backup.json.
func backupPath(path string) string {
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + "_backup" + ext
}

func describeWriter(writer io.Writer) string {
	if f, ok := writer.(*os.File); ok {
		if f.Name() == "" {
			return "file:unnamed"
		}
		return "file:" + f.Name()
	}
	return fmt.Sprintf("writer:%T", writer)
}

// isTerminal reports whether writer is stdout or stderr.
func isTerminal(writer io.Writer) bool {
	return writer == io.Writer(os.Stdout) || writer == io.Writer(os.Stderr)
}
