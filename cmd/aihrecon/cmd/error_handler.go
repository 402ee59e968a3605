package cmd

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"

	pkgerrors "github.com/pkg/errors"
	"github.com/spf13/viper"

	"aih-reconciliation-service/internal/parsers"
	"aih-reconciliation-service/pkg/errors"
	"aih-reconciliation-service/pkg/logger"
)

// CLIErrorHandler turns command errors into operator-facing messages and
// exit codes.
type CLIErrorHandler struct {
	logger  logger.Logger
	verbose bool
	out     io.Writer
}

func NewCLIErrorHandler() *CLIErrorHandler {
	return &CLIErrorHandler{
		logger:  logger.GetGlobalLogger().WithComponent("cli"),
		verbose: viper.GetBool("verbose"),
		out:     os.Stderr,
	}
}

// HandleError prints err and returns the process exit code.
func (h *CLIErrorHandler) HandleError(err error) int {
	if err == nil {
		return 0
	}
	h.logger.WithError(err).Debug("Command failed")

	reconErr, ok := errors.AsReconError(err)
	if !ok {
		reconErr = classify(err)
	}
	h.print(reconErr)
	return reconErr.GetExitCode()
}

func (h *CLIErrorHandler) print(err *errors.ReconError) {
	var b strings.Builder
	fmt.Fprintf(&b, "Error: %s\n", err.Message)

	if keys := err.ContextKeys(); len(keys) > 0 {
		b.WriteString("\nContext:\n")
		for _, key := range keys {
			if v := err.Context[key]; v != nil && v != "" {
				fmt.Fprintf(&b, "  %s: %v\n", key, v)
			}
		}
	}
	if err.Suggestion != "" {
		fmt.Fprintf(&b, "\nSuggestion: %s\n", err.Suggestion)
	}
	if hints := categoryHints[err.Category]; len(hints) > 0 {
		b.WriteString("\nHints:\n")
		for _, hint := range hints {
			fmt.Fprintf(&b, "  - %s\n", hint)
		}
	}
	if h.verbose && err.Cause != nil {
		fmt.Fprintf(&b, "\nUnderlying error: %v\n", err.Cause)
	}
	io.WriteString(h.out, b.String())
}

// classify gives plain errors a category so they exit with the same codes
// as the ones raised by the application packages.
func classify(err error) *errors.ReconError {
	switch {
	case pkgerrors.Is(err, fs.ErrNotExist):
		return errors.Wrap(err, errors.CategoryFile, errors.CodeFileNotFound, "file not found").
			WithSuggestion("check that the path is correct and the file exists")
	case pkgerrors.Is(err, fs.ErrPermission):
		return errors.Wrap(err, errors.CategoryFile, errors.CodeFilePermission, "permission denied").
			WithSuggestion("check that the file is readable by the current user")
	}
	return &errors.ReconError{Code: errors.CodeUnexpectedError, Message: err.Error()}
}

var categoryHints = map[errors.ErrorCategory][]string{
	errors.CategoryFile: {
		"Use absolute paths when running from another directory",
		"SISAIH01 extracts are named AIH<competence>.TXT by the SUS billing system",
	},
	errors.CategoryParse: {
		"SISAIH01 extracts are fixed-width Latin-1 text",
		"CSV exports need a header row naming the AIH column (n_aih, numero_aih, ...)",
		"Header names can be mapped in the config file under columns.<source>",
		"Run 'aihrecon parse <file>' to inspect what was read",
	},
	errors.CategoryValidation: {
		"Competences use YYYYMM (MM/YYYY and YYYY-MM are accepted)",
		"Amounts accept 1.234,56 and 1234.56",
	},
	errors.CategoryConfiguration: {
		"Environment variables use the AIHRECON_ prefix (AIHRECON_DSN, ...)",
		"Run 'aihrecon <command> --help' to list the options",
	},
	errors.CategoryReconciliation: {
		"Check that both sides cover the same competence and hospital",
		"Try adjusting --min-key-length or --value-tolerance",
	},
	errors.CategoryStore: {
		"Run 'aihrecon db migrate --dsn ...' to create the tables",
		"Increase --query-timeout for large competences",
	},
}

// showParseWarnings prints sampled row errors of a parse in verbose mode.
func showParseWarnings(w io.Writer, stats *parsers.ParseStats, maxSamples int) {
	if stats == nil || !stats.HasErrors() {
		return
	}
	fmt.Fprintf(w, "%s: %s\n", stats.File, stats.String())
	for _, sample := range stats.GetSampleErrors(maxSamples) {
		fmt.Fprintf(w, "  - %s\n", sample)
	}
	if stats.ErrorCount > maxSamples && maxSamples > 0 {
		fmt.Fprintf(w, "  ... and %d more errors\n", stats.ErrorCount-maxSamples)
	}
}
