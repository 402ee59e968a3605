package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"aih-reconciliation-service/cmd/aihrecon/config"
	"aih-reconciliation-service/internal/parsers"
	"aih-reconciliation-service/internal/reconciler"
	"aih-reconciliation-service/internal/reporter"
	"aih-reconciliation-service/internal/store"
	"aih-reconciliation-service/pkg/errors"
	"aih-reconciliation-service/pkg/logger"
)

// addOutputFlags registers the report flags shared by every command.
func addOutputFlags(cmd *cobra.Command, defaultFormat string) {
	cmd.Flags().StringP("format", "f", defaultFormat,
		"output format: "+strings.Join(reporter.SupportedFormats(), ", "))
	cmd.Flags().StringP("output", "o", "", "output file path (default: stdout)")
	cmd.Flags().Int("max-items", -1, "entries listed per console section (0 lists all, -1 uses the default)")
}

// addParseFlags registers the tabular input flags.
func addParseFlags(cmd *cobra.Command) {
	cmd.Flags().String("encoding", parsers.EncodingAuto, "CSV encoding: auto, utf-8, latin1")
	cmd.Flags().String("delimiter", "auto", "CSV delimiter: auto, tab or a single character")
	cmd.Flags().Int("max-errors", 100, "row errors kept per file")
}

// addStoreFlags registers the database flags.
func addStoreFlags(cmd *cobra.Command) {
	cmd.Flags().String("dsn", "", "PostgreSQL connection string (or AIHRECON_DSN)")
	cmd.Flags().Int("page-size", store.DefaultPageSize, "rows fetched per query")
	cmd.Flags().Duration("query-timeout", store.DefaultConfig().QueryTimeout, "timeout of one page query")
}

// validateOutputFlags checks the report flags before any work is done.
func validateOutputFlags() error {
	format := reporter.OutputFormat(strings.ToLower(viper.GetString("format")))
	if !format.IsValid() {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "format", viper.GetString("format"), nil).
			WithSuggestion("use one of: " + strings.Join(reporter.SupportedFormats(), ", "))
	}
	if format.IsBinary() && viper.GetString("output") == "" {
		return errors.ConfigurationError(errors.CodeConfigConflict, "output", "", nil).
			WithSuggestion("parquet output needs --output <file>")
	}
	if outputFile := viper.GetString("output"); outputFile != "" {
		dir := filepath.Dir(outputFile)
		if dir != "." {
			if _, err := os.Stat(dir); os.IsNotExist(err) {
				return errors.FileError(errors.CodeFileNotFound, dir, err).
					WithSuggestion("create the output directory first")
			}
		}
	}
	return nil
}

func parseConfigFromFlags() (*parsers.ParseConfig, error) {
	return config.CreateParseConfig(viper.GetString("encoding"), viper.GetString("delimiter"), viper.GetInt("max-errors"))
}

func storeConfigFromFlags() (*store.Config, error) {
	return config.CreateStoreConfig(viper.GetString("dsn"), viper.GetInt("page-size"), viper.GetDuration("query-timeout"))
}

// openStore connects to the database named by --dsn.
func openStore(ctx context.Context) (*pgxpool.Pool, *store.Config, error) {
	cfg, err := storeConfigFromFlags()
	if err != nil {
		return nil, nil, err
	}
	pool, err := store.NewPool(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	return pool, cfg, nil
}

// systemParserFromConfig builds the internal export parser, applying the
// columns.system and columns.internal header overrides of the config file.
func systemParserFromConfig(parseConfig *parsers.ParseConfig) (*parsers.SystemParser, error) {
	return config.CreateSystemParser(parseConfig,
		viper.GetStringMapString("columns.system"),
		viper.GetStringMapString("columns.internal"))
}

// newService builds a reconciliation service from the flags.
func newService(policy reconciler.Policy) (*reconciler.Service, error) {
	parseConfig, err := parseConfigFromFlags()
	if err != nil {
		return nil, err
	}
	sisaihConfig, err := config.CreateSISAIHConfig(viper.GetBool("strict"), viper.GetString("sisaih-encoding"), viper.GetInt("concurrency"))
	if err != nil {
		return nil, err
	}
	columns := config.CreateColumns(viper.GetStringMapString("columns.audit"), viper.GetStringMapString("columns.catalog"))
	reconcilerConfig := config.CreateReconcilerConfig(policy, viper.GetInt("concurrency"))

	return reconciler.NewService(sisaihConfig, parseConfig, columns, reconcilerConfig, logger.GetGlobalLogger())
}

// writeReport renders report to --output, or to the command's stdout.
func writeReport(cmd *cobra.Command, report interface{}, outputFile string) error {
	reportConfig, err := config.CreateReportConfig(viper.GetString("format"), viper.GetInt("max-items"), viper.GetBool("verbose"))
	if err != nil {
		return err
	}
	reportConfig.SortByValue = viper.GetBool("sort-by-value")

	generator, err := reporter.NewSafeReportGenerator(reportConfig, logger.GetGlobalLogger())
	if err != nil {
		return err
	}

	var output io.Writer = cmd.OutOrStdout()
	if outputFile != "" {
		file, err := os.Create(outputFile)
		if err != nil {
			return errors.FileError(errors.CodeFileNotFound, outputFile, err).
				WithSuggestion("check that the output directory is writable")
		}
		defer file.Close()
		output = file
	}

	return generator.Generate(report, output)
}

// outputPathFor derives one output file per run: report.json becomes
// report_202403.json.
func outputPathFor(outputFile, suffix string) string {
	if outputFile == "" || suffix == "" {
		return outputFile
	}
	ext := filepath.Ext(outputFile)
	return strings.TrimSuffix(outputFile, ext) + "_" + suffix + ext
}

func validateFileExists(filePath, description string) error {
	if filePath == "" {
		return errors.ValidationError(errors.CodeMissingField, description, nil,
			fmt.Errorf("%s path cannot be empty", description))
	}

	info, err := os.Stat(filePath)
	if os.IsNotExist(err) {
		return errors.FileError(errors.CodeFileNotFound, filePath, err).
			WithContext("description", description)
	}
	if err != nil {
		return errors.FileError(errors.CodeFileNotFound, filePath, err)
	}

	if info.IsDir() {
		return errors.FileError(errors.CodeFileNotFound, filePath,
			fmt.Errorf("%s is a directory, expected a file", description))
	}

	file, err := os.Open(filePath)
	if err != nil {
		return errors.FileError(errors.CodeFilePermission, filePath, err)
	}
	file.Close()

	return nil
}
