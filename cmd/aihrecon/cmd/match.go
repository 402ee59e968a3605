package cmd

import (
	"strings"
	"unicode"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"aih-reconciliation-service/cmd/aihrecon/config"
	"aih-reconciliation-service/internal/matcher"
	"aih-reconciliation-service/internal/parsers"
	"aih-reconciliation-service/internal/reporter"
	"aih-reconciliation-service/pkg/errors"
	"aih-reconciliation-service/pkg/logger"
)

// matchCmd represents the match command
var matchCmd = &cobra.Command{
	Use:   "match [CODE | CODE=DESCRIPTION | DESCRIPTION]...",
	Short: "Resolve procedure codes and descriptions against a catalog",
	Long: `Match looks procedures up in a SIGTAP-style catalog: first by exact code,
then by the code's digits, then by description similarity. Queries come from
the arguments or from the procedure rows of a CSV export (--input).

Examples:
  aihrecon match --catalog sigtap.csv 0211020036 02.11.02.003-6
  aihrecon match --catalog sigtap.csv "0301010072=CONSULTA MEDICA EM ATENCAO ESPECIALIZADA"
  aihrecon match --catalog sigtap.csv --input procedimentos.csv --preset relaxed --format csv`,
	PreRunE: validateMatchFlags,
	RunE:    runMatch,
}

func init() {
	rootCmd.AddCommand(matchCmd)

	matchCmd.Flags().String("catalog", "", "procedure catalog CSV (required)")
	matchCmd.Flags().String("input", "", "CSV export whose procedure rows are matched")
	matchCmd.Flags().String("preset", "default", "matcher preset: default, strict, relaxed")
	matchCmd.Flags().Float64("threshold", 0, "description similarity threshold (overrides the preset)")
	addParseFlags(matchCmd)
	addOutputFlags(matchCmd, string(reporter.FormatConsole))
}

func validateMatchFlags(cmd *cobra.Command, args []string) error {
	if err := bindFlags(cmd); err != nil {
		return err
	}
	if err := validateFileExists(viper.GetString("catalog"), "procedure catalog"); err != nil {
		return err
	}
	input := viper.GetString("input")
	if input != "" {
		if err := validateFileExists(input, "procedure export"); err != nil {
			return err
		}
	}
	if input == "" && len(args) == 0 {
		return errors.ValidationError(errors.CodeMissingField, "query", nil, nil).
			WithSuggestion("pass procedure codes as arguments or a CSV export with --input")
	}
	if _, err := config.CreateMatcherConfig(viper.GetString("preset"), viper.GetFloat64("threshold")); err != nil {
		return err
	}
	return validateOutputFlags()
}

func runMatch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	log := logger.GetGlobalLogger()

	parseConfig, err := parseConfigFromFlags()
	if err != nil {
		return err
	}
	matcherConfig, err := config.CreateMatcherConfig(viper.GetString("preset"), viper.GetFloat64("threshold"))
	if err != nil {
		return err
	}

	columns := config.CreateColumns(nil, viper.GetStringMapString("columns.catalog"))
	catalogParser, err := parsers.NewCatalogParser(columns.Catalog, parseConfig, log)
	if err != nil {
		return err
	}
	catalogFile := viper.GetString("catalog")
	catalog, _, err := catalogParser.ParseCatalog(ctx, catalogFile)
	if err != nil {
		return err
	}

	pm, err := matcher.NewProcedureMatcher(catalog, matcherConfig)
	if err != nil {
		return err
	}

	queries := make([]matcher.Query, 0, len(args))
	for _, arg := range args {
		queries = append(queries, parseQuery(arg))
	}
	if input := viper.GetString("input"); input != "" {
		systemParser, err := systemParserFromConfig(parseConfig)
		if err != nil {
			return err
		}
		rows, _, err := systemParser.ParseProcedures(ctx, input)
		if err != nil {
			return err
		}
		for _, row := range rows {
			queries = append(queries, matcher.Query{Code: row.ProcedureCode, Description: row.Description})
		}
	}
	queries = uniqueQueries(queries)

	results := pm.MatchBatch(queries)
	report := &reporter.MatchReport{
		Catalog:     catalogFile,
		Results:     results,
		Summary:     matcher.Summarize(results),
		Diagnostics: pm.Diagnostics(),
	}

	log.WithComponent("cli").WithFields(logger.Fields{
		"catalog_entries": len(catalog),
		"queries":         len(queries),
		"matched":         report.Summary.Total - report.Summary.None,
	}).Debug("Procedure matching finished")

	return writeReport(cmd, report, viper.GetString("output"))
}

// parseQuery reads "CODE=DESCRIPTION", a bare code (digits with optional
// dots, dashes and spaces) or a bare description.
func parseQuery(arg string) matcher.Query {
	if code, description, ok := strings.Cut(arg, "="); ok {
		return matcher.Query{Code: strings.TrimSpace(code), Description: strings.TrimSpace(description)}
	}
	arg = strings.TrimSpace(arg)
	if looksLikeCode(arg) {
		return matcher.Query{Code: arg}
	}
	return matcher.Query{Description: arg}
}

func looksLikeCode(s string) bool {
	digits := 0
	for _, r := range s {
		switch {
		case unicode.IsDigit(r):
			digits++
		case r == '.' || r == '-' || r == ' ' || r == '/':
		default:
			return false
		}
	}
	return digits > 0
}

func uniqueQueries(queries []matcher.Query) []matcher.Query {
	seen := make(map[matcher.Query]bool, len(queries))
	out := queries[:0]
	for _, q := range queries {
		if seen[q] {
			continue
		}
		seen[q] = true
		out = append(out, q)
	}
	return out
}
