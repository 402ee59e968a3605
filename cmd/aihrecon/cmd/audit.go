package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"aih-reconciliation-service/cmd/aihrecon/config"
	"aih-reconciliation-service/internal/reconciler"
	"aih-reconciliation-service/internal/reporter"
	"aih-reconciliation-service/internal/store"
	"aih-reconciliation-service/pkg/errors"
	"aih-reconciliation-service/pkg/logger"
)

// auditCmd represents the audit command
var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Compare the payer audit export with the procedures billed by the hospital",
	Long: `Audit compares the payer's audit export (TabWin) with the procedures the
hospital billed, per authorization and procedure code. Differences in value
above the tolerance or in quantity are reported as discrepancies; rows only
the payer has are possible glosas and rows only the hospital has are possible
rejections.

The hospital side is read from a CSV export (--system) or from PostgreSQL
(--dsn). With --catalog every entry is annotated with its catalog procedure.

Examples:
  aihrecon audit --audit tabwin.csv --system procedimentos.csv
  aihrecon audit --audit tabwin.csv --dsn $AIHRECON_DSN --competence 202403 \
    --catalog sigtap.csv --value-tolerance 1.00 --format json
  aihrecon audit --audit tabwin.csv --system procedimentos.csv --format parquet --output audit.parquet`,
	PreRunE: validateAuditFlags,
	RunE:    runAudit,
}

func init() {
	rootCmd.AddCommand(auditCmd)

	auditCmd.Flags().String("audit", "", "payer audit export, TabWin CSV (required)")
	auditCmd.Flags().String("system", "", "billed procedures export (CSV)")
	auditCmd.Flags().String("catalog", "", "procedure catalog CSV used to annotate entries")
	auditCmd.Flags().String("competence", "", "competence to reconcile (YYYYMM)")
	auditCmd.Flags().String("label", "", "run label shown in the report")
	auditCmd.Flags().String("value-tolerance", "0.50", "largest value difference still treated as a match")
	auditCmd.Flags().Float64("similarity", reconciler.DefaultSimilarityThreshold, "description similarity threshold for catalog matches (0.0-1.0)")
	auditCmd.Flags().Bool("sort-by-value", false, "list the largest value differences first")
	addParseFlags(auditCmd)
	addStoreFlags(auditCmd)
	addOutputFlags(auditCmd, string(reporter.FormatConsole))
}

func validateAuditFlags(cmd *cobra.Command, args []string) error {
	if err := bindFlags(cmd); err != nil {
		return err
	}

	if err := validateFileExists(viper.GetString("audit"), "audit export"); err != nil {
		return err
	}

	systemFile := viper.GetString("system")
	dsn := viper.GetString("dsn")
	switch {
	case systemFile == "" && dsn == "":
		return errors.ConfigurationError(errors.CodeMissingConfig, "system", nil, nil).
			WithSuggestion("pass --system <export.csv> or --dsn <postgres url>")
	case systemFile != "" && dsn != "":
		return errors.ConfigurationError(errors.CodeConfigConflict, "system", systemFile, nil).
			WithSuggestion("use either --system or --dsn, not both")
	case systemFile != "":
		if err := validateFileExists(systemFile, "billed procedures export"); err != nil {
			return err
		}
	}

	if catalog := viper.GetString("catalog"); catalog != "" {
		if err := validateFileExists(catalog, "procedure catalog"); err != nil {
			return err
		}
	}

	if _, err := config.NormalizeCompetences([]string{viper.GetString("competence")}); err != nil {
		return err
	}
	if _, err := config.CreatePolicy(0, viper.GetString("value-tolerance"), viper.GetFloat64("similarity")); err != nil {
		return err
	}
	return validateOutputFlags()
}

func runAudit(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	policy, err := config.CreatePolicy(0, viper.GetString("value-tolerance"), viper.GetFloat64("similarity"))
	if err != nil {
		return err
	}
	service, err := newService(policy)
	if err != nil {
		return err
	}

	source, cleanup, err := auditSource(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	competences, _ := config.NormalizeCompetences([]string{viper.GetString("competence")})
	request := &reconciler.AuditRequest{
		Label:       viper.GetString("label"),
		AuditFile:   viper.GetString("audit"),
		System:      source,
		CatalogFile: viper.GetString("catalog"),
	}
	if len(competences) == 1 {
		request.Competence = competences[0]
	}
	if request.Label == "" {
		request.Label = "Audit " + config.DeriveLabel(request.AuditFile)
	}

	if viper.GetBool("verbose") {
		fmt.Fprintf(os.Stderr, "Starting payer audit...\n")
		fmt.Fprintf(os.Stderr, "Audit file: %s\n", request.AuditFile)
		fmt.Fprintf(os.Stderr, "System source: %s\n", source.Describe())
		fmt.Fprintf(os.Stderr, "Value tolerance: %s\n", policy.ValueTolerance.BRL())
	}

	report, err := service.RunAudit(ctx, request)
	if err != nil {
		return err
	}

	if err := writeReport(cmd, report, viper.GetString("output")); err != nil {
		return err
	}

	if viper.GetBool("verbose") {
		showParseWarnings(os.Stderr, report.AuditStats, 5)
		showParseWarnings(os.Stderr, report.SystemStats, 5)
		summary := report.Result.Summary
		fmt.Fprintf(os.Stderr, "\nAudit completed: %d matches, %d value and %d quantity differences, %d possible glosas, %d possible rejections (%s)\n",
			len(report.Result.Matches), summary.ValueDifferences, summary.QuantityDifferences,
			summary.GlosasPossiveis, summary.RejeicoesPossiveis, report.Duration)
	}
	return nil
}

func auditSource(cmd *cobra.Command) (reconciler.ProcedureSource, func(), error) {
	if systemFile := viper.GetString("system"); systemFile != "" {
		parseConfig, err := parseConfigFromFlags()
		if err != nil {
			return nil, nil, err
		}
		parser, err := systemParserFromConfig(parseConfig)
		if err != nil {
			return nil, nil, err
		}
		return reconciler.NewFileProcedureSource(systemFile, parser), func() {}, nil
	}

	pool, storeConfig, err := openStore(cmd.Context())
	if err != nil {
		return nil, nil, err
	}
	loader, err := store.NewProcedureLoader(pool, storeConfig, logger.GetGlobalLogger())
	if err != nil {
		pool.Close()
		return nil, nil, err
	}
	return loader, pool.Close, nil
}
