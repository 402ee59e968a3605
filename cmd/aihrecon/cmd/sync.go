package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"aih-reconciliation-service/cmd/aihrecon/config"
	"aih-reconciliation-service/internal/normalize"
	"aih-reconciliation-service/internal/parsers"
	"aih-reconciliation-service/internal/reconciler"
	"aih-reconciliation-service/internal/reporter"
	"aih-reconciliation-service/internal/store"
	"aih-reconciliation-service/pkg/errors"
	"aih-reconciliation-service/pkg/logger"
)

// syncCmd represents the sync command
var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Compare internal authorizations with SISAIH01 extracts",
	Long: `Sync compares the authorizations registered in the hospital's internal
system with the ones present in the SISAIH01 extracts and classifies every
authorization number as synced, pending (internal only) or unprocessed
(SISAIH01 only).

The internal side is read from a CSV export (--internal) or from PostgreSQL
(--dsn). Several competences run in parallel, one report each.

Examples:
  # CSV export against one extract
  aihrecon sync --internal aihs.csv --sisaih AIH202403.TXT --competence 202403

  # Database against two extracts, JSON report
  aihrecon sync --dsn postgres://user:pass@db/hospital \
    --sisaih AIH202403.TXT,AIH202403B.TXT --competence 03/2024 --format json

  # Two competences, one report file each (report_202402.json, report_202403.json)
  aihrecon sync --dsn $AIHRECON_DSN --sisaih AIH202402.TXT,AIH202403.TXT \
    --competence 202402,202403 --format json --output report.json`,
	PreRunE: validateSyncFlags,
	RunE:    runSync,
}

func init() {
	rootCmd.AddCommand(syncCmd)

	syncCmd.Flags().String("internal", "", "internal system AIH export (CSV)")
	syncCmd.Flags().StringSlice("sisaih", []string{}, "comma-separated SISAIH01 extracts (required)")
	syncCmd.Flags().StringSlice("competence", []string{}, "competence(s) to reconcile (YYYYMM)")
	syncCmd.Flags().String("facility", "", "keep only records of this CNES")
	syncCmd.Flags().String("label", "", "run label shown in the report")
	syncCmd.Flags().Int("min-key-length", normalize.DefaultMinKeyLength, "shortest authorization number accepted")
	syncCmd.Flags().Int("concurrency", 4, "files parsed and runs executed in parallel")
	syncCmd.Flags().Bool("strict", false, "skip SISAIH01 lines shorter than the full layout")
	syncCmd.Flags().String("sisaih-encoding", parsers.EncodingLatin1, "SISAIH01 encoding: latin1, utf-8")
	addParseFlags(syncCmd)
	addStoreFlags(syncCmd)
	addOutputFlags(syncCmd, string(reporter.FormatConsole))
}

func validateSyncFlags(cmd *cobra.Command, args []string) error {
	if err := bindFlags(cmd); err != nil {
		return err
	}

	internalFile := viper.GetString("internal")
	dsn := viper.GetString("dsn")
	switch {
	case internalFile == "" && dsn == "":
		return errors.ConfigurationError(errors.CodeMissingConfig, "internal", nil, nil).
			WithSuggestion("pass --internal <export.csv> or --dsn <postgres url>")
	case internalFile != "" && dsn != "":
		return errors.ConfigurationError(errors.CodeConfigConflict, "internal", internalFile, nil).
			WithSuggestion("use either --internal or --dsn, not both")
	case internalFile != "":
		if err := validateFileExists(internalFile, "internal AIH export"); err != nil {
			return err
		}
	}

	files := append(viper.GetStringSlice("sisaih"), args...)
	if len(files) == 0 {
		return errors.ConfigurationError(errors.CodeMissingConfig, "sisaih", nil, nil).
			WithSuggestion("pass at least one SISAIH01 extract with --sisaih")
	}
	for i, file := range files {
		if err := validateFileExists(file, fmt.Sprintf("SISAIH01 file %d", i+1)); err != nil {
			return err
		}
	}

	if _, err := config.NormalizeCompetences(viper.GetStringSlice("competence")); err != nil {
		return err
	}
	if viper.GetInt("min-key-length") < 0 {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "min-key-length", viper.GetInt("min-key-length"), nil)
	}
	return validateOutputFlags()
}

func runSync(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	log := logger.GetGlobalLogger().WithComponent("cli")

	policy, err := config.CreatePolicy(viper.GetInt("min-key-length"), "", reconciler.DefaultSimilarityThreshold)
	if err != nil {
		return err
	}
	service, err := newService(policy)
	if err != nil {
		return err
	}

	newSource, cleanup, err := syncSourceFactory(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	files := append(viper.GetStringSlice("sisaih"), args...)
	competences, _ := config.NormalizeCompetences(viper.GetStringSlice("competence"))
	if len(competences) == 0 {
		competences = []string{""}
	}

	requests := make([]*reconciler.SyncRequest, 0, len(competences))
	for _, competence := range competences {
		source, err := newSource()
		if err != nil {
			return err
		}
		requests = append(requests, &reconciler.SyncRequest{
			Label:         syncLabel(competence, files),
			Internal:      source,
			ExternalFiles: files,
			Competence:    competence,
			FacilityCode:  viper.GetString("facility"),
		})
	}

	if viper.GetBool("verbose") {
		fmt.Fprintf(os.Stderr, "Starting AIH sync...\n")
		fmt.Fprintf(os.Stderr, "Internal source: %s\n", requests[0].Internal.Describe())
		fmt.Fprintf(os.Stderr, "SISAIH01 files: %s\n", strings.Join(files, ", "))
		fmt.Fprintf(os.Stderr, "Competences: %s\n", strings.Join(competences, ", "))
	}

	var reports []*reconciler.SyncReport
	if len(requests) == 1 {
		report, err := service.RunSync(ctx, requests[0])
		if err != nil {
			return err
		}
		reports = []*reconciler.SyncReport{report}
	} else {
		orchestrator, err := reconciler.NewOrchestrator(service)
		if err != nil {
			return err
		}
		if viper.GetBool("verbose") {
			orchestrator.AddProgressCallback(func(p reconciler.Progress) {
				fmt.Fprintf(os.Stderr, "\r[%d/%d] %s (%.1f%% complete)", p.CompletedRuns, p.TotalRuns, p.CurrentRun, p.PercentComplete)
			})
		}
		reports, err = orchestrator.RunSyncBatch(ctx, requests)
		if err != nil {
			return err
		}
		if viper.GetBool("verbose") {
			fmt.Fprintf(os.Stderr, "\n")
		}
	}

	outputFile := viper.GetString("output")
	for _, report := range reports {
		path := outputFile
		if len(reports) > 1 {
			path = outputPathFor(outputFile, report.Competence)
		}
		if err := writeReport(cmd, report, path); err != nil {
			return err
		}
		if viper.GetBool("verbose") {
			showParseWarnings(os.Stderr, report.InternalStats, 5)
			summary := report.Result.Summary
			fmt.Fprintf(os.Stderr, "Competence %s: %d synced, %d pending, %d unprocessed (%s)\n",
				displayCompetence(report.Competence), summary.Synced, summary.Pending, summary.Unprocessed, report.Duration)
		}
	}

	log.WithField("runs", len(reports)).Debug("Sync finished")
	return nil
}

// syncSourceFactory returns a constructor of internal sources. Each run gets
// its own source so per-run statistics stay separate.
func syncSourceFactory(cmd *cobra.Command) (func() (reconciler.AIHSource, error), func(), error) {
	if internalFile := viper.GetString("internal"); internalFile != "" {
		parseConfig, err := parseConfigFromFlags()
		if err != nil {
			return nil, nil, err
		}
		parser, err := systemParserFromConfig(parseConfig)
		if err != nil {
			return nil, nil, err
		}
		return func() (reconciler.AIHSource, error) {
			return reconciler.NewFileAIHSource(internalFile, parser), nil
		}, func() {}, nil
	}

	pool, storeConfig, err := openStore(cmd.Context())
	if err != nil {
		return nil, nil, err
	}
	return func() (reconciler.AIHSource, error) {
		loader, err := store.NewAIHLoader(pool, storeConfig, logger.GetGlobalLogger())
		if err != nil {
			return nil, err
		}
		return loader, nil
	}, pool.Close, nil
}

func syncLabel(competence string, files []string) string {
	if label := viper.GetString("label"); label != "" {
		if competence != "" {
			return label + " " + competence
		}
		return label
	}
	if competence != "" {
		return "AIH sync " + competence
	}
	return "AIH sync " + config.DeriveLabel(files[0])
}

func displayCompetence(competence string) string {
	if competence == "" {
		return "(all)"
	}
	return competence
}
