package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"aih-reconciliation-service/cmd/aihrecon/config"
	"aih-reconciliation-service/internal/models"
	"aih-reconciliation-service/internal/parsers"
	"aih-reconciliation-service/internal/reporter"
	"aih-reconciliation-service/pkg/logger"
)

// parseCmd represents the parse command
var parseCmd = &cobra.Command{
	Use:   "parse <SISAIH01 file>...",
	Short: "Read SISAIH01 extracts and print the parsed authorizations",
	Long: `Parse reads one or more SISAIH01 fixed-width extracts and prints the
authorizations they contain together with per-reason skip counts. It is the
quickest way to check what the sync command will see.

Examples:
  aihrecon parse AIH202403.TXT
  aihrecon parse AIH202403.TXT AIH202403B.TXT --format json --output aihs.json
  aihrecon parse AIH202403.TXT --competence 202403 --format csv`,
	Args:    cobra.MinimumNArgs(1),
	PreRunE: validateParseFlags,
	RunE:    runParse,
}

func init() {
	rootCmd.AddCommand(parseCmd)

	parseCmd.Flags().Bool("strict", false, "skip lines shorter than the full SISAIH01 layout")
	parseCmd.Flags().String("sisaih-encoding", parsers.EncodingLatin1, "SISAIH01 encoding: latin1, utf-8")
	parseCmd.Flags().Int("concurrency", 4, "files parsed in parallel")
	parseCmd.Flags().String("competence", "", "keep only records of this competence (YYYYMM)")
	addOutputFlags(parseCmd, string(reporter.FormatConsole))
}

func validateParseFlags(cmd *cobra.Command, args []string) error {
	if err := bindFlags(cmd); err != nil {
		return err
	}
	for _, file := range args {
		if err := validateFileExists(file, "SISAIH01 file"); err != nil {
			return err
		}
	}
	if _, err := config.NormalizeCompetences([]string{viper.GetString("competence")}); err != nil {
		return err
	}
	return validateOutputFlags()
}

func runParse(cmd *cobra.Command, args []string) error {
	log := logger.GetGlobalLogger().WithComponent("cli")

	sisaihConfig, err := config.CreateSISAIHConfig(viper.GetBool("strict"), viper.GetString("sisaih-encoding"), viper.GetInt("concurrency"))
	if err != nil {
		return err
	}
	reader, err := parsers.NewSISAIHReader(sisaihConfig, log)
	if err != nil {
		return err
	}

	records, stats, err := reader.ParseFiles(cmd.Context(), args)
	if err != nil {
		return err
	}

	competences, _ := config.NormalizeCompetences([]string{viper.GetString("competence")})
	if len(competences) == 1 {
		records = filterCompetence(records, competences[0])
	}

	if viper.GetBool("verbose") {
		fmt.Fprintf(os.Stderr, "%s\n", stats.String())
	}

	return writeReport(cmd, &reporter.ParseReport{Files: args, Records: records, Stats: stats}, viper.GetString("output"))
}

func filterCompetence(records []*models.AIHRecord, competence string) []*models.AIHRecord {
	out := records[:0:0]
	for _, rec := range records {
		if rec.CompetencePeriod == competence {
			out = append(out, rec)
		}
	}
	return out
}
