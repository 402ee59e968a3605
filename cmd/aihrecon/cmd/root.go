package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"aih-reconciliation-service/pkg/logger"
)

var (
	cfgFile   string
	verbose   bool
	logFormat string
	version   = "dev"
	commit    = "unknown"
	date      = "unknown"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "aihrecon",
	Short: "Hospital authorization (AIH) reconciliation tool",
	Long: `aihrecon reconciles hospital inpatient authorizations (AIH) between the
hospital's internal system, the SISAIH01 extract sent to the government and
the payer audit export (TabWin).

Examples:
  aihrecon sync --internal aihs.csv --sisaih AIH202403.TXT --competence 202403
  aihrecon sync --dsn postgres://user:pass@db/hospital --sisaih AIH202403.TXT --competence 03/2024
  aihrecon audit --audit tabwin.csv --system procedimentos.csv --catalog sigtap.csv
  aihrecon parse AIH202403.TXT --format json
  aihrecon match --catalog sigtap.csv 0211020036 "ELETROCARDIOGRAMA"
  aihrecon version`,
	Version:       getVersionString(),
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return setupLogger()
	},
}

// Execute runs the root command under ctx and returns the process exit
// code.
func Execute(ctx context.Context) int {
	cmd, err := rootCmd.ExecuteContextC(ctx)
	if err == nil {
		return 0
	}
	if cmd != nil && isUsageError(err) {
		fmt.Fprintf(cmd.ErrOrStderr(), "Error: %v\n\n%s", err, cmd.UsageString())
		return 2
	}
	handler := NewCLIErrorHandler()
	if cmd != nil {
		handler.out = cmd.ErrOrStderr()
	}
	return handler.HandleError(err)
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (optional, YAML/JSON/TOML)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format: text, json")

	viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
	viper.BindPFlag("log-format", rootCmd.PersistentFlags().Lookup("log-format"))
}

// initConfig reads in config file and ENV variables.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)

		if err := viper.ReadInConfig(); err != nil {
			fmt.Fprintf(os.Stderr, "Error reading config file: %s\n", err)
			os.Exit(1)
		}

		if viper.GetBool("verbose") {
			fmt.Fprintf(os.Stderr, "Using config file: %s\n", viper.ConfigFileUsed())
		}
	}

	// AIHRECON_DSN, AIHRECON_VALUE_TOLERANCE, ...
	viper.SetEnvPrefix("AIHRECON")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	viper.AutomaticEnv()
}

// setupLogger replaces the global logger according to --verbose and
// --log-format. Logs go to stderr so reports can be piped.
func setupLogger() error {
	config := logger.DefaultConfig()
	if viper.GetBool("verbose") {
		config.Level = logger.DebugLevel
	} else {
		config.Level = logger.WarnLevel
	}
	if format := viper.GetString("log-format"); format != "" {
		config.Format = logger.Format(strings.ToLower(format))
	}

	log, err := logger.NewLogger(config)
	if err != nil {
		return fmt.Errorf("invalid --log-format %q: %w", viper.GetString("log-format"), err)
	}
	logger.SetGlobalLogger(log)
	return nil
}

// bindFlags binds a command's local flags to viper under their own names,
// at run time, so commands sharing a flag name do not overwrite each
// other's binding.
func bindFlags(cmd *cobra.Command) error {
	return viper.BindPFlags(cmd.Flags())
}

// SetVersionInfo sets the version information for the CLI
func SetVersionInfo(v, c, d string) {
	version = v
	commit = c
	date = d
	rootCmd.Version = getVersionString()
}

func getVersionString() string {
	if version == "dev" {
		return fmt.Sprintf("%s (commit %s, built %s)", version, commit, date)
	}
	return version
}

// isUsageError reports cobra's own flag and argument errors.
func isUsageError(err error) bool {
	msg := err.Error()
	return strings.HasPrefix(msg, "unknown flag") ||
		strings.HasPrefix(msg, "unknown shorthand flag") ||
		strings.HasPrefix(msg, "unknown command") ||
		strings.HasPrefix(msg, "required flag") ||
		strings.Contains(msg, "flag needs an argument") ||
		strings.Contains(msg, "invalid argument") ||
		strings.HasPrefix(msg, "accepts ") ||
		strings.HasPrefix(msg, "requires at least")
}
