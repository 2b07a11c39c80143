package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/LuisMada/SentiScan/internal/config"
	"github.com/LuisMada/SentiScan/internal/model"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Version is set at build time with -ldflags "-X .../internal/cli.Version=..."
var Version = "0.1.0"

// Exit codes
const (
	ExitOK           = 0
	ExitFailure      = 1
	ExitMissingInput = 2
)

var (
	cfgFile   string
	verbose   bool
	logLevel  string
	logFormat string
	baseDir   string

	v = viper.New()
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "sentiscan",
	Short: "SentiScan - app review sentiment and topic pipeline",
	Long: `SentiScan scrapes Google Play reviews for one app, labels each review
with a sentiment and a set of topics, and publishes the result to a
spreadsheet.

The three stages run on their own and hand off through dated CSV folders:

  scrape   fetch reviews newer than the last run into a raw file
  enrich   classify today's raw files into the processed file
  publish  replace the spreadsheet tab with today's processed file

Use 'sentiscan run' to run all three in order, or 'sentiscan schedule'
to keep running them on a cron schedule.`,
	SilenceErrors: true,
	SilenceUsage:  true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// ExitCode maps a command error onto the process exit status. A stage that
// found nothing to work on exits 2 so schedulers can tell it from a failure.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, model.ErrMissingInput):
		return ExitMissingInput
	default:
		return ExitFailure
	}
}

// versionCmd represents the version command
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "sentiscan v%s\n", Version)
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default: ./config.yaml, ./config.json or $HOME/.sentiscan/config.yaml)")
	flags.BoolVarP(&verbose, "verbose", "v", false, "verbose output (same as --log-level debug)")
	flags.StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	flags.StringVar(&logFormat, "log-format", "text", "log format (text, json)")
	flags.StringVar(&baseDir, "base-dir", ".", "directory holding the <app>_CSVFiles folder")

	// flags win over env and file only when given
	_ = v.BindPFlag("log.level", flags.Lookup("log-level"))
	_ = v.BindPFlag("log.format", flags.Lookup("log-format"))
	_ = v.BindPFlag("paths.base_dir", flags.Lookup("base-dir"))

	rootCmd.AddCommand(versionCmd)
}

// loadConfig resolves the effective configuration once per process
func loadConfig() (model.Config, string, error) {
	used, err := config.Setup(v, cfgFile)
	if err != nil {
		return model.Config{}, used, err
	}
	cfg, err := config.Load(v)
	if err != nil {
		return model.Config{}, used, err
	}
	if verbose {
		cfg.Log.Level = "debug"
	}
	return cfg, used, nil
}

func stderr(format string, a ...any) {
	fmt.Fprintf(os.Stderr, format, a...)
}
