package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/LuisMada/SentiScan/internal/schedule"
	"github.com/spf13/cobra"
)

var scrapeCmd = &cobra.Command{
	Use:   "scrape",
	Short: "Fetch reviews newer than the last run into today's raw file",
	Long: `Scrape pages through the app's reviews newest first and stops at the
watermark saved by the previous run (or the time_to_scrape lookback on a
first run, or an explicit scrape.date_range). New reviews go to a
run-stamped raw CSV in today's folder and the watermark moves forward.

Example:
  sentiscan scrape
  sentiscan scrape --config angkas.yaml --log-format json`,
	Args: cobra.NoArgs,
	RunE: stageCommand(func(r *runtime) func(context.Context) error { return r.runScrape }),
}

var enrichCmd = &cobra.Command{
	Use:   "enrich",
	Short: "Classify today's raw files into the processed file",
	Long: `Enrich labels each review in today's unprocessed raw files with a
sentiment and a list of topics, and writes the day's processed CSV.
Exits 2 when there is no raw file to work on.`,
	Args: cobra.NoArgs,
	RunE: stageCommand(func(r *runtime) func(context.Context) error { return r.runEnrich }),
}

var publishCmd = &cobra.Command{
	Use:   "publish",
	Short: "Replace the spreadsheet tab with today's processed file",
	Long: `Publish clears the configured tab and writes today's processed rows
from A1, with Positive and Negative topic columns added. The local file
is never changed. Exits 2 when today has no processed file.`,
	Args: cobra.NoArgs,
	RunE: stageCommand(func(r *runtime) func(context.Context) error { return r.runPublish }),
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run scrape, enrich and publish in order",
	Args:  cobra.NoArgs,
	RunE:  stageCommand(func(r *runtime) func(context.Context) error { return r.runAll }),
}

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Run the whole pipeline on schedule.cron until interrupted",
	Long: `Schedule keeps the process alive and runs scrape, enrich and publish
on the schedule.cron expression (five-field cron or a descriptor such as
"@every 6h"). A run still in progress when the next one is due causes
that tick to be skipped.`,
	Args: cobra.NoArgs,
	RunE: runSchedule,
}

func init() {
	rootCmd.AddCommand(scrapeCmd, enrichCmd, publishCmd, runCmd, scheduleCmd)
}

// stageCommand builds a RunE that runs one pipeline step with a fresh
// runtime and stops on SIGINT or SIGTERM
func stageCommand(step func(*runtime) func(context.Context) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cfg, used, err := loadConfig()
		if err != nil {
			return err
		}
		logger := baseLogger(cfg)
		if used != "" {
			logger.Debug("using config file", "path", used)
		}

		r, err := newRuntime(cfg, logger)
		if err != nil {
			return err
		}
		defer r.finish()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return step(r)(ctx)
	}
}

func runSchedule(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger := baseLogger(cfg)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s, err := schedule.New(ctx, cfg.Schedule.Cron, func(ctx context.Context) error {
		r, err := newRuntime(cfg, logger)
		if err != nil {
			return err
		}
		defer r.finish()
		return r.runAll(ctx)
	}, logger)
	if err != nil {
		return err
	}

	s.Run(ctx)
	return nil
}
