// Package cmd defines the CLI commands for the collector executable. Each
// subcommand is one scheduled collection job; cron invokes them
// independently.
package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/seopulse/collector/internal/app"
	"github.com/seopulse/collector/internal/config"
	"github.com/seopulse/collector/internal/logging"
	"github.com/seopulse/collector/internal/mail"
	"github.com/seopulse/collector/internal/runner"
)

// newApp is the service container factory, a variable so tests can swap
// in a stub.
var newApp = app.New

// newNotifier builds only the operator notifier, for the --message path.
var newNotifier = func(cfg config.Config, logger *zap.Logger) mail.Notifier {
	if cfg.SMTP.Enabled {
		return mail.NewSMTP(cfg.SMTP, logger)
	}
	return mail.Nop{}
}

var (
	cfgFile     string
	sendMessage bool
	testRun     bool
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "collector",
		Short: "Scheduled SEO data collection jobs",
		Long: `collector runs the scheduled data collection jobs: keyword rank,
page speed, link metrics, webmaster crawl stats and page load timing.
Each job polls its remote API for the configured domains and persists
the day's datapoints to Postgres.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./collector.yaml)")
	cmd.PersistentFlags().BoolVar(&sendMessage, "message", false, "send a test notification to the operator and exit")
	cmd.PersistentFlags().BoolVar(&testRun, "test", false, "run the job without persisting results")

	cmd.AddCommand(
		newRankCmd(),
		newPagespeedCmd(),
		newLinkmetricsCmd(),
		newCrawlstatsCmd(),
		newPageloadCmd(),
	)
	return cmd
}

// ExecuteContext is the main entry point. A failed run exits with status
// 2 so cron wrappers can distinguish a job fault from an argument mistake.
func ExecuteContext(ctx context.Context) {
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(2)
	}
}

// runJob builds the service container and drives one job run. With
// --message it only verifies the notification path: the message must go
// out even when the database or report store is down, so nothing beyond
// the logger and notifier is initialized.
func runJob(name string, build func(a *app.App) runner.Job) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}

		if sendMessage {
			logger, err := logging.New(cfg.Logging.Development)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			newNotifier(cfg, logger).Send("Test message",
				fmt.Sprintf("Test message from the %s job", name))
			logger.Info("test notification sent", zap.String("job", name))
			return nil
		}

		a, err := newApp(ctx, cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		return a.Runner(testRun).Run(ctx, build(a))
	}
}
