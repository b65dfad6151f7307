package cmd

import (
	"github.com/spf13/cobra"

	"github.com/seopulse/collector/internal/app"
	"github.com/seopulse/collector/internal/jobs/pagespeed"
	"github.com/seopulse/collector/internal/runner"
)

func newPagespeedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pagespeed",
		Short: "Collect page speed scores and page statistics",
		Long: `Runs the page speed analyzer against every monitored URL, once per
strategy (desktop and mobile), and records the score and page
statistics for each.`,
		RunE: runJob("pagespeed", func(a *app.App) runner.Job {
			return pagespeed.New(testRun, a.Cfg.SMTP.NotifyErrors)
		}),
	}
}
