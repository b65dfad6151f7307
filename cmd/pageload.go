package cmd

import (
	"github.com/spf13/cobra"

	"github.com/seopulse/collector/internal/app"
	"github.com/seopulse/collector/internal/jobs/pageload"
	"github.com/seopulse/collector/internal/runner"
)

func newPageloadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pageload",
		Short: "Collect page load timing from remote browser tests",
		Long: `Submits one remote browser test per configured URL and location,
waits for it to complete and records the timing metrics for the cold
and primed cache views. The raw report is archived alongside.`,
		RunE: runJob("pageload", func(a *app.App) runner.Job {
			return pageload.New(testRun, a.Cfg.SMTP.NotifyErrors, a.Reports)
		}),
	}
}
