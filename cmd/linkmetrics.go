package cmd

import (
	"github.com/spf13/cobra"

	"github.com/seopulse/collector/internal/app"
	"github.com/seopulse/collector/internal/jobs/linkmetrics"
	"github.com/seopulse/collector/internal/runner"
)

func newLinkmetricsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "linkmetrics",
		Short: "Collect link authority metrics for monitored URLs",
		Long: `Fetches link metrics for every monitored URL from the link index
API. The run is skipped when the provider has not published a fresh
index since the last collection.`,
		RunE: runJob("linkmetrics", func(a *app.App) runner.Job {
			return linkmetrics.New(testRun, a.Cfg.SMTP.NotifyErrors)
		}),
	}
}
