package cmd

import (
	"github.com/spf13/cobra"

	"github.com/seopulse/collector/internal/app"
	"github.com/seopulse/collector/internal/jobs/rank"
	"github.com/seopulse/collector/internal/runner"
)

func newRankCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rank",
		Short: "Collect search result positions for tracked keywords",
		Long: `Queries the search API for every tracked domain/keyword pair and
records the position the domain holds in the results, along with the
top-ten URLs for the keyword.`,
		RunE: runJob("rank", func(a *app.App) runner.Job {
			return rank.New(testRun, a.Cfg.SMTP.NotifyErrors)
		}),
	}
}
