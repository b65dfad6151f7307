package cmd

import (
	"github.com/spf13/cobra"

	"github.com/seopulse/collector/internal/app"
	"github.com/seopulse/collector/internal/jobs/crawlstats"
	"github.com/seopulse/collector/internal/runner"
)

func newCrawlstatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "crawlstats",
		Short: "Collect webmaster crawl errors and search query stats",
		Long: `Downloads crawl error counts and top search query statistics from
the webmaster service for every registered domain. Query stats lag
the provider by two days and are recorded under the check date.`,
		RunE: runJob("crawlstats", func(a *app.App) runner.Job {
			return crawlstats.New(testRun, a.Cfg.SMTP.NotifyErrors)
		}),
	}
}
