// Package rank implements the search-rank collection job: for every
// tracked (domain, keyword) pair it pages through custom-search results
// until the domain appears or the configured result window is exhausted.
package rank

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"

	"go.uber.org/zap"

	"github.com/seopulse/collector/internal/collect"
	"github.com/seopulse/collector/internal/httpclient"
	"github.com/seopulse/collector/internal/mail"
	"github.com/seopulse/collector/internal/metrics"
	"github.com/seopulse/collector/internal/queue"
	"github.com/seopulse/collector/internal/runner"
	"github.com/seopulse/collector/internal/store"
	"github.com/seopulse/collector/internal/worker"
)

const service = "rank"

const defaultBaseURL = "https://www.googleapis.com/customsearch/v1"

// pageSize is fixed by the search API.
const pageSize = 10

// Job is the rank checker. BaseURL is overridable for tests.
type Job struct {
	BaseURL string

	test         bool
	notifyErrors bool

	apiKey     string
	engineID   string
	maxResults int
	maxCalls   int
	threads    int
}

func New(test, notifyErrors bool) *Job {
	return &Job{BaseURL: defaultBaseURL, test: test, notifyErrors: notifyErrors}
}

func (j *Job) Name() string    { return service }
func (j *Job) Service() string { return service }

func (j *Job) Resolve(ctx context.Context, env *runner.Env) error {
	var err error
	if j.apiKey, err = env.Require(ctx, "search_api_key"); err != nil {
		return err
	}
	if j.engineID, err = env.Require(ctx, "search_engine_id"); err != nil {
		return err
	}
	if j.maxResults, err = env.RequireInt(ctx, "max_keyword_results"); err != nil {
		return err
	}
	if j.maxCalls, err = env.RequireInt(ctx, "max_search_api_calls"); err != nil {
		return err
	}
	if j.threads, err = env.RequireInt(ctx, "rank_threads"); err != nil {
		return err
	}
	return nil
}

func (j *Job) Purge(ctx context.Context, env *runner.Env) error {
	return env.Store.PurgeRankToday(ctx)
}

func (j *Job) BuildQueue(ctx context.Context, env *runner.Env) (*queue.Queue, error) {
	items, err := env.Store.RankWorkItems(ctx)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("no rank targets configured")
	}
	q := queue.New()
	for _, item := range items {
		q.Push(item)
	}
	return q, nil
}

func (j *Job) Pipeline(b *worker.Bundle) collect.Pipeline {
	return &Pipeline{job: j, store: b.Store, http: b.HTTP, mailer: b.Mailer, logger: b.Logger}
}

func (j *Job) Threads() int { return j.threads }

// Pipeline processes one (domain, keyword) pair per work item.
type Pipeline struct {
	job    *Job
	store  *store.Store
	http   *httpclient.Client
	mailer mail.Notifier
	logger *zap.Logger
}

// searchPage is the slice of the custom-search response the checker reads.
// totalResults arrives as a string.
type searchPage struct {
	SearchInformation struct {
		TotalResults string `json:"totalResults"`
	} `json:"searchInformation"`
	Items []struct {
		Link        string `json:"link"`
		DisplayLink string `json:"displayLink"`
	} `json:"items"`
}

func (p *Pipeline) Process(ctx context.Context, item collect.WorkItem) error {
	position, link, topTen, ok := p.lookup(ctx, item)
	if !ok {
		return nil
	}
	if p.job.test {
		return nil
	}

	p.warnSQL(p.store.EnsureRankURL(ctx, link))
	p.warnSQL(p.store.InsertRankResult(ctx, item.Domain, item.Keyword, link, position))

	for i, topURL := range topTen {
		p.warnSQL(p.store.EnsureRankURL(ctx, topURL))
		p.warnSQL(p.store.InsertRankTopTen(ctx, item.Domain, item.Keyword, topURL, i+1))
	}
	return nil
}

// lookup pages through search results looking for the domain. It returns
// the absolute position and matching link, plus the first page's links as
// the top-ten set. Position 0 with link "none" means the domain was not
// found within the result window. ok is false only when the item should be
// abandoned entirely (malformed payload).
func (p *Pipeline) lookup(ctx context.Context, item collect.WorkItem) (int, string, []string, bool) {
	position := 1
	var topTen []string

	pageURL := p.pageURL(item, 0)
	for position < p.job.maxResults {
		under, err := p.http.UnderBudget(ctx, service, p.job.maxCalls)
		if err != nil {
			p.logger.Error("daily budget check failed", zap.Error(err))
			if p.job.notifyErrors {
				p.mailer.Send("Error", err.Error())
			}
			return 0, "none", topTen, true
		}
		if !under {
			// The search API costs money per call; skip the rest.
			p.logger.Info("search api calls are maxed out for today",
				zap.String("keyword", item.Keyword))
			return 0, "none", topTen, true
		}

		body, err := p.http.Fetch(ctx, service, pageURL, true)
		if err != nil {
			return 0, "none", topTen, true
		}

		var page searchPage
		if err := json.Unmarshal(body, &page); err != nil {
			p.countParseError(ctx, err, body)
			return 0, "", nil, false
		}

		if position == 1 {
			for _, result := range page.Items {
				topTen = append(topTen, result.Link)
			}
		}

		for _, result := range page.Items {
			if result.DisplayLink == item.Domain {
				return position, result.Link, topTen, true
			}
			position++
		}

		total, _ := strconv.Atoi(page.SearchInformation.TotalResults)
		if position >= total {
			return 0, "none", topTen, true
		}
		pageURL = p.pageURL(item, position)
	}

	return 0, "none", topTen, true
}

func (p *Pipeline) pageURL(item collect.WorkItem, start int) string {
	params := url.Values{}
	params.Set("key", p.job.apiKey)
	params.Set("cx", p.job.engineID)
	params.Set("q", item.Keyword)
	params.Set("num", strconv.Itoa(pageSize))
	params.Set("ie", "utf8")
	params.Set("oe", "utf8")
	params.Set("gl", item.Country)
	params.Set("googlehost", item.SearchHost)
	if start > 0 {
		params.Set("start", strconv.Itoa(start))
	}
	return p.job.BaseURL + "?" + params.Encode()
}

func (p *Pipeline) countParseError(ctx context.Context, err error, body []byte) {
	p.logger.Error("malformed search response",
		zap.Error(err), zap.ByteString("payload", body))
	p.warnSQL(p.store.AddAPIErrors(ctx, service, 1))
	metrics.ObserveAPIError(service)
	if p.job.notifyErrors {
		p.mailer.Send("Error", fmt.Sprintf("Error parsing search response: %s\n\nPayload:\n%s", err, body))
	}
}

// warnSQL reports a store failure to the operator without failing the
// item; partial rank data is preferable to losing the run.
func (p *Pipeline) warnSQL(err error) {
	if err == nil {
		return
	}
	p.logger.Error("database write failed", zap.Error(err))
	if p.job.notifyErrors {
		p.mailer.Send("Error", err.Error())
	}
}
