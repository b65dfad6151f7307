// Package pagespeed implements the page-speed collection job: each
// configured test is analyzed with the desktop and mobile strategies and
// one score row is persisted per strategy.
package pagespeed

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

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

const service = "pagespeed"

const defaultBaseURL = "https://www.googleapis.com/pagespeedonline/v1/runPagespeed"

var strategies = []string{"desktop", "mobile"}

// Job is the page-speed analyzer. BaseURL is overridable for tests.
type Job struct {
	BaseURL string

	test         bool
	notifyErrors bool

	apiKey  string
	threads int
}

func New(test, notifyErrors bool) *Job {
	return &Job{BaseURL: defaultBaseURL, test: test, notifyErrors: notifyErrors}
}

func (j *Job) Name() string    { return service }
func (j *Job) Service() string { return service }

func (j *Job) Resolve(ctx context.Context, env *runner.Env) error {
	var err error
	if j.apiKey, err = env.Require(ctx, "pagespeed_api_key"); err != nil {
		return err
	}
	if j.threads, err = env.RequireInt(ctx, "pagespeed_threads"); err != nil {
		return err
	}
	return nil
}

func (j *Job) Purge(ctx context.Context, env *runner.Env) error {
	return env.Store.PurgePagespeedToday(ctx)
}

func (j *Job) BuildQueue(ctx context.Context, env *runner.Env) (*queue.Queue, error) {
	items, err := env.Store.PagespeedWorkItems(ctx)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("no pagespeed tests configured")
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

// Pipeline analyzes one configured test per work item, once per strategy.
type Pipeline struct {
	job    *Job
	store  *store.Store
	http   *httpclient.Client
	mailer mail.Notifier
	logger *zap.Logger
}

// analysis is the slice of the API response the job persists. Page stats
// arrive with mixed number/string typing, so they are held raw and coerced
// when read.
type analysis struct {
	Score     int64                      `json:"score"`
	PageStats map[string]json.RawMessage `json:"pageStats"`
}

func (p *Pipeline) Process(ctx context.Context, item collect.WorkItem) error {
	for _, strategy := range strategies {
		p.analyze(ctx, item, strategy)
	}
	return nil
}

func (p *Pipeline) analyze(ctx context.Context, item collect.WorkItem, strategy string) {
	params := url.Values{}
	params.Set("url", fmt.Sprintf("http://%s%s", item.Domain, item.Path))
	params.Set("strategy", strategy)
	params.Set("key", p.job.apiKey)

	body, err := p.http.Fetch(ctx, service, p.job.BaseURL+"?"+params.Encode(), true)
	if err != nil {
		return
	}

	var result analysis
	if err := json.Unmarshal(body, &result); err != nil {
		p.logger.Error("malformed pagespeed response",
			zap.String("domain", item.Domain), zap.Error(err), zap.ByteString("payload", body))
		p.warnSQL(p.store.AddAPIErrors(ctx, service, 1))
		metrics.ObserveAPIError(service)
		return
	}

	if p.job.test {
		return
	}

	stats := store.PagespeedStats{
		NumberHosts:             statValue(result.PageStats, "numberHosts"),
		NumberResources:         statValue(result.PageStats, "numberResources"),
		NumberCSSResources:      statValue(result.PageStats, "numberCssResources"),
		NumberStaticResources:   statValue(result.PageStats, "numberStaticResources"),
		TotalRequestBytes:       statValue(result.PageStats, "totalRequestBytes"),
		TextResponseBytes:       statValue(result.PageStats, "textResponseBytes"),
		CSSResponseBytes:        statValue(result.PageStats, "cssResponseBytes"),
		HTMLResponseBytes:       statValue(result.PageStats, "htmlResponseBytes"),
		ImageResponseBytes:      statValue(result.PageStats, "imageResponseBytes"),
		JavascriptResponseBytes: statValue(result.PageStats, "javascriptResponseBytes"),
		OtherResponseBytes:      statValue(result.PageStats, "otherResponseBytes"),
	}
	p.warnSQL(p.store.InsertPagespeedScore(ctx, item.ID, strategy, result.Score, stats))
}

// statValue reads one page stat, tolerating both numeric and quoted-number
// encodings. Absent or unreadable stats are zero.
func statValue(stats map[string]json.RawMessage, name string) int64 {
	raw, ok := stats[name]
	if !ok {
		return 0
	}
	text := strings.Trim(strings.TrimSpace(string(raw)), `"`)
	n, err := strconv.ParseInt(text, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

func (p *Pipeline) warnSQL(err error) {
	if err == nil {
		return
	}
	p.logger.Error("database write failed", zap.Error(err))
	if p.job.notifyErrors {
		p.mailer.Send("Error", err.Error())
	}
}
