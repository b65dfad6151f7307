// Package linkmetrics implements the link-metrics collection job. The
// provider refreshes its link index on its own cadence, so the job first
// compares the provider's last-update stamp against the last index date
// already collected and skips the run when nothing new is available.
// Requests are authenticated per call with an HMAC-SHA1 signature.
package linkmetrics

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

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

const service = "linkmetrics"

const defaultBaseURL = "http://lsapi.seomoz.com/linkscape"

// metricCols selects every metric field the provider offers.
const metricCols = "133177540576"

// signatureTTL bounds how long a signed request stays valid.
const signatureTTL = 300 * time.Second

// Job is the link-metrics collector. BaseURL and Now are overridable for
// tests.
type Job struct {
	BaseURL string
	Now     func() time.Time

	test         bool
	notifyErrors bool

	accessID  string
	secretKey string
	maxCalls  int
	threads   int
}

func New(test, notifyErrors bool) *Job {
	return &Job{BaseURL: defaultBaseURL, Now: time.Now, test: test, notifyErrors: notifyErrors}
}

func (j *Job) Name() string    { return service }
func (j *Job) Service() string { return service }

func (j *Job) Resolve(ctx context.Context, env *runner.Env) error {
	var err error
	if j.accessID, err = env.Require(ctx, "linkmetrics_access_id"); err != nil {
		return err
	}
	if j.secretKey, err = env.Require(ctx, "linkmetrics_secret_key"); err != nil {
		return err
	}
	if j.maxCalls, err = env.RequireInt(ctx, "max_linkmetrics_api_calls"); err != nil {
		return err
	}
	if j.threads, err = env.RequireInt(ctx, "linkmetrics_threads"); err != nil {
		return err
	}
	return nil
}

func (j *Job) Purge(ctx context.Context, env *runner.Env) error {
	return env.Store.PurgeLinkMetricsToday(ctx)
}

// BuildQueue gates the run on index freshness before listing URLs. A
// stale index yields an empty queue, which the runner treats as a normal
// finish; yesterday's rows stay in place.
func (j *Job) BuildQueue(ctx context.Context, env *runner.Env) (*queue.Queue, error) {
	indexDay, err := j.providerIndexDay(ctx, env)
	if err != nil {
		return nil, err
	}

	last, ok, err := env.Store.LastLinkIndexDay(ctx)
	if err != nil {
		return nil, err
	}
	if ok && !indexDay.After(last) {
		env.Logger.Info("link index has not advanced, skipping run",
			zap.Time("index_day", indexDay), zap.Time("collected", last))
		return queue.New(), nil
	}

	items, err := env.Store.LinkMetricsWorkItems(ctx)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("no link metrics urls configured")
	}

	if !j.test {
		if err := env.Store.RecordLinkIndexDay(ctx, indexDay); err != nil {
			return nil, err
		}
	}

	q := queue.New()
	for _, item := range items {
		q.Push(item)
	}
	return q, nil
}

// providerIndexDay fetches the provider's last-update stamp, a bare Unix
// epoch, and truncates it to a calendar day. Failure here is fatal for
// the run; without it there is no way to tell fresh data from stale.
func (j *Job) providerIndexDay(ctx context.Context, env *runner.Env) (time.Time, error) {
	metaURL := j.BaseURL + "/metadata/last_update?" + j.signedQuery(nil)
	body, err := env.HTTP.Fetch(ctx, service, metaURL, true)
	if err != nil {
		return time.Time{}, fmt.Errorf("fetch link index stamp: %w", err)
	}
	epoch, err := strconv.ParseInt(strings.TrimSpace(string(body)), 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("malformed link index stamp %q: %w", body, err)
	}
	stamp := time.Unix(epoch, 0).UTC()
	return time.Date(stamp.Year(), stamp.Month(), stamp.Day(), 0, 0, 0, 0, time.UTC), nil
}

// signedQuery builds the authenticated query string: access id, expiry,
// and a base64 HMAC-SHA1 signature over both.
func (j *Job) signedQuery(extra url.Values) string {
	expires := j.Now().Add(signatureTTL).Unix()

	mac := hmac.New(sha1.New, []byte(j.secretKey))
	fmt.Fprintf(mac, "%s\n%d", j.accessID, expires)
	signature := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	params := url.Values{}
	params.Set("AccessID", j.accessID)
	params.Set("Expires", strconv.FormatInt(expires, 10))
	params.Set("Signature", signature)
	for k, vs := range extra {
		for _, v := range vs {
			params.Add(k, v)
		}
	}
	return params.Encode()
}

func (j *Job) Pipeline(b *worker.Bundle) collect.Pipeline {
	return &Pipeline{job: j, store: b.Store, http: b.HTTP, mailer: b.Mailer, logger: b.Logger}
}

func (j *Job) Threads() int { return j.threads }

// Pipeline fetches the metric set for one URL per work item.
type Pipeline struct {
	job    *Job
	store  *store.Store
	http   *httpclient.Client
	mailer mail.Notifier
	logger *zap.Logger
}

func (p *Pipeline) Process(ctx context.Context, item collect.WorkItem) error {
	under, err := p.http.UnderBudget(ctx, service, p.job.maxCalls)
	if err != nil {
		p.logger.Error("daily budget check failed", zap.Error(err))
		if p.job.notifyErrors {
			p.mailer.Send("Error", err.Error())
		}
		return nil
	}
	if !under {
		p.logger.Info("link metrics api calls are maxed out for today",
			zap.String("url", item.Path))
		return nil
	}

	extra := url.Values{}
	extra.Set("Cols", metricCols)
	metricsURL := p.job.BaseURL + "/url-metrics/" + url.QueryEscape(item.Path) + "?" + p.job.signedQuery(extra)

	body, err := p.http.Fetch(ctx, service, metricsURL, true)
	if err != nil {
		return nil
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		p.logger.Error("malformed link metrics response",
			zap.String("url", item.Path), zap.Error(err), zap.ByteString("payload", body))
		p.warnSQL(p.store.AddAPIErrors(ctx, service, 1))
		metrics.ObserveAPIError(service)
		return nil
	}

	// Free-tier accounts only get a subset of the fields; everything the
	// response omits is stored as zero.
	values := make(map[string]float64, len(raw))
	for _, col := range store.LinkMetricColumns() {
		if v, ok := raw[col]; ok {
			text := strings.Trim(strings.TrimSpace(string(v)), `"`)
			if f, err := strconv.ParseFloat(text, 64); err == nil {
				values[col] = f
			}
		}
	}

	if p.job.test {
		return nil
	}
	p.warnSQL(p.store.InsertLinkMetrics(ctx, item.Path, values))
	return nil
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
