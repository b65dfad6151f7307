// Package pageload implements the page-timing collection job. Each work
// item submits one remote browser test, polls until it completes and
// persists two rows of timing metrics, one per view (cold and primed
// cache), sharing the archived raw report.
package pageload

import (
	"context"
	"encoding/json"
	"encoding/xml"
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
	"github.com/seopulse/collector/internal/report"
	"github.com/seopulse/collector/internal/runner"
	"github.com/seopulse/collector/internal/store"
	"github.com/seopulse/collector/internal/worker"
)

const service = "pageload"

const defaultBaseURL = "http://www.webpagetest.org"

const (
	firstView  = 1
	repeatView = 2
)

// runsPerTest is how many runs each submission requests. A view failed
// unless the provider reports exactly this many successful runs for it.
const runsPerTest = 1

// metricNames maps result element names from the provider report to the
// persisted column names.
var metricNames = map[string]string{
	"loadTime":         "load_time",
	"TTFB":             "ttfb",
	"bytesOut":         "bytes_out",
	"bytesOutDoc":      "bytes_out_doc",
	"bytesIn":          "bytes_in",
	"bytesInDoc":       "bytes_in_doc",
	"connections":      "connections",
	"requests":         "requests",
	"requestsDoc":      "requests_doc",
	"responses_200":    "responses_200",
	"responses_404":    "responses_404",
	"responses_other":  "responses_other",
	"result":           "result",
	"render":           "render",
	"fullyLoaded":      "fully_loaded",
	"cached":           "cached",
	"docTime":          "doc_time",
	"domTime":          "dom_time",
	"score_cache":      "score_cache",
	"score_cdn":        "score_cdn",
	"score_gzip":       "score_gzip",
	"score_cookies":    "score_cookies",
	"score_keep-alive": "score_keep_alive",
	"score_minify":     "score_minify",
	"score_combine":    "score_combine",
	"score_compress":   "score_compress",
	"score_etags":      "score_etags",
	"gzip_total":       "gzip_total",
	"gzip_savings":     "gzip_savings",
	"minify_total":     "minify_total",
	"minify_savings":   "minify_savings",
	"image_total":      "image_total",
	"image_savings":    "image_savings",
	"aft":              "aft",
	"domElements":      "dom_elements",
}

// Job is the page-load collector. BaseURL, Sleep and Now are overridable
// for tests.
type Job struct {
	BaseURL string
	Sleep   func(time.Duration)
	Now     func() time.Time

	test         bool
	notifyErrors bool
	reports      *report.Writer

	apiKey   string
	attempts int
	wait     time.Duration
	threads  int
}

func New(test, notifyErrors bool, reports *report.Writer) *Job {
	return &Job{
		BaseURL:      defaultBaseURL,
		Sleep:        time.Sleep,
		Now:          time.Now,
		test:         test,
		notifyErrors: notifyErrors,
		reports:      reports,
	}
}

func (j *Job) Name() string    { return service }
func (j *Job) Service() string { return service }

func (j *Job) Resolve(ctx context.Context, env *runner.Env) error {
	var err error
	if j.apiKey, err = env.Require(ctx, "pageload_api_key"); err != nil {
		return err
	}
	if j.attempts, err = env.RequireInt(ctx, "pageload_attempts"); err != nil {
		return err
	}
	waitSeconds, err := env.RequireInt(ctx, "pageload_wait")
	if err != nil {
		return err
	}
	j.wait = time.Duration(waitSeconds) * time.Second
	if j.threads, err = env.RequireInt(ctx, "pageload_threads"); err != nil {
		return err
	}
	return nil
}

func (j *Job) Purge(ctx context.Context, env *runner.Env) error {
	return env.Store.PurgePageloadToday(ctx)
}

func (j *Job) BuildQueue(ctx context.Context, env *runner.Env) (*queue.Queue, error) {
	items, err := env.Store.PageloadWorkItems(ctx)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("no pageload tests configured")
	}
	q := queue.New()
	for _, item := range items {
		q.Push(item)
	}
	return q, nil
}

func (j *Job) Pipeline(b *worker.Bundle) collect.Pipeline {
	return &Pipeline{
		job:     j,
		store:   b.Store,
		http:    b.HTTP,
		mailer:  b.Mailer,
		logger:  b.Logger,
		reports: j.reports,
	}
}

func (j *Job) Threads() int { return j.threads }

// Pipeline runs one browser test per work item.
type Pipeline struct {
	job     *Job
	store   *store.Store
	http    *httpclient.Client
	mailer  mail.Notifier
	logger  *zap.Logger
	reports *report.Writer
}

// submitResponse is the JSON acknowledgement of a new test.
type submitResponse struct {
	StatusCode int `json:"statusCode"`
	Data       struct {
		TestID string `json:"testId"`
		XMLURL string `json:"xmlUrl"`
	} `json:"data"`
}

// statusResponse is the JSON polling payload. 200 means the test
// completed; 1xx codes report progress.
type statusResponse struct {
	StatusCode int `json:"statusCode"`
}

func (p *Pipeline) Process(ctx context.Context, item collect.WorkItem) error {
	testURL := "http://" + item.Domain + item.Path

	submitted, ok := p.submit(ctx, testURL, item.Location)
	if !ok {
		return nil
	}
	if !p.await(ctx, submitted.Data.TestID) {
		return nil
	}

	// Result fetches are not billed by the provider; only submissions
	// count against the daily budget.
	raw, err := p.http.Fetch(ctx, service, submitted.Data.XMLURL, false)
	if err != nil {
		return nil
	}

	var results wptResults
	if err := xml.Unmarshal(raw, &results); err != nil {
		p.countParseError(ctx, testURL, err)
		return nil
	}

	// The raw report is archived even on a test run, so a dry run still
	// exercises the report store.
	reportPath := p.reports.Save(ctx, service, raw)

	if p.job.test {
		p.logger.Info("test mode, discarding scores",
			zap.String("url", testURL), zap.String("remote_id", submitted.Data.TestID))
		return nil
	}

	takenAt := p.job.Now().UTC()
	viewFailed := [2]bool{
		results.Data.SuccessfulFVRuns != runsPerTest,
		results.Data.SuccessfulRVRuns != runsPerTest,
	}
	testFailed := viewFailed[0] && viewFailed[1]
	views := [2]viewResults{results.Data.Run.FirstView, results.Data.Run.RepeatView}

	for i, view := range []int{firstView, repeatView} {
		p.warnSQL(p.store.InsertPageloadScore(ctx, store.PageloadScore{
			TakenAt:    takenAt,
			TestID:     item.ID,
			RemoteID:   submitted.Data.TestID,
			ViewNumber: view,
			Metrics:    columnMetrics(views[i]),
			ViewFailed: viewFailed[i],
			TestFailed: testFailed,
			ReportPath: reportPath,
		}))
	}
	return nil
}

// submit starts a remote test. This is the one counted call of the item.
func (p *Pipeline) submit(ctx context.Context, testURL, location string) (submitResponse, bool) {
	params := url.Values{}
	params.Set("f", "json")
	params.Set("runs", strconv.Itoa(runsPerTest))
	params.Set("k", p.job.apiKey)
	params.Set("url", testURL)
	params.Set("location", location)

	body, err := p.http.Fetch(ctx, service, p.job.BaseURL+"/runtest.php?"+params.Encode(), true)
	if err != nil {
		return submitResponse{}, false
	}

	var resp submitResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		p.countParseError(ctx, testURL, err)
		return submitResponse{}, false
	}
	if resp.StatusCode != 200 || resp.Data.TestID == "" {
		p.logger.Error("test submission rejected",
			zap.String("url", testURL), zap.Int("status", resp.StatusCode))
		p.warnSQL(p.store.AddAPIErrors(ctx, service, 1))
		metrics.ObserveAPIError(service)
		return submitResponse{}, false
	}
	return resp, true
}

// await polls the status endpoint until the test completes, pausing
// between checks. After the configured number of checks the item is
// abandoned; a stuck remote test must not pin a worker for the whole run.
func (p *Pipeline) await(ctx context.Context, remoteID string) bool {
	statusURL := p.job.BaseURL + "/testStatus.php?f=json&test=" + url.QueryEscape(remoteID)

	for checks := 0; ; {
		if checks > 0 {
			p.job.Sleep(p.job.wait)
		}
		body, err := p.http.Fetch(ctx, service, statusURL, false)
		if err != nil {
			return false
		}
		var status statusResponse
		if err := json.Unmarshal(body, &status); err != nil {
			p.countParseError(ctx, remoteID, err)
			return false
		}
		if status.StatusCode == 200 {
			return true
		}

		checks++
		if checks >= p.job.attempts {
			p.logger.Error("remote test never completed, abandoning",
				zap.String("remote_id", remoteID), zap.Int("checks", checks))
			if p.job.notifyErrors {
				p.mailer.Send("Error",
					fmt.Sprintf("pageload test %s did not complete after %d checks", remoteID, checks))
			}
			return false
		}
	}
}

// wptResults is the slice of the XML report the job persists.
type wptResults struct {
	Data struct {
		SuccessfulFVRuns int `xml:"successfulFVRuns"`
		SuccessfulRVRuns int `xml:"successfulRVRuns"`
		Run              struct {
			FirstView  viewResults `xml:"firstView>results"`
			RepeatView viewResults `xml:"repeatView>results"`
		} `xml:"run"`
	} `xml:"data"`
}

// viewResults collects the child elements of a results block as integers.
// Non-numeric elements are skipped; the report carries many nested blocks
// the job does not persist.
type viewResults map[string]int64

func (v *viewResults) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	out := make(map[string]int64)
	for {
		tok, err := d.Token()
		if err != nil {
			return err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			var raw string
			if err := d.DecodeElement(&raw, &t); err != nil {
				return err
			}
			if n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64); err == nil {
				out[t.Name.Local] = n
			}
		case xml.EndElement:
			if t.Name == start.Name {
				*v = out
				return nil
			}
		}
	}
}

// columnMetrics translates report element names to persisted column
// names. Missing metrics stay zero.
func columnMetrics(view viewResults) map[string]int64 {
	cols := make(map[string]int64, len(metricNames))
	for apiName, col := range metricNames {
		cols[col] = view[apiName]
	}
	return cols
}

func (p *Pipeline) countParseError(ctx context.Context, subject string, err error) {
	p.logger.Error("malformed pageload payload",
		zap.String("subject", subject), zap.Error(err))
	p.warnSQL(p.store.AddAPIErrors(ctx, service, 1))
	metrics.ObserveAPIError(service)
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
