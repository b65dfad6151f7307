// Package crawlstats implements the webmaster-tools collection job. Per
// domain it downloads the day's top-search-query CSV and follows the
// paginated crawl-issues Atom feed, accumulating a count per error type.
// The feed API authenticates with a session token that can expire mid-run,
// so a 403 triggers one re-authentication and a retry of the same page.
package crawlstats

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
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

const service = "crawlstats"

const (
	defaultAuthURL  = "https://www.google.com/accounts/ClientLogin"
	defaultFeedBase = "https://www.google.com"
)

// retryPause is how long a worker waits before retrying a page after an
// auth expiry or server error.
const retryPause = 30 * time.Second

// maxServerRetries bounds consecutive 5xx retries of the same page.
const maxServerRetries = 3

// queryLagDays is how far search-query stats lag the provider.
const queryLagDays = 2

var authPattern = regexp.MustCompile(`Auth=(\S+)`)

// Job is the crawl-stats collector. AuthURL, FeedBase, Sleep and Now are
// overridable for tests.
type Job struct {
	AuthURL  string
	FeedBase string
	Sleep    func(time.Duration)
	Now      func() time.Time

	test         bool
	notifyErrors bool

	username string
	password string
	threads  int
	token    string
	errorDay string
	queryDay string
}

func New(test, notifyErrors bool) *Job {
	return &Job{
		AuthURL:      defaultAuthURL,
		FeedBase:     defaultFeedBase,
		Sleep:        time.Sleep,
		Now:          time.Now,
		test:         test,
		notifyErrors: notifyErrors,
	}
}

func (j *Job) Name() string    { return service }
func (j *Job) Service() string { return service }

// Resolve loads credentials and obtains the initial session token. A
// failed handshake is fatal; nothing can be collected without a token.
func (j *Job) Resolve(ctx context.Context, env *runner.Env) error {
	var err error
	if j.username, err = env.Require(ctx, "crawlstats_username"); err != nil {
		return err
	}
	if j.password, err = env.Require(ctx, "crawlstats_password"); err != nil {
		return err
	}
	if j.threads, err = env.RequireInt(ctx, "crawlstats_threads"); err != nil {
		return err
	}

	now := j.Now()
	j.errorDay = now.Format("2006-01-02")
	j.queryDay = now.AddDate(0, 0, -queryLagDays).Format("2006-01-02")

	if j.token, err = j.authenticate(ctx, env.HTTP); err != nil {
		return fmt.Errorf("initial auth handshake: %w", err)
	}
	return nil
}

func (j *Job) Purge(ctx context.Context, env *runner.Env) error {
	return env.Store.PurgeCrawlStatsDay(ctx, j.errorDay, j.queryDay)
}

func (j *Job) BuildQueue(ctx context.Context, env *runner.Env) (*queue.Queue, error) {
	items, err := env.Store.CrawlStatsWorkItems(ctx)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("no crawlstats domains configured")
	}
	q := queue.New()
	for _, item := range items {
		q.Push(item)
	}
	return q, nil
}

func (j *Job) Pipeline(b *worker.Bundle) collect.Pipeline {
	return &Pipeline{
		job:    j,
		store:  b.Store,
		http:   b.HTTP,
		mailer: b.Mailer,
		logger: b.Logger,
		token:  j.token,
	}
}

func (j *Job) Threads() int { return j.threads }

// authenticate performs the login handshake and extracts the session
// token from the response body.
func (j *Job) authenticate(ctx context.Context, client *httpclient.Client) (string, error) {
	params := url.Values{}
	params.Set("Email", j.username)
	params.Set("Passwd", j.password)
	params.Set("service", "sitemaps")

	body, err := client.Fetch(ctx, service, j.AuthURL+"?"+params.Encode(), true)
	if err != nil {
		return "", err
	}
	m := authPattern.FindSubmatch(body)
	if m == nil {
		return "", fmt.Errorf("auth token missing from login response")
	}
	return string(m[1]), nil
}

// Pipeline collects one domain's stats per work item. Each worker holds
// its own token copy; a mid-run refresh never races another worker.
type Pipeline struct {
	job    *Job
	store  *store.Store
	http   *httpclient.Client
	mailer mail.Notifier
	logger *zap.Logger
	token  string
}

func (p *Pipeline) Process(ctx context.Context, item collect.WorkItem) error {
	keywords, err := p.store.TrackedKeywords(ctx, item.Domain)
	if err != nil {
		p.warnSQL(err)
	}
	if len(keywords) > 0 {
		p.topQueries(ctx, item.Domain, keywords)
	} else {
		p.logger.Debug("no tracked keywords, skipping search queries",
			zap.String("domain", item.Domain))
	}

	p.crawlErrors(ctx, item.Domain)
	return nil
}

func (p *Pipeline) authHeaders() map[string]string {
	return map[string]string{
		"Authorization": "GoogleLogin auth=" + p.token,
		"GData-Version": "2",
	}
}

// topQueries downloads the search-query CSV for the check date and
// records impressions and clicks for tracked keywords.
func (p *Pipeline) topQueries(ctx context.Context, domain string, keywords []string) {
	listURL := p.job.FeedBase + "/webmasters/tools/downloads-list?hl=en&siteUrl=" +
		url.QueryEscape("http://"+domain+"/")
	body, err := p.http.FetchWithHeaders(ctx, service, listURL, p.authHeaders(), true)
	if err != nil {
		return
	}

	var feeds struct {
		TopQueries string `json:"TOP_QUERIES"`
	}
	if err := json.Unmarshal(body, &feeds); err != nil {
		p.countParseError(ctx, domain, err, body)
		return
	}

	day := strings.ReplaceAll(p.job.queryDay, "-", "")
	csvURL := p.job.FeedBase + feeds.TopQueries + "&prop=ALL&region&db=" + day + "&de=" + day
	csvBody, err := p.http.FetchWithHeaders(ctx, service, csvURL, p.authHeaders(), true)
	if err != nil {
		return
	}

	reader := csv.NewReader(bytes.NewReader(csvBody))
	reader.FieldsPerRecord = -1
	for {
		record, err := reader.Read()
		if err == io.EOF {
			return
		}
		if err != nil {
			p.countParseError(ctx, domain, err, csvBody)
			return
		}
		// Data rows have nine columns:
		// query, impressions, change, clicks, change, ctr, change, position, change.
		if len(record) != 9 {
			continue
		}
		for _, keyword := range keywords {
			if record[0] != keyword {
				continue
			}
			impressions, ierr := cleanCount(record[1])
			clicks, cerr := cleanCount(record[3])
			if ierr != nil || cerr != nil {
				p.countParseError(ctx, domain, errors.Join(ierr, cerr), csvBody)
				continue
			}
			if !p.job.test {
				p.warnSQL(p.store.InsertTopQuery(ctx, p.job.queryDay, domain, keyword, impressions, clicks))
			}
		}
	}
}

// cleanCount strips the thousands separators and "less than" markers the
// CSV uses before parsing a count.
func cleanCount(raw string) (int, error) {
	cleaned := strings.NewReplacer(",", "", "<", "").Replace(strings.TrimSpace(raw))
	return strconv.Atoi(cleaned)
}

// issuesFeed is the slice of the crawl-issues Atom page the job reads.
type issuesFeed struct {
	Links []struct {
		Rel  string `xml:"rel,attr"`
		Href string `xml:"href,attr"`
	} `xml:"link"`
	Entries []struct {
		Detail string `xml:"detail"`
	} `xml:"entry"`
}

// crawlErrors follows the paginated crawl-issues feed and persists one
// count per error type. A 403 pauses, re-authenticates once and retries
// the same page; a second consecutive 403 abandons the domain. Server
// errors retry the same page a bounded number of times. Any other failure
// abandons pagination keeping the counts accumulated so far.
func (p *Pipeline) crawlErrors(ctx context.Context, domain string) {
	counts := make(map[string]int)

	pageURL := p.job.FeedBase + "/webmasters/tools/feeds/" +
		url.QueryEscape("http://"+domain+"/") + "/crawlissues/"
	reauthed := false
	serverRetries := 0

	for pageURL != "" {
		body, err := p.http.FetchWithHeaders(ctx, service, pageURL, p.authHeaders(), true)
		if err != nil {
			var statusErr *httpclient.StatusError
			if errors.As(err, &statusErr) {
				if statusErr.Code == http.StatusForbidden && !reauthed {
					p.logger.Warn("auth token rejected, re-authenticating",
						zap.String("domain", domain))
					p.job.Sleep(retryPause)
					token, aerr := p.job.authenticate(ctx, p.http)
					if aerr != nil {
						break
					}
					p.token = token
					reauthed = true
					continue
				}
				if statusErr.Code >= 500 && serverRetries < maxServerRetries {
					serverRetries++
					p.job.Sleep(retryPause)
					continue
				}
			}
			p.logger.Error("abandoning crawl issue pagination",
				zap.String("domain", domain), zap.Error(err))
			break
		}
		reauthed = false
		serverRetries = 0

		var feed issuesFeed
		if err := xml.Unmarshal(body, &feed); err != nil {
			p.countParseError(ctx, domain, err, body)
			break
		}
		for _, entry := range feed.Entries {
			counts[entry.Detail]++
		}

		pageURL = ""
		for _, link := range feed.Links {
			if link.Rel == "next" {
				pageURL = link.Href
				break
			}
		}
	}

	if p.job.test {
		return
	}
	for errType, count := range counts {
		p.warnSQL(p.store.EnsureCrawlErrorType(ctx, errType))
		p.warnSQL(p.store.InsertCrawlErrorCount(ctx, p.job.errorDay, domain, errType, count))
	}
}

func (p *Pipeline) countParseError(ctx context.Context, domain string, err error, body []byte) {
	p.logger.Error("malformed crawlstats payload",
		zap.String("domain", domain), zap.Error(err), zap.ByteString("payload", body))
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
