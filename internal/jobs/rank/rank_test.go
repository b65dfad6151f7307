package rank

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/seopulse/collector/internal/collect"
	"github.com/seopulse/collector/internal/httpclient"
	"github.com/seopulse/collector/internal/mail"
	"github.com/seopulse/collector/internal/store"
)

type searchResult struct {
	Link        string `json:"link"`
	DisplayLink string `json:"displayLink"`
}

func searchPageJSON(t *testing.T, total int, results []searchResult) []byte {
	t.Helper()
	payload := map[string]any{
		"searchInformation": map[string]any{"totalResults": fmt.Sprintf("%d", total)},
		"items":             results,
	}
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	return body
}

func newPipeline(t *testing.T, j *Job, mock pgxmock.PgxPoolIface) *Pipeline {
	t.Helper()
	st := store.NewWithQuerier(mock)
	return &Pipeline{
		job:    j,
		store:  st,
		http:   httpclient.New(5*time.Second, st, mail.Nop{}, false, zap.NewNop()),
		mailer: mail.Nop{},
		logger: zap.NewNop(),
	}
}

func expectBudgetAndCall(mock pgxmock.PgxPoolIface, used int) {
	mock.ExpectQuery("SELECT count FROM api_calls").
		WithArgs(service).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(used))
	mock.ExpectExec("INSERT INTO api_calls").
		WithArgs(service, 1).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
}

func expectURLUpsert(mock pgxmock.PgxPoolIface, link string) {
	mock.ExpectExec("INSERT INTO rank_urls").
		WithArgs(link).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
}

func TestLookupFoundOnSecondPage(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	firstPage := make([]searchResult, 10)
	for i := range firstPage {
		firstPage[i] = searchResult{
			Link:        fmt.Sprintf("http://other%d.example/page", i+1),
			DisplayLink: fmt.Sprintf("other%d.example", i+1),
		}
	}
	secondPage := []searchResult{
		{Link: "http://other11.example/a", DisplayLink: "other11.example"},
		{Link: "http://other12.example/b", DisplayLink: "other12.example"},
		{Link: "http://mysite.example/hit", DisplayLink: "mysite.example"},
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("start") {
		case "":
			w.Write(searchPageJSON(t, 60, firstPage))
		case "11":
			w.Write(searchPageJSON(t, 60, secondPage))
		default:
			t.Errorf("unexpected start parameter %q", r.URL.Query().Get("start"))
		}
	}))
	defer srv.Close()

	j := New(false, false)
	j.BaseURL = srv.URL
	j.apiKey = "key"
	j.engineID = "engine"
	j.maxResults = 15
	j.maxCalls = 100

	expectBudgetAndCall(mock, 0)
	expectBudgetAndCall(mock, 1)

	// Match found at absolute position 13.
	expectURLUpsert(mock, "http://mysite.example/hit")
	mock.ExpectExec("INSERT INTO rank_results").
		WithArgs("mysite.example", "buy widgets", "http://mysite.example/hit", 13).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	// The first page's links become the top-ten set.
	for i, r := range firstPage {
		expectURLUpsert(mock, r.Link)
		mock.ExpectExec("INSERT INTO rank_top_ten").
			WithArgs("mysite.example", "buy widgets", r.Link, i+1).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
	}

	p := newPipeline(t, j, mock)
	err = p.Process(context.Background(), collect.WorkItem{
		ID:         1,
		Domain:     "mysite.example",
		Keyword:    "buy widgets",
		Country:    "us",
		SearchHost: "google.com",
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLookupBudgetCheckFailureRecordsNotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Error("no remote call should be made when the budget cannot be read")
	}))
	defer srv.Close()

	j := New(false, false)
	j.BaseURL = srv.URL
	j.apiKey = "key"
	j.engineID = "engine"
	j.maxResults = 10
	j.maxCalls = 100

	mock.ExpectQuery("SELECT count FROM api_calls").
		WithArgs(service).
		WillReturnError(fmt.Errorf("connection reset"))
	expectURLUpsert(mock, "none")
	mock.ExpectExec("INSERT INTO rank_results").
		WithArgs("mysite.example", "widgets", "none", 0).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	core, logs := observer.New(zapcore.ErrorLevel)
	p := newPipeline(t, j, mock)
	p.logger = zap.New(core)

	require.NoError(t, p.Process(context.Background(), collect.WorkItem{
		Domain:  "mysite.example",
		Keyword: "widgets",
	}))

	// The failed read is reported as a budget problem, not a write one.
	require.Equal(t, 1, logs.FilterMessage("daily budget check failed").Len())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLookupBudgetExhaustedRecordsNotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		t.Error("no remote call may be made once the budget is spent")
	}))
	defer srv.Close()

	j := New(false, false)
	j.BaseURL = srv.URL
	j.maxResults = 15
	j.maxCalls = 100

	mock.ExpectQuery("SELECT count FROM api_calls").
		WithArgs(service).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(100))

	expectURLUpsert(mock, "none")
	mock.ExpectExec("INSERT INTO rank_results").
		WithArgs("mysite.example", "buy widgets", "none", 0).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	p := newPipeline(t, j, mock)
	err = p.Process(context.Background(), collect.WorkItem{
		Domain:  "mysite.example",
		Keyword: "buy widgets",
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLookupNotFoundWithinWindow(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	// Eight results total, none matching.
	page := make([]searchResult, 8)
	for i := range page {
		page[i] = searchResult{
			Link:        fmt.Sprintf("http://other%d.example/", i+1),
			DisplayLink: fmt.Sprintf("other%d.example", i+1),
		}
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write(searchPageJSON(t, 8, page))
	}))
	defer srv.Close()

	j := New(false, false)
	j.BaseURL = srv.URL
	j.maxResults = 15
	j.maxCalls = 100

	expectBudgetAndCall(mock, 0)

	expectURLUpsert(mock, "none")
	mock.ExpectExec("INSERT INTO rank_results").
		WithArgs("mysite.example", "buy widgets", "none", 0).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	for i, r := range page {
		expectURLUpsert(mock, r.Link)
		mock.ExpectExec("INSERT INTO rank_top_ten").
			WithArgs("mysite.example", "buy widgets", r.Link, i+1).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
	}

	p := newPipeline(t, j, mock)
	require.NoError(t, p.Process(context.Background(), collect.WorkItem{
		Domain:  "mysite.example",
		Keyword: "buy widgets",
	}))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLookupTestModeSkipsPersistence(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write(searchPageJSON(t, 1, []searchResult{
			{Link: "http://mysite.example/", DisplayLink: "mysite.example"},
		}))
	}))
	defer srv.Close()

	j := New(true, false)
	j.BaseURL = srv.URL
	j.maxResults = 15
	j.maxCalls = 100

	// Calls are still counted in test mode; nothing else is written.
	expectBudgetAndCall(mock, 0)

	p := newPipeline(t, j, mock)
	require.NoError(t, p.Process(context.Background(), collect.WorkItem{
		Domain:  "mysite.example",
		Keyword: "buy widgets",
	}))
	require.NoError(t, mock.ExpectationsWereMet())
}
