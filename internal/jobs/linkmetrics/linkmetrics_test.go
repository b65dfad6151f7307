package linkmetrics

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/seopulse/collector/internal/collect"
	"github.com/seopulse/collector/internal/httpclient"
	"github.com/seopulse/collector/internal/mail"
	"github.com/seopulse/collector/internal/runner"
	"github.com/seopulse/collector/internal/store"
)

func newEnv(t *testing.T, mock pgxmock.PgxPoolIface) *runner.Env {
	t.Helper()
	st := store.NewWithQuerier(mock)
	return &runner.Env{
		Store:  st,
		HTTP:   httpclient.New(5*time.Second, st, mail.Nop{}, false, zap.NewNop()),
		Mailer: mail.Nop{},
		Logger: zap.NewNop(),
	}
}

func TestSignedQueryCarriesValidSignature(t *testing.T) {
	t.Parallel()

	j := New(false, false)
	j.accessID = "member-123"
	j.secretKey = "sekrit"
	j.Now = func() time.Time { return time.Unix(1_700_000_000, 0) }

	params, err := url.ParseQuery(j.signedQuery(nil))
	require.NoError(t, err)
	require.Equal(t, "member-123", params.Get("AccessID"))
	require.Equal(t, "1700000300", params.Get("Expires"))

	mac := hmac.New(sha1.New, []byte("sekrit"))
	fmt.Fprintf(mac, "member-123\n1700000300")
	require.Equal(t, base64.StdEncoding.EncodeToString(mac.Sum(nil)), params.Get("Signature"))
}

func TestBuildQueueSkipsWhenIndexIsStale(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	indexStamp := time.Date(2026, 8, 20, 14, 0, 0, 0, time.UTC)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintf(w, "%d", indexStamp.Unix())
	}))
	defer srv.Close()

	j := New(false, false)
	j.BaseURL = srv.URL

	// The freshness probe is a counted call.
	mock.ExpectExec("INSERT INTO api_calls").
		WithArgs(service, 1).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectQuery("SELECT max\\(day\\) FROM linkmetrics_index").
		WillReturnRows(pgxmock.NewRows([]string{"max"}).
			AddRow(ptrTime(time.Date(2026, 8, 20, 0, 0, 0, 0, time.UTC))))

	q, err := j.BuildQueue(context.Background(), newEnv(t, mock))
	require.NoError(t, err)
	require.Zero(t, q.Len())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBuildQueueProceedsOnFreshIndex(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	indexStamp := time.Date(2026, 8, 28, 3, 0, 0, 0, time.UTC)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintf(w, "%d", indexStamp.Unix())
	}))
	defer srv.Close()

	j := New(false, false)
	j.BaseURL = srv.URL

	mock.ExpectExec("INSERT INTO api_calls").
		WithArgs(service, 1).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectQuery("SELECT max\\(day\\) FROM linkmetrics_index").
		WillReturnRows(pgxmock.NewRows([]string{"max"}).
			AddRow(ptrTime(time.Date(2026, 8, 20, 0, 0, 0, 0, time.UTC))))
	mock.ExpectQuery("SELECT id, url FROM linkmetrics_urls").
		WillReturnRows(pgxmock.NewRows([]string{"id", "url"}).
			AddRow(int64(1), "http://mysite.example/").
			AddRow(int64(2), "http://mysite.example/blog"))
	mock.ExpectExec("INSERT INTO linkmetrics_index").
		WithArgs(time.Date(2026, 8, 28, 0, 0, 0, 0, time.UTC)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	q, err := j.BuildQueue(context.Background(), newEnv(t, mock))
	require.NoError(t, err)
	require.Equal(t, 2, q.Len())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestProcessInsertsMetricsWithZeroDefaults(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	// A free account returns only a few of the metric fields.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"ueid": 120, "upa": "44.5", "pda": 61.2, "uu": "ignored"}`))
	}))
	defer srv.Close()

	j := New(false, false)
	j.BaseURL = srv.URL
	j.accessID = "member-123"
	j.secretKey = "sekrit"
	j.maxCalls = 100

	mock.ExpectQuery("SELECT count FROM api_calls").
		WithArgs(service).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(3))
	mock.ExpectExec("INSERT INTO api_calls").
		WithArgs(service, 1).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	args := []any{"http://mysite.example/"}
	for _, col := range store.LinkMetricColumns() {
		switch col {
		case "ueid":
			args = append(args, 120.0)
		case "upa":
			args = append(args, 44.5)
		case "pda":
			args = append(args, 61.2)
		default:
			args = append(args, 0.0)
		}
	}
	mock.ExpectExec("INSERT INTO linkmetrics_metrics").
		WithArgs(args...).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	p := &Pipeline{
		job:    j,
		store:  store.NewWithQuerier(mock),
		http:   httpclient.New(5*time.Second, store.NewWithQuerier(mock), mail.Nop{}, false, zap.NewNop()),
		mailer: mail.Nop{},
		logger: zap.NewNop(),
	}
	require.NoError(t, p.Process(context.Background(), collect.WorkItem{ID: 1, Path: "http://mysite.example/"}))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestProcessSkipsWhenBudgetSpent(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		t.Error("no remote call may be made once the budget is spent")
	}))
	defer srv.Close()

	j := New(false, false)
	j.BaseURL = srv.URL
	j.maxCalls = 50

	mock.ExpectQuery("SELECT count FROM api_calls").
		WithArgs(service).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(50))

	st := store.NewWithQuerier(mock)
	p := &Pipeline{
		job:    j,
		store:  st,
		http:   httpclient.New(5*time.Second, st, mail.Nop{}, false, zap.NewNop()),
		mailer: mail.Nop{},
		logger: zap.NewNop(),
	}
	require.NoError(t, p.Process(context.Background(), collect.WorkItem{Path: "http://mysite.example/"}))
	require.NoError(t, mock.ExpectationsWereMet())
}

func ptrTime(t time.Time) *time.Time { return &t }
