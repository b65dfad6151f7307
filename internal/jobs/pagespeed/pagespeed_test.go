package pagespeed

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/seopulse/collector/internal/collect"
	"github.com/seopulse/collector/internal/httpclient"
	"github.com/seopulse/collector/internal/mail"
	"github.com/seopulse/collector/internal/store"
)

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

func expectCountedCall(mock pgxmock.PgxPoolIface) {
	mock.ExpectExec("INSERT INTO api_calls").
		WithArgs(service, 1).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
}

func TestProcessInsertsOneRowPerStrategy(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	// Mixed stat typing and a missing metric, which must default to zero.
	const payload = `{
		"score": 87,
		"pageStats": {
			"numberHosts": 4,
			"numberResources": 31,
			"totalRequestBytes": "not-a-number",
			"textResponseBytes": "51200",
			"htmlResponseBytes": 9000
		}
	}`

	var strategiesSeen []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		strategiesSeen = append(strategiesSeen, r.URL.Query().Get("strategy"))
		w.Write([]byte(payload))
	}))
	defer srv.Close()

	j := New(false, false)
	j.BaseURL = srv.URL
	j.apiKey = "key"

	for range strategies {
		expectCountedCall(mock)
		mock.ExpectExec("INSERT INTO pagespeed_scores").
			WithArgs(int64(7), pgxmock.AnyArg(), int64(87),
				int64(4), int64(31), int64(0), int64(0),
				int64(0), int64(51200), int64(0), int64(9000),
				int64(0), int64(0), int64(0)).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
	}

	p := newPipeline(t, j, mock)
	require.NoError(t, p.Process(context.Background(), collect.WorkItem{
		ID:     7,
		Domain: "mysite.example",
		Path:   "/landing",
	}))
	require.Equal(t, []string{"desktop", "mobile"}, strategiesSeen)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestProcessRemoteFailureAbandonsStrategy(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	j := New(false, false)
	j.BaseURL = srv.URL

	// Both strategies are attempted; both count a call and an error, no
	// score rows are written.
	for range strategies {
		expectCountedCall(mock)
		mock.ExpectExec("INSERT INTO api_errors").
			WithArgs(service, 1).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
	}

	p := newPipeline(t, j, mock)
	require.NoError(t, p.Process(context.Background(), collect.WorkItem{
		ID:     7,
		Domain: "mysite.example",
	}))
	require.NoError(t, mock.ExpectationsWereMet())
}

func rawStats(t *testing.T, payload string) map[string]json.RawMessage {
	t.Helper()
	var stats map[string]json.RawMessage
	require.NoError(t, json.Unmarshal([]byte(payload), &stats))
	return stats
}

func TestStatValueCoercions(t *testing.T) {
	t.Parallel()

	require.Equal(t, int64(12), statValue(rawStats(t, `{"a": 12}`), "a"))
	require.Equal(t, int64(34), statValue(rawStats(t, `{"a": "34"}`), "a"))
	require.Zero(t, statValue(rawStats(t, `{"a": "lots"}`), "a"))
	require.Zero(t, statValue(rawStats(t, `{}`), "a"))
}
