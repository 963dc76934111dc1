package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/projectpulse/projectpulse/internal/cache"
	"github.com/projectpulse/projectpulse/internal/mirror"
	"github.com/projectpulse/projectpulse/internal/model"
	"github.com/projectpulse/projectpulse/internal/plans"
	"github.com/projectpulse/projectpulse/internal/reports"
)

const privilegedID int64 = 99

func newTestServer(t *testing.T, records []model.Record) (*httptest.Server, *mirror.Store) {
	t.Helper()

	db, err := mirror.Open(filepath.Join(t.TempDir(), "mirror.db"))
	require.NoError(t, err)
	st, err := mirror.NewStore(db, 2, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	_, err = st.ReplaceAll(context.Background(), records)
	require.NoError(t, err)

	rep := reports.New(st, cache.New(), reports.Config{
		VolatileTTL:  time.Minute,
		BreakdownTTL: time.Minute,
		PageSize:     5,
	})

	ps, err := plans.Load(
		filepath.Join(t.TempDir(), "plans.json"),
		func(id int64) bool { return id == privilegedID },
		zerolog.Nop(),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ps.Close() })

	h := NewHandlers(rep, ps, func() bool { return true }, zerolog.Nop())
	srv := httptest.NewServer(h.NewRouter())
	t.Cleanup(srv.Close)
	return srv, st
}

func do(t *testing.T, method, url, viewer, body string) (*http.Response, map[string]interface{}) {
	t.Helper()
	var rdr *strings.Reader
	if body == "" {
		rdr = strings.NewReader("")
	} else {
		rdr = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, url, rdr)
	require.NoError(t, err)
	if viewer != "" {
		req.Header.Set(viewerHeader, viewer)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]interface{}
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func TestHealthEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	resp, body := do(t, http.MethodGet, srv.URL+"/api/health", "", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])
}

func TestReportsEndpoints(t *testing.T) {
	srv, st := newTestServer(t, []model.Record{
		{Name: "Alpha", District: "North", TotalValue: 10, Problem: "stalled", ProblemDue: "2030-01-01", Status: model.Unknown},
		{Name: "Beta", District: "North", TotalValue: 5, Problem: model.NoProblem, Status: model.Unknown},
	})

	resp, sum := do(t, http.MethodGet, srv.URL+"/api/reports/summary", "", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 2, sum["TotalCount"])
	assert.EqualValues(t, 1, sum["ProblemCount"])

	resp, _ = do(t, http.MethodGet, srv.URL+"/api/reports/groups/district", "", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = do(t, http.MethodGet, srv.URL+"/api/reports/groups/evil;drop", "", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, page := do(t, http.MethodGet, srv.URL+"/api/reports/search?q=Alp", "", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 1, page["Total"])

	resp, _ = do(t, http.MethodGet, srv.URL+"/api/reports/search", "", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, gen := do(t, http.MethodGet, srv.URL+"/api/reports/generation", "", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 2, gen["records"])

	require.NoError(t, st.ReplaceWorks(context.Background(), []model.WorkItem{
		{District: "North", Task: "inspect site", Status: "done", EntryDate: "2024-01-15"},
		{District: "South", Task: "file permits", EntryDate: "2024-01-15"},
	}))
	resp, works := do(t, http.MethodGet, srv.URL+"/api/reports/works", "", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 2, works["TotalTasks"])
	assert.EqualValues(t, 1, works["CompletedTasks"])
	assert.EqualValues(t, 2, works["ActiveDistricts"])
}

func TestPlanLifecycleOverHTTP(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	const date = "2024-01-15"

	// missing viewer header
	resp, _ := do(t, http.MethodPost, srv.URL+"/api/plans", "", `{"text":"x"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, created := do(t, http.MethodPost, srv.URL+"/api/plans", "42",
		`{"text":"Draft contract","due_date":"2024-01-20","date":"`+date+`"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.EqualValues(t, 1, created["id"])

	// cannot write into someone else's scope
	resp, _ = do(t, http.MethodPost, srv.URL+"/api/plans", "7",
		`{"owner":42,"text":"sneaky","date":"`+date+`"}`)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, listed := do(t, http.MethodGet, srv.URL+"/api/plans?date="+date, "42", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, listed["plans"], 1)

	// another viewer sees nothing, the privileged viewer sees the union
	_, other := do(t, http.MethodGet, srv.URL+"/api/plans?owner=42&date="+date, "7", "")
	assert.Empty(t, other["plans"])
	_, union := do(t, http.MethodGet, srv.URL+"/api/plans?date="+date, "99", "")
	assert.Len(t, union["plans"], 1)

	resp, _ = do(t, http.MethodPost, srv.URL+"/api/plans/1/toggle?date="+date, "42", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = do(t, http.MethodDelete, srv.URL+"/api/plans/1?date="+date, "7", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = do(t, http.MethodDelete, srv.URL+"/api/plans/1?date="+date, "42", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	_, listed = do(t, http.MethodGet, srv.URL+"/api/plans?date="+date, "42", "")
	assert.Empty(t, listed["plans"])
}

func TestClearForRequiresPrivilege(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	const date = "2024-01-15"
	_, created := do(t, http.MethodPost, srv.URL+"/api/plans", "42",
		`{"text":"task","date":"`+date+`"}`)
	require.EqualValues(t, 1, created["id"])

	resp, _ := do(t, http.MethodDelete, srv.URL+"/api/plans?owner=42&date="+date, "7", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = do(t, http.MethodDelete, srv.URL+"/api/plans?owner=42&date="+date, "99", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	_, listed := do(t, http.MethodGet, srv.URL+"/api/plans?date="+date, "42", "")
	assert.Empty(t, listed["plans"])
}
