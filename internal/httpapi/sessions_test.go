package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Kocoro-lab/stepflow/internal/dispatch"
	"github.com/Kocoro-lab/stepflow/internal/plan"
	"github.com/Kocoro-lab/stepflow/internal/session"
	"github.com/Kocoro-lab/stepflow/internal/storage"
)

type planMap map[string]*plan.Plan

func (m planMap) GetPlan(ctx context.Context, planID, version string) (*plan.Plan, error) {
	return m[planID], nil
}

func newTestServer(t *testing.T) (*httptest.Server, *session.Manager) {
	t.Helper()
	store, err := storage.NewFileStore(t.TempDir(), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	p := &plan.Plan{ID: "quote@1", Steps: []plan.Step{
		plan.FunctionCallStep{ID: 1, FunctionName: "noop"},
	}}
	fns := dispatch.FuncMap{
		"noop": func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			return "ok", nil
		},
	}
	mgr := session.NewManager(store, planMap{"quote@1": p}, fns, nil, zap.NewNop(), session.ManagerOptions{})

	ctx := context.Background()
	s, err := mgr.CreateSession(ctx, p, "cli")
	require.NoError(t, err)
	_, err = mgr.ExecuteSession(ctx, s.ID)
	require.NoError(t, err)
	_, err = mgr.CreateSession(ctx, p, "web")
	require.NoError(t, err)

	mux := http.NewServeMux()
	NewSessionsHandler(mgr, zap.NewNop()).RegisterRoutes(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, mgr
}

func getJSON(t *testing.T, url string, out interface{}) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil && resp.StatusCode == http.StatusOK {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestListSessionsEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	var body struct {
		Sessions []session.Session `json:"sessions"`
		Count    int               `json:"count"`
	}
	code := getJSON(t, srv.URL+"/api/sessions", &body)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, 2, body.Count)

	code = getJSON(t, srv.URL+"/api/sessions?status=completed", &body)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, 1, body.Count)
	assert.Equal(t, session.StatusCompleted, body.Sessions[0].Status)

	code = getJSON(t, srv.URL+"/api/sessions?platform=web&base_plan_id=quote", &body)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, 1, body.Count)

	code = getJSON(t, srv.URL+"/api/sessions?status=bogus", nil)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestGetSessionEndpoint(t *testing.T) {
	srv, mgr := newTestServer(t)

	all, err := mgr.ListSessions(context.Background(), session.Filter{Status: session.StatusCompleted}, session.Page{})
	require.NoError(t, err)
	require.Len(t, all, 1)

	var got session.Session
	code := getJSON(t, srv.URL+"/api/sessions/"+all[0].ID, &got)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, all[0].ID, got.ID)
	assert.Equal(t, session.StatusCompleted, got.Status)

	code = getJSON(t, srv.URL+"/api/sessions/no-such-id", nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestStatsEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	var stats session.Stats
	code := getJSON(t, srv.URL+"/api/stats?plan_id=quote@1", &stats)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, 2, stats.TotalExecutions)
	assert.Equal(t, 1, stats.SuccessCount)

	code = getJSON(t, srv.URL+"/api/stats", nil)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestMethodNotAllowed(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Post(srv.URL+"/api/sessions", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}
