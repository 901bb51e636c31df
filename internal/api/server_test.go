package api

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"idlecore/internal/catalog"
	"idlecore/internal/clock"
	"idlecore/internal/config"
	"idlecore/internal/hub"
	"idlecore/internal/metrics"
	"idlecore/internal/persist"
	"idlecore/internal/ranking"
	"idlecore/internal/session"
)

type testServer struct {
	handler http.Handler
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	cat, err := catalog.Default()
	require.NoError(t, err)
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	clk := clock.NewFake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	ranks := ranking.NewMemoryStore()
	rec := metrics.New()

	mgr := session.NewManager(session.Deps{
		Catalog: cat,
		Persist: persist.NewAdapter(persist.NewMemoryKV(), cat, clk, logger),
		Ranking: ranks,
		Clock:   clk,
		Logger:  logger,
		Metrics: rec,
	}, session.DefaultConfig())
	srv := New(config.APIConfig{LeaderboardSize: 20}, logger, Deps{
		Catalog:  cat,
		Sessions: mgr,
		Board:    ranks,
		Hub:      hub.New(mgr, session.ErrorCode, logger),
		Metrics:  rec,
	})
	return &testServer{handler: srv.Handler()}
}

func (ts *testServer) do(t *testing.T, method, path, player, body string) (int, map[string]any) {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	if player != "" {
		req.Header.Set(PlayerKeyHeader, player)
	}
	rr := httptest.NewRecorder()
	ts.handler.ServeHTTP(rr, req)
	var out map[string]any
	if strings.HasPrefix(rr.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out))
	}
	return rr.Code, out
}

func TestHealthz(t *testing.T) {
	ts := newTestServer(t)
	code, out := ts.do(t, http.MethodGet, "/healthz", "", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, out["ok"])
}

func TestJoinMintsGuestKey(t *testing.T) {
	ts := newTestServer(t)
	code, out := ts.do(t, http.MethodPost, "/v1/session/join", "", "")
	require.Equal(t, http.StatusOK, code)
	key, _ := out["player_key"].(string)
	assert.True(t, strings.HasPrefix(key, "guest-"))
	assert.NotNil(t, out["state"])
	assert.Nil(t, out["welcome_back"])
}

func TestClickAndState(t *testing.T) {
	ts := newTestServer(t)
	code, _ := ts.do(t, http.MethodPost, "/v1/session/join", "", `{"player_key":"alice"}`)
	require.Equal(t, http.StatusOK, code)

	code, out := ts.do(t, http.MethodPost, "/v1/click", "alice", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "state_changed", out["type"])
	assert.Equal(t, 1.0, out["data"].(map[string]any)["balance"])

	code, out = ts.do(t, http.MethodGet, "/v1/state", "alice", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "full_state", out["type"])
	units := out["data"].(map[string]any)["units"].([]any)
	assert.NotEmpty(t, units)
}

func TestPurchaseErrors(t *testing.T) {
	ts := newTestServer(t)
	ts.do(t, http.MethodPost, "/v1/session/join", "bob", "")

	code, out := ts.do(t, http.MethodPost, "/v1/purchase", "bob", `{"unit_id":"lemonade"}`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "insufficient_funds", out["code"])

	code, out = ts.do(t, http.MethodPost, "/v1/purchase", "bob", `{"unit_id":"moon"}`)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "unknown_unit", out["code"])

	code, _ = ts.do(t, http.MethodPost, "/v1/purchase", "bob", `{"unit":"moon"}`)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestMissingPlayerKey(t *testing.T) {
	ts := newTestServer(t)
	code, _ := ts.do(t, http.MethodPost, "/v1/click", "", "")
	assert.Equal(t, http.StatusUnauthorized, code)
}

func TestCommandWithoutSession(t *testing.T) {
	ts := newTestServer(t)
	code, out := ts.do(t, http.MethodPost, "/v1/click", "ghost", "")
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "no_session", out["code"])
}

func TestSyncReplay(t *testing.T) {
	ts := newTestServer(t)
	ts.do(t, http.MethodPost, "/v1/session/join", "carol", "")

	code, out := ts.do(t, http.MethodPost, "/v1/sync/replay", "carol", `{"commands":[
		{"type":"click","idempotency_key":"k1"},
		{"type":"click","data":{"multiplier_hint":1},"idempotency_key":"k2"},
		{"type":"purchase","data":{"unit_id":"moon"},"idempotency_key":"k3"},
		{"type":"prestige","idempotency_key":"k4"}
	]}`)
	require.Equal(t, http.StatusOK, code)
	results := out["results"].([]any)
	require.Len(t, results, 4)
	status := func(i int) string { return results[i].(map[string]any)["status"].(string) }
	assert.Equal(t, "applied", status(0))
	assert.Equal(t, "applied", status(1))
	assert.Equal(t, "rejected", status(2))
	assert.Equal(t, "rejected", status(3))
	assert.Equal(t, "bad_command", results[3].(map[string]any)["code"])

	_, out = ts.do(t, http.MethodGet, "/v1/state", "carol", "")
	assert.Equal(t, 2.0, out["data"].(map[string]any)["balance"])
}

func TestLeaderboard(t *testing.T) {
	ts := newTestServer(t)
	ts.do(t, http.MethodPost, "/v1/session/join", "dave", "")

	code, out := ts.do(t, http.MethodGet, "/v1/leaderboard/lifetime_earned?limit=5", "", "")
	require.Equal(t, http.StatusOK, code)
	rows := out["rows"].([]any)
	require.Len(t, rows, 1)
	assert.Equal(t, "dave", rows[0].(map[string]any)["player_key"])

	code, _ = ts.do(t, http.MethodGet, "/v1/leaderboard/karma", "", "")
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = ts.do(t, http.MethodGet, "/v1/leaderboard/balance?limit=0", "", "")
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestLeaveEndsSession(t *testing.T) {
	ts := newTestServer(t)
	ts.do(t, http.MethodPost, "/v1/session/join", "erin", "")
	ts.do(t, http.MethodPost, "/v1/click", "erin", "")

	code, out := ts.do(t, http.MethodPost, "/v1/session/leave", "erin", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, out["saved"])

	code, _ = ts.do(t, http.MethodGet, "/v1/state", "erin", "")
	assert.Equal(t, http.StatusNotFound, code)

	// Rejoining restores the saved balance.
	_, out = ts.do(t, http.MethodPost, "/v1/session/join", "erin", "")
	assert.Equal(t, 1.0, out["state"].(map[string]any)["balance"])
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t)
	ts.do(t, http.MethodPost, "/v1/session/join", "frank", "")
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	ts.handler.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "idle_live_sessions 1")
}

func TestCatalogEndpoint(t *testing.T) {
	ts := newTestServer(t)
	code, out := ts.do(t, http.MethodGet, "/v1/catalog", "", "")
	require.Equal(t, http.StatusOK, code)
	assert.NotEmpty(t, out["units"])
}
