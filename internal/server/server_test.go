package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sweepstake-bot/internal/dbtest"
	"sweepstake-bot/internal/metrics"
	"sweepstake-bot/internal/utils"
)

func newTestServer(t *testing.T, cidrs ...string) *Server {
	t.Helper()
	allowed, err := utils.ParseCIDRs(cidrs)
	require.NoError(t, err)
	return New(dbtest.Open(t), nil, allowed, nil)
}

func TestHealthz(t *testing.T) {
	s := newTestServer(t, "192.0.2.0/24")

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "ok", body["database"])
	_, hasRedis := body["redis"]
	assert.False(t, hasRedis)
}

func TestMetricsEndpoint(t *testing.T) {
	metrics.Default().RecordTicketsIssued("buy", 1)
	s := newTestServer(t, "192.0.2.0/24")

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "sweepstake_tickets_issued_total")
}

func TestAllowListRejectsOutsiders(t *testing.T) {
	s := newTestServer(t, "10.0.0.0/8")

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.RemoteAddr = "10.1.2.3:4444"
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}
