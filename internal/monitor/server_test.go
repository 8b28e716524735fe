package monitor

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/equityrun/internal/domain"
	"github.com/sawpanic/equityrun/internal/metrics"
	"github.com/sawpanic/equityrun/internal/state"
)

func testServer() *Server {
	snap := state.NewSnapshot(10000)
	snap.Positions["AAPL"] = domain.Position{
		Symbol:     "AAPL",
		Quantity:   10,
		EntryPrice: 200,
		EntryTime:  time.Now().UTC(),
		StopLoss:   195,
		TakeProfit: 212,
		Status:     domain.StatusOpen,
	}
	return New(":0", metrics.NewRegistry(), func() *state.Snapshot { return snap }, nil)
}

func get(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHealth(t *testing.T) {
	rec := get(t, testServer(), "/health")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, float64(1), body["open_positions"])
}

func TestPositions(t *testing.T) {
	rec := get(t, testServer(), "/positions")
	require.Equal(t, http.StatusOK, rec.Code)

	var positions map[string]domain.Position
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &positions))
	require.Contains(t, positions, "AAPL")
	assert.Equal(t, 195.0, positions["AAPL"].StopLoss)
}

func TestRisk(t *testing.T) {
	rec := get(t, testServer(), "/risk")
	require.Equal(t, http.StatusOK, rec.Code)

	var rs domain.RiskState
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rs))
	assert.Equal(t, 10000.0, rs.CapitalUSD)
}

func TestMetricsEndpoint(t *testing.T) {
	rec := get(t, testServer(), "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestClosesFallsBackToSnapshot(t *testing.T) {
	rec := get(t, testServer(), "/closes")
	require.Equal(t, http.StatusOK, rec.Code)

	var closes []domain.Position
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &closes))
	assert.Empty(t, closes)
}

func TestUnknownMethodRejected(t *testing.T) {
	s := testServer()
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/positions", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
