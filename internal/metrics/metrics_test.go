package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"

	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func findMetric(t *testing.T, fams []*dto.MetricFamily, name string) *dto.MetricFamily {
	t.Helper()
	for _, f := range fams {
		if f.GetName() == name {
			return f
		}
	}
	t.Fatalf("metric %s not found", name)
	return nil
}

func TestRegistryCountsAndGauges(t *testing.T) {
	r := NewRegistry()

	r.RecordDecision("risk", "daily_loss_limit_breached")
	r.RecordDecision("risk", "daily_loss_limit_breached")
	r.RecordTrade("BUY", "signal")
	r.RecordExit("stop_loss")
	r.OpenPositions.Set(3)
	r.SetHalt("daily", true)
	r.SetHalt("monthly", false)

	fams, err := r.Gather().Gather()
	require.NoError(t, err)

	decisions := findMetric(t, fams, "equityrun_decisions_total")
	require.Len(t, decisions.Metric, 1)
	assert.Equal(t, 2.0, decisions.Metric[0].GetCounter().GetValue())

	open := findMetric(t, fams, "equityrun_open_positions")
	assert.Equal(t, 3.0, open.Metric[0].GetGauge().GetValue())

	halt := findMetric(t, fams, "equityrun_risk_halt_active")
	values := map[string]float64{}
	for _, m := range halt.Metric {
		values[m.Label[0].GetValue()] = m.GetGauge().GetValue()
	}
	assert.Equal(t, 1.0, values["daily"])
	assert.Equal(t, 0.0, values["monthly"])
}

func TestRegistriesAreIndependent(t *testing.T) {
	a := NewRegistry()
	b := NewRegistry()
	a.RecordExit("take_profit")

	fams, err := b.Gather().Gather()
	require.NoError(t, err)
	for _, f := range fams {
		if f.GetName() == "equityrun_position_exits_total" {
			assert.Empty(t, f.Metric)
		}
	}
}

func TestHandlerServesTextFormat(t *testing.T) {
	r := NewRegistry()
	r.RecordTrade("SELL", "rebalance")

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	require.Equal(t, 200, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "equityrun_trades_total"))
}
