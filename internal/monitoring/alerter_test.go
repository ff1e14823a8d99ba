package monitoring

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/fund-crawler/internal/config"
)

func thresholds() config.MonitoringConfig {
	return config.MonitoringConfig{
		FailureRateThreshold: 0.5,
		RecordFailThreshold:  0.2,
		StaleAfterHours:      6,
	}
}

func healthySnapshot() *MetricsSnapshot {
	return &MetricsSnapshot{
		RunsTotal:        10,
		RunsComplete:     9,
		RunsFailed:       1,
		RunFailRate:      0.1,
		RecordsProcessed: 95,
		RecordsFailed:    5,
		RecordFailRate:   0.05,
		LastSuccessAt:    completedAt(fixedNow.Add(-time.Hour)),
		LookbackHours:    24,
		CollectedAt:      fixedNow,
	}
}

func TestAlerter_Evaluate_NoAlerts(t *testing.T) {
	alerts := NewAlerter(thresholds()).Evaluate(healthySnapshot())
	assert.Empty(t, alerts)
}

func TestAlerter_Evaluate_RunFailureRate(t *testing.T) {
	snap := healthySnapshot()
	snap.RunsComplete, snap.RunsFailed, snap.RunFailRate = 2, 6, 0.75

	alerts := NewAlerter(thresholds()).Evaluate(snap)
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertRunFailureRate, alerts[0].Type)
	assert.Equal(t, "high", alerts[0].Severity)
	assert.Contains(t, alerts[0].Message, "75.0%")
	assert.Equal(t, fixedNow, alerts[0].Timestamp)
}

func TestAlerter_Evaluate_MinimumRunsRequired(t *testing.T) {
	snap := healthySnapshot()
	// Only 2 finished runs, below the minimum for a failure-rate alert.
	snap.RunsComplete, snap.RunsFailed, snap.RunFailRate = 0, 2, 1.0

	alerts := NewAlerter(thresholds()).Evaluate(snap)
	assert.Empty(t, alerts)
}

func TestAlerter_Evaluate_RecordFailureRate(t *testing.T) {
	snap := healthySnapshot()
	snap.RecordsProcessed, snap.RecordsFailed, snap.RecordFailRate = 60, 40, 0.4

	alerts := NewAlerter(thresholds()).Evaluate(snap)
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertRecordFailureRate, alerts[0].Type)
	assert.Equal(t, "medium", alerts[0].Severity)
	assert.Contains(t, alerts[0].Message, "40 of 100")
}

func TestAlerter_Evaluate_StaleData(t *testing.T) {
	snap := healthySnapshot()
	snap.LastSuccessAt = completedAt(fixedNow.Add(-9 * time.Hour))

	alerts := NewAlerter(thresholds()).Evaluate(snap)
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertStaleData, alerts[0].Type)
	assert.Contains(t, alerts[0].Message, "9h0m0s")
}

func TestAlerter_Evaluate_NeverSucceeded(t *testing.T) {
	snap := healthySnapshot()
	snap.LastSuccessAt = nil

	alerts := NewAlerter(thresholds()).Evaluate(snap)
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertStaleData, alerts[0].Type)
	assert.Contains(t, alerts[0].Message, "ever completed")
}

func TestAlerter_Evaluate_MultipleAlerts(t *testing.T) {
	snap := &MetricsSnapshot{
		RunsComplete:     1,
		RunsFailed:       4,
		RunFailRate:      0.8,
		RecordsProcessed: 5,
		RecordsFailed:    15,
		RecordFailRate:   0.75,
		LookbackHours:    24,
		CollectedAt:      fixedNow,
	}

	alerts := NewAlerter(thresholds()).Evaluate(snap)
	assert.Len(t, alerts, 3)

	types := make(map[AlertType]bool)
	for _, a := range alerts {
		types[a.Type] = true
	}
	assert.True(t, types[AlertRunFailureRate])
	assert.True(t, types[AlertRecordFailureRate])
	assert.True(t, types[AlertStaleData])
}

func TestAlerter_Evaluate_ZeroThresholdsDisable(t *testing.T) {
	snap := &MetricsSnapshot{
		RunsComplete:   0,
		RunsFailed:     10,
		RunFailRate:    1,
		RecordsFailed:  50,
		RecordFailRate: 1,
		LookbackHours:  24,
	}
	alerts := NewAlerter(config.MonitoringConfig{}).Evaluate(snap)
	assert.Empty(t, alerts)
}

func TestAlerter_SendAlerts_Webhook(t *testing.T) {
	var received atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var alert Alert
		err := json.NewDecoder(r.Body).Decode(&alert)
		assert.NoError(t, err)
		assert.NotEmpty(t, alert.Type)
		received.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	a := NewAlerter(config.MonitoringConfig{
		WebhookURL: ts.URL,
	})

	alerts := []Alert{
		{Type: AlertRunFailureRate, Severity: "high", Message: "test alert 1"},
		{Type: AlertStaleData, Severity: "high", Message: "test alert 2"},
	}

	sent := a.SendAlerts(context.Background(), alerts)
	assert.Equal(t, 2, sent)
	assert.Equal(t, int32(2), received.Load())
}

func TestAlerter_SendAlerts_EmptyURL(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{
		WebhookURL: "",
	})

	sent := a.SendAlerts(context.Background(), []Alert{
		{Type: AlertRunFailureRate, Message: "test"},
	})
	assert.Equal(t, 0, sent)
}

func TestAlerter_SendAlerts_EmptyAlerts(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{
		WebhookURL: "http://example.com",
	})

	sent := a.SendAlerts(context.Background(), nil)
	assert.Equal(t, 0, sent)
}

func TestAlerter_SendAlerts_WebhookError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	a := NewAlerter(config.MonitoringConfig{
		WebhookURL: ts.URL,
	})

	sent := a.SendAlerts(context.Background(), []Alert{{Type: AlertRunFailureRate, Message: "test"}})
	assert.Equal(t, 0, sent)
}
