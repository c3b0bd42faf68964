package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/gogo/locshare/internal/domain"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	return string(body)
}

func TestMetricsExposition(t *testing.T) {
	m := New()
	m.ConnectionOpened()
	m.ConnectionOpened()
	m.ConnectionClosed()
	m.MessageReceived("ping")
	m.ConnectionRejected("session_not_found")
	m.Broadcast()
	m.WentOffline()
	m.ObserveSweep(&domain.SweepResult{ExpiredSessions: 3})

	body := scrape(t, m)
	assert.Contains(t, body, "locshare_open_connections 1")
	assert.Contains(t, body, `locshare_inbound_messages_total{type="ping"} 1`)
	assert.Contains(t, body, `locshare_rejected_connections_total{reason="session_not_found"} 1`)
	assert.Contains(t, body, "locshare_broadcasts_total 1")
	assert.Contains(t, body, "locshare_offline_transitions_total 1")
	assert.Contains(t, body, `locshare_swept_rows_total{kind="expired_sessions"} 3`)
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ConnectionOpened()
		m.MessageReceived("join")
		m.ObserveSweep(&domain.SweepResult{})
	})
}
