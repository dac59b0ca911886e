package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	m := New()

	m.Signup("ok")
	m.Signup("ok")
	m.Login("invalid_credentials")
	m.SessionEvent("expired")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.signups.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.logins.WithLabelValues("invalid_credentials")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.sessions.WithLabelValues("expired")))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.Signup("ok")
		m.Login("ok")
		m.SessionEvent("established")
		m.ObserveHash("hash", time.Millisecond)
	})
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New()
	m.ObserveHash("verify", 30*time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `members_portal_password_hash_duration_seconds_count{op="verify"} 1`), body)
}
