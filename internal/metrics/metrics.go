// Package metrics は Prometheus 形式のメトリクスを提供します。
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "members_portal"

// Metrics はアプリケーションで利用するコレクターをまとめた構造体です。
type Metrics struct {
	registry *prometheus.Registry

	signups      *prometheus.CounterVec
	logins       *prometheus.CounterVec
	sessions     *prometheus.CounterVec
	hashDuration *prometheus.HistogramVec
}

// New は専用レジストリを持つ Metrics を作成します。
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		signups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signups_total",
			Help:      "Signup attempts by result.",
		}, []string{"result"}),
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "logins_total",
			Help:      "Login attempts by result.",
		}, []string{"result"}),
		sessions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_events_total",
			Help:      "Session lifecycle transitions.",
		}, []string{"event"}),
		hashDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "password_hash_duration_seconds",
			Help:      "Time spent hashing or verifying passwords.",
			Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2, 5},
		}, []string{"op"}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.signups,
		m.logins,
		m.sessions,
		m.hashDuration,
	)
	return m
}

// Handler は /metrics 用の HTTP ハンドラーを返します。
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry はテストなどで収集結果を参照するためのレジストリを返します。
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Signup はサインアップ結果を記録します。
func (m *Metrics) Signup(result string) {
	if m == nil {
		return
	}
	m.signups.WithLabelValues(result).Inc()
}

// Login はログイン結果を記録します。
func (m *Metrics) Login(result string) {
	if m == nil {
		return
	}
	m.logins.WithLabelValues(result).Inc()
}

// SessionEvent はセッションの状態遷移を記録します。
func (m *Metrics) SessionEvent(event string) {
	if m == nil {
		return
	}
	m.sessions.WithLabelValues(event).Inc()
}

// ObserveHash はハッシュ計算にかかった時間を記録します。
func (m *Metrics) ObserveHash(op string, d time.Duration) {
	if m == nil {
		return
	}
	m.hashDuration.WithLabelValues(op).Observe(d.Seconds())
}
