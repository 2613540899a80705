package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ActiveConnections  = promauto.NewGauge(prometheus.GaugeOpts{Name: "echohub_active_connections", Help: "Currently open connections"})
	ConnectionsTotal   = promauto.NewCounterVec(prometheus.CounterOpts{Name: "echohub_connections_total", Help: "Accepted connections by transport"}, []string{"transport"})
	MessagesEchoed     = promauto.NewCounter(prometheus.CounterOpts{Name: "echohub_messages_echoed_total", Help: "Messages echoed back to their sender"})
	ErrorsTotal        = promauto.NewCounterVec(prometheus.CounterOpts{Name: "echohub_errors_total", Help: "Errors by type"}, []string{"type"})
	SessionDurationSec = promauto.NewHistogram(prometheus.HistogramOpts{Name: "echohub_session_duration_seconds", Help: "Session lifetime seconds", Buckets: prometheus.ExponentialBuckets(0.01, 2, 16)})
)
