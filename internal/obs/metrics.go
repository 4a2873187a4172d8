package obs

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Клиентские метрики: вызовы шлюза, bootstrap сессии, realtime-события.
var (
	gatewayRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_requests_total",
			Help: "Total number of remote gateway calls.",
		},
		[]string{"op", "outcome"},
	)

	gatewayRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gateway_request_duration_seconds",
			Help:    "Remote gateway call latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op"},
	)

	sessionBootstrapDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "session_bootstrap_duration_seconds",
		Help:    "Time from session store start until Ready.",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	})

	sessionBootstrapTimeouts = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "session_bootstrap_timeouts_total",
		Help: "Bootstraps resolved by the safety timer instead of the normal path.",
	})

	realtimeEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "realtime_events_total",
			Help: "Change-feed events delivered to subscribers.",
		},
		[]string{"collection"},
	)

	realtimeReconnectsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "realtime_reconnects_total",
		Help: "Websocket reconnect attempts for the change feed.",
	})

	// buildInfo — gauge со статич. значением 1 и метками версии.
	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "build_info",
			Help: "Parishly client build information.",
		},
		[]string{"version"},
	)
)

// Init registers client metrics in the default registry. Call once at startup.
func Init(version string) {
	prometheus.MustRegister(
		gatewayRequestsTotal,
		gatewayRequestDuration,
		sessionBootstrapDuration,
		sessionBootstrapTimeouts,
		realtimeEventsTotal,
		realtimeReconnectsTotal,
		buildInfo,
	)
	buildInfo.WithLabelValues(version).Set(1)
}

// ObserveGatewayCall records one gateway call by operation name and HTTP-ish
// outcome ("ok", status code, or error class).
func ObserveGatewayCall(op string, status int, err error, started time.Time) {
	outcome := "ok"
	switch {
	case err != nil:
		outcome = "error"
	case status >= 400:
		outcome = strconv.Itoa(status)
	}
	gatewayRequestsTotal.WithLabelValues(op, outcome).Inc()
	gatewayRequestDuration.WithLabelValues(op).Observe(time.Since(started).Seconds())
}

// ObserveBootstrap records the completed bootstrap duration; timedOut marks
// resolutions forced by the safety timer.
func ObserveBootstrap(d time.Duration, timedOut bool) {
	sessionBootstrapDuration.Observe(d.Seconds())
	if timedOut {
		sessionBootstrapTimeouts.Inc()
	}
}

// ObserveRealtimeEvent counts one delivered change notification.
func ObserveRealtimeEvent(collection string) {
	realtimeEventsTotal.WithLabelValues(collection).Inc()
}

// ObserveRealtimeReconnect counts one reconnect attempt.
func ObserveRealtimeReconnect() {
	realtimeReconnectsTotal.Inc()
}
