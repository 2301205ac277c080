package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type transportMetrics struct {
	connectionsActive *prometheus.GaugeVec
	connectionsTotal  *prometheus.CounterVec
	bytesReceived     prometheus.Counter

	messagesDecoded *prometheus.CounterVec
	faultsTotal     *prometheus.CounterVec

	broadcastTotal     prometheus.Counter
	broadcastTargets   prometheus.Histogram
	broadcastFailures  prometheus.Counter
	broadcastDuration  prometheus.Histogram
	messageDispatchDur *prometheus.HistogramVec

	rpcCalls      *prometheus.CounterVec
	rpcDuration   *prometheus.HistogramVec
	rpcReplayHits prometheus.Counter
}

var (
	metricsOnce sync.Once
	metricsInst *transportMetrics
)

func getMetrics() *transportMetrics {
	metricsOnce.Do(func() {
		m := &transportMetrics{
			connectionsActive: prometheus.NewGaugeVec(
				prometheus.GaugeOpts{
					Name: "memstream_connections_active",
					Help: "Currently attached client connections by carrier.",
				},
				[]string{"carrier"},
			),
			connectionsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "memstream_connections_total",
					Help: "Total accepted client connections by carrier.",
				},
				[]string{"carrier"},
			),
			bytesReceived: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "memstream_inbound_bytes_total",
					Help: "Total inbound bytes fed into frame buffers.",
				},
			),
			messagesDecoded: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "memstream_messages_decoded_total",
					Help: "Decoded protocol messages by role.",
				},
				[]string{"role"},
			),
			faultsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "memstream_faults_total",
					Help: "Classified faults by kind and operation.",
				},
				[]string{"kind", "operation"},
			),
			broadcastTotal: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "memstream_broadcast_total",
					Help: "Total outbound broadcasts.",
				},
			),
			broadcastTargets: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "memstream_broadcast_targets",
					Help:    "Number of sinks targeted per broadcast.",
					Buckets: []float64{0, 1, 2, 5, 10, 25, 50, 100},
				},
			),
			broadcastFailures: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "memstream_broadcast_failures_total",
					Help: "Per-sink write failures during broadcast.",
				},
			),
			broadcastDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "memstream_broadcast_duration_seconds",
					Help:    "Broadcast duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
			messageDispatchDur: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "memstream_dispatch_duration_seconds",
					Help:    "Time spent in the message callback by role.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"role"},
			),
			rpcCalls: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "memstream_rpc_calls_total",
					Help: "Routed method calls by method and outcome.",
				},
				[]string{"method", "outcome"},
			),
			rpcDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "memstream_rpc_duration_seconds",
					Help:    "Method handler duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"method"},
			),
			rpcReplayHits: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "memstream_rpc_replay_hits_total",
					Help: "Requests answered from the replay cache.",
				},
			),
		}

		prometheus.MustRegister(
			m.connectionsActive,
			m.connectionsTotal,
			m.bytesReceived,
			m.messagesDecoded,
			m.faultsTotal,
			m.broadcastTotal,
			m.broadcastTargets,
			m.broadcastFailures,
			m.broadcastDuration,
			m.messageDispatchDur,
			m.rpcCalls,
			m.rpcDuration,
			m.rpcReplayHits,
		)

		metricsInst = m
	})

	return metricsInst
}

// EnsureRegistered initializes and registers metrics the first time it is called.
func EnsureRegistered() {
	_ = getMetrics()
}

// MetricsHandler serves the default Prometheus registry.
func MetricsHandler() http.Handler {
	EnsureRegistered()
	return promhttp.Handler()
}

func RecordConnectionOpened(carrier string) {
	m := getMetrics()
	m.connectionsTotal.WithLabelValues(carrier).Inc()
	m.connectionsActive.WithLabelValues(carrier).Inc()
}

func RecordConnectionClosed(carrier string) {
	m := getMetrics()
	m.connectionsActive.WithLabelValues(carrier).Dec()
}

func RecordInboundBytes(n int) {
	m := getMetrics()
	m.bytesReceived.Add(float64(n))
}

func RecordMessageDecoded(role string) {
	m := getMetrics()
	m.messagesDecoded.WithLabelValues(role).Inc()
}

func RecordDispatch(role string, duration time.Duration) {
	m := getMetrics()
	m.messageDispatchDur.WithLabelValues(role).Observe(duration.Seconds())
}

func RecordFault(kind, operation string) {
	m := getMetrics()
	m.faultsTotal.WithLabelValues(kind, operation).Inc()
}

func RecordBroadcast(targeted, failed int, duration time.Duration) {
	m := getMetrics()
	m.broadcastTotal.Inc()
	m.broadcastTargets.Observe(float64(targeted))
	m.broadcastFailures.Add(float64(failed))
	m.broadcastDuration.Observe(duration.Seconds())
}

// RecordRPCCall records one routed call. outcome is "ok", "error" or
// "not_found".
func RecordRPCCall(method, outcome string, duration time.Duration) {
	m := getMetrics()
	m.rpcCalls.WithLabelValues(method, outcome).Inc()
	if outcome != "not_found" {
		m.rpcDuration.WithLabelValues(method).Observe(duration.Seconds())
	}
}

func RecordRPCReplay() {
	getMetrics().rpcReplayHits.Inc()
}
