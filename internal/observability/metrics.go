package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	TCPConnections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "station_tcp_connections_total",
		Help: "Accepted device TCP connections",
	})
	IdentifyFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "station_identify_failures_total",
		Help: "Connections closed because no protocol matched the first bytes",
	})
	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "station_active_sessions",
		Help: "Sessions currently in the active state",
	})
	PacketsDecoded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "station_packets_decoded_total",
		Help: "Records decoded, by protocol mode",
	}, []string{"mode"})
	DecodeErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "station_decode_errors_total",
		Help: "Decode failures, by kind",
	}, []string{"kind"})
	RecordsForwarded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "station_records_forwarded_total",
		Help: "Records accepted by the backend",
	})
	UplinkErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "station_uplink_errors_total",
		Help: "Uplink failures, by sink",
	}, []string{"sink"})
	ThresholdTrips = promauto.NewCounter(prometheus.CounterOpts{
		Name: "station_exception_threshold_trips_total",
		Help: "Sessions closed because the exception threshold was reached",
	})
	CommandsSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "station_commands_sent_total",
		Help: "Downlink commands written to devices, by code",
	}, []string{"code"})
	RegisteredDevices = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "station_registered_devices",
		Help: "Devices with a live downlink in the registry",
	})
	DecodeLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "station_decode_latency_seconds",
		Help:    "Decode latency per record",
		Buckets: prometheus.DefBuckets,
	})
)

func ObserveDecodeLatency(start time.Time) {
	DecodeLatency.Observe(time.Since(start).Seconds())
}

// RegisterHandlers mounts /metrics and /healthz on mux.
func RegisterHandlers(mux *http.ServeMux) {
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
}
