package metrics

import (
	"fmt"
	"net"
	"net/http"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fzmap/mapserver/common"
	"github.com/fzmap/mapserver/common/log"
)

var (
	// PrivateMetrics holds every collector, process level ones included.
	PrivateMetrics = prometheus.NewRegistry()
	// HTTPMetrics is the public surface of the transport.
	HTTPMetrics = prometheus.NewRegistry()

	// Operations counts protocol operations by name and outcome. Outcome is
	// "ok" or the error kind.
	Operations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mapserver_operations_total",
		Help: "Number of protocol operations handled",
	}, []string{"operation", "outcome"})

	// OperationLatency measures how long each operation held its transaction.
	OperationLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "mapserver_operation_duration_seconds",
		Help:    "Latency of protocol operations",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})

	// OffsetRotations counts successful comparison rounds that rotated a point offset.
	OffsetRotations = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mapserver_offset_rotations_total",
		Help: "Number of point offsets rotated after a successful comparison",
	})

	// PointsSold counts points handed out by regular queries.
	PointsSold = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mapserver_points_retrieved_total",
		Help: "Number of points retrieved by clients",
	}, []string{"scheme"})

	// PreviewsServed counts map previews handed out.
	PreviewsServed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mapserver_previews_total",
		Help: "Number of map previews served",
	}, []string{"scheme"})

	// HTTPCallCounter (HTTP) how many http requests
	HTTPCallCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_call_counter",
		Help: "Number of HTTP calls received",
	}, []string{"code", "method"})
	// HTTPLatency (HTTP) how long http request handling takes
	HTTPLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:        "http_response_duration",
		Help:        "histogram of request latencies",
		Buckets:     prometheus.DefBuckets,
		ConstLabels: prometheus.Labels{"handler": "http"},
	}, []string{"method"})
	// HTTPInFlight (HTTP) how many http requests exist
	HTTPInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight",
		Help: "A gauge of requests currently being served.",
	})

	buildTime = prometheus.NewUntypedFunc(prometheus.UntypedOpts{
		Name:        "mapserver_build_time",
		Help:        "Timestamp when the binary was built in seconds since the Epoch",
		ConstLabels: map[string]string{"build": common.COMMIT, "version": common.GetAppVersion().String()},
	}, func() float64 { return float64(getBuildTimestamp(common.BUILDDATE)) })

	// StorageBackend reports the store the daemon runs with: 1=bolt, 2=memdb.
	StorageBackend = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "mapserver_storage_backend",
		Help: "The database type the server is running with. 1=bolt, 2=memdb",
	})

	metricsBound sync.Once
)

func bindMetrics(l log.Logger) {
	if err := PrivateMetrics.Register(collectors.NewGoCollector()); err != nil {
		l.Errorw("error in bindMetrics", "metrics", "goCollector", "err", err)
		return
	}
	if err := PrivateMetrics.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{})); err != nil {
		l.Errorw("error in bindMetrics", "metrics", "processCollector", "err", err)
		return
	}

	private := []prometheus.Collector{
		Operations,
		OperationLatency,
		OffsetRotations,
		PointsSold,
		PreviewsServed,
		buildTime,
		StorageBackend,
	}
	for _, c := range private {
		if err := PrivateMetrics.Register(c); err != nil {
			l.Errorw("error in bindMetrics", "metrics", "bindMetrics", "err", err)
			return
		}
	}

	httpMetrics := []prometheus.Collector{
		HTTPCallCounter,
		HTTPLatency,
		HTTPInFlight,
	}
	for _, c := range httpMetrics {
		if err := HTTPMetrics.Register(c); err != nil {
			l.Errorw("error in bindMetrics", "metrics", "bindMetrics", "err", err)
			return
		}
		if err := PrivateMetrics.Register(c); err != nil {
			l.Errorw("error in bindMetrics", "metrics", "bindMetrics", "err", err)
			return
		}
	}
}

// ObserveOperation records the outcome and latency of one operation.
func ObserveOperation(operation, outcome string, started time.Time) {
	Operations.WithLabelValues(operation, outcome).Inc()
	OperationLatency.WithLabelValues(operation).Observe(time.Since(started).Seconds())
}

// Start starts a prometheus metrics server with debug endpoints. A bare port
// binds to localhost.
func Start(logger log.Logger, metricsBind string, pprof http.Handler) net.Listener {
	logger.Infow("metrics starting", "desired_port", metricsBind)

	metricsBound.Do(func() {
		bindMetrics(logger)
	})

	if !strings.Contains(metricsBind, ":") {
		metricsBind = "127.0.0.1:" + metricsBind
	}
	//nolint:noctx
	l, err := net.Listen("tcp", metricsBind)
	if err != nil {
		logger.Warnw("", "metrics", "listen failed", "err", err)
		return nil
	}
	logger.Infow("metric listener started", "addr", l.Addr())

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(PrivateMetrics, promhttp.HandlerOpts{Registry: PrivateMetrics}))

	if pprof != nil {
		mux.Handle("/debug/pprof/", pprof)
	}

	mux.HandleFunc("/debug/gc", func(w http.ResponseWriter, _ *http.Request) {
		runtime.GC()
		fmt.Fprintf(w, "GC run complete")
	})

	s := http.Server{Addr: l.Addr().String(), ReadHeaderTimeout: 3 * time.Second, Handler: mux}
	go func() {
		logger.Warnw("", "metrics", "listen finished", "err", s.Serve(l))
	}()
	return l
}

func getBuildTimestamp(buildDate string) int64 {
	if buildDate == "" {
		return 0
	}

	layout := "02/01/2006@15:04:05"
	t, err := time.Parse(layout, buildDate)
	if err != nil {
		return 0
	}
	return t.Unix()
}
