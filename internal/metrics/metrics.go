// Package metrics exposes Prometheus counters/gauges for the dispatcher and
// an Observer implementation that wires dispatcher events into them.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/skywing-dev/msplink/internal/logging"
)

var (
	FramesSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "msp_frames_sent_total",
		Help: "Total MSP frames written to the transport.",
	})
	FramesReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "msp_frames_received_total",
		Help: "Total MSP frames successfully parsed from the transport.",
	})
	FramesDelivered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "msp_frames_delivered_total",
		Help: "Total received frames matched to a pending request.",
	})
	FramesDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "msp_frames_dropped_total",
		Help: "Total received frames with no matching pending request (unsolicited).",
	})
	ParseErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "msp_parse_errors_total",
		Help: "Total frame parse errors by kind.",
	}, []string{"kind"})
	RequestsTimedOut = promauto.NewCounter(prometheus.CounterOpts{
		Name: "msp_requests_timed_out_total",
		Help: "Total pending requests reaped after their deadline passed.",
	})
	RequestsCancelled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "msp_requests_cancelled_total",
		Help: "Total pending requests cancelled by dispatcher shutdown.",
	})
	PendingDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "msp_pending_requests",
		Help: "Current depth of the dispatcher's pending-request queue.",
	})
)

// StartHTTP serves Prometheus metrics at /metrics on addr.
func StartHTTP(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		logging.L().Info("metrics_listen", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.L().Error("metrics_http_error", "error", err)
		}
	}()
	return srv
}

// Observer implements dispatcher.Observer against the counters above.
type Observer struct{}

func (Observer) FrameSent()                { FramesSent.Inc() }
func (Observer) FrameReceived()            { FramesReceived.Inc() }
func (Observer) FrameDelivered()           { FramesDelivered.Inc() }
func (Observer) FrameDropped()             { FramesDropped.Inc() }
func (Observer) ParseError(kind string)    { ParseErrors.WithLabelValues(kind).Inc() }
func (Observer) RequestTimedOut()          { RequestsTimedOut.Inc() }
func (Observer) RequestCancelled()         { RequestsCancelled.Inc() }
func (Observer) PendingDepthChanged(n int) { PendingDepth.Set(float64(n)) }
