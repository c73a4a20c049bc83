// Package metrics exposes Prometheus counters/gauges for the speed-daemon
// service, plus a local atomic mirror for cheap periodic log-line
// snapshots — the same two-tier shape the teacher's internal/metrics uses
// for its CAN gateway.
package metrics

import (
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/nordgate/speed-daemon/internal/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	SessionsAccepted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sessions_accepted_total",
		Help: "Total TCP connections accepted.",
	})
	SessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sessions_active",
		Help: "Current number of live sessions (cameras, dispatchers, unidentified).",
	})
	CamerasRegistered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cameras_registered_total",
		Help: "Total IAmCamera registrations.",
	})
	DispatchersRegistered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dispatchers_registered_total",
		Help: "Total IAmDispatcher registrations.",
	})
	PlatesProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "plates_processed_total",
		Help: "Total Plate frames processed.",
	})
	TicketsIssued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tickets_issued_total",
		Help: "Total tickets issued (delivered or parked).",
	})
	TicketsParked = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tickets_parked_total",
		Help: "Total tickets parked awaiting a dispatcher.",
	})
	TicketsDelivered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tickets_delivered_total",
		Help: "Total tickets handed directly to a dispatcher's outbound queue.",
	})
	HeartbeatsSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "heartbeats_sent_total",
		Help: "Total Heartbeat frames sent.",
	})
	OutboxDrops = promauto.NewCounter(prometheus.CounterOpts{
		Name: "outbox_drops_total",
		Help: "Total server frames dropped because a connection's outbound queue was full.",
	})
	MalformedFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "malformed_frames_total",
		Help: "Total client frames rejected as malformed (undecodable).",
	})
	BuildInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "build_info",
		Help: "Build metadata (value is always 1).",
	}, []string{"version", "commit", "date"})
	Errors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "errors_total",
		Help: "Error counters by subsystem.",
	}, []string{"where"})

	readinessMu sync.RWMutex
	readinessFn func() bool
)

// Error label constants (stable label values to bound cardinality).
const (
	ErrAccept       = "accept"
	ErrListen       = "listen"
	ErrConnRead     = "conn_read"
	ErrConnWrite    = "conn_write"
	ErrProtocol     = "protocol"
	ErrContext      = "context_cancelled"
	ErrUnknownCamera = "unknown_camera"
)

// StartHTTP serves Prometheus metrics at /metrics and a readiness probe at
// /ready, exactly as the teacher's metrics.StartHTTP does for the gateway.
func StartHTTP(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		if IsReady() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready\n"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready\n"))
	})
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		logging.L().Info("metrics_listen", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.L().Error("metrics_http_error", "error", err)
		}
	}()
	return srv
}

// Local mirrored counters, cheap to read for periodic log-line snapshots
// without going through the Prometheus registry.
var (
	localSessions     uint64
	localCameras      uint64
	localDispatchers  uint64
	localPlates       uint64
	localTicketsIssued uint64
	localTicketsParked uint64
	localTicketsSent  uint64
	localHeartbeats   uint64
	localOutboxDrops  uint64
	localMalformed    uint64
	localErrors       uint64
)

// Snapshot is a cheap copy of the local counters.
type Snapshot struct {
	Sessions        uint64
	Cameras         uint64
	Dispatchers     uint64
	Plates          uint64
	TicketsIssued   uint64
	TicketsParked   uint64
	TicketsDelivered uint64
	Heartbeats      uint64
	OutboxDrops     uint64
	Malformed       uint64
	Errors          uint64
}

func Snap() Snapshot {
	return Snapshot{
		Sessions:         atomic.LoadUint64(&localSessions),
		Cameras:          atomic.LoadUint64(&localCameras),
		Dispatchers:      atomic.LoadUint64(&localDispatchers),
		Plates:           atomic.LoadUint64(&localPlates),
		TicketsIssued:    atomic.LoadUint64(&localTicketsIssued),
		TicketsParked:    atomic.LoadUint64(&localTicketsParked),
		TicketsDelivered: atomic.LoadUint64(&localTicketsSent),
		Heartbeats:       atomic.LoadUint64(&localHeartbeats),
		OutboxDrops:      atomic.LoadUint64(&localOutboxDrops),
		Malformed:        atomic.LoadUint64(&localMalformed),
		Errors:           atomic.LoadUint64(&localErrors),
	}
}

func IncSessionAccepted() {
	SessionsAccepted.Inc()
	atomic.AddUint64(&localSessions, 1)
}

func SetSessionsActive(n int) { SessionsActive.Set(float64(n)) }

func IncCameraRegistered() {
	CamerasRegistered.Inc()
	atomic.AddUint64(&localCameras, 1)
}

func IncDispatcherRegistered() {
	DispatchersRegistered.Inc()
	atomic.AddUint64(&localDispatchers, 1)
}

func IncPlateProcessed() {
	PlatesProcessed.Inc()
	atomic.AddUint64(&localPlates, 1)
}

func IncTicketIssued() {
	TicketsIssued.Inc()
	atomic.AddUint64(&localTicketsIssued, 1)
}

func IncTicketParked() {
	TicketsParked.Inc()
	atomic.AddUint64(&localTicketsParked, 1)
}

func IncTicketDelivered() {
	TicketsDelivered.Inc()
	atomic.AddUint64(&localTicketsSent, 1)
}

func IncHeartbeatSent() {
	HeartbeatsSent.Inc()
	atomic.AddUint64(&localHeartbeats, 1)
}

func IncOutboxDrop() {
	OutboxDrops.Inc()
	atomic.AddUint64(&localOutboxDrops, 1)
}

func IncMalformed() {
	MalformedFrames.Inc()
	atomic.AddUint64(&localMalformed, 1)
}

func IncError(label string) {
	Errors.WithLabelValues(label).Inc()
	atomic.AddUint64(&localErrors, 1)
}

// InitBuildInfo sets the build info gauge and pre-registers the known error
// label series so the first error of each kind doesn't pay registration
// latency on the hot path.
func InitBuildInfo(version, commit, date string) {
	BuildInfo.WithLabelValues(version, commit, date).Set(1)
	for _, lbl := range []string{ErrAccept, ErrListen, ErrConnRead, ErrConnWrite, ErrProtocol, ErrContext, ErrUnknownCamera} {
		Errors.WithLabelValues(lbl).Add(0)
	}
}

// SetReadinessFunc registers a function used by /ready and IsReady.
func SetReadinessFunc(fn func() bool) { readinessMu.Lock(); readinessFn = fn; readinessMu.Unlock() }

// IsReady invokes the registered readiness function, defaulting to ready
// when none has been registered yet (so /ready doesn't flap at boot).
func IsReady() bool {
	readinessMu.RLock()
	fn := readinessFn
	readinessMu.RUnlock()
	if fn == nil {
		return true
	}
	return fn()
}
