package metrics

import (
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/kstaniek/go-canlink/internal/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const linkLabel = "if"

// Prometheus collectors
var (
	NetlinkRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "canlink_netlink_requests_total",
		Help: "Netlink requests sent to the kernel, by operation.",
	}, []string{"op"})
	DegradedAttrs = promauto.NewCounter(prometheus.CounterOpts{
		Name: "canlink_degraded_attributes_total",
		Help: "Reply attributes that could not be decoded and were left unset.",
	})
	ExporterPolls = promauto.NewCounter(prometheus.CounterOpts{
		Name: "canlink_exporter_polls_total",
		Help: "Completed exporter poll rounds.",
	})
	LinkUp = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "canlink_up",
		Help: "1 if the interface has IFF_UP set.",
	}, []string{linkLabel})
	LinkMTU = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "canlink_mtu_bytes",
		Help: "Interface MTU (16 classic, 72 FD); 0 when unknown.",
	}, []string{linkLabel})
	LinkBitrate = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "canlink_bitrate",
		Help: "Nominal bitrate in bits/second.",
	}, []string{linkLabel})
	LinkDataBitrate = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "canlink_data_bitrate",
		Help: "FD data phase bitrate in bits/second.",
	}, []string{linkLabel})
	LinkState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "canlink_state",
		Help: "Controller state (0 error-active .. 3 bus-off, 4 stopped, 5 sleeping).",
	}, []string{linkLabel})
	LinkBerrTx = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "canlink_berr_tx",
		Help: "Transmit error counter.",
	}, []string{linkLabel})
	LinkBerrRx = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "canlink_berr_rx",
		Help: "Receive error counter.",
	}, []string{linkLabel})
	LinkBusErrors = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "canlink_bus_errors",
		Help: "Bus errors reported by the device statistics.",
	}, []string{linkLabel})
	LinkBusOff = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "canlink_bus_off",
		Help: "Transitions to bus-off reported by the device statistics.",
	}, []string{linkLabel})
	LinkRestarts = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "canlink_restarts",
		Help: "Controller restarts reported by the device statistics.",
	}, []string{linkLabel})
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

// Error label constants (stable label values to bound cardinality)
const (
	ErrNetlinkDial  = "netlink_dial"
	ErrNetlinkSend  = "netlink_send"
	ErrNetlinkRecv  = "netlink_recv"
	ErrNetlinkNoAck = "netlink_no_ack"
	ErrExporterPoll = "exporter_poll"
)

// StartHTTP serves Prometheus metrics at /metrics and readiness at /ready.
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

	srv := &http.Server{
		Addr:    addr,
		Handler: mux,
	}
	go func() {
		logging.L().Info("metrics_listen", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.L().Error("metrics_http_error", "error", err)
		}
	}()
	return srv
}

// Local mirrored counters for easy logging (avoid Prometheus scraping in-process)
var (
	localRequests uint64
	localErrors   uint64
	localDegraded uint64
	localPolls    uint64
)

// Snapshot is a cheap copy of local counters.
type Snapshot struct {
	Requests uint64
	Errors   uint64 // sum across error labels
	Degraded uint64
	Polls    uint64
}

func Snap() Snapshot {
	return Snapshot{
		Requests: atomic.LoadUint64(&localRequests),
		Errors:   atomic.LoadUint64(&localErrors),
		Degraded: atomic.LoadUint64(&localDegraded),
		Polls:    atomic.LoadUint64(&localPolls),
	}
}

// IncNetlinkRequest counts one request of the named operation (e.g. "newlink").
func IncNetlinkRequest(op string) {
	NetlinkRequests.WithLabelValues(op).Inc()
	atomic.AddUint64(&localRequests, 1)
}

func IncError(label string) {
	Errors.WithLabelValues(label).Inc()
	atomic.AddUint64(&localErrors, 1)
}

func IncDegraded() {
	DegradedAttrs.Inc()
	atomic.AddUint64(&localDegraded, 1)
}

func IncPoll() {
	ExporterPolls.Inc()
	atomic.AddUint64(&localPolls, 1)
}

// LinkSample is one observation of an interface. Pointer fields are nil when
// the kernel did not report (or we could not decode) the value; the matching
// gauge is then left at its previous value.
type LinkSample struct {
	Up          bool
	MTU         uint32
	Bitrate     *uint32
	DataBitrate *uint32
	State       *uint32
	BerrTx      *uint16
	BerrRx      *uint16
	BusErrors   *uint32
	BusOff      *uint32
	Restarts    *uint32
}

// SetLink publishes a sample under the interface label.
func SetLink(name string, s LinkSample) {
	up := 0.0
	if s.Up {
		up = 1
	}
	LinkUp.WithLabelValues(name).Set(up)
	LinkMTU.WithLabelValues(name).Set(float64(s.MTU))
	setOpt32(LinkBitrate, name, s.Bitrate)
	setOpt32(LinkDataBitrate, name, s.DataBitrate)
	setOpt32(LinkState, name, s.State)
	setOpt32(LinkBusErrors, name, s.BusErrors)
	setOpt32(LinkBusOff, name, s.BusOff)
	setOpt32(LinkRestarts, name, s.Restarts)
	if s.BerrTx != nil {
		LinkBerrTx.WithLabelValues(name).Set(float64(*s.BerrTx))
	}
	if s.BerrRx != nil {
		LinkBerrRx.WithLabelValues(name).Set(float64(*s.BerrRx))
	}
}

// ForgetLink drops every series of an interface (e.g. after it disappeared).
func ForgetLink(name string) {
	for _, g := range []*prometheus.GaugeVec{LinkUp, LinkMTU, LinkBitrate, LinkDataBitrate, LinkState, LinkBerrTx, LinkBerrRx, LinkBusErrors, LinkBusOff, LinkRestarts} {
		g.DeleteLabelValues(name)
	}
}

func setOpt32(g *prometheus.GaugeVec, name string, v *uint32) {
	if v != nil {
		g.WithLabelValues(name).Set(float64(*v))
	}
}

// InitBuildInfo sets the build info gauge (should be called once at startup).
func InitBuildInfo(version, commit, date string) {
	BuildInfo.WithLabelValues(version, commit, date).Set(1)
	// Pre-register common error label series so first error does not log a registration latency.
	for _, lbl := range []string{
		ErrNetlinkDial, ErrNetlinkSend, ErrNetlinkRecv,
		ErrNetlinkNoAck, ErrExporterPoll,
	} {
		Errors.WithLabelValues(lbl).Add(0)
	}
}

// SetReadinessFunc registers a function used by /ready and IsReady.
func SetReadinessFunc(fn func() bool) { readinessMu.Lock(); readinessFn = fn; readinessMu.Unlock() }

// IsReady invokes the registered readiness function if present.
func IsReady() bool {
	readinessMu.RLock()
	fn := readinessFn
	readinessMu.RUnlock()
	if fn == nil { // if not set yet, treat as ready so metrics endpoint doesn't flap
		return true
	}
	return fn()
}
