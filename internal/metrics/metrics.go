package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	serverStarts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "devplane",
			Subsystem: "dev_server",
			Name:      "starts_total",
			Help:      "Number of successful dev server starts.",
		},
	)
	serverStops = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "devplane",
			Subsystem: "dev_server",
			Name:      "stops_total",
			Help:      "Number of dev server stops (graceful or forced).",
		},
	)
	serverForceKills = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "devplane",
			Subsystem: "dev_server",
			Name:      "force_kills_total",
			Help:      "Number of stops that escalated to SIGKILL.",
		},
	)
	syncFiles = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "devplane",
			Subsystem: "sync",
			Name:      "files_total",
			Help:      "Number of file operations applied by sync batches.",
		}, []string{"op"},
	)
	syncFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "devplane",
			Subsystem: "sync",
			Name:      "failures_total",
			Help:      "Number of per-entry failures across sync batches.",
		},
	)
	installRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "devplane",
			Subsystem: "install",
			Name:      "runs_total",
			Help:      "Number of dependency install runs.",
		}, []string{"result"},
	)
	logLines = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "devplane",
			Subsystem: "logs",
			Name:      "lines_total",
			Help:      "Number of lines fanned out by the log broadcaster.",
		}, []string{"stream"},
	)
	logDrops = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "devplane",
			Subsystem: "logs",
			Name:      "drops_total",
			Help:      "Line deliveries dropped because a subscriber's buffer was full.",
		},
	)
	logSubscribers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "devplane",
			Subsystem: "logs",
			Name:      "subscribers",
			Help:      "Currently registered log stream subscribers.",
		},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{
		serverStarts, serverStops, serverForceKills,
		syncFiles, syncFailures, installRuns,
		logLines, logDrops, logSubscribers,
	}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			// Already registered is fine (allows double Register with the
			// default registry).
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// RegisterDefault registers with the default prometheus registry.
func RegisterDefault() error { return Register(prometheus.DefaultRegisterer) }

// Handler exposes the default registry in prometheus text format.
func Handler() http.Handler { return promhttp.Handler() }

func IncServerStart()     { serverStarts.Inc() }
func IncServerStop()      { serverStops.Inc() }
func IncServerForceKill() { serverForceKills.Inc() }

func IncSyncWrite()   { syncFiles.WithLabelValues("write").Inc() }
func IncSyncDelete()  { syncFiles.WithLabelValues("delete").Inc() }
func IncSyncFailure() { syncFailures.Inc() }

func IncInstall(ok bool) {
	if ok {
		installRuns.WithLabelValues("success").Inc()
	} else {
		installRuns.WithLabelValues("failure").Inc()
	}
}

func IncLogLine(isErr bool) {
	if isErr {
		logLines.WithLabelValues("stderr").Inc()
	} else {
		logLines.WithLabelValues("stdout").Inc()
	}
}
func IncLogDrop()          { logDrops.Inc() }
func SetSubscribers(n int) { logSubscribers.Set(float64(n)) }
