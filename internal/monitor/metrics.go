// Package monitor collects shim process metrics and renders them in
// the Prometheus text exposition format for the external monitor to
// scrape.
package monitor

import (
	"bytes"
	"net/http"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"github.com/prometheus/procfs"
)

const namespace = "virtshim"

// Monitor owns a private registry so scrapes never pick up metrics
// registered elsewhere in the process.
type Monitor struct {
	registry *prometheus.Registry

	scrapeCount prometheus.Counter
	threads     prometheus.Gauge
	openFDs     prometheus.Gauge
	maxFDs      prometheus.Gauge
	residentMem prometheus.Gauge
	virtualMem  prometheus.Gauge
	cpuSeconds  prometheus.Gauge
}

func New() *Monitor {
	m := &Monitor{
		registry: prometheus.NewRegistry(),
		scrapeCount: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scrape_count",
			Help:      "Count of metrics scrapes served by the shim.",
		}),
		threads: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "threads",
			Help:      "Number of threads in the shim process.",
		}),
		openFDs: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "fds",
			Help:      "Open file descriptors held by the shim process.",
		}),
		maxFDs: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "max_fds",
			Help:      "File descriptor limit of the shim process.",
		}),
		residentMem: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "resident_memory_bytes",
			Help:      "Resident memory of the shim process in bytes.",
		}),
		virtualMem: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "virtual_memory_bytes",
			Help:      "Virtual memory of the shim process in bytes.",
		}),
		cpuSeconds: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cpu_seconds_total",
			Help:      "Total user and system CPU time of the shim process.",
		}),
	}
	m.registry.MustRegister(
		m.scrapeCount,
		m.threads,
		m.openFDs,
		m.maxFDs,
		m.residentMem,
		m.virtualMem,
		m.cpuSeconds,
	)
	return m
}

// Gather refreshes process metrics from procfs and returns the full
// registry encoded as Prometheus text.
func (m *Monitor) Gather() (string, error) {
	m.scrapeCount.Inc()
	if err := m.updateProcMetrics(); err != nil {
		return "", err
	}

	families, err := m.registry.Gather()
	if err != nil {
		return "", errors.Wrap(err, "gather shim metrics")
	}
	var buf bytes.Buffer
	enc := expfmt.NewEncoder(&buf, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range families {
		if err := enc.Encode(mf); err != nil {
			return "", errors.Wrap(err, "encode shim metrics")
		}
	}
	return buf.String(), nil
}

// ServeHTTP serves a scrape in the text exposition format. The shim
// mounts it on a unix socket beside its ttrpc socket so the external
// monitor can collect per-sandbox metrics.
func (m *Monitor) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	out, err := m.Gather()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", string(expfmt.NewFormat(expfmt.TypeTextPlain)))
	_, _ = w.Write([]byte(out))
}

func (m *Monitor) updateProcMetrics() error {
	proc, err := procfs.Self()
	if err != nil {
		return errors.Wrap(err, "open /proc/self")
	}
	if stat, err := proc.Stat(); err == nil {
		m.threads.Set(float64(stat.NumThreads))
		m.residentMem.Set(float64(stat.ResidentMemory()))
		m.virtualMem.Set(float64(stat.VirtualMemory()))
		m.cpuSeconds.Set(stat.CPUTime())
	}
	if fds, err := proc.FileDescriptorsLen(); err == nil {
		m.openFDs.Set(float64(fds))
	}
	if limits, err := proc.Limits(); err == nil {
		m.maxFDs.Set(float64(limits.OpenFiles))
	}
	return nil
}
