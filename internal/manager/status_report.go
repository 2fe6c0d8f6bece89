package manager

import (
	"context"
	goruntime "runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"modelproxy/pkg/types"
)

// Stats returns a consistent rollup of deployment records.
func (m *Manager) Stats() Stats { return m.registry.Stats() }

// Uptime reports time since the manager was created.
func (m *Manager) Uptime() time.Duration { return time.Since(m.startTime) }

// TotalRequests counts chat completions served.
func (m *Manager) TotalRequests() uint64 { return m.requests.Load() }

// Status builds the aggregate server status.
func (m *Manager) Status(ctx context.Context) types.ServerStatus {
	st := m.registry.Stats()
	by := make(map[string]int, len(st.ByStatus))
	for s, n := range st.ByStatus {
		by[string(s)] = n
	}
	addr := m.addrs.Resolve(ctx)
	var ms goruntime.MemStats
	goruntime.ReadMemStats(&ms)
	features := m.cfg.Features
	if features == nil {
		features = []string{}
	}
	return types.ServerStatus{
		Status:            "running",
		Version:           m.cfg.Version,
		ActiveDeployments: st.ByStatus[StatusReady],
		ActiveModels:      st.ActiveHandles,
		TotalUsers:        st.DistinctUsers,
		ByStatus:          by,
		UptimeSeconds:     int64(m.Uptime().Seconds()),
		MemoryUsageMB:     float64(ms.HeapAlloc) / (1 << 20),
		ExternalIP:        addr.Address,
		ExternalIPSource:  string(addr.Source),
		TotalRequests:     m.requests.Load(),
		Features:          features,
	}
}

var deploymentsDesc = prometheus.NewDesc(
	"modelproxy_deployments",
	"Deployment records by status",
	[]string{"status"}, nil,
)

// statsCollector exports registry counts at scrape time.
type statsCollector struct{ m *Manager }

// Collector returns a prometheus.Collector for the deployments gauge.
func (m *Manager) Collector() prometheus.Collector { return statsCollector{m: m} }

func (c statsCollector) Describe(ch chan<- *prometheus.Desc) { ch <- deploymentsDesc }

func (c statsCollector) Collect(ch chan<- prometheus.Metric) {
	st := c.m.registry.Stats()
	for _, s := range Statuses {
		ch <- prometheus.MustNewConstMetric(deploymentsDesc, prometheus.GaugeValue, float64(st.ByStatus[s]), string(s))
	}
}
