// Package metrics exposes engine counters to Prometheus.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"PacketRadar/internal/engine/aggregator"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Exporter owns a private registry with the engine metrics.
type Exporter struct {
	registry *prometheus.Registry

	packets          prometheus.Counter
	bytes            prometheus.Counter
	evictions        prometheus.Counter
	dropped          prometheus.Counter
	liveFlows        prometheus.Gauge
	destinations     prometheus.Gauge
	snapshotDuration prometheus.Histogram
	wsClients        prometheus.Gauge

	mu   sync.Mutex
	last aggregator.Stats
}

// NewExporter initializes metrics collectors.
func NewExporter() *Exporter {
	reg := prometheus.NewRegistry()

	e := &Exporter{
		registry: reg,
		packets: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "packetradar_packets_ingested_total",
			Help: "Packets folded into the engine",
		}),
		bytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "packetradar_bytes_ingested_total",
			Help: "Bytes folded into the engine",
		}),
		evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "packetradar_flow_evictions_total",
			Help: "Live flows removed after going idle",
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "packetradar_packets_dropped_total",
			Help: "Packets dropped because the ingest channel was full",
		}),
		liveFlows: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "packetradar_live_flows",
			Help: "Live flows tracked after the last snapshot",
		}),
		destinations: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "packetradar_history_destinations",
			Help: "Distinct destinations ever seen",
		}),
		snapshotDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "packetradar_snapshot_duration_seconds",
			Help:    "Time spent building a snapshot",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
		}),
		wsClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "packetradar_websocket_clients",
			Help: "Connected map clients",
		}),
	}

	reg.MustRegister(
		e.packets, e.bytes, e.evictions, e.dropped,
		e.liveFlows, e.destinations, e.snapshotDuration, e.wsClients,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return e
}

// Handler returns the HTTP handler for /metrics.
func (e *Exporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (e *Exporter) Registry() *prometheus.Registry {
	return e.registry
}

// ObserveSnapshot records one snapshot pass. stats are the engine's
// cumulative counters; only the increase since the last call is added.
func (e *Exporter) ObserveSnapshot(took time.Duration, flows, destinations int, stats aggregator.Stats) {
	e.snapshotDuration.Observe(took.Seconds())
	e.liveFlows.Set(float64(flows))
	e.destinations.Set(float64(destinations))

	e.mu.Lock()
	defer e.mu.Unlock()
	e.packets.Add(float64(delta(stats.Packets, e.last.Packets)))
	e.bytes.Add(float64(delta(stats.Bytes, e.last.Bytes)))
	e.evictions.Add(float64(delta(stats.Evictions, e.last.Evictions)))
	e.last = stats
}

// IncDropped counts one packet lost to back-pressure.
func (e *Exporter) IncDropped() {
	e.dropped.Inc()
}

// SetClients records the number of connected WebSocket clients.
func (e *Exporter) SetClients(n int) {
	e.wsClients.Set(float64(n))
}

func delta(now, prev uint64) uint64 {
	if now < prev {
		return 0
	}
	return now - prev
}
