package observability

import (
	"bytes"
	"fmt"
	"net/http"
	"sort"

	"github.com/lerndmina/Heimdall-sub000/internal/eventbus"
	"github.com/lerndmina/Heimdall-sub000/internal/gateway"
)

// GatewayStatsProvider exposes live connection statistics.
type GatewayStatsProvider interface {
	Stats() gateway.Stats
}

// PluginStatusProvider exposes plugin status tallies and discovery warnings.
type PluginStatusProvider interface {
	StatusCounts() map[string]int
	WarningsCount() int
}

// PrometheusExporter renders host metrics in Prometheus text format.
type PrometheusExporter struct {
	bus     *eventbus.Bus
	counter *EventCounter
	gateway GatewayStatsProvider
	plugins PluginStatusProvider
}

// NewPrometheusExporter constructs an exporter backed by the bus and counter.
func NewPrometheusExporter(bus *eventbus.Bus, counter *EventCounter) *PrometheusExporter {
	return &PrometheusExporter{bus: bus, counter: counter}
}

// WithGateway enables exporting gateway connection gauges.
func (e *PrometheusExporter) WithGateway(provider GatewayStatsProvider) *PrometheusExporter {
	e.gateway = provider
	return e
}

// WithPlugins enables exporting plugin status gauges.
func (e *PrometheusExporter) WithPlugins(provider PluginStatusProvider) *PrometheusExporter {
	e.plugins = provider
	return e
}

// Export produces the metrics payload.
func (e *PrometheusExporter) Export() []byte {
	var buf bytes.Buffer
	e.writeEventCounters(&buf)
	e.writeBusMetrics(&buf)
	e.writeGatewayMetrics(&buf)
	e.writePluginMetrics(&buf)
	return buf.Bytes()
}

// ServeHTTP implements http.Handler.
func (e *PrometheusExporter) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
	_, _ = w.Write(e.Export())
}

func writeMetric(buf *bytes.Buffer, name, kind, help string, value any) {
	fmt.Fprintf(buf, "# HELP %s %s\n# TYPE %s %s\n%s %v\n", name, help, name, kind, name, value)
}

func (e *PrometheusExporter) writeEventCounters(buf *bytes.Buffer) {
	if e.counter == nil {
		return
	}
	counts := e.counter.Snapshot()
	if len(counts) == 0 {
		return
	}

	buf.WriteString("# HELP heimdall_eventbus_events_total Total number of published events per topic.\n")
	buf.WriteString("# TYPE heimdall_eventbus_events_total counter\n")
	topics := make([]string, 0, len(counts))
	for topic := range counts {
		topics = append(topics, string(topic))
	}
	sort.Strings(topics)
	for _, topic := range topics {
		fmt.Fprintf(buf, "heimdall_eventbus_events_total{topic=%q} %d\n", topic, counts[eventbus.Topic(topic)])
	}
}

func (e *PrometheusExporter) writeBusMetrics(buf *bytes.Buffer) {
	if e.bus == nil {
		return
	}
	m := e.bus.Metrics()
	writeMetric(buf, "heimdall_eventbus_publish_total", "counter", "Total number of events published on the bus.", m.PublishTotal)
	writeMetric(buf, "heimdall_eventbus_dropped_total", "counter", "Total number of events dropped by slow subscribers.", m.DroppedTotal)
}

func (e *PrometheusExporter) writeGatewayMetrics(buf *bytes.Buffer) {
	if e.gateway == nil {
		return
	}
	s := e.gateway.Stats()
	up := 0
	if s.Running {
		up = 1
	}
	writeMetric(buf, "heimdall_gateway_up", "gauge", "Whether the gateway accepts connections.", up)
	writeMetric(buf, "heimdall_gateway_connections", "gauge", "Open gateway connections.", s.Connections)
	writeMetric(buf, "heimdall_gateway_authenticated_connections", "gauge", "Gateway connections that completed authentication.", s.Authenticated)
	writeMetric(buf, "heimdall_gateway_rooms", "gauge", "Guild rooms with at least one subscriber.", s.Rooms)
	writeMetric(buf, "heimdall_gateway_subscriptions", "gauge", "Connection to room memberships.", s.Subscriptions)
}

func (e *PrometheusExporter) writePluginMetrics(buf *bytes.Buffer) {
	if e.plugins == nil {
		return
	}
	counts := e.plugins.StatusCounts()
	statuses := make([]string, 0, len(counts))
	for status := range counts {
		statuses = append(statuses, status)
	}
	sort.Strings(statuses)

	buf.WriteString("# HELP heimdall_plugins Discovered plugins by status.\n")
	buf.WriteString("# TYPE heimdall_plugins gauge\n")
	for _, status := range statuses {
		fmt.Fprintf(buf, "heimdall_plugins{status=%q} %d\n", status, counts[status])
	}
	writeMetric(buf, "heimdall_plugin_discovery_warnings", "gauge", "Plugin directories skipped by the last discovery.", e.plugins.WarningsCount())
}
