package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/lerndmina/Heimdall-sub000/internal/eventbus"
	"github.com/lerndmina/Heimdall-sub000/internal/gateway"
)

func TestEventCounterSnapshot(t *testing.T) {
	counter := NewEventCounter()
	counter.OnPublish(eventbus.Envelope{Topic: eventbus.TopicGatewayBroadcast})
	counter.OnPublish(eventbus.Envelope{Topic: eventbus.TopicGatewayBroadcast})
	counter.OnPublish(eventbus.Envelope{Topic: eventbus.TopicPluginsLifecycle})
	counter.OnPublish(eventbus.Envelope{})

	snapshot := counter.Snapshot()
	if snapshot[eventbus.TopicGatewayBroadcast] != 2 {
		t.Fatalf("expected gateway.broadcast count 2, got %d", snapshot[eventbus.TopicGatewayBroadcast])
	}
	if snapshot[eventbus.TopicPluginsLifecycle] != 1 {
		t.Fatalf("expected plugins.lifecycle count 1, got %d", snapshot[eventbus.TopicPluginsLifecycle])
	}
	if _, exists := snapshot[""]; exists {
		t.Fatal("empty topic must be ignored")
	}
}

type gatewayStub struct{}

func (gatewayStub) Stats() gateway.Stats {
	return gateway.Stats{Running: true, Connections: 5, Authenticated: 4, Rooms: 2, Subscriptions: 6}
}

type pluginsStub struct{}

func (pluginsStub) StatusCounts() map[string]int {
	return map[string]int{"loaded": 3, "disabled": 1}
}

func (pluginsStub) WarningsCount() int { return 2 }

func TestPrometheusExporter(t *testing.T) {
	bus := eventbus.New()
	counter := NewEventCounter()
	bus.AddObserver(counter)

	exporter := NewPrometheusExporter(bus, counter).WithGateway(gatewayStub{}).WithPlugins(pluginsStub{})

	bus.Publish(context.Background(), eventbus.Envelope{Topic: eventbus.TopicGatewayBroadcast})
	bus.Publish(context.Background(), eventbus.Envelope{Topic: eventbus.TopicPlatformChannelDeleted})

	metrics := string(exporter.Export())
	for _, want := range []string{
		`heimdall_eventbus_events_total{topic="gateway.broadcast"} 1`,
		`heimdall_eventbus_events_total{topic="platform.channel_deleted"} 1`,
		`heimdall_eventbus_publish_total 2`,
		`heimdall_eventbus_dropped_total 0`,
		`heimdall_gateway_up 1`,
		`heimdall_gateway_connections 5`,
		`heimdall_gateway_authenticated_connections 4`,
		`heimdall_gateway_rooms 2`,
		`heimdall_gateway_subscriptions 6`,
		`heimdall_plugins{status="disabled"} 1`,
		`heimdall_plugins{status="loaded"} 3`,
		`heimdall_plugin_discovery_warnings 2`,
	} {
		if !strings.Contains(metrics, want) {
			t.Fatalf("missing %q in metrics output:\n%s", want, metrics)
		}
	}
}

func TestExporterServesHTTP(t *testing.T) {
	exporter := NewPrometheusExporter(eventbus.New(), NewEventCounter())
	rec := httptest.NewRecorder()
	exporter.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Fatalf("unexpected content type %q", ct)
	}
	if !strings.Contains(rec.Body.String(), "heimdall_eventbus_publish_total 0") {
		t.Fatalf("unexpected body:\n%s", rec.Body.String())
	}
}

func TestPrometheusExporterConcurrency(t *testing.T) {
	bus := eventbus.New()
	counter := NewEventCounter()
	bus.AddObserver(counter)
	exporter := NewPrometheusExporter(bus, counter)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			bus.Publish(context.Background(), eventbus.Envelope{Topic: eventbus.TopicGatewayBroadcast})
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			if payload := exporter.Export(); len(payload) == 0 {
				t.Errorf("expected metrics output to be non-empty")
			}
		}
	}()
	wg.Wait()

	if got := counter.Snapshot()[eventbus.TopicGatewayBroadcast]; got != 500 {
		t.Fatalf("expected 500 events, got %d", got)
	}
}
