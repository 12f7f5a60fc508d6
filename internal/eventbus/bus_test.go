package eventbus_test

import (
	"context"
	"testing"
	"time"

	"github.com/lerndmina/Heimdall-sub000/internal/eventbus"
)

func TestBusPublishDeliver(t *testing.T) {
	bus := eventbus.New()
	sub := bus.Subscribe(eventbus.TopicPlatformMessageDeleted)
	defer sub.Close()

	payload := eventbus.MessageDeletedEvent{GuildID: "g1", ChannelID: "c1", MessageID: "m1"}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	bus.Publish(ctx, eventbus.Envelope{
		Topic:   eventbus.TopicPlatformMessageDeleted,
		Source:  eventbus.SourcePlatform,
		Payload: payload,
	})

	select {
	case env := <-sub.C():
		msg, ok := env.Payload.(eventbus.MessageDeletedEvent)
		if !ok {
			t.Fatalf("expected MessageDeletedEvent payload, got %T", env.Payload)
		}
		if msg.MessageID != "m1" {
			t.Fatalf("unexpected message id %q", msg.MessageID)
		}
		if env.Timestamp.IsZero() {
			t.Fatal("expected publish to stamp the envelope")
		}
	case <-ctx.Done():
		t.Fatal("timed out waiting for event")
	}

	if metrics := bus.Metrics(); metrics.PublishTotal != 1 {
		t.Fatalf("expected PublishTotal 1, got %d", metrics.PublishTotal)
	}
}

func TestBusDropOldest(t *testing.T) {
	bus := eventbus.New(eventbus.WithTopicBuffer(eventbus.TopicPermissionsOverridesSet, 1))
	sub := bus.Subscribe(eventbus.TopicPermissionsOverridesSet, eventbus.WithSubscriptionBuffer(1))
	defer sub.Close()

	ctx := context.Background()
	for _, role := range []string{"r1", "r2"} {
		eventbus.Publish(ctx, bus, eventbus.Permissions.OverridesChanged, eventbus.SourceHTTP,
			eventbus.OverridesChangedEvent{GuildID: "g1", RoleID: role})
	}

	select {
	case env := <-sub.C():
		msg := env.Payload.(eventbus.OverridesChangedEvent)
		if msg.RoleID != "r2" {
			t.Fatalf("expected newest event after drop-oldest, got %q", msg.RoleID)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event after drops")
	}

	if bus.Metrics().DroppedTotal == 0 {
		t.Fatal("expected dropped events to be recorded")
	}
	if sub.Dropped() != 1 {
		t.Fatalf("expected subscription to record 1 drop, got %d", sub.Dropped())
	}
}

func TestBusDropNewest(t *testing.T) {
	bus := eventbus.New()
	sub := bus.Subscribe(eventbus.TopicPluginsLifecycle, eventbus.WithSubscriptionBuffer(1))
	defer sub.Close()

	ctx := context.Background()
	eventbus.Publish(ctx, bus, eventbus.Plugins.Lifecycle, eventbus.SourcePluginRuntime, eventbus.PluginLifecycleEvent{Name: "first"})
	eventbus.Publish(ctx, bus, eventbus.Plugins.Lifecycle, eventbus.SourcePluginRuntime, eventbus.PluginLifecycleEvent{Name: "second"})

	env := <-sub.C()
	if got := env.Payload.(eventbus.PluginLifecycleEvent).Name; got != "first" {
		t.Fatalf("expected first event to survive drop-newest, got %q", got)
	}
}

func TestBusOverflowKeepsOrder(t *testing.T) {
	bus := eventbus.New()
	sub := bus.Subscribe(eventbus.TopicGatewayBroadcast, eventbus.WithSubscriptionBuffer(1))
	defer sub.Close()

	ctx := context.Background()
	for i := 0; i < 50; i++ {
		eventbus.Publish(ctx, bus, eventbus.Gateway.Broadcast, eventbus.SourceHTTP,
			eventbus.BroadcastEvent{GuildID: "g1", Event: "tick", Data: i})
	}

	for i := 0; i < 50; i++ {
		select {
		case env := <-sub.C():
			got := env.Payload.(eventbus.BroadcastEvent).Data.(int)
			if got != i {
				t.Fatalf("expected event %d, got %d", i, got)
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for event %d", i)
		}
	}
}

func TestBusShutdownClosesSubscriptions(t *testing.T) {
	bus := eventbus.New()
	sub := bus.Subscribe(eventbus.TopicGatewayBroadcast)

	bus.Shutdown()

	select {
	case _, ok := <-sub.C():
		if ok {
			t.Fatal("expected closed channel after shutdown")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for channel close")
	}

	sub.Close()
}

func TestNilBusIsNoop(t *testing.T) {
	var bus *eventbus.Bus
	bus.Publish(context.Background(), eventbus.Envelope{Topic: eventbus.TopicGatewayBroadcast})
	sub := bus.Subscribe(eventbus.TopicGatewayBroadcast)
	if _, ok := <-sub.C(); ok {
		t.Fatal("expected closed channel from nil bus")
	}
	sub.Close()
}

type recordingObserver struct {
	topics []eventbus.Topic
}

func (o *recordingObserver) OnPublish(env eventbus.Envelope) {
	o.topics = append(o.topics, env.Topic)
}

func TestObserverSeesEveryPublish(t *testing.T) {
	bus := eventbus.New()
	obs := &recordingObserver{}
	bus.AddObserver(obs)

	bus.Publish(context.Background(), eventbus.Envelope{Topic: eventbus.TopicPluginsLifecycle})
	bus.Publish(context.Background(), eventbus.Envelope{Topic: eventbus.TopicGatewayBroadcast})

	if len(obs.topics) != 2 || obs.topics[0] != eventbus.TopicPluginsLifecycle {
		t.Fatalf("unexpected observed topics %v", obs.topics)
	}
}
