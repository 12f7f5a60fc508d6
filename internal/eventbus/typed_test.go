package eventbus

import (
	"context"
	"testing"
	"time"
)

func TestTypedSubscribeDeliverPayload(t *testing.T) {
	bus := New()
	defer bus.Shutdown()

	sub := SubscribeTo(bus, Platform.ChannelDeleted)
	defer sub.Close()

	ts := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	Publish(context.Background(), bus, Platform.ChannelDeleted, SourcePlatform,
		ChannelDeletedEvent{GuildID: "g1", ChannelID: "c1"},
		WithTimestamp(ts), WithCorrelationID("corr-1"))

	select {
	case got := <-sub.C():
		if got.Payload.ChannelID != "c1" {
			t.Fatalf("payload mismatch: %+v", got.Payload)
		}
		if !got.Timestamp.Equal(ts) || got.CorrelationID != "corr-1" || got.Source != SourcePlatform {
			t.Fatalf("metadata mismatch: %+v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for typed event")
	}
}

func TestTypedSubscribeSkipsMismatchedPayload(t *testing.T) {
	bus := New()
	defer bus.Shutdown()

	sub := Subscribe[ChannelDeletedEvent](bus, TopicPlatformChannelDeleted)
	defer sub.Close()

	bus.Publish(context.Background(), Envelope{Topic: TopicPlatformChannelDeleted, Payload: "wrong"})
	bus.Publish(context.Background(), Envelope{Topic: TopicPlatformChannelDeleted, Payload: ChannelDeletedEvent{ChannelID: "c2"}})

	select {
	case got := <-sub.C():
		if got.Payload.ChannelID != "c2" {
			t.Fatalf("expected matching payload, got %+v", got.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for typed event")
	}
}

func TestConsumeStopsOnContext(t *testing.T) {
	bus := New()
	defer bus.Shutdown()

	sub := SubscribeTo(bus, Plugins.Lifecycle)
	defer sub.Close()

	ctx, cancel := context.WithCancel(context.Background())
	got := make(chan string, 1)
	done := make(chan struct{})
	go func() {
		defer close(done)
		Consume(ctx, sub, func(env TypedEnvelope[PluginLifecycleEvent]) {
			got <- env.Payload.Name
		})
	}()

	Publish(context.Background(), bus, Plugins.Lifecycle, SourcePluginRuntime, PluginLifecycleEvent{Name: "tickets"})
	select {
	case name := <-got:
		if name != "tickets" {
			t.Fatalf("unexpected name %q", name)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for consumed event")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Consume did not return after cancel")
	}
}

func TestWorkersStop(t *testing.T) {
	var w Workers
	w.Start(context.Background())

	bus := New()
	sub := SubscribeTo(bus, Plugins.Lifecycle)
	w.Track(sub)

	exited := make(chan struct{})
	w.Go(func(ctx context.Context) {
		<-ctx.Done()
		close(exited)
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := w.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	select {
	case <-exited:
	default:
		t.Fatal("expected worker to exit before Stop returned")
	}
}
