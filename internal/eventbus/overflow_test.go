package eventbus

import (
	"context"
	"testing"
	"time"
)

func TestSpillRingFIFO(t *testing.T) {
	ring := newSpillRing(4)

	for i := 0; i < 4; i++ {
		if !ring.push(Envelope{CorrelationID: string(rune('a' + i))}) {
			t.Fatalf("push %d should succeed", i)
		}
	}
	if ring.push(Envelope{CorrelationID: "overflow"}) {
		t.Fatal("push should fail when ring is full")
	}
	if ring.len() != 4 {
		t.Fatalf("expected len 4, got %d", ring.len())
	}

	for i := 0; i < 4; i++ {
		env, ok := ring.pop()
		if !ok {
			t.Fatalf("pop %d should succeed", i)
		}
		if want := string(rune('a' + i)); env.CorrelationID != want {
			t.Fatalf("expected %q, got %q", want, env.CorrelationID)
		}
	}
	if _, ok := ring.pop(); ok {
		t.Fatal("pop from empty ring should fail")
	}
}

func TestSpillRingDrain(t *testing.T) {
	ring := newSpillRing(8)
	ch := make(chan Envelope, 8)
	ctx, cancel := context.WithCancel(context.Background())

	go ring.drain(ctx, ch)

	ring.push(Envelope{CorrelationID: "x"})
	select {
	case env := <-ch:
		if env.CorrelationID != "x" {
			t.Fatalf("unexpected envelope %q", env.CorrelationID)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for drained envelope")
	}

	cancel()
	select {
	case <-ring.done:
	case <-time.After(time.Second):
		t.Fatal("drain did not exit after cancel")
	}
}
