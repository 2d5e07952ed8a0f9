package inproc

import (
	"errors"
	"testing"

	"courier_grid/internal/domain"
)

func TestPublishFansOut(t *testing.T) {
	bus := New(4)
	a := bus.Register("a")
	b := bus.Register("b")
	if again := bus.Register("a"); again != a {
		t.Fatalf("register should return the existing channel")
	}

	ev := domain.Event{Kind: domain.EventAgentSpawned, TaskID: "T0001"}
	if err := bus.Publish(ev); err != nil {
		t.Fatalf("publish: %v", err)
	}
	for name, ch := range map[string]<-chan domain.Event{"a": a, "b": b} {
		got := <-ch
		if got.TaskID != "T0001" {
			t.Fatalf("subscriber %s got %+v", name, got)
		}
	}
}

func TestPublishDropsWhenFull(t *testing.T) {
	bus := New(1)
	ch := bus.Register("slow")
	if err := bus.Publish(domain.Event{TaskID: "first"}); err != nil {
		t.Fatalf("publish first: %v", err)
	}
	err := bus.Publish(domain.Event{TaskID: "second"})
	if !errors.Is(err, ErrSubscriberQueueFull) {
		t.Fatalf("expected queue full, got %v", err)
	}
	if bus.Dropped() != 1 {
		t.Fatalf("dropped=%d want 1", bus.Dropped())
	}
	if got := <-ch; got.TaskID != "first" {
		t.Fatalf("got %+v", got)
	}

	bus.Unregister("slow")
	if _, ok := <-ch; ok {
		t.Fatalf("channel should be closed after unregister")
	}
	if err := bus.Publish(domain.Event{}); err != nil {
		t.Fatalf("publish with no subscribers: %v", err)
	}
}
