package eventbus

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestPublishFansOut(t *testing.T) {
	t.Parallel()
	b := New()
	a, unsubA := b.Subscribe(4)
	defer unsubA()
	c, unsubC := b.Subscribe(4)
	defer unsubC()

	b.Publish(Event{Type: TypeScheduleFired, Data: "0 9 * * *"})

	for _, ch := range []<-chan Event{a, c} {
		select {
		case e := <-ch:
			if e.Type != TypeScheduleFired || e.Time.IsZero() {
				t.Fatalf("unexpected event %+v", e)
			}
		case <-time.After(time.Second):
			t.Fatal("event not delivered")
		}
	}
}

func TestPublishDropsForSlowSubscriber(t *testing.T) {
	t.Parallel()
	b := New()
	_, unsub := b.Subscribe(1)
	defer unsub()

	b.Publish(Event{Type: TypeFlowRun})
	b.Publish(Event{Type: TypeFlowRun})
	b.Publish(Event{Type: TypeFlowRun})
	if got := Dropped(b); got != 2 {
		t.Fatalf("Dropped = %d, want 2", got)
	}
}

func TestPublishAfterUnsubscribe(t *testing.T) {
	t.Parallel()
	b := New()
	ch, unsub := b.Subscribe(1)
	unsub()
	unsub()
	b.Publish(Event{Type: TypeSchedulePass})
	if _, ok := <-ch; ok {
		t.Fatal("channel should be closed")
	}
}

func TestDrainStopsOnCancel(t *testing.T) {
	t.Parallel()
	b := New()
	ctx, cancel := context.WithCancel(context.Background())
	got := make(chan string, 1)
	done := make(chan error, 1)
	go func() {
		done <- Drain(ctx, b, 4, func(e Event) { got <- e.Type })
	}()

	deadline := time.After(2 * time.Second)
	for delivered := false; !delivered; {
		b.Publish(Event{Type: TypeConfigReload})
		select {
		case typ := <-got:
			if typ != TypeConfigReload {
				t.Fatalf("type = %q", typ)
			}
			delivered = true
		case <-time.After(10 * time.Millisecond):
		case <-deadline:
			t.Fatal("Drain never received an event")
		}
	}

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("Drain = %v", err)
	}
}
