package timer

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"cronjob/internal/schedule"
)

func TestCreateRejectsInvalidExpression(t *testing.T) {
	t.Parallel()
	f := NewCronFactory(context.Background())
	for _, expr := range []schedule.Expression{"", "not a cron", "61 * * * *", "CRON_TZ=UTC 0 9 * * *", "1 2 3 4 5 6 7"} {
		_, err := f.Create(expr, "UTC", func(context.Context) {})
		if !errors.Is(err, ErrInvalidExpression) {
			t.Fatalf("Create(%q) err = %v, want ErrInvalidExpression", expr, err)
		}
	}
}

func TestCreateRejectsInvalidTimezone(t *testing.T) {
	t.Parallel()
	f := NewCronFactory(context.Background())
	_, err := f.Create("0 9 * * *", "Mars/Olympus_Mons", func(context.Context) {})
	if !errors.Is(err, ErrInvalidTimezone) {
		t.Fatalf("err = %v, want ErrInvalidTimezone", err)
	}
}

func TestHandleBindsTimezone(t *testing.T) {
	t.Parallel()
	f := NewCronFactory(context.Background())
	h, err := f.Create("0 9 * * *", "Asia/Jakarta", func(context.Context) {})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer h.Stop()

	if h.Timezone() != "Asia/Jakarta" {
		t.Fatalf("Timezone() = %q", h.Timezone())
	}
	if h.Expression() != "0 9 * * *" {
		t.Fatalf("Expression() = %q", h.Expression())
	}
	next := h.Next()
	if next.IsZero() {
		t.Fatal("Next() is zero for a running timer")
	}
	loc, _ := time.LoadLocation("Asia/Jakarta")
	if got := next.In(loc); got.Hour() != 9 || got.Minute() != 0 {
		t.Fatalf("next fire %v is not 09:00 in Asia/Jakarta", got)
	}
}

func TestTickAndStop(t *testing.T) {
	t.Parallel()
	f := NewCronFactory(context.Background())
	var ticks atomic.Int32
	fired := make(chan struct{}, 8)
	h, err := f.Create("* * * * * *", "UTC", func(context.Context) {
		ticks.Add(1)
		fired <- struct{}{}
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	select {
	case <-fired:
	case <-time.After(3 * time.Second):
		h.Stop()
		t.Fatal("timer did not fire within 3s")
	}

	h.Stop()
	h.Stop() // idempotent
	if !h.Next().IsZero() {
		t.Fatal("Next() should be zero after Stop")
	}

	after := ticks.Load()
	time.Sleep(1500 * time.Millisecond)
	if got := ticks.Load(); got != after {
		t.Fatalf("timer ticked after Stop: %d -> %d", after, got)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	if err := Validate("@hourly"); err != nil {
		t.Fatalf("Validate(@hourly): %v", err)
	}
	if err := Validate("*/5 * * * * *"); err != nil {
		t.Fatalf("Validate(6 fields): %v", err)
	}
	if err := Validate("bad"); !errors.Is(err, ErrInvalidExpression) {
		t.Fatalf("Validate(bad) = %v", err)
	}
}

func TestNextHonorsZone(t *testing.T) {
	t.Parallel()
	from := time.Date(2024, 3, 3, 12, 0, 0, 0, time.UTC) // Sunday 21:00 JST
	got, err := Next("0 9 * * 1", "Asia/Tokyo", from)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if want := time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC); !got.Equal(want) {
		t.Fatalf("Next = %v, want %v", got, want)
	}
	if _, err := Next("0 9 * * 1", "Nowhere/Zone", from); !errors.Is(err, ErrInvalidTimezone) {
		t.Fatalf("err = %v", err)
	}
}

func TestStopDoesNotWaitForRunningTick(t *testing.T) {
	t.Parallel()
	f := NewCronFactory(context.Background())
	entered := make(chan struct{}, 8)
	release := make(chan struct{})
	var ticks atomic.Int32
	h, err := f.Create("* * * * * *", "UTC", func(context.Context) {
		ticks.Add(1)
		entered <- struct{}{}
		<-release
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer close(release)

	select {
	case <-entered:
	case <-time.After(3 * time.Second):
		h.Stop()
		t.Fatal("timer did not fire within 3s")
	}

	stopped := make(chan struct{})
	go func() {
		h.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("Stop blocked on a running tick")
	}

	time.Sleep(1500 * time.Millisecond)
	if got := ticks.Load(); got != 1 {
		t.Fatalf("ticks = %d after Stop, want 1", got)
	}
}

func TestStopFromInsideCallback(t *testing.T) {
	t.Parallel()
	f := NewCronFactory(context.Background())
	var h Handle
	ready := make(chan struct{})
	returned := make(chan struct{}, 1)
	var err error
	h, err = f.Create("* * * * * *", "UTC", func(context.Context) {
		<-ready
		h.Stop()
		returned <- struct{}{}
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	close(ready)

	select {
	case <-returned:
	case <-time.After(3 * time.Second):
		h.Stop()
		t.Fatal("Stop from the callback did not return")
	}
	if !h.Next().IsZero() {
		t.Fatal("Next() should be zero after Stop")
	}
}
