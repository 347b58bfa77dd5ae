package timeutil

import (
	"testing"
	"time"
)

func TestRealClock_Now(t *testing.T) {
	clock := RealClock{}
	before := time.Now()
	now := clock.Now()
	after := time.Now()

	if now.Before(before) || now.After(after) {
		t.Errorf("Now() = %v, expected between %v and %v", now, before, after)
	}
}

func TestRealClock_NewTicker(t *testing.T) {
	clock := RealClock{}
	ticker := clock.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	select {
	case <-ticker.C():
	case <-time.After(200 * time.Millisecond):
		t.Error("ticker did not fire")
	}
}

func TestMockClock_TickIsSynchronous(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := NewMockClock(start)
	ticker := clock.NewTicker(100 * time.Millisecond)

	received := make(chan time.Time, 3)
	go func() {
		for i := 0; i < 3; i++ {
			received <- <-ticker.C()
		}
	}()

	for i := 0; i < 3; i++ {
		if !ticker.(*MockTicker).Tick() {
			t.Fatalf("tick %d was not delivered", i)
		}
	}

	if got := clock.Since(start); got != 300*time.Millisecond {
		t.Errorf("Since(start) = %v, want 300ms", got)
	}
	first := <-received
	if want := start.Add(100 * time.Millisecond); !first.Equal(want) {
		t.Errorf("first tick = %v, want %v", first, want)
	}
}

func TestMockClock_TickAfterStop(t *testing.T) {
	clock := NewMockClock(time.Unix(0, 0))
	ticker := clock.NewTicker(time.Second).(*MockTicker)
	ticker.Stop()
	ticker.Stop()

	if ticker.Tick() {
		t.Error("Tick() delivered on a stopped ticker")
	}
	if !ticker.Stopped() {
		t.Error("Stopped() = false after Stop")
	}
}

func TestMockClock_Tickers(t *testing.T) {
	clock := NewMockClock(time.Unix(0, 0))
	created := clock.NewTicker(time.Second)

	select {
	case got := <-clock.Tickers():
		if got != created {
			t.Error("Tickers() yielded a different ticker")
		}
	default:
		t.Fatal("Tickers() did not announce the new ticker")
	}
}
