package loop

import (
	"context"
	"testing"
	"time"
)

// TestLoopTicks tests that ticks report elapsed time
func TestLoopTicks(t *testing.T) {
	l := New(5 * time.Millisecond)

	ticks := make(chan time.Duration, 16)
	l.OnTick(func(dt time.Duration) {
		select {
		case ticks <- dt:
		default:
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go l.Run(ctx)

	first := <-ticks
	if first != 0 {
		t.Errorf("Expected first tick to be 0, got %v", first)
	}
	if second := <-ticks; second <= 0 {
		t.Errorf("Expected positive dt, got %v", second)
	}
}

// TestLoopDo tests that posted closures run in order on the loop
func TestLoopDo(t *testing.T) {
	l := New(time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	go l.Run(ctx)

	var order []int
	for i := 0; i < 5; i++ {
		l.Post(func() { order = append(order, i) })
	}

	var got []int
	if err := l.Do(ctx, func() { got = append(got, order...) }); err != nil {
		t.Fatalf("Do failed: %v", err)
	}
	for i, v := range got {
		if v != i {
			t.Errorf("Expected %d at %d, got %d", i, i, v)
		}
	}
	if len(got) != 5 {
		t.Errorf("Expected 5 closures, got %d", len(got))
	}

	cancel()
	<-l.Done()

	if err := l.Post(func() {}); err != ErrLoopNotRunning {
		t.Errorf("Expected ErrLoopNotRunning, got %v", err)
	}
	if err := l.Run(context.Background()); err != ErrLoopRunning {
		t.Errorf("Expected ErrLoopRunning, got %v", err)
	}
}

// TestSetTickRate tests changing the tick rate
func TestSetTickRate(t *testing.T) {
	l := New(time.Hour)
	l.SetTickRate(0)
	if l.TickRate() != time.Hour {
		t.Errorf("Expected zero rate to be ignored, got %v", l.TickRate())
	}

	ticked := make(chan struct{}, 1)
	l.OnTick(func(time.Duration) {
		select {
		case ticked <- struct{}{}:
		default:
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go l.Run(ctx)

	l.SetTickRate(time.Millisecond)
	select {
	case <-ticked:
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for tick after SetTickRate")
	}
}
