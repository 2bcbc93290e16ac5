// Package loop serializes work onto one goroutine. Scene and sync state are
// only touched from inside a Loop, network pumps Post closures onto it.
package loop

import (
	"context"
	"errors"
	"sync/atomic"
	"time"
)

var (
	ErrLoopRunning    = errors.New("loop is already running")
	ErrLoopNotRunning = errors.New("loop is not running")
)

const postBuffer = 1024

type Loop struct {
	tickRate  atomic.Int64
	lastTick  time.Time
	onTick    func(dt time.Duration)
	posts     chan func()
	rate      chan time.Duration
	done      chan struct{}
	isRunning atomic.Bool
}

func New(tickRate time.Duration) *Loop {
	l := &Loop{
		onTick: func(dt time.Duration) {},
		posts:  make(chan func(), postBuffer),
		rate:   make(chan time.Duration, 1),
		done:   make(chan struct{}),
	}
	l.tickRate.Store(int64(tickRate))
	return l
}

// OnTick sets the tick callback. It must be called before Run.
func (l *Loop) OnTick(fn func(dt time.Duration)) {
	l.onTick = fn
}

// Run executes ticks and posted closures until ctx is cancelled. A loop can
// only run once.
func (l *Loop) Run(ctx context.Context) error {
	if !l.isRunning.CompareAndSwap(false, true) {
		return ErrLoopRunning
	}
	defer close(l.done)

	t := time.NewTicker(time.Duration(l.tickRate.Load()))
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case fn := <-l.posts:
			fn()
		case d := <-l.rate:
			t.Reset(d)
		case now := <-t.C:
			l.step(now)
		}
	}
}

func (l *Loop) step(now time.Time) {
	var d time.Duration
	if !l.lastTick.IsZero() {
		d = now.Sub(l.lastTick)
	}

	l.lastTick = now

	l.onTick(d)
}

// SetTickRate changes the tick period, also while running.
func (l *Loop) SetTickRate(d time.Duration) {
	if d <= 0 {
		return
	}
	l.tickRate.Store(int64(d))
	select {
	case <-l.rate:
	default:
	}
	select {
	case l.rate <- d:
	default:
	}
}

func (l *Loop) TickRate() time.Duration {
	return time.Duration(l.tickRate.Load())
}

// Post queues fn. It blocks while the queue is full and fails once the loop
// has stopped.
func (l *Loop) Post(fn func()) error {
	select {
	case <-l.done:
		return ErrLoopNotRunning
	default:
	}

	select {
	case l.posts <- fn:
		return nil
	case <-l.done:
		return ErrLoopNotRunning
	}
}

// Do runs fn on the loop and waits for it to finish.
func (l *Loop) Do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	err := l.Post(func() {
		defer close(finished)
		fn()
	})
	if err != nil {
		return err
	}

	select {
	case <-finished:
		return nil
	case <-l.done:
		return ErrLoopNotRunning
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done is closed once Run returns.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}
