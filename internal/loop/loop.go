// Package loop provides the single-threaded cooperative scheduler that drives
// a worker pool. Every callback the loop runs executes on the goroutine that
// called Run, so state shared only between loop callbacks needs no locking.
//
// Callbacks come in two flavours with a strict ordering contract: next-tick
// callbacks (Schedule) always run, in the order scheduled, before any readiness
// callback (Post) is taken from the queue. Pool code relies on this to close
// the race between listener registration and an immediately-exiting worker.
package loop

import (
	"sync"
	"time"
)

// Loop is a cooperative scheduler. The zero value is not usable; call New.
type Loop struct {
	mu    sync.Mutex
	ticks []func() // next-tick queue, FIFO, drained before ready
	ready []func() // I/O readiness and exit callbacks, FIFO

	wake     chan struct{}
	stop     chan struct{}
	stopOnce sync.Once
}

// New creates a stopped-state loop ready for Run.
func New() *Loop {
	return &Loop{
		wake: make(chan struct{}, 1),
		stop: make(chan struct{}),
	}
}

// Schedule queues fn to run on the next loop iteration. Scheduled callbacks
// run in FIFO order and strictly before any readiness callback posted after
// them. Never runs fn inline.
func (l *Loop) Schedule(fn func()) {
	l.mu.Lock()
	l.ticks = append(l.ticks, fn)
	l.mu.Unlock()
	l.notify()
}

// Post queues a readiness callback from any goroutine. Used by process handles
// to deliver output data and exit notifications onto the loop.
func (l *Loop) Post(fn func()) {
	l.mu.Lock()
	l.ready = append(l.ready, fn)
	l.mu.Unlock()
	l.notify()
}

// AfterFunc runs fn on the loop after at least d has elapsed. The returned
// timer can be used to cancel delivery before it fires.
func (l *Loop) AfterFunc(d time.Duration, fn func()) *time.Timer {
	return time.AfterFunc(d, func() {
		l.Post(fn)
	})
}

// Run processes callbacks until Stop is called. It blocks the calling
// goroutine; the loop imposes no auto-stop policy, stopping is the
// application's responsibility.
func (l *Loop) Run() {
	for {
		select {
		case <-l.stop:
			return
		default:
		}

		if fn := l.take(); fn != nil {
			fn()
			continue
		}

		select {
		case <-l.stop:
			return
		case <-l.wake:
		}
	}
}

// Stop requests Run to return. Idempotent; callbacks still queued when Stop
// is called are not executed.
func (l *Loop) Stop() {
	l.stopOnce.Do(func() {
		close(l.stop)
	})
}

// take returns the next callback honoring tick-before-ready ordering, or nil
// if both queues are empty.
func (l *Loop) take() func() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.ticks) > 0 {
		fn := l.ticks[0]
		l.ticks = l.ticks[1:]
		return fn
	}
	if len(l.ready) > 0 {
		fn := l.ready[0]
		l.ready = l.ready[1:]
		return fn
	}
	return nil
}

func (l *Loop) notify() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}
