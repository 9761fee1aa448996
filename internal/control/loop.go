package control

import (
	"context"
	"sync"
)

const defaultQueueSize = 64

// Loop runs posted functions one at a time on a single goroutine. Every
// state change of a Controller happens on its loop, so the controller
// itself needs no locks.
type Loop struct {
	queue chan func()
	done  chan struct{}

	stopOnce sync.Once
	cancel   context.CancelFunc
}

// NewLoop starts a dispatch loop. It runs until Stop is called or ctx is
// cancelled.
func NewLoop(ctx context.Context) *Loop {
	ctx, cancel := context.WithCancel(ctx)
	l := &Loop{
		queue:  make(chan func(), defaultQueueSize),
		done:   make(chan struct{}),
		cancel: cancel,
	}
	go l.run(ctx)
	return l
}

func (l *Loop) run(ctx context.Context) {
	defer close(l.done)
	for {
		select {
		case fn := <-l.queue:
			fn()
		case <-ctx.Done():
			return
		}
	}
}

// Post queues fn without waiting for it to run. It returns false if the
// loop has stopped.
func (l *Loop) Post(fn func()) bool {
	select {
	case <-l.done:
		return false
	default:
	}

	select {
	case l.queue <- fn:
		return true
	case <-l.done:
		return false
	}
}

// Do queues fn and waits until it has run. It returns false if the loop
// stopped before fn could run.
func (l *Loop) Do(fn func()) bool {
	ran := make(chan struct{})
	if !l.Post(func() {
		defer close(ran)
		fn()
	}) {
		return false
	}

	select {
	case <-ran:
		return true
	case <-l.done:
		// fn may have been the last thing the loop ran.
		select {
		case <-ran:
			return true
		default:
			return false
		}
	}
}

// Stop ends the loop and waits for the running function, if any, to
// return. Queued functions that have not started are dropped.
func (l *Loop) Stop() {
	l.stopOnce.Do(l.cancel)
	<-l.done
}

// Done is closed once the loop has exited.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}
