package flight

import (
	"sync"
	"sync/atomic"

	"github.com/petermattis/goid"
)

// Future is the one-shot settlement of a submitted body. It settles exactly
// once with either a value or an error, and stays settled.
type Future[R any] struct {
	lock      *FlightLock
	done      chan struct{}
	once      sync.Once
	discarded atomic.Bool
	value     R
	err       error
}

func newFuture[R any](l *FlightLock) *Future[R] {
	return &Future[R]{lock: l, done: make(chan struct{})}
}

func failedFuture[R any](err error) *Future[R] {
	f := newFuture[R](nil)
	var zero R
	f.settle(zero, err)
	return f
}

func (f *Future[R]) settle(v R, err error) {
	f.once.Do(func() {
		f.value = v
		f.err = err
		close(f.done)
	})
}

// Done returns a channel that is closed once f has settled.
func (f *Future[R]) Done() <-chan struct{} {
	return f.done
}

// Settled reports whether f has settled, without blocking.
func (f *Future[R]) Settled() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// Await blocks until f settles and returns the outcome.
//
// Awaiting an unsettled future from inside its lock's currently running body
// can never succeed: the body holds the very turn the future is queued
// behind. Await detects that case and returns ErrAwaitInBody instead of
// hanging forever.
func (f *Future[R]) Await() (R, error) {
	select {
	case <-f.done:
		return f.value, f.err
	default:
	}
	if f.lock != nil && f.lock.holder.Load() == goid.Get() {
		var zero R
		return zero, ErrAwaitInBody
	}
	<-f.done
	return f.value, f.err
}

// Discard marks f fire-and-forget. The eventual settlement is observed on a
// background goroutine and dropped, so abandoned runs never need an awaiter
// and their errors never surface anywhere else. Discarding is idempotent and
// does not prevent a caller who kept the future from awaiting it anyway.
func (f *Future[R]) Discard() {
	if !f.discarded.CompareAndSwap(false, true) {
		return
	}
	go func() {
		<-f.done
		_ = f.err
	}()
}

// Discarded reports whether Discard has been called.
func (f *Future[R]) Discarded() bool {
	return f.discarded.Load()
}
