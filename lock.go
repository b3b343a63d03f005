package flight

import (
	"sync"
	"sync/atomic"

	"github.com/petermattis/goid"
)

// FlightLock serializes submitted bodies so that at most one executes at a
// time, in FIFO submission order, and owns the single active Token slot.
//
// Submitting a new body immediately cancels the outgoing token. That is the
// whole single-flight guarantee: earlier bodies may still physically run to
// completion, but they do so against a cancelled token, and anything
// downstream that honors the token will drop their effects.
//
// The FIFO queue is a chain of turn channels: each submission parks behind
// the channel of its predecessor and closes its own when done.
type FlightLock struct {
	mu     sync.Mutex
	tail   chan struct{}
	active *Token

	// goroutine id currently executing a body, 0 when none is.
	holder atomic.Int64
}

// NewFlightLock creates an idle lock with no active token.
func NewFlightLock() *FlightLock {
	return &FlightLock{}
}

// Submit cancels the lock's active token, installs a fresh one, and queues
// body behind every previously submitted body. It returns a future that
// settles with body's outcome.
//
// The predecessor's token is cancelled synchronously, before the new body
// can ever be scheduled, and its cleanup callbacks run in registration
// order. Cancellation does not preempt a predecessor that is mid-flight; the
// new body waits until the predecessor returns or panics.
//
// A cleanup callback on the new token discards the returned future, so a
// run that is later superseded never requires an awaiter.
func Submit[R any](l *FlightLock, body func(tk *Token) (R, error)) *Future[R] {
	f := newFuture[R](l)

	l.mu.Lock()
	prev := l.active
	tk := newToken()
	l.active = tk
	turn := l.tail
	done := make(chan struct{})
	l.tail = done
	l.mu.Unlock()

	if prev != nil {
		prev.cancel()
	}
	tk.OnCancel(f.Discard)

	go func() {
		defer close(done)
		if turn != nil {
			<-turn
		}
		gid := goid.Get()
		l.holder.Store(gid)
		defer l.holder.CompareAndSwap(gid, 0)

		v, err := runBody(body, tk)
		f.settle(v, err)
	}()

	return f
}

// runBody contains a panicking body so that a raw Submit behaves like a
// settlement, not a crash. The panic is preserved as a *PanicError.
func runBody[R any](body func(*Token) (R, error), tk *Token) (v R, err error) {
	defer func() {
		if r := recover(); r != nil {
			if pe, ok := r.(*PanicError); ok {
				err = pe
				return
			}
			err = &PanicError{Recovered: r, StackTrace: captureStack()}
		}
	}()
	return body(tk)
}

// activeToken is a test hook; the slot is otherwise owned by Submit alone.
func (l *FlightLock) activeToken() *Token {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.active
}
