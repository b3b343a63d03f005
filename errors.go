package flight

import (
	"errors"
	"fmt"
	"runtime/debug"
)

var (
	// ErrCanceled settles a run whose token was superseded by a newer
	// submission before its outcome could be observed.
	ErrCanceled = errors.New("flight: run canceled")

	// ErrDisposed settles any interaction with a machine after Dispose.
	ErrDisposed = errors.New("flight: machine disposed")

	// ErrNeverRan is returned by Mutation.Retry when Run was never called.
	ErrNeverRan = errors.New("flight: retry before first run")

	// ErrAwaitInBody is returned instead of deadlocking when a future of a
	// lock is awaited from inside that lock's own running body.
	ErrAwaitInBody = errors.New("flight: await inside the lock's own body would deadlock")
)

// PanicError is recorded when a run body panics instead of returning.
type PanicError struct {
	Recovered  any
	StackTrace []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("flight: panic in run body: %v", e.Recovered)
}

func captureStack() []byte {
	return debug.Stack()
}
