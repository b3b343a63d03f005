package flight

import (
	"context"
	"sync"
)

type cleanupEntry struct {
	fn    func()
	order int
}

// Token is the per-submission cancellation handle a running body receives.
// It carries a write-once cancelled flag and an ordered list of cleanup
// callbacks. Cancellation is cooperative: flipping the flag never preempts
// the body, it only makes the next checkpoint fail.
//
// A Token is created and cancelled exclusively by its owning FlightLock;
// bodies consume it through Guard, Wait, OnCancel and Context.
type Token struct {
	mu       sync.Mutex
	canceled bool
	cleanups []cleanupEntry
	ctx      context.Context
	stop     context.CancelFunc
}

func newToken() *Token {
	return &Token{}
}

// IsCanceled reports whether the token has been superseded.
func (tk *Token) IsCanceled() bool {
	tk.mu.Lock()
	defer tk.mu.Unlock()
	return tk.canceled
}

// Guard is a cheap checkpoint: it returns ErrCanceled once the token has
// been cancelled and nil otherwise.
func (tk *Token) Guard() error {
	if tk.IsCanceled() {
		return ErrCanceled
	}
	return nil
}

// OnCancel registers a cleanup callback to run when the token is cancelled.
// Callbacks run in registration order. Registering on an already-cancelled
// token still runs the callback, exactly once, so there is no window in
// which a cancellation can be missed.
func (tk *Token) OnCancel(fn func()) {
	tk.mu.Lock()
	if tk.canceled {
		tk.mu.Unlock()
		runCleanup(fn)
		return
	}
	tk.cleanups = append(tk.cleanups, cleanupEntry{fn: fn, order: len(tk.cleanups)})
	tk.mu.Unlock()
}

// Context lazily materializes a context.Context that is cancelled together
// with the token. Bodies hand it to abortable work (HTTP requests, DB
// queries) so that superseding a run also tears the real resource down.
func (tk *Token) Context() context.Context {
	tk.mu.Lock()
	defer tk.mu.Unlock()
	if tk.ctx == nil {
		tk.ctx, tk.stop = context.WithCancel(context.Background())
		if tk.canceled {
			tk.stop()
		}
	}
	return tk.ctx
}

// cancel flips the flag and runs the cleanup callbacks in registration
// order. The transition is monotone and idempotent.
func (tk *Token) cancel() {
	tk.mu.Lock()
	if tk.canceled {
		tk.mu.Unlock()
		return
	}
	tk.canceled = true
	entries := tk.cleanups
	tk.cleanups = nil
	stop := tk.stop
	tk.mu.Unlock()

	for _, entry := range entries {
		runCleanup(entry.fn)
	}
	if stop != nil {
		stop()
	}
}

// runCleanup isolates a panicking callback so that later callbacks still run.
func runCleanup(fn func()) {
	defer func() {
		_ = recover()
	}()
	fn()
}

// Wait wraps an operation with checkpoints on both sides: it fails with
// ErrCanceled if the token is already cancelled, runs op, and checks again
// before handing the result back.
func Wait[T any](tk *Token, op func() (T, error)) (T, error) {
	var zero T
	if err := tk.Guard(); err != nil {
		return zero, err
	}
	v, err := op()
	if err != nil {
		return zero, err
	}
	if err := tk.Guard(); err != nil {
		return zero, err
	}
	return v, nil
}
