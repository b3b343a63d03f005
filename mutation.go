package flight

import "sync"

// Mutation drives an argument-taking machine. It begins Idle and only runs
// when given arguments; the last arguments are remembered so a failed or
// superseded run can be retried without the caller keeping them around.
type Mutation[R, A any] struct {
	machine *Machine[R, A]

	mu       sync.Mutex
	lastArgs A
	hasRun   bool
}

// NewMutation creates an idle mutation around fn.
func NewMutation[R, A any](fn RunFunc[R, A], opts ...MachineOption) *Mutation[R, A] {
	return &Mutation[R, A]{
		machine: newMachine(fn, PhaseIdle, opts),
	}
}

// Run stores args as the retry arguments and submits a run.
func (m *Mutation[R, A]) Run(args A) *Future[R] {
	m.mu.Lock()
	m.lastArgs = args
	m.hasRun = true
	m.mu.Unlock()
	return m.machine.Run(args)
}

// Retry resubmits the last arguments. If Run has never been called the
// returned future fails with ErrNeverRan.
func (m *Mutation[R, A]) Retry() *Future[R] {
	m.mu.Lock()
	if !m.hasRun {
		m.mu.Unlock()
		return failedFuture[R](ErrNeverRan)
	}
	args := m.lastArgs
	m.mu.Unlock()
	return m.machine.Run(args)
}

// RunAndAwait runs and blocks for the bridged result.
func (m *Mutation[R, A]) RunAndAwait(args A) (R, error) {
	return m.Run(args).Await()
}

// RetryAndAwait retries and blocks for the bridged result.
func (m *Mutation[R, A]) RetryAndAwait() (R, error) {
	return m.Retry().Await()
}

// Snapshot returns the mutation's current snapshot.
func (m *Mutation[R, A]) Snapshot() *Snapshot[R] {
	return m.machine.Snapshot()
}

// AddListener registers a snapshot observer on the underlying machine.
func (m *Mutation[R, A]) AddListener(fn func(*Snapshot[R])) int {
	return m.machine.AddListener(fn)
}

// RemoveListener detaches a snapshot observer.
func (m *Mutation[R, A]) RemoveListener(id int) {
	m.machine.RemoveListener(id)
}

// History returns the mutation's run log.
func (m *Mutation[R, A]) History() *History {
	return m.machine.History()
}

// CurrentPhase returns the phase of the current snapshot.
func (m *Mutation[R, A]) CurrentPhase() Phase {
	return m.machine.CurrentPhase()
}

// Disposed reports whether Dispose has been called.
func (m *Mutation[R, A]) Disposed() bool {
	return m.machine.Disposed()
}

// GetTag retrieves a tag value from the underlying machine
func (m *Mutation[R, A]) GetTag(tag any) (any, bool) {
	return m.machine.GetTag(tag)
}

// SetTag stores a tag value on the underlying machine
func (m *Mutation[R, A]) SetTag(tag any, val any) {
	m.machine.SetTag(tag, val)
}

// Dispose tears the mutation down; idempotent.
func (m *Mutation[R, A]) Dispose() {
	m.machine.Dispose()
}
