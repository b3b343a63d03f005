package flight

// Query drives a no-argument machine. It begins running at construction and
// re-runs on Restart, cancelling whatever was in flight. Its read helper can
// substitute the previous settled snapshot while a refresh is running, so
// consumers never see a flicker back to a bare Running state.
type Query[R any] struct {
	machine      *Machine[R, struct{}]
	showPrevious bool
	showFailure  bool
}

type queryConfig struct {
	machineOpts  []MachineOption
	showPrevious bool
	showFailure  bool
}

// QueryOption is a modifier for queries
type QueryOption func(*queryConfig)

// WithoutPreviousValue suppresses substituting the previous Completed
// snapshot while a refresh is running.
func WithoutPreviousValue() QueryOption {
	return func(cfg *queryConfig) {
		cfg.showPrevious = false
	}
}

// WithoutPreviousError suppresses substituting the previous Failed snapshot
// while a refresh is running.
func WithoutPreviousError() QueryOption {
	return func(cfg *queryConfig) {
		cfg.showFailure = false
	}
}

// WithMachineOptions forwards machine options (name, extensions, history
// limit) to the query's underlying machine.
func WithMachineOptions(opts ...MachineOption) QueryOption {
	return func(cfg *queryConfig) {
		cfg.machineOpts = append(cfg.machineOpts, opts...)
	}
}

// NewQuery creates a query around fn and immediately submits its first run,
// so the query is observable as Running from the start.
func NewQuery[R any](fn func(tk *Token) (R, error), opts ...QueryOption) *Query[R] {
	cfg := &queryConfig{showPrevious: true, showFailure: true}
	for _, opt := range opts {
		opt(cfg)
	}

	q := &Query[R]{
		machine: newMachine(func(tk *Token, _ struct{}) (R, error) {
			return fn(tk)
		}, PhaseRunning, cfg.machineOpts),
		showPrevious: cfg.showPrevious,
		showFailure:  cfg.showFailure,
	}
	q.machine.Run(struct{}{}).Discard()
	return q
}

// Restart cancels any in-flight run and submits a fresh one.
func (q *Query[R]) Restart() *Future[R] {
	return q.machine.Run(struct{}{})
}

// RestartAndAwait restarts and blocks for the bridged result.
func (q *Query[R]) RestartAndAwait() (R, error) {
	return q.Restart().Await()
}

// Snapshot returns the raw current snapshot, without the read policy.
func (q *Query[R]) Snapshot() *Snapshot[R] {
	return q.machine.Snapshot()
}

// State applies the flicker policy: while Running, the previous Completed
// (or Failed) snapshot is returned instead, unless the corresponding
// substitution was suppressed at construction.
func (q *Query[R]) State() *Snapshot[R] {
	s := q.machine.Snapshot()
	if s.Phase() != PhaseRunning {
		return s
	}
	prev := s.Previous()
	if prev == nil {
		return s
	}
	switch prev.Phase() {
	case PhaseCompleted:
		if q.showPrevious {
			return prev
		}
	case PhaseFailed:
		if q.showFailure {
			return prev
		}
	}
	return s
}

// AddListener registers a snapshot observer on the underlying machine.
func (q *Query[R]) AddListener(fn func(*Snapshot[R])) int {
	return q.machine.AddListener(fn)
}

// RemoveListener detaches a snapshot observer.
func (q *Query[R]) RemoveListener(id int) {
	q.machine.RemoveListener(id)
}

// History returns the query's run log.
func (q *Query[R]) History() *History {
	return q.machine.History()
}

// CurrentPhase returns the phase of the current snapshot.
func (q *Query[R]) CurrentPhase() Phase {
	return q.machine.CurrentPhase()
}

// Disposed reports whether Dispose has been called.
func (q *Query[R]) Disposed() bool {
	return q.machine.Disposed()
}

// GetTag retrieves a tag value from the underlying machine
func (q *Query[R]) GetTag(tag any) (any, bool) {
	return q.machine.GetTag(tag)
}

// SetTag stores a tag value on the underlying machine
func (q *Query[R]) SetTag(tag any, val any) {
	q.machine.SetTag(tag, val)
}

// Dispose tears the query down; idempotent.
func (q *Query[R]) Dispose() {
	q.machine.Dispose()
}
