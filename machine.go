package flight

import (
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// RunFunc is the caller-supplied body of a machine run. It receives the
// run's cancellation token and the submission arguments. Long bodies are
// expected to checkpoint through the token; a body that never does runs to
// completion even when superseded, and only its visible effects are dropped.
type RunFunc[R, A any] func(tk *Token, args A) (R, error)

type machineConfig struct {
	name         string
	historyLimit int
	extensions   []Extension
	tags         map[any]any
}

// MachineOption is a modifier for machines
type MachineOption func(*machineConfig)

// WithName tags the machine with a name used by logging and history tooling.
func WithName(name string) MachineOption {
	return func(cfg *machineConfig) {
		cfg.name = name
	}
}

// WithHistoryLimit bounds the machine's run log.
func WithHistoryLimit(n int) MachineOption {
	return func(cfg *machineConfig) {
		cfg.historyLimit = n
	}
}

// WithExtension returns an option that registers an extension on a machine
func WithExtension(ext Extension) MachineOption {
	return func(cfg *machineConfig) {
		cfg.extensions = append(cfg.extensions, ext)
	}
}

// WithMachineTag returns an option that sets a tag on a machine
func WithMachineTag[T any](tag Tag[T], val T) MachineOption {
	return func(cfg *machineConfig) {
		cfg.tags[tag] = val
	}
}

// Machine drives an observed Snapshot through its phases from a FlightLock.
// Each Run submission transitions Running then Completed or Failed; writes
// are suppressed once the run's token is cancelled or the machine disposed,
// and the returned future settles exactly once regardless.
//
// A Machine is long-lived: created once by the owning caller and torn down
// with Dispose. Query and Mutation are its two thin public faces.
type Machine[R, A any] struct {
	fn   RunFunc[R, A]
	lock *FlightLock
	seq  atomic.Uint64

	mu           sync.Mutex
	snapshot     *Snapshot[R]
	disposed     bool
	listeners    map[int]func(*Snapshot[R])
	nextListener int
	tags         map[any]any

	extensions []Extension
	history    *History
}

// NewMachine creates a machine in the Idle phase that runs fn on each
// submission. It panics if an extension fails to initialize, mirroring the
// registration contract of the options.
func NewMachine[R, A any](fn RunFunc[R, A], opts ...MachineOption) *Machine[R, A] {
	return newMachine(fn, PhaseIdle, opts)
}

func newMachine[R, A any](fn RunFunc[R, A], initial Phase, opts []MachineOption) *Machine[R, A] {
	cfg := &machineConfig{tags: make(map[any]any)}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.name != "" {
		cfg.tags[machineNameTag] = cfg.name
	}

	exts := cfg.extensions
	sort.SliceStable(exts, func(i, j int) bool {
		return exts[i].Order() < exts[j].Order()
	})

	m := &Machine[R, A]{
		fn:         fn,
		lock:       NewFlightLock(),
		snapshot:   &Snapshot[R]{phase: initial},
		listeners:  make(map[int]func(*Snapshot[R])),
		tags:       cfg.tags,
		extensions: exts,
		history:    newHistory(cfg.historyLimit),
	}

	for _, ext := range exts {
		if err := ext.Init(m); err != nil {
			panic(err)
		}
	}

	return m
}

// Run submits one execution of the machine's body and returns its future.
// Submitting immediately cancels any in-flight predecessor's token; the new
// body itself only starts once the predecessor has finished running.
//
// The future settles exactly once with one of: the body's value, the body's
// domain error, ErrCanceled (superseded before its outcome could be
// observed), or ErrDisposed.
func (m *Machine[R, A]) Run(args A) *Future[R] {
	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		return failedFuture[R](ErrDisposed)
	}
	m.mu.Unlock()

	rec := newRunRecord(m.seq.Add(1))
	argsTag.Set(rec, any(args))

	return Submit(m.lock, func(tk *Token) (R, error) {
		var zero R
		startTimeTag.Set(rec, time.Now())
		statusTag.Set(rec, RunStatusRunning)

		if err := m.guardRun(tk); err != nil {
			// Superseded or torn down before the body got its turn.
			m.finishRecord(rec, err)
			m.emitRunEnd(rec, nil, err)
			return zero, err
		}

		m.setSnapshot(tk, &Snapshot[R]{phase: PhaseRunning})

		var v R
		err := m.emitRunStart(rec)
		if err == nil {
			v, err = m.invoke(tk, args)
		}

		if err == nil {
			err = m.settleGuard(tk)
		} else {
			err = m.normalizeErr(tk, err)
		}

		switch {
		case err == nil:
			m.setSnapshot(tk, &Snapshot[R]{phase: PhaseCompleted, value: v})
			outputTag.Set(rec, any(v))
			m.finishRecord(rec, nil)
			m.emitRunEnd(rec, v, nil)
			return v, nil

		case errors.Is(err, ErrDisposed), errors.Is(err, ErrCanceled):
			// Recovered locally: no Failed write, the future carries the
			// condition.
			m.finishRecord(rec, err)
			m.emitRunEnd(rec, nil, err)
			return zero, err

		default:
			stack := captureStack()
			var pe *PanicError
			if errors.As(err, &pe) {
				stack = pe.StackTrace
				panicStackTag.Set(rec, pe.StackTrace)
				m.emitRunPanic(rec, pe.Recovered, pe.StackTrace)
			}
			m.setSnapshot(tk, &Snapshot[R]{phase: PhaseFailed, err: err, stack: stack})
			m.finishRecord(rec, err)
			m.emitRunEnd(rec, nil, err)
			return zero, err
		}
	})
}

// RunAndAwait submits and blocks for the bridged result.
func (m *Machine[R, A]) RunAndAwait(args A) (R, error) {
	return m.Run(args).Await()
}

// invoke runs the body with panic containment.
func (m *Machine[R, A]) invoke(tk *Token, args A) (v R, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Recovered: r, StackTrace: captureStack()}
		}
	}()
	return m.fn(tk, args)
}

// guardRun is the checkpoint a body passes before doing anything.
func (m *Machine[R, A]) guardRun(tk *Token) error {
	if m.isDisposed() {
		return ErrDisposed
	}
	return tk.Guard()
}

// settleGuard decides whether a successfully returned value may still be
// observed. A cancelled or disposed run produced its value for nobody: the
// write is dropped downstream and the future must reject instead.
func (m *Machine[R, A]) settleGuard(tk *Token) error {
	if m.isDisposed() {
		return ErrDisposed
	}
	if tk.IsCanceled() {
		return ErrCanceled
	}
	return nil
}

// normalizeErr folds the cancellation and disposal conditions out of a body
// error. Disposal dominates, then cancellation; anything left is a domain
// error surfaced verbatim.
func (m *Machine[R, A]) normalizeErr(tk *Token, err error) error {
	if m.isDisposed() {
		return ErrDisposed
	}
	if tk.IsCanceled() || errors.Is(err, ErrCanceled) {
		return ErrCanceled
	}
	return err
}

// setSnapshot performs a guarded state write. If the writing run's token has
// been cancelled, or the machine disposed, the write is silently dropped and
// the snapshot remains whatever it last settled to.
func (m *Machine[R, A]) setSnapshot(tk *Token, next *Snapshot[R]) {
	m.mu.Lock()
	if m.disposed || (tk != nil && tk.IsCanceled()) {
		m.mu.Unlock()
		return
	}
	supersede(m.snapshot, next)
	m.snapshot = next
	listeners := make([]func(*Snapshot[R]), 0, len(m.listeners))
	for _, fn := range m.listeners {
		listeners = append(listeners, fn)
	}
	m.mu.Unlock()

	for _, fn := range listeners {
		fn(next)
	}
	for _, ext := range m.extensions {
		ext.OnStateChange(m, next.phase)
	}
}

// Snapshot returns the machine's current snapshot.
func (m *Machine[R, A]) Snapshot() *Snapshot[R] {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshot
}

// CurrentPhase returns the phase of the current snapshot.
func (m *Machine[R, A]) CurrentPhase() Phase {
	return m.Snapshot().Phase()
}

// AddListener registers a snapshot observer and returns its handle.
// Listeners fire after every surviving state write, outside the machine's
// internal lock.
func (m *Machine[R, A]) AddListener(fn func(*Snapshot[R])) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextListener
	m.nextListener++
	if m.listeners == nil {
		m.listeners = make(map[int]func(*Snapshot[R]))
	}
	m.listeners[id] = fn
	return id
}

// RemoveListener detaches a previously registered observer.
func (m *Machine[R, A]) RemoveListener(id int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.listeners, id)
}

// Dispose tears the machine down. It is idempotent: the first call flips the
// one-way latch, detaches all listeners and notifies extensions; later calls
// do nothing. An in-flight body is not aborted, but its state writes are
// suppressed and its future settles with ErrDisposed.
func (m *Machine[R, A]) Dispose() {
	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		return
	}
	m.disposed = true
	m.listeners = nil
	m.mu.Unlock()

	for _, ext := range m.extensions {
		// Hook failures on a torn-down machine have nowhere to go.
		_ = ext.Dispose(m)
	}
}

// Disposed reports whether Dispose has been called.
func (m *Machine[R, A]) Disposed() bool {
	return m.isDisposed()
}

func (m *Machine[R, A]) isDisposed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.disposed
}

// History returns the machine's run log.
func (m *Machine[R, A]) History() *History {
	return m.history
}

// GetTag retrieves a tag value from the machine
func (m *Machine[R, A]) GetTag(tag any) (any, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	val, ok := m.tags[tag]
	return val, ok
}

// SetTag stores a tag value on the machine
func (m *Machine[R, A]) SetTag(tag any, val any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tags[tag] = val
}

func (m *Machine[R, A]) finishRecord(rec *RunRecord, err error) {
	endTimeTag.Set(rec, time.Now())
	switch {
	case err == nil:
		statusTag.Set(rec, RunStatusCompleted)
	case errors.Is(err, ErrDisposed):
		statusTag.Set(rec, RunStatusDisposed)
		errorTag.Set(rec, err)
	case errors.Is(err, ErrCanceled):
		statusTag.Set(rec, RunStatusCanceled)
		errorTag.Set(rec, err)
	default:
		statusTag.Set(rec, RunStatusFailed)
		errorTag.Set(rec, err)
	}
	m.history.add(rec)
}

func (m *Machine[R, A]) emitRunStart(rec *RunRecord) error {
	for _, ext := range m.extensions {
		if err := ext.OnRunStart(m, rec); err != nil {
			return err
		}
	}
	return nil
}

func (m *Machine[R, A]) emitRunEnd(rec *RunRecord, result any, err error) {
	for i := len(m.extensions) - 1; i >= 0; i-- {
		m.extensions[i].OnRunEnd(m, rec, result, err)
	}
}

func (m *Machine[R, A]) emitRunPanic(rec *RunRecord, recovered any, stack []byte) {
	for _, ext := range m.extensions {
		ext.OnRunPanic(m, rec, recovered, stack)
	}
}
