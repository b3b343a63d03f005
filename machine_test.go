package flight

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func waitForPhase(t *testing.T, phase func() Phase, want Phase) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if phase() == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("machine never reached phase %v", want)
}

func TestMachineRunCompletesAndRecords(t *testing.T) {
	m := NewMachine(func(tk *Token, n int) (int, error) {
		return n * 2, nil
	})
	defer m.Dispose()

	v, err := m.RunAndAwait(21)
	if err != nil || v != 42 {
		t.Fatalf("run settled (%d, %v), want (42, nil)", v, err)
	}

	s := m.Snapshot()
	if s.Phase() != PhaseCompleted || s.Value() != 42 {
		t.Fatalf("snapshot %v value %d, want completed 42", s.Phase(), s.Value())
	}

	if m.History().Len() != 1 {
		t.Fatalf("history holds %d records, want 1", m.History().Len())
	}
	rec := m.History().Recent(1)[0]
	if got := Status().MustGet(rec); got != RunStatusCompleted {
		t.Fatalf("recorded status %v, want completed", got)
	}
	if got := RunArgs().MustGet(rec); got != any(21) {
		t.Fatalf("recorded args %v, want 21", got)
	}
	if got := RunOutput().MustGet(rec); got != any(42) {
		t.Fatalf("recorded output %v, want 42", got)
	}

	label := MatchSnapshot(s, SnapshotArms[int, string]{
		Idle:      func() string { return "idle" },
		Running:   func() string { return "running" },
		Completed: func(v int) string { return "completed" },
		Failed:    func(err error) string { return "failed" },
	})
	if label != "completed" {
		t.Fatalf("match dispatched to %q, want completed", label)
	}
}

type timedArg struct {
	d time.Duration
	v int
}

// A slow run superseded by a fast one: only the fast run's completion is ever
// observable, no matter that the slow body keeps running underneath.
func TestLastSubmissionWins(t *testing.T) {
	m := NewMachine(func(tk *Token, a timedArg) (int, error) {
		time.Sleep(a.d)
		return a.v, nil
	})
	defer m.Dispose()

	var completions atomic.Int32
	m.AddListener(func(s *Snapshot[int]) {
		if s.Phase() == PhaseCompleted {
			completions.Add(1)
		}
	})

	f1 := m.Run(timedArg{d: 50 * time.Millisecond, v: 1})
	time.Sleep(5 * time.Millisecond)
	f2 := m.Run(timedArg{d: 10 * time.Millisecond, v: 2})

	if v, err := f2.Await(); err != nil || v != 2 {
		t.Fatalf("surviving run settled (%d, %v), want (2, nil)", v, err)
	}
	if _, err := f1.Await(); !errors.Is(err, ErrCanceled) {
		t.Fatalf("superseded run settled with %v, want ErrCanceled", err)
	}

	if s := m.Snapshot(); s.Phase() != PhaseCompleted || s.Value() != 2 {
		t.Fatalf("final snapshot %v value %d, want completed 2", s.Phase(), s.Value())
	}
	if n := completions.Load(); n != 1 {
		t.Fatalf("observed %d completions, want exactly 1", n)
	}

	if m.History().Len() != 2 {
		t.Fatalf("history holds %d records, want 2", m.History().Len())
	}
	if got := Status().MustGet(m.History().Recent(1)[0]); got != RunStatusCompleted {
		t.Fatalf("newest record status %v, want completed", got)
	}
}

func TestSupersededTokenCanceledBeforeSuccessorStarts(t *testing.T) {
	started := make(chan *Token, 1)
	gate := make(chan struct{})

	m := NewMachine(func(tk *Token, id int) (int, error) {
		if id == 1 {
			started <- tk
			<-gate
		}
		return id, nil
	})
	defer m.Dispose()

	f1 := m.Run(1)
	first := <-started

	f2 := m.Run(2)
	if !first.IsCanceled() {
		t.Fatal("predecessor token not canceled synchronously by the new submission")
	}

	close(gate)
	if v, err := f2.Await(); err != nil || v != 2 {
		t.Fatalf("successor settled (%d, %v), want (2, nil)", v, err)
	}
	if _, err := f1.Await(); !errors.Is(err, ErrCanceled) {
		t.Fatalf("superseded run settled with %v, want ErrCanceled", err)
	}
}

func TestRapidResubmissionsSettleDeterministically(t *testing.T) {
	m := NewMachine(func(tk *Token, n int) (int, error) {
		time.Sleep(20 * time.Millisecond)
		return n * 2, nil
	})
	defer m.Dispose()

	f1 := m.Run(1)
	f2 := m.Run(2)
	f3 := m.Run(3)

	if _, err := f1.Await(); !errors.Is(err, ErrCanceled) {
		t.Fatalf("first run settled with %v, want ErrCanceled", err)
	}
	if _, err := f2.Await(); !errors.Is(err, ErrCanceled) {
		t.Fatalf("second run settled with %v, want ErrCanceled", err)
	}
	if v, err := f3.Await(); err != nil || v != 6 {
		t.Fatalf("last run settled (%d, %v), want (6, nil)", v, err)
	}
}

func TestSnapshotHistoryDepthIsBoundedToOneLevel(t *testing.T) {
	m := NewMachine(func(tk *Token, n int) (int, error) {
		return n, nil
	})
	defer m.Dispose()

	m.AddListener(func(s *Snapshot[int]) {
		if p := s.Previous(); p != nil && p.Previous() != nil {
			t.Error("snapshot chain grew past one level")
		}
	})

	for i := 1; i <= 5; i++ {
		if _, err := m.RunAndAwait(i); err != nil {
			t.Fatalf("run %d failed: %v", i, err)
		}
	}

	s := m.Snapshot()
	if s.Previous() == nil {
		t.Fatal("settled snapshot lost its one-level history")
	}
	if s.Previous().Phase() != PhaseRunning {
		t.Fatalf("previous snapshot is %v, want the run's own Running state", s.Previous().Phase())
	}
	if s.Previous().Previous() != nil {
		t.Fatal("snapshot chain grew past one level")
	}
}

func TestContextAwareBodyObservesCancellation(t *testing.T) {
	started := make(chan struct{}, 1)

	m := NewMachine(func(tk *Token, block bool) (int, error) {
		if !block {
			return 9, nil
		}
		started <- struct{}{}
		<-tk.Context().Done()
		return 0, tk.Context().Err()
	})
	defer m.Dispose()

	f1 := m.Run(true)
	<-started
	f2 := m.Run(false)

	if _, err := f1.Await(); !errors.Is(err, ErrCanceled) {
		t.Fatalf("context-aware body settled with %v, want ErrCanceled", err)
	}
	if v, err := f2.Await(); err != nil || v != 9 {
		t.Fatalf("successor settled (%d, %v), want (9, nil)", v, err)
	}
}

func TestDomainErrorFailsTheSnapshot(t *testing.T) {
	errStale := errors.New("index stale")
	m := NewMachine(func(tk *Token, _ struct{}) (int, error) {
		return 0, errStale
	})
	defer m.Dispose()

	_, err := m.RunAndAwait(struct{}{})
	if !errors.Is(err, errStale) {
		t.Fatalf("run settled with %v, want the domain error unchanged", err)
	}

	s := m.Snapshot()
	if s.Phase() != PhaseFailed {
		t.Fatalf("snapshot phase %v, want failed", s.Phase())
	}
	if !errors.Is(s.Err(), errStale) {
		t.Fatalf("snapshot error %v, want the domain error", s.Err())
	}
	if len(s.Stack()) == 0 {
		t.Fatal("failed snapshot carries no stack trace")
	}

	rec := m.History().Recent(1)[0]
	if got := Status().MustGet(rec); got != RunStatusFailed {
		t.Fatalf("recorded status %v, want failed", got)
	}
	if got := RunError().MustGet(rec); !errors.Is(got, errStale) {
		t.Fatalf("recorded error %v, want the domain error", got)
	}
}

func TestBodyPanicFailsTheSnapshot(t *testing.T) {
	m := NewMachine(func(tk *Token, _ struct{}) (int, error) {
		panic("boom")
	})
	defer m.Dispose()

	_, err := m.RunAndAwait(struct{}{})
	var pe *PanicError
	if !errors.As(err, &pe) {
		t.Fatalf("run settled with %v, want *PanicError", err)
	}
	if pe.Recovered != "boom" {
		t.Fatalf("recovered value %v, want boom", pe.Recovered)
	}

	if s := m.Snapshot(); s.Phase() != PhaseFailed {
		t.Fatalf("snapshot phase %v, want failed", s.Phase())
	}

	rec := m.History().Recent(1)[0]
	if stack := RunPanicStack().MustGet(rec); len(stack) == 0 {
		t.Fatal("panic record carries no stack trace")
	}
}

func TestDisposeIsIdempotentAndTerminal(t *testing.T) {
	m := NewMachine(func(tk *Token, n int) (int, error) {
		return n, nil
	})

	if _, err := m.RunAndAwait(1); err != nil {
		t.Fatalf("run before dispose failed: %v", err)
	}

	m.Dispose()
	m.Dispose()
	if !m.Disposed() {
		t.Fatal("machine does not report disposed")
	}

	if _, err := m.RunAndAwait(2); !errors.Is(err, ErrDisposed) {
		t.Fatalf("run after dispose settled with %v, want ErrDisposed", err)
	}
	if s := m.Snapshot(); s.Phase() != PhaseCompleted || s.Value() != 1 {
		t.Fatalf("disposal rewrote the snapshot to %v value %d", s.Phase(), s.Value())
	}
}

func TestDisposeSettlesInFlightRun(t *testing.T) {
	gate := make(chan struct{})
	m := NewMachine(func(tk *Token, n int) (int, error) {
		<-gate
		return n, nil
	})

	f := m.Run(7)
	waitForPhase(t, m.CurrentPhase, PhaseRunning)

	m.Dispose()
	close(gate)

	if _, err := f.Await(); !errors.Is(err, ErrDisposed) {
		t.Fatalf("in-flight run settled with %v, want ErrDisposed", err)
	}
	if got := m.CurrentPhase(); got != PhaseRunning {
		t.Fatalf("disposal rewrote the snapshot to %v", got)
	}
}

func TestRemovedListenerStopsFiring(t *testing.T) {
	m := NewMachine(func(tk *Token, n int) (int, error) {
		return n, nil
	})
	defer m.Dispose()

	var fired atomic.Int32
	id := m.AddListener(func(s *Snapshot[int]) { fired.Add(1) })

	if _, err := m.RunAndAwait(1); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	seen := fired.Load()
	if seen == 0 {
		t.Fatal("listener never fired")
	}

	m.RemoveListener(id)
	if _, err := m.RunAndAwait(2); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if fired.Load() != seen {
		t.Fatal("removed listener kept firing")
	}
}

type failingStartExtension struct {
	BaseExtension
	err error
}

func (e *failingStartExtension) OnRunStart(m AnyMachine, rec *RunRecord) error {
	return e.err
}

func TestRunStartHookErrorFailsTheRun(t *testing.T) {
	hookErr := errors.New("run quota exhausted")
	ext := &failingStartExtension{BaseExtension: NewBaseExtension("deny"), err: hookErr}

	m := NewMachine(func(tk *Token, n int) (int, error) {
		return n, nil
	}, WithExtension(ext))
	defer m.Dispose()

	if _, err := m.RunAndAwait(1); !errors.Is(err, hookErr) {
		t.Fatalf("run settled with %v, want the hook error", err)
	}
	if got := m.CurrentPhase(); got != PhaseFailed {
		t.Fatalf("snapshot phase %v, want failed", got)
	}
}

type recordingExtension struct {
	BaseExtension
	mu     sync.Mutex
	events []string
}

func (e *recordingExtension) record(ev string) {
	e.mu.Lock()
	e.events = append(e.events, ev)
	e.mu.Unlock()
}

func (e *recordingExtension) Init(m AnyMachine) error {
	e.record("init")
	return nil
}

func (e *recordingExtension) OnRunStart(m AnyMachine, rec *RunRecord) error {
	e.record("start")
	return nil
}

func (e *recordingExtension) OnRunEnd(m AnyMachine, rec *RunRecord, result any, err error) {
	e.record("end")
}

func (e *recordingExtension) OnStateChange(m AnyMachine, phase Phase) {
	e.record("state:" + phase.String())
}

func (e *recordingExtension) Dispose(m AnyMachine) error {
	e.record("dispose")
	return nil
}

func TestExtensionObservesTheRunLifecycle(t *testing.T) {
	ext := &recordingExtension{BaseExtension: NewBaseExtension("recording")}
	m := NewMachine(func(tk *Token, n int) (int, error) {
		return n * 2, nil
	}, WithName("lifecycle"), WithExtension(ext))

	if _, err := m.RunAndAwait(2); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	m.Dispose()

	ext.mu.Lock()
	events := append([]string(nil), ext.events...)
	ext.mu.Unlock()

	want := []string{"init", "state:running", "start", "state:completed", "end", "dispose"}
	if diff := cmp.Diff(want, events); diff != "" {
		t.Fatalf("lifecycle events mismatch (-want +got):\n%s", diff)
	}
}

type orderedExtension struct {
	BaseExtension
	order int
	mu    *sync.Mutex
	log   *[]string
	name  string
}

func (e *orderedExtension) Order() int { return e.order }

func (e *orderedExtension) OnRunStart(m AnyMachine, rec *RunRecord) error {
	e.mu.Lock()
	*e.log = append(*e.log, e.name+":start")
	e.mu.Unlock()
	return nil
}

func (e *orderedExtension) OnRunEnd(m AnyMachine, rec *RunRecord, result any, err error) {
	e.mu.Lock()
	*e.log = append(*e.log, e.name+":end")
	e.mu.Unlock()
}

func TestExtensionsRunByOrderAndUnwindInReverse(t *testing.T) {
	var mu sync.Mutex
	var log []string

	outer := &orderedExtension{BaseExtension: NewBaseExtension("outer"), order: 10, mu: &mu, log: &log, name: "outer"}
	inner := &orderedExtension{BaseExtension: NewBaseExtension("inner"), order: 20, mu: &mu, log: &log, name: "inner"}

	m := NewMachine(func(tk *Token, n int) (int, error) {
		return n, nil
	}, WithExtension(inner), WithExtension(outer))
	defer m.Dispose()

	if _, err := m.RunAndAwait(1); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	mu.Lock()
	got := append([]string(nil), log...)
	mu.Unlock()

	want := []string{"outer:start", "inner:start", "inner:end", "outer:end"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("hook order mismatch (-want +got):\n%s", diff)
	}
}

func TestMachineTagsAreReadable(t *testing.T) {
	owner := NewTag[string]("test.owner")
	m := NewMachine(func(tk *Token, n int) (int, error) {
		return n, nil
	}, WithName("tagged"), WithMachineTag(owner, "search-team"))
	defer m.Dispose()

	if got := MachineName().GetOrDefault(m, ""); got != "tagged" {
		t.Fatalf("machine name %q, want tagged", got)
	}
	if got := owner.MustGet(m); got != "search-team" {
		t.Fatalf("owner tag %q, want search-team", got)
	}
}
