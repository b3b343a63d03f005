package flight

import "sync/atomic"

// Phase discriminates the variants of a Snapshot. The union is closed:
// exhaustive handling goes through MatchSnapshot, never through runtime type
// inspection.
type Phase int

const (
	// PhaseIdle is the initial phase of a Mutation that has never run.
	PhaseIdle Phase = iota
	// PhaseRunning means a submission's body currently owns the lock.
	PhaseRunning
	// PhaseCompleted carries the value of the last surviving run.
	PhaseCompleted
	// PhaseFailed carries the domain error and trace of the last surviving run.
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseRunning:
		return "running"
	case PhaseCompleted:
		return "completed"
	case PhaseFailed:
		return "failed"
	}
	return "unknown"
}

// Snapshot is one observed state of a machine. A snapshot is immutable after
// installation except for the one-time clearing of its previous link, which
// happens at the moment it becomes the previous of its successor.
//
// History depth is capped at one level: for any settled snapshot s,
// s.Previous() is nil or s.Previous().Previous() is nil.
type Snapshot[R any] struct {
	phase Phase
	value R
	err   error
	stack []byte
	prev  atomic.Pointer[Snapshot[R]]
}

// Phase returns the variant of s.
func (s *Snapshot[R]) Phase() Phase {
	return s.phase
}

// Value returns the completed value; it is the zero value unless
// s.Phase() == PhaseCompleted.
func (s *Snapshot[R]) Value() R {
	return s.value
}

// Err returns the failure error; it is nil unless s.Phase() == PhaseFailed.
func (s *Snapshot[R]) Err() error {
	return s.err
}

// Stack returns the trace captured when the run failed, nil otherwise.
func (s *Snapshot[R]) Stack() []byte {
	return s.stack
}

// Previous returns the one-level history link, if s still carries one.
func (s *Snapshot[R]) Previous() *Snapshot[R] {
	return s.prev.Load()
}

// supersede installs next after cur. The outgoing snapshot surrenders its
// own previous link first, then becomes the single previous of the incoming
// one. This exact order is what bounds history depth to one level.
func supersede[R any](cur, next *Snapshot[R]) {
	if cur == nil {
		return
	}
	cur.prev.Store(nil)
	next.prev.Store(cur)
}

// SnapshotArms is the handler set for MatchSnapshot. Every arm must be
// provided; the match is exhaustive over the closed union.
type SnapshotArms[R, T any] struct {
	Idle      func() T
	Running   func() T
	Completed func(value R) T
	Failed    func(err error) T
}

// MatchSnapshot dispatches on the variant of s. A missing arm panics, which
// keeps callers honest about covering every variant.
func MatchSnapshot[R, T any](s *Snapshot[R], arms SnapshotArms[R, T]) T {
	switch s.phase {
	case PhaseIdle:
		if arms.Idle == nil {
			panic("flight: MatchSnapshot missing Idle arm")
		}
		return arms.Idle()
	case PhaseRunning:
		if arms.Running == nil {
			panic("flight: MatchSnapshot missing Running arm")
		}
		return arms.Running()
	case PhaseCompleted:
		if arms.Completed == nil {
			panic("flight: MatchSnapshot missing Completed arm")
		}
		return arms.Completed(s.value)
	case PhaseFailed:
		if arms.Failed == nil {
			panic("flight: MatchSnapshot missing Failed arm")
		}
		return arms.Failed(s.err)
	}
	panic("flight: snapshot with unknown phase")
}
