package flight

// AnyMachine is the type-erased view of a Machine that extensions receive.
type AnyMachine interface {
	TagHost

	// History returns the machine's run log.
	History() *History

	// Disposed reports whether the machine has been torn down.
	Disposed() bool

	// CurrentPhase returns the phase of the machine's current snapshot.
	CurrentPhase() Phase
}

// Extension provides hooks into the run lifecycle of a machine
type Extension interface {
	// Name returns the extension's name
	Name() string

	// Order determines extension execution order (lower = earlier)
	Order() int

	// Init is called when the extension is registered to a machine
	Init(m AnyMachine) error

	// OnRunStart is called after a run's body has taken the lock and written
	// its Running snapshot. A non-nil error fails the run.
	OnRunStart(m AnyMachine, rec *RunRecord) error

	// OnRunEnd is called when a run settles, whatever the outcome.
	OnRunEnd(m AnyMachine, rec *RunRecord, result any, err error)

	// OnRunPanic is called when a run's body panicked.
	OnRunPanic(m AnyMachine, rec *RunRecord, recovered any, stack []byte)

	// OnStateChange is called after a snapshot write survives the guards.
	OnStateChange(m AnyMachine, phase Phase)

	// Dispose is called when the machine is disposed
	Dispose(m AnyMachine) error
}

// BaseExtension provides default implementations for Extension methods
type BaseExtension struct {
	name string
}

// NewBaseExtension creates a new base extension with the given name
func NewBaseExtension(name string) BaseExtension {
	return BaseExtension{name: name}
}

func (e *BaseExtension) Name() string {
	return e.name
}

func (e *BaseExtension) Order() int {
	return 100
}

func (e *BaseExtension) Init(m AnyMachine) error {
	return nil
}

func (e *BaseExtension) OnRunStart(m AnyMachine, rec *RunRecord) error {
	return nil
}

func (e *BaseExtension) OnRunEnd(m AnyMachine, rec *RunRecord, result any, err error) {
}

func (e *BaseExtension) OnRunPanic(m AnyMachine, rec *RunRecord, recovered any, stack []byte) {
}

func (e *BaseExtension) OnStateChange(m AnyMachine, phase Phase) {
}

func (e *BaseExtension) Dispose(m AnyMachine) error {
	return nil
}
