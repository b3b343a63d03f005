package extensions

import (
	"context"
	"log/slog"

	flight "github.com/flight-fn/flight-go"
)

// LoggingExtension logs the run lifecycle of a machine through slog.
//
// Usage:
//
//	// Human-readable output
//	ext := extensions.NewLoggingExtension(slog.NewTextHandler(os.Stderr, nil))
//
//	// Structured JSON logging
//	ext := extensions.NewLoggingExtension(slog.NewJSONHandler(os.Stdout, nil))
//
//	// Silent (for testing)
//	ext := extensions.NewLoggingExtension(extensions.NewSilentHandler())
type LoggingExtension struct {
	flight.BaseExtension
	logger *slog.Logger
}

// NewLoggingExtension creates a new logging extension writing to handler.
func NewLoggingExtension(handler slog.Handler) *LoggingExtension {
	return &LoggingExtension{
		BaseExtension: flight.NewBaseExtension("logging"),
		logger:        slog.New(handler),
	}
}

func (e *LoggingExtension) OnRunStart(m flight.AnyMachine, rec *flight.RunRecord) error {
	e.logger.Info("run started",
		"machine", machineName(m),
		"seq", rec.Seq,
	)
	return nil
}

func (e *LoggingExtension) OnRunEnd(m flight.AnyMachine, rec *flight.RunRecord, result any, err error) {
	status := flight.Status().GetOrDefault(rec, flight.RunStatusRunning)
	if err != nil {
		e.logger.Warn("run settled",
			"machine", machineName(m),
			"seq", rec.Seq,
			"status", status.String(),
			"error", err,
		)
		return
	}
	e.logger.Info("run settled",
		"machine", machineName(m),
		"seq", rec.Seq,
		"status", status.String(),
	)
}

func (e *LoggingExtension) OnRunPanic(m flight.AnyMachine, rec *flight.RunRecord, recovered any, stack []byte) {
	e.logger.Error("run panicked",
		"machine", machineName(m),
		"seq", rec.Seq,
		"panic", recovered,
		"stack_trace", string(stack),
	)
}

func (e *LoggingExtension) OnStateChange(m flight.AnyMachine, phase flight.Phase) {
	e.logger.Debug("state changed",
		"machine", machineName(m),
		"phase", phase.String(),
	)
}

func (e *LoggingExtension) Dispose(m flight.AnyMachine) error {
	e.logger.Info("machine disposed", "machine", machineName(m))
	return nil
}

func machineName(m flight.AnyMachine) string {
	return flight.MachineName().GetOrDefault(m, "machine")
}

// SilentHandler is a slog.Handler that discards all log output
// Useful for testing when you don't want log output
type SilentHandler struct{}

// NewSilentHandler creates a new silent log handler
func NewSilentHandler() *SilentHandler {
	return &SilentHandler{}
}

func (h *SilentHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return false
}

func (h *SilentHandler) Handle(ctx context.Context, record slog.Record) error {
	return nil
}

func (h *SilentHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return h
}

func (h *SilentHandler) WithGroup(name string) slog.Handler {
	return h
}
