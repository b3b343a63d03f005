package extensions

import (
	"fmt"
	"log/slog"

	"github.com/m1gwings/treedrawer/tree"

	flight "github.com/flight-fn/flight-go"
)

// DrawHistory renders a machine's recorded runs as a drawn tree: the
// machine at the root, one leaf per run with its sequence, status and
// error, oldest first.
func DrawHistory(m flight.AnyMachine) string {
	root := tree.NewTree(tree.NodeString(machineName(m)))
	m.History().Walk(func(rec *flight.RunRecord) bool {
		status := flight.Status().GetOrDefault(rec, flight.RunStatusRunning)
		label := fmt.Sprintf("#%d %s", rec.Seq, status)
		if err, ok := flight.RunError().Get(rec); ok {
			label = fmt.Sprintf("%s: %v", label, err)
		}
		root.AddChild(tree.NodeString(label))
		return true
	})
	return fmt.Sprint(root)
}

// HistoryVizExtension dumps the drawn run history when a machine is
// disposed. Useful while debugging cancellation behavior: superseded runs
// show up as canceled leaves next to the one that survived.
type HistoryVizExtension struct {
	flight.BaseExtension
	logger *slog.Logger
}

// NewHistoryVizExtension creates a new history visualization extension.
func NewHistoryVizExtension(handler slog.Handler) *HistoryVizExtension {
	return &HistoryVizExtension{
		BaseExtension: flight.NewBaseExtension("historyviz"),
		logger:        slog.New(handler),
	}
}

func (e *HistoryVizExtension) Dispose(m flight.AnyMachine) error {
	e.logger.Info("run history",
		"machine", machineName(m),
		"tree", DrawHistory(m),
	)
	return nil
}
