package flight

import (
	"sync"
	"time"
)

// RunStatus is the terminal classification of one recorded run. Unlike
// Phase, it distinguishes runs that were superseded or torn down from runs
// that settled on their own.
type RunStatus int

const (
	RunStatusRunning RunStatus = iota
	RunStatusCompleted
	RunStatusFailed
	RunStatusCanceled
	RunStatusDisposed
)

func (s RunStatus) String() string {
	switch s {
	case RunStatusRunning:
		return "running"
	case RunStatusCompleted:
		return "completed"
	case RunStatusFailed:
		return "failed"
	case RunStatusCanceled:
		return "canceled"
	case RunStatusDisposed:
		return "disposed"
	}
	return "unknown"
}

var (
	machineNameTag = NewTag[string]("machine.name")
	startTimeTag   = NewTag[time.Time]("run.start_time")
	endTimeTag     = NewTag[time.Time]("run.end_time")
	statusTag      = NewTag[RunStatus]("run.status")
	errorTag       = NewTag[error]("run.error")
	outputTag      = NewTag[any]("run.output")
	argsTag        = NewTag[any]("run.args")
	panicStackTag  = NewTag[[]byte]("run.panic_stack")
)

func MachineName() Tag[string]   { return machineNameTag }
func StartTime() Tag[time.Time]  { return startTimeTag }
func EndTime() Tag[time.Time]    { return endTimeTag }
func Status() Tag[RunStatus]     { return statusTag }
func RunError() Tag[error]       { return errorTag }
func RunOutput() Tag[any]        { return outputTag }
func RunArgs() Tag[any]          { return argsTag }
func RunPanicStack() Tag[[]byte] { return panicStackTag }

// RunRecord is one entry in a machine's History: the metadata of a single
// submission, tagged with timing, status, output and error.
type RunRecord struct {
	Seq uint64

	mu   sync.RWMutex
	tags map[any]any
}

func newRunRecord(seq uint64) *RunRecord {
	return &RunRecord{Seq: seq, tags: make(map[any]any)}
}

func (r *RunRecord) GetTag(tag any) (any, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	val, ok := r.tags[tag]
	return val, ok
}

func (r *RunRecord) SetTag(tag any, val any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tags[tag] = val
}

// History is a bounded, oldest-first log of a machine's runs. When the
// limit is exceeded the oldest record is evicted.
type History struct {
	mu      sync.RWMutex
	records []*RunRecord
	limit   int
}

func newHistory(limit int) *History {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	return &History{limit: limit}
}

const defaultHistoryLimit = 1000

func (h *History) add(rec *RunRecord) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.records = append(h.records, rec)
	if len(h.records) > h.limit {
		over := len(h.records) - h.limit
		h.records = append([]*RunRecord(nil), h.records[over:]...)
	}
}

// Len returns the number of retained records.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.records)
}

// Recent returns up to n records, newest first.
func (h *History) Recent(n int) []*RunRecord {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if n > len(h.records) {
		n = len(h.records)
	}
	out := make([]*RunRecord, 0, n)
	for i := len(h.records) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, h.records[i])
	}
	return out
}

// Filter returns the records matching predicate, oldest first.
func (h *History) Filter(predicate func(*RunRecord) bool) []*RunRecord {
	h.mu.RLock()
	defer h.mu.RUnlock()
	var out []*RunRecord
	for _, rec := range h.records {
		if predicate(rec) {
			out = append(out, rec)
		}
	}
	return out
}

// Walk visits records oldest first until visitor returns false.
func (h *History) Walk(visitor func(*RunRecord) bool) {
	h.mu.RLock()
	recs := make([]*RunRecord, len(h.records))
	copy(recs, h.records)
	h.mu.RUnlock()

	for _, rec := range recs {
		if !visitor(rec) {
			return
		}
	}
}
