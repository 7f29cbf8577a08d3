package stage

import (
	"log/slog"
	"time"

	"radtrack/internal/logging"
	"radtrack/internal/protocol"
)

// ChangeFunc receives a copy of a stage after every mutation.
type ChangeFunc func(Stage)

// RecordFunc appends a line to the session's diagnostic trace.
type RecordFunc func(format string, args ...any)

// Machine is the canonical model of pipeline progress and the single
// ingestion point for events from either transport. It is owned by the
// session dispatcher and is not safe for concurrent use.
type Machine struct {
	logger   *slog.Logger
	record   RecordFunc
	onChange ChangeFunc

	stages []*Stage
	index  map[protocol.StageID]*Stage

	completed bool
	failed    bool
}

// NewMachine builds a machine with all stages pending.
func NewMachine(logger *slog.Logger, record RecordFunc, onChange ChangeFunc) *Machine {
	if logger == nil {
		logger = logging.NewNop()
	}
	if record == nil {
		record = func(string, ...any) {}
	}
	m := &Machine{
		logger:   logger.With(logging.String("component", "stage-machine")),
		record:   record,
		onChange: onChange,
		index:    make(map[protocol.StageID]*Stage, protocol.StageCount),
	}
	for _, id := range protocol.Stages() {
		st := &Stage{ID: id, Status: StatusPending}
		m.stages = append(m.stages, st)
		m.index[id] = st
	}
	return m
}

// Apply ingests one canonical event. Malformed or unrecognized stage hints
// are recorded and dropped; they never propagate to the caller.
func (m *Machine) Apply(ev protocol.Event) {
	switch ev.Type {
	case protocol.EventStatus:
		m.applyStatus(ev)
	case protocol.EventProgress:
		m.applyProgress(ev)
	case protocol.EventComplete:
		m.applyComplete(ev)
	case protocol.EventError:
		m.applyError(ev)
	default:
		// Agent and log events are handled outside the stage model.
	}
}

func (m *Machine) applyStatus(ev protocol.Event) {
	switch ev.Code {
	case protocol.CodeComplete:
		m.completeAll()
		return
	case protocol.CodeError:
		m.failWorkflow(ev.Error)
		return
	}
	id, ok := ev.ResolveStage()
	if !ok {
		if ev.Stage != "" || ev.Code != "" {
			m.dropUnrecognized(ev)
			return
		}
		// Coarse "running" with no stage hint: make sure the pipeline has an
		// active stage so poll-only runs show movement.
		m.ensureActive()
		return
	}
	m.activate(id)
}

func (m *Machine) applyProgress(ev protocol.Event) {
	id, ok := ev.ResolveStage()
	if !ok {
		m.dropUnrecognized(ev)
		return
	}
	m.activate(id)
	st := m.index[id]
	if st.Status != StatusActive || ev.Progress == nil {
		return
	}
	next := clampPercent(*ev.Progress)
	if next <= st.Progress {
		return
	}
	st.Progress = next
	m.notify(st)
}

func (m *Machine) applyComplete(ev protocol.Event) {
	if ev.Terminal {
		m.completeAll()
		return
	}
	id, ok := ev.ResolveStage()
	if !ok {
		m.dropUnrecognized(ev)
		return
	}
	m.completeThrough(id)
	if id == protocol.StageFinalization {
		m.finish()
	}
}

func (m *Machine) applyError(ev protocol.Event) {
	id, ok := ev.ResolveStage()
	if !ok {
		if ev.Stage != "" {
			m.dropUnrecognized(ev)
			return
		}
		if st := m.active(); st != nil {
			id = st.ID
		} else {
			m.failWorkflow(ev.Error)
			return
		}
	}
	st := m.index[id]
	if st.Status == StatusCompleted || st.Status == StatusError {
		return
	}
	now := time.Now().UTC()
	st.Status = StatusError
	st.ErrorDetail = ev.Error
	st.EndedAt = &now
	if st.StartedAt == nil {
		st.StartedAt = &now
	}
	m.record("stage %s failed: %s", id, ev.Error)
	m.notify(st)
	if ev.Terminal {
		m.failed = true
	}
}

// RetryStage resets a stage in Error back to Active with zero progress.
// Any other state is left untouched.
func (m *Machine) RetryStage(id protocol.StageID) bool {
	st, ok := m.index[id]
	if !ok || st.Status != StatusError {
		return false
	}
	now := time.Now().UTC()
	st.Status = StatusActive
	st.Progress = 0
	st.ErrorDetail = ""
	st.StartedAt = &now
	st.EndedAt = nil
	m.failed = false
	m.record("stage %s retry requested", id)
	m.notify(st)
	return true
}

// Reset returns every stage to Pending. Used when the backend reports a
// full workflow recovery.
func (m *Machine) Reset() {
	for _, st := range m.stages {
		changed := st.Status != StatusPending || st.Progress != 0
		st.Status = StatusPending
		st.Progress = 0
		st.StartedAt = nil
		st.EndedAt = nil
		st.ErrorDetail = ""
		if changed {
			m.notify(st)
		}
	}
	m.completed = false
	m.failed = false
	m.record("stage state reset to pending")
}

// Completed reports whether every stage finished successfully.
func (m *Machine) Completed() bool { return m.completed }

// Failed reports whether the workflow ended in error.
func (m *Machine) Failed() bool { return m.failed }

// Terminal reports whether the workflow reached an end state.
func (m *Machine) Terminal() bool { return m.completed || m.failed }

// Overall returns the mean of per-stage progress. Completed stages
// contribute 100; pending stages their last known value.
func (m *Machine) Overall() float64 {
	if len(m.stages) == 0 {
		return 0
	}
	var sum float64
	for _, st := range m.stages {
		if st.Status == StatusCompleted {
			sum += 100
			continue
		}
		sum += st.Progress
	}
	return sum / float64(len(m.stages))
}

// Snapshot copies the full pipeline state.
func (m *Machine) Snapshot() Snapshot {
	snap := Snapshot{
		Stages:    make([]Stage, 0, len(m.stages)),
		Overall:   m.Overall(),
		Completed: m.completed,
		Failed:    m.failed,
	}
	for _, st := range m.stages {
		snap.Stages = append(snap.Stages, *st)
	}
	return snap
}

// activate makes the stage Active and normalizes everything before it to
// Completed, since the backend may skip intermediate notifications.
func (m *Machine) activate(id protocol.StageID) {
	target, ok := m.index[id]
	if !ok {
		return
	}
	if target.Status.Terminal() {
		return
	}
	idx, _ := id.Index()
	m.completeBefore(idx)
	if target.Status == StatusActive {
		return
	}
	// Normalize any stray active stage; at most one stage is active.
	for _, st := range m.stages {
		if st != target && st.Status == StatusActive {
			m.completeStage(st)
		}
	}
	now := time.Now().UTC()
	target.Status = StatusActive
	if target.StartedAt == nil {
		target.StartedAt = &now
	}
	m.record("stage %s started", id)
	m.notify(target)
}

func (m *Machine) ensureActive() {
	if m.active() != nil || m.Terminal() {
		return
	}
	for _, st := range m.stages {
		if st.Status == StatusPending {
			m.activate(st.ID)
			return
		}
	}
}

func (m *Machine) active() *Stage {
	for _, st := range m.stages {
		if st.Status == StatusActive {
			return st
		}
	}
	return nil
}

func (m *Machine) completeBefore(idx int) {
	for i := 0; i < idx && i < len(m.stages); i++ {
		st := m.stages[i]
		if !st.Status.Terminal() {
			m.completeStage(st)
		}
	}
}

func (m *Machine) completeThrough(id protocol.StageID) {
	idx, ok := id.Index()
	if !ok {
		return
	}
	m.completeBefore(idx)
	st := m.index[id]
	if !st.Status.Terminal() {
		m.completeStage(st)
	}
}

func (m *Machine) completeStage(st *Stage) {
	now := time.Now().UTC()
	st.Status = StatusCompleted
	st.Progress = 100
	if st.StartedAt == nil {
		st.StartedAt = &now
	}
	st.EndedAt = &now
	m.record("stage %s completed", st.ID)
	m.notify(st)
}

func (m *Machine) completeAll() {
	for _, st := range m.stages {
		if st.Status != StatusCompleted {
			m.completeStage(st)
		}
	}
	m.finish()
}

func (m *Machine) finish() {
	for _, st := range m.stages {
		if st.Status != StatusCompleted {
			return
		}
	}
	if !m.completed {
		m.completed = true
		m.record("workflow completed")
	}
}

func (m *Machine) failWorkflow(detail string) {
	st := m.active()
	if st == nil {
		// Fail the first non-terminal stage so the error has a home.
		for _, candidate := range m.stages {
			if !candidate.Status.Terminal() {
				st = candidate
				break
			}
		}
	}
	if st != nil {
		now := time.Now().UTC()
		st.Status = StatusError
		st.ErrorDetail = detail
		if st.StartedAt == nil {
			st.StartedAt = &now
		}
		st.EndedAt = &now
		m.notify(st)
	}
	m.failed = true
	m.record("workflow failed: %s", detail)
}

func (m *Machine) dropUnrecognized(ev protocol.Event) {
	detail := ev.Stage
	if detail == "" {
		detail = ev.Code
	}
	m.logger.Warn("unrecognized stage hint dropped",
		logging.String(logging.FieldStage, detail),
		logging.String("event_type", string(ev.Type)),
	)
	m.record("dropped event with unrecognized stage hint %q", detail)
}

func (m *Machine) notify(st *Stage) {
	if m.onChange != nil {
		m.onChange(*st)
	}
}

func clampPercent(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 100:
		return 100
	default:
		return v
	}
}
