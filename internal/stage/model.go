package stage

import (
	"time"

	"radtrack/internal/protocol"
)

// Status represents the lifecycle of a single pipeline stage.
type Status string

const (
	StatusPending   Status = "pending"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
)

// Terminal reports whether the status ends the stage's normal lifecycle.
// Error is terminal until an explicit retry resets the stage.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusError
}

// Stage tracks one pipeline phase. Progress is clamped to [0,100] and never
// decreases while the stage is active.
type Stage struct {
	ID          protocol.StageID
	Status      Status
	Progress    float64
	StartedAt   *time.Time
	EndedAt     *time.Time
	ErrorDetail string
}

// Snapshot is an immutable copy of the full pipeline state.
type Snapshot struct {
	Stages    []Stage
	Overall   float64
	Completed bool
	Failed    bool
}

// Stage returns the snapshot entry for the given id.
func (s Snapshot) Stage(id protocol.StageID) (Stage, bool) {
	for _, st := range s.Stages {
		if st.ID == id {
			return st, true
		}
	}
	return Stage{}, false
}
