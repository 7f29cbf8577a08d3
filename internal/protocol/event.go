package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// EventType identifies the kind of a normalized pipeline event.
type EventType string

const (
	EventStatus      EventType = "status"
	EventProgress    EventType = "progress"
	EventComplete    EventType = "complete"
	EventError       EventType = "error"
	EventAgentUpdate EventType = "agent_update"
	EventLog         EventType = "log"
)

var eventTypes = map[EventType]struct{}{
	EventStatus:      {},
	EventProgress:    {},
	EventComplete:    {},
	EventError:       {},
	EventAgentUpdate: {},
	EventLog:         {},
}

// ErrUnknownEvent reports an event whose type is outside the known set.
var ErrUnknownEvent = errors.New("unknown event type")

// ErrUnknownCode reports a backend status code outside the closed vocabulary.
var ErrUnknownCode = errors.New("unknown status code")

// Event is the canonical shape both transports normalize into. A single
// ingestion path consumes it, so push- and poll-driven runs behave the same.
type Event struct {
	Type      EventType       `json:"type"`
	Code      string          `json:"status,omitempty"`
	Stage     string          `json:"stage,omitempty"`
	Progress  *float64        `json:"progress,omitempty"`
	Terminal  bool            `json:"terminal,omitempty"`
	Error     string          `json:"error,omitempty"`
	Agent     string          `json:"agent,omitempty"`
	AgentTask string          `json:"task,omitempty"`
	Message   string          `json:"message,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp time.Time       `json:"timestamp,omitempty"`
}

// ResolveStage resolves the event's stage hint. Progress/complete events name
// the stage directly; combined status events carry a backend status code.
func (e Event) ResolveStage() (StageID, bool) {
	if id, ok := ParseStageID(e.Stage); ok {
		return id, true
	}
	if e.Code != "" {
		return StageForCode(e.Code)
	}
	return "", false
}

// Decode parses a raw transport message into an Event. Messages with a
// missing or unrecognized type return ErrUnknownEvent; the caller logs and
// drops them rather than failing the session.
func Decode(data []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return Event{}, fmt.Errorf("decode event: %w", err)
	}
	ev.Type = EventType(strings.ToLower(strings.TrimSpace(string(ev.Type))))
	if _, ok := eventTypes[ev.Type]; !ok {
		return Event{}, fmt.Errorf("%w: %q", ErrUnknownEvent, ev.Type)
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	return ev, nil
}

// ProgressEvent builds a progress update for a stage.
func ProgressEvent(stage StageID, percent float64) Event {
	return Event{Type: EventProgress, Stage: string(stage), Progress: &percent, Timestamp: time.Now().UTC()}
}

// CompleteEvent builds a stage completion event.
func CompleteEvent(stage StageID) Event {
	return Event{Type: EventComplete, Stage: string(stage), Timestamp: time.Now().UTC()}
}

// RunningEvent reports that the workflow is in flight without naming a
// stage. The state machine keeps (or starts) the current stage.
func RunningEvent(details string) Event {
	return Event{Type: EventStatus, Message: details, Timestamp: time.Now().UTC()}
}

// WorkflowCompletedEvent marks the entire pipeline as finished.
func WorkflowCompletedEvent() Event {
	return Event{Type: EventComplete, Stage: string(StageFinalization), Terminal: true, Timestamp: time.Now().UTC()}
}

// WorkflowFailedEvent marks the workflow as failed with detail text.
func WorkflowFailedEvent(detail string) Event {
	return Event{Type: EventError, Error: detail, Terminal: true, Timestamp: time.Now().UTC()}
}
