// Package agents tracks the cooperating AI roles reported by the report
// synthesis pipeline, independently of stage progress.
package agents

import (
	"log/slog"
	"strings"
	"time"

	"radtrack/internal/logging"
)

// Role identifies one of the fixed cooperating AI agents.
type Role string

const (
	RoleImageAnalyst    Role = "image_analyst"
	RoleAnnotator       Role = "annotator"
	RoleReportWriter    Role = "report_writer"
	RoleQualityReviewer Role = "quality_reviewer"
	RoleCoordinator     Role = "coordinator"
)

var roster = []Role{
	RoleImageAnalyst,
	RoleAnnotator,
	RoleReportWriter,
	RoleQualityReviewer,
	RoleCoordinator,
}

// Roster returns the ordered fixed set of agent roles.
func Roster() []Role {
	cp := make([]Role, len(roster))
	copy(cp, roster)
	return cp
}

// Status represents an agent's reported activity.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusWorking   Status = "working"
	StatusCompleted Status = "completed"
)

var agentStatuses = map[Status]struct{}{
	StatusIdle:      {},
	StatusWorking:   {},
	StatusCompleted: {},
}

// ParseStatus converts a string into a known agent Status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	_, ok := agentStatuses[normalized]
	return normalized, ok
}

// Agent is the tracked state of one cooperating role.
type Agent struct {
	Role      Role
	Status    Status
	Task      string
	UpdatedAt time.Time
}

// ChangeFunc receives a copy of an agent after every accepted update.
type ChangeFunc func(Agent)

// Registry applies agent-update events against the fixed roster. The roster
// is known in advance, so an unknown identifier indicates a backend contract
// change rather than a session fault: it is logged and dropped.
//
// The registry is owned by the session dispatcher and not safe for
// concurrent use.
type Registry struct {
	logger   *slog.Logger
	record   func(format string, args ...any)
	onChange ChangeFunc
	agents   map[Role]*Agent
}

// NewRegistry builds a registry with every agent idle.
func NewRegistry(logger *slog.Logger, record func(string, ...any), onChange ChangeFunc) *Registry {
	if logger == nil {
		logger = logging.NewNop()
	}
	if record == nil {
		record = func(string, ...any) {}
	}
	r := &Registry{
		logger:   logger.With(logging.String("component", "agent-registry")),
		record:   record,
		onChange: onChange,
		agents:   make(map[Role]*Agent, len(roster)),
	}
	for _, role := range roster {
		r.agents[role] = &Agent{Role: role, Status: StatusIdle}
	}
	return r
}

// Apply processes one agent update. It reports whether the update matched
// the roster and carried a known status.
func (r *Registry) Apply(id, status, task string) bool {
	role := Role(strings.ToLower(strings.TrimSpace(id)))
	agent, ok := r.agents[role]
	if !ok {
		r.logger.Warn("unknown agent dropped",
			logging.String(logging.FieldAgent, id),
			logging.Alert("roster drift"),
		)
		r.record("dropped update for unknown agent %q", id)
		return false
	}
	parsed, ok := ParseStatus(status)
	if !ok {
		r.logger.Warn("unknown agent status dropped",
			logging.String(logging.FieldAgent, id),
			logging.String("status", status),
		)
		r.record("dropped unknown status %q for agent %s", status, role)
		return false
	}
	agent.Status = parsed
	agent.Task = strings.TrimSpace(task)
	agent.UpdatedAt = time.Now().UTC()
	r.record("agent %s %s", role, parsed)
	if r.onChange != nil {
		r.onChange(*agent)
	}
	return true
}

// Reset returns every agent to idle with no task.
func (r *Registry) Reset() {
	for _, agent := range r.agents {
		agent.Status = StatusIdle
		agent.Task = ""
	}
}

// Snapshot copies all agents in roster order.
func (r *Registry) Snapshot() []Agent {
	out := make([]Agent, 0, len(roster))
	for _, role := range roster {
		out = append(out, *r.agents[role])
	}
	return out
}
