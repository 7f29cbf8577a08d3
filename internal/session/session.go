// Package session orchestrates a workflow tracking run. It owns the stage
// state machine, the agent registry, and the event log, and it funnels every
// input from the push channel, the poll fallback, and the stall watchdog
// through one dispatcher goroutine so state transitions never race.
package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"radtrack/internal/agents"
	"radtrack/internal/eventlog"
	"radtrack/internal/logging"
	"radtrack/internal/protocol"
	"radtrack/internal/stage"
)

const mailboxSize = 128

// PushChannel is the slice of the push manager the session drives.
type PushChannel interface {
	Start(ctx context.Context)
	Stop()
	Reconnect(ctx context.Context) bool
	SetWorkflowID(id string) error
	SendRetry(stage protocol.StageID) error
}

// FallbackPoller is the slice of the status poller the session drives.
type FallbackPoller interface {
	Start(ctx context.Context)
	Stop()
	Running() bool
}

// StallGuard is the slice of the recovery controller the session drives.
type StallGuard interface {
	Arm()
	Disarm()
	NoteActivity()
	Trigger(ctx context.Context, action string) bool
}

// Snapshot is a point-in-time view of the session, safe to read from any
// goroutine.
type Snapshot struct {
	WorkflowID string
	Connected  bool
	Polling    bool
	Stages     stage.Snapshot
	Agents     []agents.Agent
	Failures   []Failure
	StartedAt  time.Time
	Completed  bool
	Failed     bool
}

// Terminal reports whether the workflow reached an end state.
func (s Snapshot) Terminal() bool { return s.Completed || s.Failed }

// Hooks are optional callbacks fired from the dispatcher goroutine.
// Implementations must return quickly.
type Hooks struct {
	OnChange   func(Snapshot)
	OnStage    func(stage.Stage)
	OnAgent    func(agents.Agent)
	OnComplete func(Snapshot)
	OnFailure  func(Failure)
	OnLog      func(eventlog.Entry)
}

// Options wires a session together.
type Options struct {
	WorkflowID     string
	Push           PushChannel
	Poller         FallbackPoller
	Guard          StallGuard
	Journal        *eventlog.Journal
	RecoveryAction string
	Logger         *slog.Logger
	Hooks          Hooks
}

// Session is the single owner of tracking state for one workflow run.
type Session struct {
	logger *slog.Logger
	hooks  Hooks

	push    PushChannel
	poller  FallbackPoller
	guard   StallGuard
	action  string
	machine *stage.Machine
	reg     *agents.Registry
	log     *eventlog.Log

	msgs chan message
	stop chan struct{}
	wg   sync.WaitGroup

	mu         sync.RWMutex
	workflowID string
	connected  bool
	failures   []Failure
	startedAt  time.Time
	snapshot   Snapshot
	finished   bool
}

// New builds a session. Start must be called before it does anything.
func New(opts Options) *Session {
	logger := logging.NewComponentLogger(opts.Logger, "session")
	workflowID := opts.WorkflowID
	if workflowID == "" {
		workflowID = protocol.NewPlaceholderWorkflowID()
	}
	action := opts.RecoveryAction
	if action == "" {
		action = "status_check"
	}

	s := &Session{
		logger:     logger,
		hooks:      opts.Hooks,
		push:       opts.Push,
		poller:     opts.Poller,
		guard:      opts.Guard,
		action:     action,
		msgs:       make(chan message, mailboxSize),
		stop:       make(chan struct{}),
		workflowID: workflowID,
	}
	s.log = eventlog.NewLog(opts.Journal, opts.Hooks.OnLog)
	s.machine = stage.NewMachine(opts.Logger, s.log.Append, opts.Hooks.OnStage)
	s.reg = agents.NewRegistry(opts.Logger, s.log.Append, opts.Hooks.OnAgent)
	return s
}

// WorkflowID returns the current identifier, placeholder or real.
func (s *Session) WorkflowID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.workflowID
}

// Snapshot returns the latest published view.
func (s *Session) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshot
}

// EventLog returns a copy of the diagnostic trace.
func (s *Session) EventLog() []eventlog.Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.log.Entries()
}

// Start launches the dispatcher, arms the watchdog, and opens the push
// channel. ctx bounds the whole session.
func (s *Session) Start(ctx context.Context) {
	s.mu.Lock()
	s.startedAt = time.Now()
	s.mu.Unlock()

	s.log.Append("session started for workflow %s", s.WorkflowID())
	s.guard.Arm()

	s.wg.Add(1)
	go s.dispatch(ctx)

	s.push.Start(ctx)
	s.publish()
}

// Stop shuts the session down. Idempotent.
func (s *Session) Stop() {
	s.mu.Lock()
	if s.finished {
		s.mu.Unlock()
		return
	}
	s.finished = true
	s.mu.Unlock()

	close(s.stop)
	s.guard.Disarm()
	s.poller.Stop()
	s.push.Stop()
	s.wg.Wait()
}

// RetryStage re-runs a failed stage: optimistic local transition plus a
// retry request over the push channel.
func (s *Session) RetryStage(id protocol.StageID) { s.post(retryStageMsg{stage: id}) }

// Reconnect restarts the push channel after the attempt budget ran out.
func (s *Session) Reconnect() { s.post(reconnectMsg{}) }

// TriggerRecovery requests backend recovery by hand.
func (s *Session) TriggerRecovery() { s.post(triggerRecoveryMsg{}) }

// SetWorkflowID replaces the placeholder with the backend-issued id.
func (s *Session) SetWorkflowID(id string) { s.post(workflowIDMsg{id: id}) }

// push.Sink

func (s *Session) HandleEvent(ev protocol.Event) { s.post(eventMsg{ev: ev}) }

func (s *Session) ConnectionUp() { s.post(connUpMsg{}) }

func (s *Session) ConnectionDown(reason string) { s.post(connDownMsg{reason: reason}) }

func (s *Session) AuthFailed(err error) { s.post(authFailedMsg{err: err}) }

func (s *Session) Exhausted() { s.post(exhaustedMsg{}) }

func (s *Session) ProtocolViolation(err error) { s.post(protocolMsg{err: err}) }

// poll.Sink

func (s *Session) PollFailed(err error) { s.post(pollFailedMsg{err: err}) }

// recovery.Sink

func (s *Session) Stalled(elapsed time.Duration) { s.post(stalledMsg{elapsed: elapsed}) }

func (s *Session) Recovered(status string) { s.post(recoveredMsg{status: status}) }

func (s *Session) RecoveryFailed(err error) { s.post(recoveryFailedMsg{err: err}) }

// post delivers into the dispatcher mailbox without ever blocking a
// transport goroutine. Overflow drops the message; the mailbox is sized so
// that only happens when the dispatcher is wedged.
func (s *Session) post(msg message) {
	select {
	case <-s.stop:
	case s.msgs <- msg:
	default:
		s.logger.Warn("session mailbox full, dropping message")
	}
}

func (s *Session) dispatch(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case msg := <-s.msgs:
			s.handle(ctx, msg)
		}
	}
}

func (s *Session) handle(ctx context.Context, msg message) {
	switch m := msg.(type) {
	case eventMsg:
		s.handleEvent(m.ev)
	case connUpMsg:
		s.setConnected(true)
		s.log.Append("push channel connected")
		s.poller.Stop()
	case connDownMsg:
		s.setConnected(false)
		s.log.Append("push channel down: %s", m.reason)
		s.recordFailure(Failure{Kind: FailureConnection, At: time.Now()})
		if !s.machine.Terminal() {
			s.poller.Start(ctx)
		}
	case authFailedMsg:
		s.setConnected(false)
		s.log.Append("authentication failed: %v", m.err)
		s.recordFailure(Failure{Kind: FailureAuth, Err: m.err, At: time.Now()})
		if !s.machine.Terminal() {
			s.poller.Start(ctx)
		}
	case exhaustedMsg:
		s.log.Append("reconnect attempts exhausted; polling only")
		s.recordFailure(Failure{Kind: FailureConnectionExhausted, At: time.Now()})
	case protocolMsg:
		s.log.Append("dropped unrecognized message: %v", m.err)
		s.recordFailure(Failure{Kind: FailureProtocol, Err: m.err, At: time.Now()})
	case pollFailedMsg:
		s.log.Append("status poll failed: %v", m.err)
		s.recordFailure(Failure{Kind: FailurePoll, Err: m.err, At: time.Now()})
	case stalledMsg:
		s.log.Append("no progress for %s; requesting recovery", m.elapsed.Round(time.Second))
		s.recordFailure(Failure{Kind: FailureStall, At: time.Now()})
		s.guard.Trigger(ctx, s.action)
	case recoveredMsg:
		s.handleRecovered(m.status)
	case recoveryFailedMsg:
		s.log.Append("recovery failed: %v", m.err)
		s.recordFailure(Failure{Kind: FailureRecovery, Err: m.err, At: time.Now()})
	case retryStageMsg:
		s.handleRetry(m.stage)
	case reconnectMsg:
		s.log.Append("manual reconnect requested")
		s.push.Reconnect(ctx)
	case triggerRecoveryMsg:
		s.log.Append("manual recovery requested")
		s.guard.Trigger(ctx, s.action)
	case workflowIDMsg:
		s.handleWorkflowID(m.id)
	}
	s.publish()
}

func (s *Session) handleEvent(ev protocol.Event) {
	if s.machine.Terminal() {
		// Late events after completion are diagnostics only.
		s.log.Append("ignoring %s event after terminal state", ev.Type)
		return
	}
	s.guard.NoteActivity()

	switch ev.Type {
	case protocol.EventAgentUpdate:
		s.reg.Apply(ev.Agent, ev.Code, ev.AgentTask)
	case protocol.EventLog:
		if ev.Message != "" {
			s.log.Append("pipeline: %s", ev.Message)
		}
	default:
		s.machine.Apply(ev)
	}

	if s.machine.Terminal() {
		s.finishRun()
	}
}

func (s *Session) handleRecovered(status string) {
	switch status {
	case "recovered":
		// The backend re-reported true status; rebuild from scratch so the
		// next events repaint an accurate picture.
		s.log.Append("recovery confirmed pipeline alive; resynchronizing state")
		s.machine.Reset()
		s.reg.Reset()
		s.restartClock()
		s.guard.Arm()
	case "restarted":
		s.log.Append("pipeline restarted by backend")
		s.restartClock()
		s.guard.Arm()
	default:
		s.log.Append("recovery finished with status %q", status)
		s.guard.Arm()
	}
}

func (s *Session) handleRetry(id protocol.StageID) {
	if !s.machine.RetryStage(id) {
		return
	}
	s.guard.NoteActivity()
	if err := s.push.SendRetry(id); err != nil {
		s.log.Append("retry request for %s not delivered: %v", id, err)
	}
}

func (s *Session) handleWorkflowID(id string) {
	if protocol.IsPlaceholderWorkflowID(id) {
		return
	}
	s.mu.Lock()
	s.workflowID = id
	s.mu.Unlock()
	s.log.Append("workflow id assigned: %s", id)
	if err := s.push.SetWorkflowID(id); err != nil {
		s.log.Append("registration with new workflow id failed: %v", err)
	}
}

// finishRun runs once when the workflow reaches a terminal state.
func (s *Session) finishRun() {
	s.guard.Disarm()
	s.poller.Stop()
	if s.machine.Completed() {
		s.log.Append("workflow completed")
	} else {
		s.log.Append("workflow failed")
	}

	snap := s.buildSnapshot()
	s.mu.Lock()
	s.snapshot = snap
	s.mu.Unlock()
	if s.hooks.OnComplete != nil {
		s.hooks.OnComplete(snap)
	}
}

// restartClock restarts elapsed-time tracking after the backend confirms a
// recovery outcome.
func (s *Session) restartClock() {
	s.mu.Lock()
	s.startedAt = time.Now()
	s.mu.Unlock()
}

func (s *Session) setConnected(v bool) {
	s.mu.Lock()
	s.connected = v
	s.mu.Unlock()
}

func (s *Session) recordFailure(f Failure) {
	s.mu.Lock()
	s.failures = append(s.failures, f)
	s.mu.Unlock()
	if s.hooks.OnFailure != nil {
		s.hooks.OnFailure(f)
	}
}

func (s *Session) buildSnapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	failures := make([]Failure, len(s.failures))
	copy(failures, s.failures)
	return Snapshot{
		WorkflowID: s.workflowID,
		Connected:  s.connected,
		Polling:    s.poller.Running(),
		Stages:     s.machine.Snapshot(),
		Agents:     s.reg.Snapshot(),
		Failures:   failures,
		StartedAt:  s.startedAt,
		Completed:  s.machine.Completed(),
		Failed:     s.machine.Failed(),
	}
}

// publish refreshes the shared snapshot and notifies observers.
func (s *Session) publish() {
	snap := s.buildSnapshot()
	s.mu.Lock()
	s.snapshot = snap
	s.mu.Unlock()
	if s.hooks.OnChange != nil {
		s.hooks.OnChange(snap)
	}
}
