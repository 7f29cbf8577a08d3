package session_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"radtrack/internal/agents"
	"radtrack/internal/eventlog"
	"radtrack/internal/logging"
	"radtrack/internal/protocol"
	"radtrack/internal/session"
	"radtrack/internal/stage"
)

type fakePush struct {
	mu         sync.Mutex
	started    bool
	stopped    bool
	reconnects int
	retries    []protocol.StageID
	workflowID string
}

func (f *fakePush) Start(context.Context) { f.mu.Lock(); f.started = true; f.mu.Unlock() }
func (f *fakePush) Stop()                 { f.mu.Lock(); f.stopped = true; f.mu.Unlock() }

func (f *fakePush) Reconnect(context.Context) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reconnects++
	return true
}

func (f *fakePush) SetWorkflowID(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.workflowID = id
	return nil
}

func (f *fakePush) SendRetry(id protocol.StageID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.retries = append(f.retries, id)
	return nil
}

func (f *fakePush) sentRetries() []protocol.StageID {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]protocol.StageID(nil), f.retries...)
}

type fakePoller struct {
	mu      sync.Mutex
	running bool
	starts  int
	stops   int
}

func (f *fakePoller) Start(context.Context) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.running {
		return
	}
	f.running = true
	f.starts++
}

func (f *fakePoller) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.running {
		return
	}
	f.running = false
	f.stops++
}

func (f *fakePoller) Running() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running
}

func (f *fakePoller) startCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.starts
}

type fakeGuard struct {
	mu       sync.Mutex
	armed    bool
	notes    int
	triggers int
}

func (f *fakeGuard) Arm()    { f.mu.Lock(); f.armed = true; f.mu.Unlock() }
func (f *fakeGuard) Disarm() { f.mu.Lock(); f.armed = false; f.mu.Unlock() }
func (f *fakeGuard) NoteActivity() {
	f.mu.Lock()
	f.notes++
	f.mu.Unlock()
}

func (f *fakeGuard) Trigger(context.Context, string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.triggers++
	return true
}

func (f *fakeGuard) triggerCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.triggers
}

func (f *fakeGuard) isArmed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.armed
}

type fixture struct {
	sess   *session.Session
	push   *fakePush
	poller *fakePoller
	guard  *fakeGuard

	changes   chan session.Snapshot
	completes chan session.Snapshot
	failures  chan session.Failure
}

func newFixture(t *testing.T, workflowID string) *fixture {
	t.Helper()
	f := &fixture{
		push:      &fakePush{},
		poller:    &fakePoller{},
		guard:     &fakeGuard{},
		changes:   make(chan session.Snapshot, 256),
		completes: make(chan session.Snapshot, 4),
		failures:  make(chan session.Failure, 16),
	}
	f.sess = session.New(session.Options{
		WorkflowID: workflowID,
		Push:       f.push,
		Poller:     f.poller,
		Guard:      f.guard,
		Logger:     logging.NewNop(),
		Hooks: session.Hooks{
			OnChange:   func(s session.Snapshot) { f.changes <- s },
			OnComplete: func(s session.Snapshot) { f.completes <- s },
			OnFailure:  func(fl session.Failure) { f.failures <- fl },
		},
	})
	f.sess.Start(context.Background())
	t.Cleanup(f.sess.Stop)
	return f
}

func (f *fixture) waitSnapshot(t *testing.T, pred func(session.Snapshot) bool, what string) session.Snapshot {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case snap := <-f.changes:
			if pred(snap) {
				return snap
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", what)
			panic("unreachable")
		}
	}
}

func TestPushDrivenRunCompletesAllStages(t *testing.T) {
	f := newFixture(t, "wf-42")
	f.sess.ConnectionUp()

	f.sess.HandleEvent(protocol.ProgressEvent(protocol.StageIngestion, 60))
	f.sess.HandleEvent(protocol.CompleteEvent(protocol.StageIngestion))
	f.sess.HandleEvent(protocol.ProgressEvent(protocol.StageAnalysis, 30))
	f.sess.HandleEvent(protocol.Event{
		Type:  protocol.EventAgentUpdate,
		Agent: "image_analyst",
		Code:  "working",
	})
	f.sess.HandleEvent(protocol.CompleteEvent(protocol.StageAnnotation))
	f.sess.HandleEvent(protocol.WorkflowCompletedEvent())

	select {
	case snap := <-f.completes:
		if !snap.Completed || snap.Failed {
			t.Fatalf("unexpected terminal snapshot: %+v", snap)
		}
		if snap.Stages.Overall != 100 {
			t.Fatalf("expected overall 100, got %v", snap.Stages.Overall)
		}
		for _, st := range snap.Stages.Stages {
			if st.Status != stage.StatusCompleted {
				t.Fatalf("stage %s not completed: %+v", st.ID, st)
			}
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for completion")
	}

	if f.guard.isArmed() {
		t.Fatal("expected watchdog disarmed at terminal state")
	}
	if f.poller.Running() {
		t.Fatal("expected poller stopped at terminal state")
	}
}

func TestSkippedCompleteBackfillsEarlierStages(t *testing.T) {
	f := newFixture(t, "wf-42")

	// A completion for annotation implies ingestion and analysis finished
	// even though their events never arrived.
	f.sess.HandleEvent(protocol.CompleteEvent(protocol.StageAnnotation))

	snap := f.waitSnapshot(t, func(s session.Snapshot) bool {
		st, ok := s.Stages.Stage(protocol.StageAnalysis)
		return ok && st.Status == stage.StatusCompleted
	}, "backfilled completion")

	ing, _ := snap.Stages.Stage(protocol.StageIngestion)
	if ing.Status != stage.StatusCompleted {
		t.Fatalf("ingestion not backfilled: %+v", ing)
	}
	rep, _ := snap.Stages.Stage(protocol.StageReportSynthesis)
	if rep.Status != stage.StatusPending {
		t.Fatalf("later stage should stay pending: %+v", rep)
	}
}

func TestConnectionLossStartsPollerAndRecoveryStopsIt(t *testing.T) {
	f := newFixture(t, "wf-42")

	f.sess.ConnectionDown("transient disconnect")
	f.waitSnapshot(t, func(s session.Snapshot) bool { return s.Polling }, "poller start")

	select {
	case fl := <-f.failures:
		if fl.Kind != session.FailureConnection {
			t.Fatalf("unexpected failure kind %q", fl.Kind)
		}
	case <-time.After(time.Second):
		t.Fatal("expected connection failure record")
	}

	f.sess.ConnectionUp()
	f.waitSnapshot(t, func(s session.Snapshot) bool { return s.Connected && !s.Polling }, "poller stop")

	if f.poller.startCount() != 1 {
		t.Fatalf("expected exactly one poller start, got %d", f.poller.startCount())
	}
}

func TestStallTriggersExactlyOneRecoveryRequest(t *testing.T) {
	f := newFixture(t, "wf-42")

	f.sess.Stalled(31 * time.Second)
	f.waitSnapshot(t, func(s session.Snapshot) bool {
		return len(s.Failures) > 0 && s.Failures[len(s.Failures)-1].Kind == session.FailureStall
	}, "stall failure")

	if got := f.guard.triggerCount(); got != 1 {
		t.Fatalf("expected 1 recovery trigger, got %d", got)
	}
}

func TestRecoveredStatusResetsStageState(t *testing.T) {
	f := newFixture(t, "wf-42")

	f.sess.HandleEvent(protocol.ProgressEvent(protocol.StageAnalysis, 70))
	f.waitSnapshot(t, func(s session.Snapshot) bool {
		st, ok := s.Stages.Stage(protocol.StageAnalysis)
		return ok && st.Progress == 70
	}, "progress applied")

	started := f.sess.Snapshot().StartedAt
	time.Sleep(20 * time.Millisecond)
	f.sess.Recovered("recovered")
	snap := f.waitSnapshot(t, func(s session.Snapshot) bool {
		st, ok := s.Stages.Stage(protocol.StageAnalysis)
		return ok && st.Status == stage.StatusPending
	}, "state reset")

	for _, st := range snap.Stages.Stages {
		if st.Status != stage.StatusPending || st.Progress != 0 {
			t.Fatalf("stage %s not reset: %+v", st.ID, st)
		}
	}
	if !snap.StartedAt.After(started) {
		t.Fatalf("expected elapsed-time tracking restarted, startedAt %v not after %v", snap.StartedAt, started)
	}
	if !f.guard.isArmed() {
		t.Fatal("expected watchdog rearmed after recovery")
	}
}

func TestRestartedStatusKeepsStageState(t *testing.T) {
	f := newFixture(t, "wf-42")

	f.sess.HandleEvent(protocol.CompleteEvent(protocol.StageIngestion))
	f.waitSnapshot(t, func(s session.Snapshot) bool {
		st, ok := s.Stages.Stage(protocol.StageIngestion)
		return ok && st.Status == stage.StatusCompleted
	}, "ingestion complete")

	started := f.sess.Snapshot().StartedAt
	time.Sleep(20 * time.Millisecond)
	f.sess.Recovered("restarted")
	snap := f.waitSnapshot(t, func(s session.Snapshot) bool { return true }, "snapshot after restart")
	st, _ := snap.Stages.Stage(protocol.StageIngestion)
	if st.Status != stage.StatusCompleted {
		t.Fatalf("restart should keep accumulated state, got %+v", st)
	}
	if !snap.StartedAt.After(started) {
		t.Fatalf("expected elapsed-time tracking restarted, startedAt %v not after %v", snap.StartedAt, started)
	}
}

func TestRetryStageSendsPushRequest(t *testing.T) {
	f := newFixture(t, "wf-42")

	f.sess.HandleEvent(protocol.Event{
		Type:  protocol.EventError,
		Stage: string(protocol.StageAnnotation),
		Error: "annotation model crashed",
	})
	f.waitSnapshot(t, func(s session.Snapshot) bool {
		st, ok := s.Stages.Stage(protocol.StageAnnotation)
		return ok && st.Status == stage.StatusError
	}, "stage error")

	f.sess.RetryStage(protocol.StageAnnotation)
	f.waitSnapshot(t, func(s session.Snapshot) bool {
		st, ok := s.Stages.Stage(protocol.StageAnnotation)
		return ok && st.Status == stage.StatusActive && st.Progress == 0
	}, "stage retry")

	deadline := time.Now().Add(time.Second)
	for len(f.push.sentRetries()) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("expected retry request over push channel")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if got := f.push.sentRetries()[0]; got != protocol.StageAnnotation {
		t.Fatalf("unexpected retry stage %q", got)
	}

	// Retrying a non-errored stage is a no-op with no wire traffic.
	f.sess.RetryStage(protocol.StageIngestion)
	time.Sleep(20 * time.Millisecond)
	if got := len(f.push.sentRetries()); got != 1 {
		t.Fatalf("expected no extra retry requests, got %d", got)
	}
}

func TestWorkflowIDAssignmentReachesPushChannel(t *testing.T) {
	f := newFixture(t, "")

	if !protocol.IsPlaceholderWorkflowID(f.sess.WorkflowID()) {
		t.Fatalf("expected placeholder id, got %q", f.sess.WorkflowID())
	}

	f.sess.SetWorkflowID("wf-real")
	f.waitSnapshot(t, func(s session.Snapshot) bool { return s.WorkflowID == "wf-real" }, "id assignment")

	f.push.mu.Lock()
	got := f.push.workflowID
	f.push.mu.Unlock()
	if got != "wf-real" {
		t.Fatalf("push channel never saw new id, got %q", got)
	}
}

func TestLateEventsAfterTerminalAreIgnored(t *testing.T) {
	f := newFixture(t, "wf-42")

	f.sess.HandleEvent(protocol.WorkflowCompletedEvent())
	select {
	case <-f.completes:
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for completion")
	}

	f.sess.HandleEvent(protocol.ProgressEvent(protocol.StageAnalysis, 10))
	snap := f.waitSnapshot(t, func(s session.Snapshot) bool { return true }, "snapshot after late event")
	st, _ := snap.Stages.Stage(protocol.StageAnalysis)
	if st.Progress == 10 {
		t.Fatal("late event mutated terminal state")
	}

	select {
	case <-f.completes:
		t.Fatal("completion fired twice")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestFineGrainedHooks(t *testing.T) {
	entries := make(chan eventlog.Entry, 64)
	stages := make(chan stage.Stage, 64)
	agentUpdates := make(chan agents.Agent, 16)
	sess := session.New(session.Options{
		WorkflowID: "wf-42",
		Push:       &fakePush{},
		Poller:     &fakePoller{},
		Guard:      &fakeGuard{},
		Logger:     logging.NewNop(),
		Hooks: session.Hooks{
			OnLog:   func(entry eventlog.Entry) { entries <- entry },
			OnStage: func(st stage.Stage) { stages <- st },
			OnAgent: func(a agents.Agent) { agentUpdates <- a },
		},
	})
	sess.Start(context.Background())
	t.Cleanup(sess.Stop)

	sess.HandleEvent(protocol.ProgressEvent(protocol.StageAnalysis, 25))
	sess.HandleEvent(protocol.Event{Type: protocol.EventAgentUpdate, Agent: "coordinator", Code: "working"})

	deadline := time.After(3 * time.Second)
	var sawStart, sawStage, sawAgent bool
	for !sawStart || !sawStage || !sawAgent {
		select {
		case entry := <-entries:
			if entry.Message == "session started for workflow wf-42" {
				sawStart = true
			}
		case st := <-stages:
			if st.ID == protocol.StageAnalysis && st.Status == stage.StatusActive {
				sawStage = true
			}
		case a := <-agentUpdates:
			if a.Role == agents.RoleCoordinator && a.Status == agents.StatusWorking {
				sawAgent = true
			}
		case <-deadline:
			t.Fatalf("timed out: start=%v stage=%v agent=%v", sawStart, sawStage, sawAgent)
		}
	}
}

func TestPollDrivenRunWithoutPushChannel(t *testing.T) {
	f := newFixture(t, "wf-42")

	f.sess.ConnectionDown("dial failed")
	f.waitSnapshot(t, func(s session.Snapshot) bool { return s.Polling }, "poller running")

	// Poll results arrive as coarse running events, then a terminal one.
	f.sess.HandleEvent(protocol.RunningEvent("pipeline running"))
	f.waitSnapshot(t, func(s session.Snapshot) bool {
		st, ok := s.Stages.Stage(protocol.StageIngestion)
		return ok && st.Status == stage.StatusActive
	}, "first stage activated by coarse status")

	f.sess.HandleEvent(protocol.WorkflowCompletedEvent())
	select {
	case snap := <-f.completes:
		if !snap.Completed {
			t.Fatalf("expected completed snapshot, got %+v", snap)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for poll-driven completion")
	}
}
