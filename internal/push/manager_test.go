package push_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"radtrack/internal/logging"
	"radtrack/internal/protocol"
	"radtrack/internal/push"
	"radtrack/internal/token"
)

type recordingSink struct {
	mu         sync.Mutex
	events     []protocol.Event
	ups        int
	downs      int
	violations int

	eventCh     chan protocol.Event
	upCh        chan struct{}
	authCh      chan error
	exhaustedCh chan struct{}
}

func newRecordingSink() *recordingSink {
	return &recordingSink{
		eventCh:     make(chan protocol.Event, 16),
		upCh:        make(chan struct{}, 4),
		authCh:      make(chan error, 4),
		exhaustedCh: make(chan struct{}, 1),
	}
}

func (s *recordingSink) HandleEvent(ev protocol.Event) {
	s.mu.Lock()
	s.events = append(s.events, ev)
	s.mu.Unlock()
	s.eventCh <- ev
}

func (s *recordingSink) ConnectionUp() {
	s.mu.Lock()
	s.ups++
	s.mu.Unlock()
	s.upCh <- struct{}{}
}

func (s *recordingSink) ConnectionDown(string) {
	s.mu.Lock()
	s.downs++
	s.mu.Unlock()
}

func (s *recordingSink) AuthFailed(err error) { s.authCh <- err }

func (s *recordingSink) Exhausted() {
	select {
	case s.exhaustedCh <- struct{}{}:
	default:
	}
}

func (s *recordingSink) ProtocolViolation(error) {
	s.mu.Lock()
	s.violations++
	s.mu.Unlock()
}

func (s *recordingSink) violationCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.violations
}

func (s *recordingSink) downCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.downs
}

type failingRefresh struct{}

func (failingRefresh) Token(context.Context) (string, error) { return "tok", nil }

func (failingRefresh) Refresh(context.Context) (string, error) {
	return "", errors.New("login expired")
}

var upgrader = websocket.Upgrader{}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func testSettings(url string) push.Settings {
	return push.Settings{
		URL:               url,
		UserID:            "viewer-1",
		ConnectTimeout:    2 * time.Second,
		KeepaliveInterval: time.Minute,
		Backoff:           push.Backoff{Base: 5 * time.Millisecond, Max: 20 * time.Millisecond, MaxAttempts: 3},
	}
}

func waitFor[T any](t *testing.T, ch <-chan T, what string) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(3 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
		panic("unreachable")
	}
}

func TestManagerRegistersAndDeliversEvents(t *testing.T) {
	registered := make(chan protocol.RegisterMessage, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("unexpected authorization header %q", got)
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		var reg protocol.RegisterMessage
		if err := conn.ReadJSON(&reg); err != nil {
			return
		}
		registered <- reg

		ev := protocol.ProgressEvent(protocol.StageAnalysis, 40)
		payload, _ := json.Marshal(ev)
		_ = conn.WriteMessage(websocket.TextMessage, payload)
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"mystery"}`))

		ev2 := protocol.ProgressEvent(protocol.StageAnalysis, 80)
		payload2, _ := json.Marshal(ev2)
		_ = conn.WriteMessage(websocket.TextMessage, payload2)

		// Hold the connection open until the client walks away.
		_, _, _ = conn.ReadMessage()
	}))
	defer srv.Close()

	sink := newRecordingSink()
	mgr := push.NewManager(testSettings(wsURL(srv)), "wf-42", token.NewStatic("tok"), sink, logging.NewNop())
	defer mgr.Stop()

	mgr.Start(context.Background())

	waitFor(t, sink.upCh, "connection up")
	reg := waitFor(t, registered, "register message")
	if reg.Type != "register" || reg.WorkflowID != "wf-42" || reg.UserID != "viewer-1" {
		t.Fatalf("unexpected register message: %+v", reg)
	}

	first := waitFor(t, sink.eventCh, "first event")
	if first.Type != protocol.EventProgress || first.Progress == nil || *first.Progress != 40 {
		t.Fatalf("unexpected first event: %+v", first)
	}
	second := waitFor(t, sink.eventCh, "second event")
	if second.Progress == nil || *second.Progress != 80 {
		t.Fatalf("unexpected second event: %+v", second)
	}
	if sink.violationCount() != 1 {
		t.Fatalf("expected 1 protocol violation, got %d", sink.violationCount())
	}
	if mgr.State() != push.StateConnected {
		t.Fatalf("expected connected state, got %v", mgr.State())
	}
}

func TestManagerDefersDialForPlaceholderID(t *testing.T) {
	var mu sync.Mutex
	conns := 0
	frames := make(chan protocol.RegisterMessage, 2)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		conns++
		mu.Unlock()
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			var reg protocol.RegisterMessage
			if err := conn.ReadJSON(&reg); err != nil {
				return
			}
			frames <- reg
		}
	}))
	defer srv.Close()

	sink := newRecordingSink()
	placeholder := protocol.NewPlaceholderWorkflowID()
	mgr := push.NewManager(testSettings(wsURL(srv)), placeholder, token.NewStatic("tok"), sink, logging.NewNop())
	defer mgr.Stop()

	mgr.Start(context.Background())

	select {
	case <-sink.upCh:
		t.Fatal("expected no socket while the workflow id is a placeholder")
	case <-time.After(100 * time.Millisecond):
	}
	mu.Lock()
	if conns != 0 {
		mu.Unlock()
		t.Fatalf("expected 0 dials with placeholder id, got %d", conns)
	}
	mu.Unlock()

	if err := mgr.SetWorkflowID("wf-real"); err != nil {
		t.Fatalf("SetWorkflowID returned error: %v", err)
	}
	waitFor(t, sink.upCh, "connection after id assignment")
	reg := waitFor(t, frames, "register after id assignment")
	if reg.WorkflowID != "wf-real" {
		t.Fatalf("unexpected workflow id: %q", reg.WorkflowID)
	}
}

func TestManagerReconnectsAfterTransientDrop(t *testing.T) {
	var mu sync.Mutex
	conns := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		mu.Lock()
		conns++
		n := conns
		mu.Unlock()

		var reg protocol.RegisterMessage
		_ = conn.ReadJSON(&reg)

		if n == 1 {
			_ = conn.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseServiceRestart, "rolling restart"),
				time.Now().Add(time.Second),
			)
			conn.Close()
			return
		}
		ev := protocol.ProgressEvent(protocol.StageIngestion, 10)
		payload, _ := json.Marshal(ev)
		_ = conn.WriteMessage(websocket.TextMessage, payload)
		_, _, _ = conn.ReadMessage()
		conn.Close()
	}))
	defer srv.Close()

	sink := newRecordingSink()
	mgr := push.NewManager(testSettings(wsURL(srv)), "wf-42", token.NewStatic("tok"), sink, logging.NewNop())
	defer mgr.Stop()

	mgr.Start(context.Background())
	waitFor(t, sink.upCh, "first connection")
	waitFor(t, sink.upCh, "reconnection")
	ev := waitFor(t, sink.eventCh, "event after reconnect")
	if ev.Type != protocol.EventProgress {
		t.Fatalf("unexpected event after reconnect: %+v", ev)
	}
}

func TestManagerFailsFastWhenCredentialMissing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("dial must not reach the server without a credential")
	}))
	defer srv.Close()

	sink := newRecordingSink()
	mgr := push.NewManager(testSettings(wsURL(srv)), "wf-42", token.NewStatic(""), sink, logging.NewNop())
	defer mgr.Stop()

	mgr.Start(context.Background())
	err := waitFor(t, sink.authCh, "auth failure")
	if !errors.Is(err, token.ErrNoToken) {
		t.Fatalf("expected ErrNoToken, got %v", err)
	}
	if mgr.State() != push.StateDisconnected {
		t.Fatalf("expected disconnected state, got %v", mgr.State())
	}

	// No backoff retries: the credential cannot appear on its own.
	time.Sleep(100 * time.Millisecond)
	if got := sink.downCount(); got != 0 {
		t.Fatalf("expected no connection-down reports, got %d", got)
	}
	select {
	case <-sink.exhaustedCh:
		t.Fatal("missing credential must not consume the attempt budget")
	default:
	}
}

func TestManagerReportsAuthFailureWhenRefreshFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "token expired", http.StatusUnauthorized)
	}))
	defer srv.Close()

	sink := newRecordingSink()
	mgr := push.NewManager(testSettings(wsURL(srv)), "wf-42", failingRefresh{}, sink, logging.NewNop())
	defer mgr.Stop()

	mgr.Start(context.Background())
	err := waitFor(t, sink.authCh, "auth failure")
	if err == nil {
		t.Fatal("expected auth failure error")
	}
	if mgr.State() != push.StateDisconnected {
		t.Fatalf("expected disconnected state, got %v", mgr.State())
	}
}

func TestManagerExhaustsAttemptBudgetAndAllowsManualReconnect(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	sink := newRecordingSink()
	mgr := push.NewManager(testSettings(wsURL(srv)), "wf-42", token.NewStatic("tok"), sink, logging.NewNop())
	defer mgr.Stop()

	mgr.Start(context.Background())
	waitFor(t, sink.exhaustedCh, "exhausted notification")
	if mgr.State() != push.StateExhausted {
		t.Fatalf("expected exhausted state, got %v", mgr.State())
	}

	// A manual retry resets the attempt budget even though the server is
	// still down; the channel just exhausts again.
	if !mgr.Reconnect(context.Background()) {
		t.Fatal("expected manual reconnect to start from exhausted state")
	}
	if mgr.Reconnect(context.Background()) {
		t.Fatal("expected second manual reconnect to be rejected while one is running")
	}
	waitFor(t, sink.exhaustedCh, "second exhausted notification")
}
