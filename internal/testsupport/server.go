package testsupport

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gorilla/websocket"

	"radtrack/internal/protocol"
)

// Backend is a scripted workflow backend for tests. It serves the status
// and recovery endpoints plus a WebSocket push endpoint that replays the
// configured events after registration.
type Backend struct {
	t   testing.TB
	srv *httptest.Server

	mu           sync.Mutex
	statuses     []statusAnswer
	statusCalls  int
	recoverCalls int
	recovery     string
	pushEvents   []protocol.Event
	registered   []protocol.RegisterMessage
	retries      []protocol.RetryMessage
}

type statusAnswer struct {
	code    int
	status  string
	details string
}

var upgrader = websocket.Upgrader{}

// NewBackend starts the fake backend. Close is registered on test cleanup.
func NewBackend(t testing.TB) *Backend {
	t.Helper()
	b := &Backend{t: t, recovery: "recovered"}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/workflow/status/", b.handleStatus)
	mux.HandleFunc("/api/workflow/recover", b.handleRecover)
	mux.HandleFunc("/ws/workflow", b.handlePush)
	b.srv = httptest.NewServer(mux)
	t.Cleanup(b.srv.Close)
	return b
}

// APIBaseURL returns the HTTP base for the workflow API.
func (b *Backend) APIBaseURL() string { return b.srv.URL + "/api" }

// PushURL returns the WebSocket endpoint.
func (b *Backend) PushURL() string {
	return "ws" + strings.TrimPrefix(b.srv.URL, "http") + "/ws/workflow"
}

// QueueStatus appends one scripted poll answer. The last answer repeats.
func (b *Backend) QueueStatus(status, details string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.statuses = append(b.statuses, statusAnswer{code: http.StatusOK, status: status, details: details})
}

// QueueNotFound appends a scripted 404 poll answer.
func (b *Backend) QueueNotFound() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.statuses = append(b.statuses, statusAnswer{code: http.StatusNotFound})
}

// SetRecoveryStatus controls the recovery endpoint's answer.
func (b *Backend) SetRecoveryStatus(status string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.recovery = status
}

// PushEvents sets the events replayed over the push channel after the
// client registers.
func (b *Backend) PushEvents(events ...protocol.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pushEvents = append(b.pushEvents, events...)
}

// StatusCalls reports how many poll requests arrived.
func (b *Backend) StatusCalls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.statusCalls
}

// RecoverCalls reports how many recovery requests arrived.
func (b *Backend) RecoverCalls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.recoverCalls
}

// Registrations returns the register messages seen on the push channel.
func (b *Backend) Registrations() []protocol.RegisterMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]protocol.RegisterMessage(nil), b.registered...)
}

// Retries returns the retry messages seen on the push channel.
func (b *Backend) Retries() []protocol.RetryMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]protocol.RetryMessage(nil), b.retries...)
}

func (b *Backend) handleStatus(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	idx := b.statusCalls
	b.statusCalls++
	if idx >= len(b.statuses) {
		idx = len(b.statuses) - 1
	}
	var answer statusAnswer
	if idx >= 0 {
		answer = b.statuses[idx]
	} else {
		answer = statusAnswer{code: http.StatusOK, status: "running"}
	}
	b.mu.Unlock()

	if answer.code != http.StatusOK {
		http.Error(w, "not found", answer.code)
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]string{
		"status":  answer.status,
		"details": answer.details,
	})
}

func (b *Backend) handleRecover(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	b.recoverCalls++
	status := b.recovery
	b.mu.Unlock()
	_ = json.NewEncoder(w).Encode(map[string]string{"status": status})
}

func (b *Backend) handlePush(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	var reg protocol.RegisterMessage
	if err := conn.ReadJSON(&reg); err != nil {
		return
	}
	b.mu.Lock()
	b.registered = append(b.registered, reg)
	events := append([]protocol.Event(nil), b.pushEvents...)
	b.mu.Unlock()

	for _, ev := range events {
		payload, err := json.Marshal(ev)
		if err != nil {
			continue
		}
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			return
		}
	}

	// Collect retry requests until the client hangs up.
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var retry protocol.RetryMessage
		if err := json.Unmarshal(data, &retry); err != nil || retry.Type != "retry" {
			continue
		}
		b.mu.Lock()
		b.retries = append(b.retries, retry)
		b.mu.Unlock()
	}
}
