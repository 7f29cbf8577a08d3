package push

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"radtrack/internal/logging"
	"radtrack/internal/protocol"
	"radtrack/internal/token"
)

// Sink receives everything the push channel produces. All methods are called
// from manager goroutines; implementations must hand off to their own
// dispatcher rather than blocking.
type Sink interface {
	HandleEvent(ev protocol.Event)
	ConnectionUp()
	ConnectionDown(reason string)
	AuthFailed(err error)
	Exhausted()
	ProtocolViolation(err error)
}

// State is the connection lifecycle of the push channel.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateExhausted
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateExhausted:
		return "exhausted"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

const (
	maxMessageSize = 1 << 20
	writeTimeout   = 10 * time.Second
)

// Settings configures a Manager.
type Settings struct {
	URL               string
	UserID            string
	ConnectTimeout    time.Duration
	KeepaliveInterval time.Duration
	Backoff           Backoff
}

// Manager owns the WebSocket push channel: dialing, registration, the read
// loop, keepalives, and reconnection with exponential backoff. Incoming
// frames are decoded to protocol events and handed to the sink; the manager
// never touches tracking state itself.
type Manager struct {
	settings Settings
	tokens   token.Provider
	sink     Sink
	logger   *slog.Logger

	state atomic.Int32

	connMu  sync.RWMutex
	conn    *websocket.Conn
	writeMu sync.Mutex

	idMu       sync.RWMutex
	workflowID string

	ctxMu  sync.Mutex
	runCtx context.Context

	done     chan struct{}
	closeOne sync.Once
}

// NewManager builds a push channel manager for one workflow.
func NewManager(settings Settings, workflowID string, tokens token.Provider, sink Sink, logger *slog.Logger) *Manager {
	if settings.ConnectTimeout <= 0 {
		settings.ConnectTimeout = 30 * time.Second
	}
	if settings.KeepaliveInterval <= 0 {
		settings.KeepaliveInterval = 30 * time.Second
	}
	return &Manager{
		settings:   settings,
		tokens:     tokens,
		sink:       sink,
		logger:     logging.NewComponentLogger(logger, "push-channel"),
		workflowID: workflowID,
		done:       make(chan struct{}),
	}
}

// State returns the current connection state.
func (m *Manager) State() State {
	return State(m.state.Load())
}

// Start dials the push channel. A failed first dial is not fatal; the manager
// keeps retrying with backoff in the background while the caller falls back
// to polling. With a locally minted placeholder id no socket is opened at
// all; the dial waits for SetWorkflowID.
func (m *Manager) Start(ctx context.Context) {
	m.ctxMu.Lock()
	m.runCtx = ctx
	m.ctxMu.Unlock()

	if protocol.IsPlaceholderWorkflowID(m.currentWorkflowID()) {
		m.logger.Info("dial deferred until backend assigns workflow id")
		return
	}
	m.state.Store(int32(StateConnecting))
	m.dial(ctx)
}

func (m *Manager) dial(ctx context.Context) {
	if err := m.connect(ctx); err != nil {
		if errors.Is(err, token.ErrNoToken) {
			m.failAuth(err)
			return
		}
		if class := m.reportDialFailure(err); class == CloseAuth {
			if !m.refreshCredential(ctx) {
				return
			}
		}
		m.state.Store(int32(StateReconnecting))
		go m.reconnect(ctx, 1)
	}
}

// failAuth surfaces a missing or unusable credential without retrying;
// dialing again cannot succeed until the caller supplies a new token.
func (m *Manager) failAuth(err error) {
	m.logger.Warn("no usable credential", logging.Error(err))
	m.state.Store(int32(StateDisconnected))
	m.sink.AuthFailed(err)
}

// Stop tears the channel down with a normal closure. The manager cannot be
// restarted afterwards.
func (m *Manager) Stop() {
	m.closeOne.Do(func() { close(m.done) })
	m.state.Store(int32(StateClosed))
	m.closeConn(websocket.CloseNormalClosure)
}

// Reconnect restarts the channel by hand, resetting the attempt budget. Used
// after the automatic budget is exhausted.
func (m *Manager) Reconnect(ctx context.Context) bool {
	if protocol.IsPlaceholderWorkflowID(m.currentWorkflowID()) {
		return false
	}
	if !m.state.CompareAndSwap(int32(StateExhausted), int32(StateReconnecting)) &&
		!m.state.CompareAndSwap(int32(StateDisconnected), int32(StateReconnecting)) {
		return false
	}
	m.logger.Info("manual reconnect requested")
	go m.reconnect(ctx, 1)
	return true
}

// SetWorkflowID swaps the placeholder identifier for the backend-issued one.
// On a live connection it re-registers; on a channel whose dial was deferred
// it opens the socket now.
func (m *Manager) SetWorkflowID(workflowID string) error {
	m.idMu.Lock()
	m.workflowID = workflowID
	m.idMu.Unlock()

	if protocol.IsPlaceholderWorkflowID(workflowID) {
		return nil
	}
	if m.State() == StateConnected {
		return m.sendRegister()
	}
	m.ctxMu.Lock()
	ctx := m.runCtx
	m.ctxMu.Unlock()
	if ctx != nil && m.state.CompareAndSwap(int32(StateDisconnected), int32(StateConnecting)) {
		go m.dial(ctx)
	}
	return nil
}

// SendRetry asks the backend to re-run a failed stage.
func (m *Manager) SendRetry(stageID protocol.StageID) error {
	if m.State() != StateConnected {
		return errors.New("push channel is not connected")
	}
	return m.writeJSON(protocol.NewRetryMessage(stageID))
}

func (m *Manager) currentWorkflowID() string {
	m.idMu.RLock()
	defer m.idMu.RUnlock()
	return m.workflowID
}

func (m *Manager) connect(ctx context.Context) error {
	credential, err := m.tokens.Token(ctx)
	if err != nil {
		return fmt.Errorf("obtain credential: %w", err)
	}

	dialCtx, cancel := context.WithTimeout(ctx, m.settings.ConnectTimeout)
	defer cancel()

	dialer := websocket.Dialer{HandshakeTimeout: m.settings.ConnectTimeout}
	header := http.Header{}
	header.Set("Authorization", "Bearer "+credential)

	conn, resp, err := dialer.DialContext(dialCtx, m.settings.URL, header)
	if err != nil {
		if resp != nil {
			return &dialError{err: err, status: resp.StatusCode}
		}
		return err
	}
	conn.SetReadLimit(maxMessageSize)

	m.connMu.Lock()
	m.conn = conn
	m.connMu.Unlock()

	if err := m.register(); err != nil {
		m.closeConn(websocket.CloseNormalClosure)
		return err
	}

	m.state.Store(int32(StateConnected))
	m.logger.Info("push channel connected", logging.String(logging.FieldWorkflowID, m.currentWorkflowID()))
	m.sink.ConnectionUp()

	stop := make(chan struct{})
	go m.readLoop(ctx, conn, stop)
	go m.keepaliveLoop(conn, stop)
	return nil
}

// register announces which workflow this viewer wants updates for. With a
// local placeholder id the registration waits until the backend assigns the
// real identifier.
func (m *Manager) register() error {
	id := m.currentWorkflowID()
	if protocol.IsPlaceholderWorkflowID(id) {
		m.logger.Debug("registration deferred until backend assigns workflow id")
		return nil
	}
	return m.sendRegister()
}

func (m *Manager) sendRegister() error {
	msg := protocol.NewRegisterMessage(m.currentWorkflowID(), m.settings.UserID)
	if err := m.writeJSON(msg); err != nil {
		return fmt.Errorf("send register message: %w", err)
	}
	return nil
}

func (m *Manager) writeJSON(v any) error {
	m.connMu.RLock()
	conn := m.conn
	m.connMu.RUnlock()
	if conn == nil {
		return errors.New("push channel has no connection")
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode push message: %w", err)
	}
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("write push message: %w", err)
	}
	return nil
}

// readLoop consumes frames until the connection drops. gorilla connections
// must not be read after an error, so the first failure ends the loop and
// hands off to disconnect handling.
func (m *Manager) readLoop(ctx context.Context, conn *websocket.Conn, stop chan struct{}) {
	defer close(stop)
	for {
		select {
		case <-m.done:
			return
		default:
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			m.handleDisconnect(ctx, err)
			return
		}

		ev, decodeErr := protocol.Decode(data)
		if decodeErr != nil {
			m.logger.Warn("dropping unrecognized push frame", logging.Error(decodeErr))
			m.sink.ProtocolViolation(decodeErr)
			continue
		}
		m.sink.HandleEvent(ev)
	}
}

func (m *Manager) keepaliveLoop(conn *websocket.Conn, stop chan struct{}) {
	ticker := time.NewTicker(m.settings.KeepaliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-stop:
			return
		case <-ticker.C:
			m.writeMu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout))
			m.writeMu.Unlock()
			if err != nil {
				m.logger.Debug("keepalive ping failed", logging.Error(err))
				return
			}
		}
	}
}

// handleDisconnect runs once per drop. The CAS keeps the read loop and
// keepalive loop from both launching a reconnect cycle.
func (m *Manager) handleDisconnect(ctx context.Context, err error) {
	if !m.state.CompareAndSwap(int32(StateConnected), int32(StateReconnecting)) {
		return
	}
	m.closeConn(websocket.CloseNormalClosure)

	class := Classify(err)
	m.logger.Info("push channel dropped",
		logging.String("close_class", class.String()),
		logging.Error(err))

	switch class {
	case CloseNormal:
		m.state.Store(int32(StateDisconnected))
		m.sink.ConnectionDown("closed by server")
		return
	case CloseAuth:
		m.sink.ConnectionDown("credential rejected")
		if !m.refreshCredential(ctx) {
			return
		}
	default:
		m.sink.ConnectionDown(class.String() + " disconnect")
	}

	m.reconnect(ctx, 1)
}

// refreshCredential obtains a fresh token before reconnecting after an auth
// rejection. Failure is terminal for the push channel; the session decides
// what the user sees.
func (m *Manager) refreshCredential(ctx context.Context) bool {
	if _, err := m.tokens.Refresh(ctx); err != nil {
		m.logger.Warn("credential refresh failed", logging.Error(err))
		m.state.Store(int32(StateDisconnected))
		m.sink.AuthFailed(err)
		return false
	}
	return true
}

func (m *Manager) reconnect(ctx context.Context, attempt int) {
	for {
		if m.settings.Backoff.Exhausted(attempt) {
			m.logger.Warn("reconnect attempts exhausted",
				logging.Int("attempts", attempt-1))
			m.state.Store(int32(StateExhausted))
			m.sink.Exhausted()
			return
		}

		delay := m.settings.Backoff.Delay(attempt)
		m.logger.Info("reconnecting",
			logging.Int("attempt", attempt),
			logging.Duration("delay", delay))

		select {
		case <-ctx.Done():
			m.state.Store(int32(StateDisconnected))
			return
		case <-m.done:
			return
		case <-time.After(delay):
		}

		err := m.connect(ctx)
		if err == nil {
			return
		}
		if errors.Is(err, token.ErrNoToken) {
			m.failAuth(err)
			return
		}
		if class := m.reportDialFailure(err); class == CloseAuth {
			if !m.refreshCredential(ctx) {
				return
			}
		}
		attempt++
	}
}

func (m *Manager) reportDialFailure(err error) CloseClass {
	class := Classify(err)
	var dErr *dialError
	if errors.As(err, &dErr) {
		class = ClassifyHandshake(dErr.err, &http.Response{StatusCode: dErr.status})
	}
	m.logger.Warn("push channel dial failed",
		logging.String("close_class", class.String()),
		logging.Error(err))
	if class != CloseAuth {
		m.sink.ConnectionDown("dial failed")
	}
	return class
}

func (m *Manager) closeConn(code int) {
	m.connMu.Lock()
	defer m.connMu.Unlock()
	if m.conn == nil {
		return
	}
	m.writeMu.Lock()
	_ = m.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, ""))
	m.writeMu.Unlock()
	_ = m.conn.Close()
	m.conn = nil
}

// dialError carries the HTTP status of a rejected upgrade so auth failures
// can be told apart from network trouble.
type dialError struct {
	err    error
	status int
}

func (e *dialError) Error() string {
	return fmt.Sprintf("dial rejected with status %d: %v", e.status, e.err)
}

func (e *dialError) Unwrap() error { return e.err }
