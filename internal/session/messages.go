package session

import (
	"time"

	"radtrack/internal/protocol"
)

// Dispatcher messages. Transport goroutines post these into the session's
// mailbox; only the dispatcher goroutine touches tracking state.
type message interface{ sessionMessage() }

type eventMsg struct{ ev protocol.Event }

type connUpMsg struct{}

type connDownMsg struct{ reason string }

type authFailedMsg struct{ err error }

type exhaustedMsg struct{}

type protocolMsg struct{ err error }

type pollFailedMsg struct{ err error }

type stalledMsg struct{ elapsed time.Duration }

type recoveredMsg struct{ status string }

type recoveryFailedMsg struct{ err error }

type retryStageMsg struct{ stage protocol.StageID }

type reconnectMsg struct{}

type triggerRecoveryMsg struct{}

type workflowIDMsg struct{ id string }

func (eventMsg) sessionMessage()          {}
func (connUpMsg) sessionMessage()         {}
func (connDownMsg) sessionMessage()       {}
func (authFailedMsg) sessionMessage()     {}
func (exhaustedMsg) sessionMessage()      {}
func (protocolMsg) sessionMessage()       {}
func (pollFailedMsg) sessionMessage()     {}
func (stalledMsg) sessionMessage()        {}
func (recoveredMsg) sessionMessage()      {}
func (recoveryFailedMsg) sessionMessage() {}
func (retryStageMsg) sessionMessage()     {}
func (reconnectMsg) sessionMessage()      {}
func (triggerRecoveryMsg) sessionMessage(){}
func (workflowIDMsg) sessionMessage()     {}
