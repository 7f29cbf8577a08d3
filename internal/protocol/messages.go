package protocol

import (
	"strings"

	"github.com/google/uuid"
)

// RegisterMessage is sent once after the push channel opens to bind the
// connection to a workflow.
type RegisterMessage struct {
	Type       string `json:"type"`
	WorkflowID string `json:"workflowId"`
	UserID     string `json:"userId"`
}

// NewRegisterMessage builds the registration payload for a workflow.
func NewRegisterMessage(workflowID, userID string) RegisterMessage {
	return RegisterMessage{Type: "register", WorkflowID: workflowID, UserID: userID}
}

// RetryMessage asks the backend to re-run a failed stage.
type RetryMessage struct {
	Type    string `json:"type"`
	StageID string `json:"stageId"`
}

// NewRetryMessage builds a stage retry request.
func NewRetryMessage(stage StageID) RetryMessage {
	return RetryMessage{Type: "retry", StageID: string(stage)}
}

const placeholderPrefix = "local-"

// NewPlaceholderWorkflowID mints a locally generated identifier used before
// the backend has assigned a real workflow id. Placeholder ids never reach
// the wire; the connection manager defers until a qualified id arrives.
func NewPlaceholderWorkflowID() string {
	return placeholderPrefix + uuid.NewString()
}

// IsPlaceholderWorkflowID reports whether the id is empty or locally minted.
func IsPlaceholderWorkflowID(id string) bool {
	trimmed := strings.TrimSpace(id)
	return trimmed == "" || strings.HasPrefix(trimmed, placeholderPrefix)
}
