package session

import "time"

// FailureKind buckets the ways a tracking session degrades.
type FailureKind string

const (
	// FailureAuth means the credential was rejected and refresh did not help.
	FailureAuth FailureKind = "auth"
	// FailureConnection is a push channel drop; polling covers the gap.
	FailureConnection FailureKind = "connection"
	// FailureConnectionExhausted means automatic reconnects ran out.
	FailureConnectionExhausted FailureKind = "connection_exhausted"
	// FailureProtocol is an unrecognized frame; dropped without state change.
	FailureProtocol FailureKind = "protocol"
	// FailureStall means no progress arrived within the watchdog window.
	FailureStall FailureKind = "stall"
	// FailureRecovery means a recovery request did not restore the workflow.
	FailureRecovery FailureKind = "recovery"
	// FailurePoll is a status poll the backend answered with an error.
	FailurePoll FailureKind = "poll"
)

// Failure is one degradation observed during a session. Failures accumulate
// in the snapshot so the UI can show what went wrong and when.
type Failure struct {
	Kind FailureKind
	Err  error
	At   time.Time
}

func (f Failure) String() string {
	if f.Err == nil {
		return string(f.Kind)
	}
	return string(f.Kind) + ": " + f.Err.Error()
}
