// Package protocol defines the canonical event shape shared by both status
// transports and the mapping from backend status codes to pipeline stages.
//
// Push messages and polled status responses are normalized into the same
// Event value before they reach the state machine, so stage transitions
// behave identically regardless of which transport delivered them.
package protocol
