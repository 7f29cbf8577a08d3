// Package push maintains the WebSocket channel that delivers workflow status
// events in real time. It handles registration, keepalives, close-code
// classification, credential refresh, and exponential-backoff reconnection,
// and forwards decoded events to a sink owned by the session dispatcher.
package push
