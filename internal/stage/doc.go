// Package stage models the six fixed pipeline phases and enforces the
// monotonic progress rules that keep concurrently delivered transport
// events from rewinding workflow state.
package stage
