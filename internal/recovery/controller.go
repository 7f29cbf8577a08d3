// Package recovery watches for stalled workflows and drives the backend
// recovery endpoint. A watchdog timer fires when no progress arrives within
// the configured window; the session then asks the controller to request
// recovery, which either confirms true status or restarts the pipeline.
package recovery

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"radtrack/internal/backend"
	"radtrack/internal/logging"
)

// Recovery actions understood by the backend.
const (
	// ActionStatusCheck asks the backend to re-report authoritative status.
	ActionStatusCheck = "status_check"
	// ActionRestart asks the backend to restart the stalled workflow.
	ActionRestart = "restart"
)

// Sink receives watchdog and recovery outcomes. Methods are called from
// controller goroutines.
type Sink interface {
	// Stalled fires when the silence window elapses with no activity.
	Stalled(elapsed time.Duration)
	// Recovered delivers the backend's answer to a recovery request.
	Recovered(status string)
	// RecoveryFailed reports that the recovery request itself failed.
	RecoveryFailed(err error)
}

// Controller owns the stall watchdog and serializes recovery requests so at
// most one is in flight regardless of how many triggers race.
type Controller struct {
	client     *backend.Client
	workflowID func() string
	timeout    time.Duration
	sink       Sink
	logger     *slog.Logger

	mu           sync.Mutex
	timer        *time.Timer
	lastActivity time.Time

	inFlight atomic.Bool
}

// NewController builds a controller with the given silence window.
func NewController(client *backend.Client, workflowID func() string, timeout time.Duration, sink Sink, logger *slog.Logger) *Controller {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Controller{
		client:     client,
		workflowID: workflowID,
		timeout:    timeout,
		sink:       sink,
		logger:     logging.NewComponentLogger(logger, "stall-watchdog"),
	}
}

// Arm starts (or restarts) the watchdog. Each call resets the window.
func (c *Controller) Arm() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastActivity = time.Now()
	if c.timer != nil {
		c.timer.Stop()
	}
	c.timer = time.AfterFunc(c.timeout, c.fire)
}

// Disarm stops the watchdog, typically at terminal state or shutdown.
func (c *Controller) Disarm() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

// NoteActivity resets the silence window. Called for every meaningful event.
func (c *Controller) NoteActivity() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.timer == nil {
		return
	}
	c.lastActivity = time.Now()
	c.timer.Stop()
	c.timer = time.AfterFunc(c.timeout, c.fire)
}

func (c *Controller) fire() {
	c.mu.Lock()
	elapsed := time.Since(c.lastActivity)
	c.timer = nil
	c.mu.Unlock()

	c.logger.Warn("workflow stalled", logging.Duration("silent_for", elapsed))
	c.sink.Stalled(elapsed)
}

// Trigger sends one recovery request. Returns false when a request is
// already in flight; duplicate stall timeouts and impatient button presses
// collapse into the pending request.
func (c *Controller) Trigger(ctx context.Context, action string) bool {
	if !c.inFlight.CompareAndSwap(false, true) {
		c.logger.Debug("recovery already in flight, ignoring trigger")
		return false
	}
	go c.request(ctx, action)
	return true
}

func (c *Controller) request(ctx context.Context, action string) {
	defer c.inFlight.Store(false)

	id := c.workflowID()
	c.logger.Info("requesting recovery",
		logging.String(logging.FieldWorkflowID, id),
		logging.String("action", action))

	result, err := c.client.Recover(ctx, id, action)
	if err != nil {
		c.logger.Warn("recovery request failed", logging.Error(err))
		c.sink.RecoveryFailed(fmt.Errorf("recover workflow %s: %w", id, err))
		return
	}

	c.logger.Info("recovery response", logging.String("status", result.Status))
	switch result.Status {
	case backend.RecoveryRecovered, backend.RecoveryRestarted:
		c.sink.Recovered(result.Status)
	case backend.RecoveryFailed:
		c.sink.RecoveryFailed(fmt.Errorf("backend could not recover workflow %s", id))
	default:
		c.sink.RecoveryFailed(fmt.Errorf("unrecognized recovery status %q for workflow %s", result.Status, id))
	}
}
