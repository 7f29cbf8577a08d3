// Package poll is the HTTP fallback transport. While the push channel is
// down it asks the backend for coarse workflow status on a fixed interval
// and normalizes the answers into the same events the push channel delivers.
package poll

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"radtrack/internal/backend"
	"radtrack/internal/logging"
	"radtrack/internal/protocol"
)

// Sink receives poll results. Methods are called from the poll goroutine.
type Sink interface {
	HandleEvent(ev protocol.Event)
	PollFailed(err error)
}

// Poller drives interval polling for one workflow. Start and Stop are safe
// to call repeatedly; the session flips the poller on when the push channel
// drops and off when it comes back.
type Poller struct {
	client        *backend.Client
	workflowID    func() string
	interval      time.Duration
	notFoundLimit int
	sink          Sink
	logger        *slog.Logger

	mu       sync.Mutex
	cancel   context.CancelFunc
	notFound int
}

// New builds a poller. workflowID is consulted on every tick so the poller
// picks up the backend-issued id once the placeholder is replaced.
func New(client *backend.Client, workflowID func() string, interval time.Duration, notFoundLimit int, sink Sink, logger *slog.Logger) *Poller {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	if notFoundLimit <= 0 {
		notFoundLimit = 5
	}
	return &Poller{
		client:        client,
		workflowID:    workflowID,
		interval:      interval,
		notFoundLimit: notFoundLimit,
		sink:          sink,
		logger:        logging.NewComponentLogger(logger, "status-poller"),
	}
}

// Start begins polling. A poller that is already running is left alone.
func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.notFound = 0
	p.logger.Info("polling started", logging.Duration("interval", p.interval))
	go p.loop(loopCtx)
}

// Stop halts polling. Safe to call when the poller is idle.
func (p *Poller) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel == nil {
		return
	}
	p.cancel()
	p.cancel = nil
	p.logger.Info("polling stopped")
}

// Running reports whether the poll loop is active.
func (p *Poller) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cancel != nil
}

func (p *Poller) loop(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	if done := p.pollOnce(ctx); done {
		p.Stop()
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if done := p.pollOnce(ctx); done {
				p.Stop()
				return
			}
		}
	}
}

// pollOnce performs a single status fetch. It returns true when polling
// should cease: the workflow reached a terminal state or the not-found
// budget ran out.
func (p *Poller) pollOnce(ctx context.Context) bool {
	id := p.workflowID()
	if protocol.IsPlaceholderWorkflowID(id) {
		p.logger.Debug("skipping poll, workflow id not yet assigned")
		return false
	}

	status, err := p.client.WorkflowStatus(ctx, id)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return true
		}
		if errors.Is(err, backend.ErrNotFound) {
			p.notFound++
			p.logger.Warn("workflow not found",
				logging.String(logging.FieldWorkflowID, id),
				logging.Int("consecutive", p.notFound))
			if p.notFound >= p.notFoundLimit {
				p.sink.PollFailed(fmt.Errorf("workflow %s unknown to backend after %d polls: %w", id, p.notFound, err))
				return true
			}
			return false
		}
		// Backend trouble is surfaced right away; polling keeps its interval
		// so a recovering backend is picked up without caller intervention.
		p.logger.Warn("status poll failed", logging.Error(err))
		p.sink.PollFailed(fmt.Errorf("status poll for %s: %w", id, err))
		return false
	}
	p.notFound = 0

	switch status.Status {
	case backend.StatusRunning:
		p.sink.HandleEvent(protocol.RunningEvent(status.Details))
		return false
	case backend.StatusCompleted:
		p.sink.HandleEvent(protocol.WorkflowCompletedEvent())
		return true
	case backend.StatusFailed:
		p.sink.HandleEvent(protocol.WorkflowFailedEvent(status.Details))
		return true
	default:
		p.logger.Warn("dropping unrecognized workflow status", logging.String("status", status.Status))
		return false
	}
}
