package main

import (
	"fmt"
	"log/slog"
	"time"

	"radtrack/internal/config"
	"radtrack/internal/eventlog"
	"radtrack/internal/poll"
	"radtrack/internal/protocol"
	"radtrack/internal/push"
	"radtrack/internal/recovery"
	"radtrack/internal/session"
)

// sinkRef breaks the construction cycle between the transports and the
// session: transports are built against the ref, the session is attached
// before anything starts.
type sinkRef struct {
	session *session.Session
}

func (r *sinkRef) HandleEvent(ev protocol.Event)    { r.session.HandleEvent(ev) }
func (r *sinkRef) ConnectionUp()                    { r.session.ConnectionUp() }
func (r *sinkRef) ConnectionDown(reason string)     { r.session.ConnectionDown(reason) }
func (r *sinkRef) AuthFailed(err error)             { r.session.AuthFailed(err) }
func (r *sinkRef) Exhausted()                       { r.session.Exhausted() }
func (r *sinkRef) ProtocolViolation(err error)      { r.session.ProtocolViolation(err) }
func (r *sinkRef) PollFailed(err error)             { r.session.PollFailed(err) }
func (r *sinkRef) Stalled(elapsed time.Duration)    { r.session.Stalled(elapsed) }
func (r *sinkRef) Recovered(status string)          { r.session.Recovered(status) }
func (r *sinkRef) RecoveryFailed(err error)         { r.session.RecoveryFailed(err) }
func (r *sinkRef) workflowID() string               { return r.session.WorkflowID() }

// buildSession assembles a full tracking session from configuration: push
// channel, poll fallback, stall watchdog, and optional journal. The returned
// cleanup must run after the session stops.
func buildSession(cfg *config.Config, workflowID, recoveryAction string, logger *slog.Logger, hooks session.Hooks) (*session.Session, func(), error) {
	if workflowID == "" {
		workflowID = protocol.NewPlaceholderWorkflowID()
	}

	tokens := tokenProvider(cfg)
	client := apiClient(cfg)

	var journal *eventlog.Journal
	cleanup := func() {}
	if cfg.Journal.Enabled {
		opened, err := eventlog.OpenJournal(cfg.Journal.Path, workflowID)
		if err != nil {
			return nil, nil, fmt.Errorf("open journal: %w", err)
		}
		journal = opened
		cleanup = func() { _ = opened.Close() }
	}

	ref := &sinkRef{}

	mgr := push.NewManager(push.Settings{
		URL:               cfg.Server.PushURL,
		UserID:            cfg.Auth.UserID,
		ConnectTimeout:    time.Duration(cfg.Tracking.ConnectTimeout) * time.Second,
		KeepaliveInterval: time.Duration(cfg.Tracking.KeepaliveInterval) * time.Second,
		Backoff: push.Backoff{
			Base:        time.Duration(cfg.Tracking.ReconnectBaseMS) * time.Millisecond,
			Max:         time.Duration(cfg.Tracking.ReconnectMaxDelayMS) * time.Millisecond,
			MaxAttempts: cfg.Tracking.ReconnectMaxAttempts,
		},
	}, workflowID, tokens, ref, logger)

	poller := poll.New(
		client,
		ref.workflowID,
		time.Duration(cfg.Tracking.PollInterval)*time.Second,
		cfg.Tracking.PollNotFoundLimit,
		ref,
		logger,
	)

	guard := recovery.NewController(
		client,
		ref.workflowID,
		time.Duration(cfg.Tracking.WatchdogTimeout)*time.Second,
		ref,
		logger,
	)

	sess := session.New(session.Options{
		WorkflowID:     workflowID,
		Push:           mgr,
		Poller:         poller,
		Guard:          guard,
		Journal:        journal,
		RecoveryAction: recoveryAction,
		Logger:         logger,
		Hooks:          hooks,
	})
	ref.session = sess

	return sess, cleanup, nil
}
