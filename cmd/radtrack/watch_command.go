package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"radtrack/internal/recovery"
	"radtrack/internal/session"
	"radtrack/internal/stage"
)

func newWatchCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool
	var timeout time.Duration
	var action string

	cmd := &cobra.Command{
		Use:   "watch [workflow-id]",
		Short: "Follow a workflow's progress until it finishes",
		Long: "Watch opens the push channel and renders stage and agent progress as it\n" +
			"arrives. When no workflow id is given a placeholder is registered and the\n" +
			"backend-issued id is adopted from the first event.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if action != recovery.ActionStatusCheck && action != recovery.ActionRestart {
				return fmt.Errorf("unknown recovery action %q (expected %s or %s)", action, recovery.ActionStatusCheck, recovery.ActionRestart)
			}

			var workflowID string
			if len(args) == 1 {
				workflowID = strings.TrimSpace(args[0])
			}

			logger, err := watchLogger(ctx)
			if err != nil {
				return fmt.Errorf("initialize logging: %w", err)
			}

			runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if timeout > 0 {
				var cancel context.CancelFunc
				runCtx, cancel = context.WithTimeout(runCtx, timeout)
				defer cancel()
			}

			renderer := newProgressRenderer(cmd.OutOrStdout(), jsonOut)
			done := make(chan session.Snapshot, 1)
			hooks := session.Hooks{
				OnChange: renderer.observe,
				OnComplete: func(snap session.Snapshot) {
					select {
					case done <- snap:
					default:
					}
				},
				OnFailure: renderer.failure,
			}

			sess, cleanup, err := buildSession(cfg, workflowID, action, logger, hooks)
			if err != nil {
				return err
			}
			defer cleanup()

			sess.Start(runCtx)

			var final session.Snapshot
			select {
			case final = <-done:
			case <-runCtx.Done():
				final = sess.Snapshot()
			}
			sess.Stop()

			if jsonOut {
				return writeJSON(cmd, newSessionView(final))
			}
			renderer.summary(final)
			if final.Failed {
				return errors.New("workflow failed")
			}
			if !final.Terminal() {
				return runCtx.Err()
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit the final snapshot as JSON")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "Give up after this long (0 waits forever)")
	cmd.Flags().StringVar(&action, "recovery-action", recovery.ActionStatusCheck, "Recovery action when the workflow stalls (status_check or restart)")
	return cmd
}

// progressRenderer prints stage and agent transitions as they arrive. It is
// called from the session dispatcher, so every method takes the lock.
type progressRenderer struct {
	out      io.Writer
	colorize bool
	quiet    bool

	mu     sync.Mutex
	stages map[string]string
	agents map[string]string
}

func newProgressRenderer(out io.Writer, quiet bool) *progressRenderer {
	return &progressRenderer{
		out:      out,
		colorize: shouldColorize(out),
		quiet:    quiet,
		stages:   make(map[string]string),
		agents:   make(map[string]string),
	}
}

func (r *progressRenderer) observe(snap session.Snapshot) {
	if r.quiet {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, st := range snap.Stages.Stages {
		line := fmt.Sprintf("%s %s %3.0f%%", string(st.Status), progressBar(st.Progress), st.Progress)
		if st.ErrorDetail != "" {
			line += " " + st.ErrorDetail
		}
		if r.stages[string(st.ID)] == line {
			continue
		}
		r.stages[string(st.ID)] = line
		kind := statusInfo
		switch st.Status {
		case stage.StatusCompleted:
			kind = statusOK
		case stage.StatusError:
			kind = statusError
		}
		fmt.Fprintln(r.out, renderStatusLine(displayName(string(st.ID)), kind, line, r.colorize))
	}

	for _, agent := range snap.Agents {
		line := string(agent.Status)
		if agent.Task != "" {
			line += " " + agent.Task
		}
		if r.agents[string(agent.Role)] == line || agent.UpdatedAt.IsZero() {
			continue
		}
		r.agents[string(agent.Role)] = line
		fmt.Fprintln(r.out, renderStatusLine(displayName(string(agent.Role)), statusInfo, line, r.colorize))
	}
}

func (r *progressRenderer) failure(f session.Failure) {
	if r.quiet {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintln(r.out, renderStatusLine("Session", statusWarn, f.String(), r.colorize))
}

func (r *progressRenderer) summary(snap session.Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rows := make([][]string, 0, len(snap.Stages.Stages))
	for _, st := range snap.Stages.Stages {
		rows = append(rows, []string{
			displayName(string(st.ID)),
			string(st.Status),
			fmt.Sprintf("%.0f%%", st.Progress),
			st.ErrorDetail,
		})
	}
	fmt.Fprintln(r.out)
	fmt.Fprintln(r.out, renderTable(
		[]string{"Stage", "Status", "Progress", "Detail"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignRight, alignLeft},
	))

	outcome := "in progress"
	kind := statusInfo
	switch {
	case snap.Completed:
		outcome = "completed"
		kind = statusOK
	case snap.Failed:
		outcome = "failed"
		kind = statusError
	}
	fmt.Fprintln(r.out, renderStatusLine("Workflow "+snap.WorkflowID, kind, fmt.Sprintf("%s, %.0f%% overall", outcome, snap.Stages.Overall), r.colorize))
}

func progressBar(percent float64) string {
	const width = 10
	filled := int(percent / 100 * width)
	if filled < 0 {
		filled = 0
	}
	if filled > width {
		filled = width
	}
	return "[" + strings.Repeat("#", filled) + strings.Repeat(".", width-filled) + "]"
}
