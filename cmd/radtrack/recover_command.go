package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"radtrack/internal/backend"
	"radtrack/internal/recovery"
)

type recoveryReport struct {
	WorkflowID string `json:"workflowId"`
	Action     string `json:"action"`
	Status     string `json:"status"`
}

func newRecoverCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool
	var action string

	cmd := &cobra.Command{
		Use:   "recover <workflow-id>",
		Short: "Ask the backend to recover a stalled workflow",
		Long: "Recover sends a recovery request by hand. A status_check asks the backend\n" +
			"to re-report authoritative status; restart asks it to restart the pipeline.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if action != recovery.ActionStatusCheck && action != recovery.ActionRestart {
				return fmt.Errorf("unknown recovery action %q (expected %s or %s)", action, recovery.ActionStatusCheck, recovery.ActionRestart)
			}
			workflowID := strings.TrimSpace(args[0])
			if workflowID == "" {
				return errors.New("workflow id is required")
			}

			result, err := apiClient(cfg).Recover(cmd.Context(), workflowID, action)
			if err != nil {
				return err
			}

			report := recoveryReport{WorkflowID: workflowID, Action: action, Status: result.Status}
			if jsonOut {
				return writeJSON(cmd, report)
			}

			kind := statusOK
			if result.Status == backend.RecoveryFailed {
				kind = statusError
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, renderStatusLine("Workflow "+workflowID, kind, result.Status, shouldColorize(out)))
			if result.Status == backend.RecoveryFailed {
				return errors.New("recovery failed")
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit the result as JSON")
	cmd.Flags().StringVar(&action, "action", recovery.ActionStatusCheck, "Recovery action (status_check or restart)")
	return cmd
}
