package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"radtrack/internal/backend"
)

type statusReport struct {
	WorkflowID string `json:"workflowId"`
	Status     string `json:"status"`
	Details    string `json:"details,omitempty"`
}

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "status <workflow-id>",
		Short: "Fetch a workflow's coarse status once",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			workflowID := strings.TrimSpace(args[0])
			if workflowID == "" {
				return errors.New("workflow id is required")
			}

			status, err := apiClient(cfg).WorkflowStatus(cmd.Context(), workflowID)
			if err != nil {
				if errors.Is(err, backend.ErrNotFound) {
					return fmt.Errorf("workflow %s is not known to the backend", workflowID)
				}
				return err
			}

			report := statusReport{WorkflowID: workflowID, Status: status.Status, Details: status.Details}
			if jsonOut {
				return writeJSON(cmd, report)
			}

			kind := statusInfo
			switch status.Status {
			case backend.StatusCompleted:
				kind = statusOK
			case backend.StatusFailed:
				kind = statusError
			}
			out := cmd.OutOrStdout()
			message := status.Status
			if status.Details != "" {
				message += ": " + status.Details
			}
			fmt.Fprintln(out, renderStatusLine("Workflow "+workflowID, kind, message, shouldColorize(out)))
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit the status as JSON")
	return cmd
}
