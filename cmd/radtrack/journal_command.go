package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"radtrack/internal/eventlog"
)

type journalEntryView struct {
	At      time.Time `json:"at"`
	Message string    `json:"message"`
}

func newJournalCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "journal <workflow-id>",
		Short: "Show the persisted diagnostic trace for a workflow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if !cfg.Journal.Enabled {
				return errors.New("journal persistence is disabled in the configuration")
			}
			workflowID := strings.TrimSpace(args[0])
			if workflowID == "" {
				return errors.New("workflow id is required")
			}

			journal, err := eventlog.OpenJournal(cfg.Journal.Path, workflowID)
			if err != nil {
				return fmt.Errorf("open journal: %w", err)
			}
			defer journal.Close()

			entries, err := journal.Entries(cmd.Context(), workflowID)
			if err != nil {
				return err
			}

			if jsonOut {
				views := make([]journalEntryView, 0, len(entries))
				for _, entry := range entries {
					views = append(views, journalEntryView{At: entry.At, Message: entry.Message})
				}
				return writeJSON(cmd, views)
			}

			if len(entries) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "No journal entries for workflow %s\n", workflowID)
				return nil
			}
			fmt.Fprint(cmd.OutOrStdout(), eventlog.FlattenEntries(entries))
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit entries as JSON")
	return cmd
}
