package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"hive/internal/store"
)

func newEventsCommand(ctx *commandContext) *cobra.Command {
	var (
		workerID string
		limit    int
		asJSON   bool
	)
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Show the activity log, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			if limit < 0 {
				return fmt.Errorf("%w: limit must be >= 0", errInvalidArgument)
			}
			return ctx.withSession(cmd, func(s *session) error {
				events, err := s.views.Events(cmd.Context(), store.EventQuery{WorkerID: workerID, Limit: limit})
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, events)
				}
				out := cmd.OutOrStdout()
				if len(events) == 0 {
					fmt.Fprintln(out, "No events")
					return nil
				}
				rows := make([][]string, 0, len(events))
				for _, event := range events {
					task := "-"
					if event.TaskID != 0 {
						task = strconv.FormatInt(event.TaskID, 10)
					}
					worker := event.WorkerID
					if worker == "" {
						worker = "-"
					}
					rows = append(rows, []string{event.At, event.Type, worker, task, event.Detail})
				}
				fmt.Fprint(out, renderTable(
					[]string{"At", "Event", "Worker", "Task", "Detail"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
				))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&workerID, "worker", "", "Only events for this worker")
	cmd.Flags().IntVar(&limit, "limit", store.DefaultEventLimit, "Maximum events")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit JSON")
	return cmd
}
