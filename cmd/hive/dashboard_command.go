package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"hive/internal/api"
	"hive/internal/store"
)

func newDashboardCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:     "dashboard",
		Aliases: []string{"status"},
		Short:   "Show fleet and queue totals",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withSession(cmd, func(s *session) error {
				dash, err := s.views.Dashboard(cmd.Context())
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, dash)
				}
				out := cmd.OutOrStdout()
				renderDashboard(out, dash, shouldColorize(out))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit JSON")
	return cmd
}

func renderDashboard(out io.Writer, dash api.Dashboard, colorize bool) {
	var lines []string

	lines = append(lines, renderSectionHeader("Store", colorize)...)
	lines = append(lines, renderStatusLine("Backend", statusInfo, dash.Backend, colorize))
	lines = append(lines, renderStatusLine("Location", statusInfo, dash.Location, colorize))
	if dash.Slots.Tracked {
		kind := statusOK
		if dash.Slots.Used >= dash.Slots.Total {
			kind = statusWarn
		}
		lines = append(lines, renderStatusLine("Slots", kind, fmt.Sprintf("%d of %d in use", dash.Slots.Used, dash.Slots.Total), colorize))
	} else {
		lines = append(lines, renderStatusLine("Slots", statusInfo, "not tracked by this backend", colorize))
	}

	lines = append(lines, "")
	lines = append(lines, renderSectionHeader("Workers", colorize)...)
	lines = append(lines, renderStatusLine("Total", statusInfo, fmt.Sprintf("%d", dash.Workers.Total), colorize))
	for _, status := range store.AllWorkerStatuses {
		if n := dash.Workers.ByStatus[string(status)]; n > 0 {
			lines = append(lines, renderStatusLine(displayLabel(string(status)), workerStatusKind(string(status)), fmt.Sprintf("%d", n), colorize))
		}
	}
	if len(dash.Unresponsive) > 0 {
		lines = append(lines, renderStatusLine("Unresponsive", statusError, strings.Join(dash.Unresponsive, ", "), colorize))
	} else {
		lines = append(lines, renderStatusLine("Unresponsive", statusOK, "none", colorize))
	}

	lines = append(lines, "")
	lines = append(lines, renderSectionHeader("Tasks", colorize)...)
	lines = append(lines, renderStatusLine("Total", statusInfo, fmt.Sprintf("%d", dash.Tasks.Total), colorize))
	for _, status := range store.AllTaskStatuses {
		if n := dash.Tasks.ByStatus[string(status)]; n > 0 {
			lines = append(lines, renderStatusLine(displayLabel(string(status)), taskStatusKind(string(status)), fmt.Sprintf("%d", n), colorize))
		}
	}
	progressKind := statusWarn
	if dash.Tasks.Outstanding == 0 {
		progressKind = statusOK
	}
	lines = append(lines, renderStatusLine("Completion", progressKind,
		fmt.Sprintf("%.1f%% (%d done, %d outstanding)", dash.Tasks.CompletionPercent, dash.Tasks.Done, dash.Tasks.Outstanding), colorize))

	fmt.Fprintln(out, strings.Join(lines, "\n"))
}
