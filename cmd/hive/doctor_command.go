package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"hive/internal/notifications"
	"hive/internal/preflight"
)

func newDoctorCommand(ctx *commandContext) *cobra.Command {
	var notify bool
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check store health and the configured commands",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withSession(cmd, func(s *session) error {
				out := cmd.OutOrStdout()
				colorize := shouldColorize(out)

				lines := renderSectionHeader("Configuration", colorize)
				configLabel := ctx.configPath
				if !ctx.configExists {
					configLabel += " (defaults)"
				}
				lines = append(lines, renderStatusLine("Config", statusInfo, configLabel, colorize))

				lines = append(lines, "")
				lines = append(lines, renderSectionHeader("Checks", colorize)...)
				problems := 0
				for _, result := range preflight.RunAll(cmd.Context(), s.cfg, s.store) {
					kind := statusOK
					if !result.Passed {
						kind = statusError
						problems++
					}
					lines = append(lines, renderStatusLine(result.Name, kind, result.Detail, colorize))
				}

				if notify {
					lines = append(lines, "")
					lines = append(lines, renderSectionHeader("Notifications", colorize)...)
					switch {
					case s.cfg.Notifications.NtfyTopic == "":
						lines = append(lines, renderStatusLine("ntfy", statusWarn, "no topic configured", colorize))
					default:
						err := notifications.NewService(s.cfg).TestNotification(cmd.Context())
						if err != nil {
							problems++
							lines = append(lines, renderStatusLine("ntfy", statusError, err.Error(), colorize))
						} else {
							lines = append(lines, renderStatusLine("ntfy", statusOK, "test notification sent", colorize))
						}
					}
				}

				fmt.Fprintln(out, strings.Join(lines, "\n"))
				if problems > 0 {
					return fmt.Errorf("%d problem(s) found", problems)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&notify, "notify", false, "Send a test notification")
	return cmd
}
