package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"hive/internal/daemon"
)

func newSuperviseCommand(ctx *commandContext) *cobra.Command {
	var keepAlive bool
	cmd := &cobra.Command{
		Use:   "supervise",
		Short: "Run the supervisor in the foreground until the queue drains",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withSession(cmd, func(s *session) error {
				opts := []daemon.Option{
					daemon.WithLogger(s.logger),
					daemon.WithTelemetry(s.telemetry),
				}
				if !keepAlive {
					opts = append(opts, daemon.WithStopWhenDrained())
				}
				d, err := daemon.New(s.cfg, s.queue, s.fleet, opts...)
				if err != nil {
					return err
				}
				if err := d.Start(cmd.Context()); err != nil {
					return err
				}
				defer d.Stop()

				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Supervising %s (health check every %s)\n", d.Status().StoreLocation, s.cfg.HealthInterval())
				if addr := d.APIAddr(); addr != "" {
					fmt.Fprintf(out, "Status API listening on %s\n", addr)
				}

				select {
				case <-d.Done():
				case <-cmd.Context().Done():
				}

				if last := d.Status().LastError; last != "" {
					fmt.Fprintf(out, "Last health check error: %s\n", last)
				}
				dash, err := d.Dashboard(context.Background())
				if err != nil {
					fmt.Fprintln(out, "Supervisor stopped")
					return nil
				}
				fmt.Fprintf(out, "Supervisor stopped: %d of %d tasks done\n", dash.Tasks.Done, dash.Tasks.Total)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&keepAlive, "keep-alive", false, "Keep supervising after the queue drains")
	return cmd
}
