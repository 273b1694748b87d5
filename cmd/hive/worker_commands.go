package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"hive/internal/api"
	"hive/internal/config"
	"hive/internal/fleet"
	"hive/internal/logs"
	"hive/internal/store"
	"hive/internal/worker"
)

func newWorkerCommand(ctx *commandContext) *cobra.Command {
	workerCmd := &cobra.Command{
		Use:   "worker",
		Short: "Provision, launch and inspect workers",
	}

	workerCmd.AddCommand(newWorkerProvisionCommand(ctx))
	workerCmd.AddCommand(newWorkerSpawnCommand(ctx))
	workerCmd.AddCommand(newWorkerListCommand(ctx))
	workerCmd.AddCommand(newWorkerShowCommand(ctx))
	workerCmd.AddCommand(newWorkerHeartbeatCommand(ctx))
	workerCmd.AddCommand(newWorkerFinishCommand(ctx))
	workerCmd.AddCommand(newWorkerLogsCommand(ctx))
	workerCmd.AddCommand(newWorkerRunCommand(ctx))

	return workerCmd
}

func newWorkerProvisionCommand(ctx *commandContext) *cobra.Command {
	var (
		parent string
		layer  int
		role   string
		spawn  bool
	)
	cmd := &cobra.Command{
		Use:   "provision",
		Short: "Register a new worker in the hierarchy",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withSession(cmd, func(s *session) error {
				w, err := s.fleet.Provision(cmd.Context(), fleet.ProvisionRequest{
					ParentID: parent,
					Layer:    layer,
					Role:     role,
				})
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Provisioned %s (%s, layer %d, position %d)\n", w.ID, w.Role, w.Layer, w.Position)
				fmt.Fprintf(out, "Identity: %s\n", s.fleet.IdentityPath(w.ID))
				if !spawn {
					return nil
				}
				w, err = s.fleet.Spawn(cmd.Context(), w.ID)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "Spawned %s (session %s)\n", w.ID, w.SessionID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&parent, "parent", "", "Parent worker id (required above layer 0)")
	cmd.Flags().IntVar(&layer, "layer", 0, "Hierarchy layer")
	cmd.Flags().StringVar(&role, "role", "", "Role label (defaults to the layer's role)")
	cmd.Flags().BoolVar(&spawn, "spawn", false, "Launch the worker right away")
	return cmd
}

func newWorkerSpawnCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "spawn ID",
		Short: "Launch a provisioned worker",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withSession(cmd, func(s *session) error {
				w, err := s.fleet.Spawn(cmd.Context(), strings.TrimSpace(args[0]))
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Spawned %s (session %s, pid %d)\n", w.ID, w.SessionID, w.PID)
				return nil
			})
		},
	}
}

func newWorkerListCommand(ctx *commandContext) *cobra.Command {
	var (
		asJSON bool
		tree   bool
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List registered workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withSession(cmd, func(s *session) error {
				workers, err := s.views.Workers(cmd.Context())
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, workers)
				}
				out := cmd.OutOrStdout()
				if len(workers) == 0 {
					fmt.Fprintln(out, "No workers")
					return nil
				}
				colorize := shouldColorize(out)
				if tree {
					for _, line := range api.WorkerTree(workers) {
						fmt.Fprintf(out, "%s%s %s [%s]\n",
							strings.Repeat("  ", line.Depth),
							line.Worker.ID,
							line.Worker.Role,
							colorizeStatus(line.Worker.Status, fleetStatusKind(line.Worker.Status, line.Worker.Unresponsive), colorize),
						)
					}
					return nil
				}
				fmt.Fprint(out, renderTable(
					[]string{"ID", "Role", "Layer", "Parent", "Status", "Task", "Done", "Failed", "Last Seen"},
					buildWorkerRows(workers, colorize),
					[]columnAlignment{alignLeft, alignLeft, alignRight, alignLeft, alignLeft, alignRight, alignRight, alignRight, alignLeft},
				))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit JSON")
	cmd.Flags().BoolVar(&tree, "tree", false, "Render the delegation hierarchy")
	return cmd
}

func buildWorkerRows(workers []api.WorkerView, colorize bool) [][]string {
	rows := make([][]string, 0, len(workers))
	for _, w := range workers {
		parent := w.ParentID
		if parent == "" {
			parent = "-"
		}
		task := "-"
		if w.CurrentTask != 0 {
			task = strconv.FormatInt(w.CurrentTask, 10)
		}
		status := w.Status
		if w.Unresponsive {
			status = "unresponsive"
		}
		rows = append(rows, []string{
			w.ID,
			w.Role,
			strconv.Itoa(w.Layer),
			parent,
			colorizeStatus(status, fleetStatusKind(w.Status, w.Unresponsive), colorize),
			task,
			strconv.Itoa(w.Completed),
			strconv.Itoa(w.Failed),
			lastSeenAge(w.LastSeen),
		})
	}
	return rows
}

// lastSeenAge renders an API timestamp relative to now.
func lastSeenAge(value string) string {
	seen := api.ParseTime(value)
	if seen.IsZero() {
		return "-"
	}
	return humanize.Time(seen)
}

func newWorkerShowCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "show ID",
		Short: "Show one worker",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withSession(cmd, func(s *session) error {
				w, err := s.views.Worker(cmd.Context(), strings.TrimSpace(args[0]))
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, w)
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "%-14s %s\n", "ID:", w.ID)
				fmt.Fprintf(out, "%-14s %s\n", "Role:", w.Role)
				fmt.Fprintf(out, "%-14s %d\n", "Layer:", w.Layer)
				if w.ParentID != "" {
					fmt.Fprintf(out, "%-14s %s\n", "Parent:", w.ParentID)
				}
				fmt.Fprintf(out, "%-14s %s\n", "Status:", displayLabel(w.Status))
				fmt.Fprintf(out, "%-14s %s\n", "Unresponsive:", yesNo(w.Unresponsive))
				if w.CurrentTask != 0 {
					fmt.Fprintf(out, "%-14s %d (%s)\n", "Task:", w.CurrentTask, w.Stage)
				}
				fmt.Fprintf(out, "%-14s %d completed, %d failed\n", "Progress:", w.Completed, w.Failed)
				fmt.Fprintf(out, "%-14s %s (%s)\n", "Last seen:", w.LastSeen, lastSeenAge(w.LastSeen))
				fmt.Fprintf(out, "%-14s %s\n", "Output:", w.OutputDir)
				if w.LastError != "" {
					fmt.Fprintf(out, "%-14s %s\n", "Last error:", w.LastError)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit JSON")
	return cmd
}

func newWorkerHeartbeatCommand(ctx *commandContext) *cobra.Command {
	var (
		status    string
		stage     string
		task      int64
		completed int
		failed    int
	)
	cmd := &cobra.Command{
		Use:   "heartbeat ID",
		Short: "Record a heartbeat on behalf of a worker",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hb := store.Heartbeat{
				WorkerID:    strings.TrimSpace(args[0]),
				CurrentTask: task,
				Stage:       stage,
				Completed:   completed,
				Failed:      failed,
			}
			if status != "" {
				parsed, ok := store.ParseWorkerStatus(status)
				if !ok {
					return fmt.Errorf("%w: unknown worker status %q", errInvalidArgument, status)
				}
				hb.Status = parsed
			}
			return ctx.withSession(cmd, func(s *session) error {
				if err := s.fleet.Heartbeat(cmd.Context(), hb); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Heartbeat recorded for %s\n", hb.WorkerID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "Worker status (idle, working, error)")
	cmd.Flags().StringVar(&stage, "stage", "", "Free-form stage label")
	cmd.Flags().Int64Var(&task, "task", 0, "Task currently being processed")
	cmd.Flags().IntVar(&completed, "completed", 0, "Tasks completed so far")
	cmd.Flags().IntVar(&failed, "failed", 0, "Tasks failed so far")
	return cmd
}

func newWorkerFinishCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "finish ID",
		Short: "Write a worker's finished sentinel",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withSession(cmd, func(s *session) error {
				w, err := s.fleet.Finish(cmd.Context(), strings.TrimSpace(args[0]))
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Worker %s finished (%d completed, %d failed)\n", w.ID, w.Completed, w.Failed)
				return nil
			})
		},
	}
}

func newWorkerLogsCommand(ctx *commandContext) *cobra.Command {
	var (
		lines  int
		follow bool
	)
	cmd := &cobra.Command{
		Use:   "logs ID",
		Short: "Show a worker session's log",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if lines < 0 {
				return fmt.Errorf("%w: --lines must be non-negative", errInvalidArgument)
			}
			return ctx.withSession(cmd, func(s *session) error {
				w, err := s.views.Worker(cmd.Context(), strings.TrimSpace(args[0]))
				if err != nil {
					return err
				}
				path := s.cfg.WorkerLogPath(w.ID)
				if path == "" {
					return fmt.Errorf("%w: launcher.log_dir is not configured", errInvalidArgument)
				}

				out := cmd.OutOrStdout()
				tail, offset, err := logs.Last(path, lines)
				if err != nil {
					return err
				}
				if len(tail) == 0 && !follow {
					fmt.Fprintf(out, "No log output for %s\n", w.ID)
					return nil
				}
				for _, line := range tail {
					fmt.Fprintln(out, line)
				}
				if !follow {
					return nil
				}
				return logs.Follow(cmd.Context(), path, offset, func(line string) {
					fmt.Fprintln(out, line)
				})
			})
		},
	}
	cmd.Flags().IntVarP(&lines, "lines", "n", 50, "Number of trailing lines to show")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Stream new lines until interrupted")
	return cmd
}

func newWorkerRunCommand(ctx *commandContext) *cobra.Command {
	var identityPath string
	cmd := &cobra.Command{
		Use:         "run",
		Short:       "Run the worker loop for a provisioned identity",
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			identity, err := fleet.ReadIdentity(identityPath)
			if err != nil {
				return err
			}
			cfg, err := workerConfig(ctx, identity)
			if err != nil {
				return err
			}
			if len(cfg.Worker.ExecutorCommand) == 0 {
				return errors.New("worker.executor_command is not configured")
			}

			return ctx.withSessionFor(cmd, cfg, func(s *session) error {
				rt := worker.New(s.cfg, s.queue, s.fleet, identity, nil, worker.WithLogger(s.logger))
				err := rt.Run(cmd.Context())
				completed, failed := rt.Counts()
				fmt.Fprintf(cmd.OutOrStdout(), "Worker %s stopped: %d completed, %d failed\n", identity.WorkerID, completed, failed)
				if errors.Is(err, context.Canceled) {
					return nil
				}
				return err
			})
		},
	}
	cmd.Flags().StringVar(&identityPath, "identity", "", "Path to the worker identity file")
	_ = cmd.MarkFlagRequired("identity")
	return cmd
}

// workerConfig loads the config named by --config, falling back to the one
// recorded in the identity, and points it at the identity's store.
func workerConfig(ctx *commandContext, identity fleet.Identity) (*config.Config, error) {
	path := ""
	if ctx.configFlag != nil {
		path = strings.TrimSpace(*ctx.configFlag)
	}
	if path == "" {
		path = identity.ConfigPath
	}
	cfg, resolved, _, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	ctx.configPath = resolved
	if identity.Store.Backend != "" {
		cfg.Store.Backend = identity.Store.Backend
	}
	if identity.Store.Root != "" {
		cfg.Store.Root = identity.Store.Root
	}
	return cfg, nil
}
