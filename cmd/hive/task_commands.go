package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"hive/internal/api"
	"hive/internal/queue"
	"hive/internal/store"
)

func newTaskCommand(ctx *commandContext) *cobra.Command {
	taskCmd := &cobra.Command{
		Use:   "task",
		Short: "Enqueue, inspect and transition tasks",
	}

	taskCmd.AddCommand(newTaskAddCommand(ctx))
	taskCmd.AddCommand(newTaskListCommand(ctx))
	taskCmd.AddCommand(newTaskShowCommand(ctx))
	taskCmd.AddCommand(newTaskCompleteCommand(ctx))
	taskCmd.AddCommand(newTaskFailCommand(ctx))
	taskCmd.AddCommand(newTaskAuditCommand(ctx))
	taskCmd.AddCommand(newTaskDecomposeCommand(ctx))

	return taskCmd
}

func parseTaskID(value string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: invalid task id %q", errInvalidArgument, value)
	}
	return id, nil
}

func parseParams(values []string) (map[string]string, error) {
	if len(values) == 0 {
		return nil, nil
	}
	params := make(map[string]string, len(values))
	for _, value := range values {
		key, val, ok := strings.Cut(value, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("%w: param %q must be key=value", errInvalidArgument, value)
		}
		params[key] = strings.TrimSpace(val)
	}
	return params, nil
}

func formatIDs(ids []int64) string {
	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		parts = append(parts, strconv.FormatInt(id, 10))
	}
	return strings.Join(parts, ", ")
}

type enqueueFlags struct {
	class      string
	layer      int
	maxRetries int
	gated      bool
	params     []string
}

func (f *enqueueFlags) request(payloads []string) (queue.EnqueueRequest, error) {
	params, err := parseParams(f.params)
	if err != nil {
		return queue.EnqueueRequest{}, err
	}
	return queue.EnqueueRequest{
		Class:        f.class,
		Layer:        f.layer,
		Payloads:     payloads,
		MaxRetries:   f.maxRetries,
		QualityGated: f.gated,
		Params:       params,
	}, nil
}

func (f *enqueueFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.class, "class", "", "Task class tag")
	cmd.Flags().IntVar(&f.layer, "layer", 0, "Hierarchy layer allowed to claim the task")
	cmd.Flags().IntVar(&f.maxRetries, "max-retries", 0, "Audit failures tolerated before the task fails")
	cmd.Flags().BoolVar(&f.gated, "gated", false, "Require an audit pass after completion")
	cmd.Flags().StringArrayVar(&f.params, "param", nil, "Class-specific parameter key=value (repeatable)")
}

func newTaskAddCommand(ctx *commandContext) *cobra.Command {
	var flags enqueueFlags
	cmd := &cobra.Command{
		Use:   "add PAYLOAD...",
		Short: "Enqueue one task per payload",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := flags.request(args)
			if err != nil {
				return err
			}
			return ctx.withSession(cmd, func(s *session) error {
				ids, err := s.queue.Enqueue(cmd.Context(), req)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Enqueued %d task(s): %s\n", len(ids), formatIDs(ids))
				return nil
			})
		},
	}
	flags.bind(cmd)
	_ = cmd.MarkFlagRequired("class")
	return cmd
}

func newTaskDecomposeCommand(ctx *commandContext) *cobra.Command {
	var flags enqueueFlags
	cmd := &cobra.Command{
		Use:   "decompose ID PAYLOAD...",
		Short: "Split a pending task into subtasks",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			parentID, err := parseTaskID(args[0])
			if err != nil {
				return err
			}
			req, err := flags.request(args[1:])
			if err != nil {
				return err
			}
			return ctx.withSession(cmd, func(s *session) error {
				if req.Class == "" {
					parent, err := s.queue.Get(cmd.Context(), parentID)
					if err != nil {
						return err
					}
					req.Class = parent.Class
					if !cmd.Flags().Changed("layer") {
						req.Layer = parent.Layer
					}
				}
				ids, err := s.queue.Decompose(cmd.Context(), parentID, req)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Task %d decomposed into %d subtask(s): %s\n", parentID, len(ids), formatIDs(ids))
				return nil
			})
		},
	}
	flags.bind(cmd)
	return cmd
}

func newTaskListCommand(ctx *commandContext) *cobra.Command {
	var (
		status string
		class  string
		layer  int
		owner  string
		limit  int
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks in id order",
		RunE: func(cmd *cobra.Command, args []string) error {
			query := queue.Query{Class: class, Owner: owner, Limit: limit}
			if status != "" {
				parsed, ok := store.ParseTaskStatus(status)
				if !ok {
					return fmt.Errorf("%w: unknown status %q", errInvalidArgument, status)
				}
				query.Status = parsed
			}
			if cmd.Flags().Changed("layer") {
				query.Layer = &layer
			}
			return ctx.withSession(cmd, func(s *session) error {
				tasks, err := s.views.Tasks(cmd.Context(), query)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, tasks)
				}
				out := cmd.OutOrStdout()
				if len(tasks) == 0 {
					fmt.Fprintln(out, "No tasks")
					return nil
				}
				fmt.Fprint(out, renderTable(
					[]string{"ID", "Class", "Layer", "Status", "Owner", "Retries", "Title"},
					buildTaskRows(tasks, shouldColorize(out)),
					[]columnAlignment{alignRight, alignLeft, alignRight, alignLeft, alignLeft, alignRight, alignLeft},
				))
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&status, "status", "s", "", "Filter by status")
	cmd.Flags().StringVar(&class, "class", "", "Filter by class")
	cmd.Flags().IntVar(&layer, "layer", 0, "Filter by layer")
	cmd.Flags().StringVar(&owner, "owner", "", "Filter by owning worker")
	cmd.Flags().IntVar(&limit, "limit", queue.DefaultListLimit, "Maximum rows (0 for all)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit JSON")
	return cmd
}

func buildTaskRows(tasks []api.TaskView, colorize bool) [][]string {
	rows := make([][]string, 0, len(tasks))
	for _, task := range tasks {
		owner := task.Owner
		if owner == "" {
			owner = "-"
		}
		rows = append(rows, []string{
			strconv.FormatInt(task.ID, 10),
			task.Class,
			strconv.Itoa(task.Layer),
			colorizeStatus(task.Status, taskStatusKind(task.Status), colorize),
			owner,
			fmt.Sprintf("%d/%d", task.RetryCount, task.MaxRetries),
			task.Title,
		})
	}
	return rows
}

func newTaskShowCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "show ID",
		Short: "Show one task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseTaskID(args[0])
			if err != nil {
				return err
			}
			return ctx.withSession(cmd, func(s *session) error {
				task, err := s.views.Task(cmd.Context(), id)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, task)
				}
				printTask(cmd, task)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit JSON")
	return cmd
}

func printTask(cmd *cobra.Command, task api.TaskView) {
	out := cmd.OutOrStdout()
	field := func(label, value string) {
		if value == "" {
			return
		}
		fmt.Fprintf(out, "%-16s %s\n", label+":", value)
	}
	field("ID", strconv.FormatInt(task.ID, 10))
	field("Title", task.Title)
	field("Class", task.Class)
	field("Layer", strconv.Itoa(task.Layer))
	field("Status", displayLabel(task.Status))
	field("Owner", task.Owner)
	field("Created", task.CreatedAt)
	field("Started", task.StartedAt)
	field("Completed", task.CompletedAt)
	field("Retries", fmt.Sprintf("%d of %d", task.RetryCount, task.MaxRetries))
	field("Quality gated", yesNo(task.QualityGated))
	field("Result", task.ResultLocation)
	field("Last error", task.LastError)
	if task.ParentID != 0 {
		field("Parent", strconv.FormatInt(task.ParentID, 10))
	}
	if len(task.Children) > 0 {
		field("Subtasks", formatIDs(task.Children))
	}
	for key, value := range task.Params {
		field("Param "+key, value)
	}
	if task.Description != "" && task.Description != task.Title {
		fmt.Fprintln(out)
		fmt.Fprintln(out, task.Description)
	}
}

func newTaskCompleteCommand(ctx *commandContext) *cobra.Command {
	var result string
	cmd := &cobra.Command{
		Use:   "complete ID",
		Short: "Mark a processing task completed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseTaskID(args[0])
			if err != nil {
				return err
			}
			return ctx.withSession(cmd, func(s *session) error {
				task, err := s.queue.Complete(cmd.Context(), id, result)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Task %d is %s\n", task.ID, task.Status)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&result, "result", "", "Result location")
	return cmd
}

func newTaskFailCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "fail ID MESSAGE",
		Short: "Mark a processing task failed",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseTaskID(args[0])
			if err != nil {
				return err
			}
			message := strings.Join(args[1:], " ")
			return ctx.withSession(cmd, func(s *session) error {
				task, err := s.queue.Fail(cmd.Context(), id, message)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Task %d is %s\n", task.ID, task.Status)
				return nil
			})
		},
	}
}

func newTaskAuditCommand(ctx *commandContext) *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:       "audit ID begin|pass|fail",
		Short:     "Drive the quality audit of a gated task",
		Args:      cobra.ExactArgs(2),
		ValidArgs: []string{"begin", "pass", "fail"},
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseTaskID(args[0])
			if err != nil {
				return err
			}
			action := strings.ToLower(strings.TrimSpace(args[1]))
			return ctx.withSession(cmd, func(s *session) error {
				var (
					task store.Task
					err  error
				)
				switch action {
				case "begin":
					task, err = s.queue.BeginAudit(cmd.Context(), id)
				case "pass":
					task, err = s.queue.PassAudit(cmd.Context(), id)
				case "fail":
					task, err = s.queue.FailAudit(cmd.Context(), id, reason)
				default:
					return fmt.Errorf("%w: audit action must be begin, pass or fail", errInvalidArgument)
				}
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Task %d is %s (retries %d of %d)\n", task.ID, task.Status, task.RetryCount, task.MaxRetries)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "Why the audit failed")
	return cmd
}
