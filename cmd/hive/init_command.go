package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"hive/internal/config"
	"hive/internal/storeaccess"
)

func newInitCommand(ctx *commandContext) *cobra.Command {
	var (
		root      string
		backend   string
		slots     int
		label     string
		path      string
		overwrite bool
	)

	cmd := &cobra.Command{
		Use:         "init",
		Short:       "Write a project config and initialize the store",
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			target := strings.TrimSpace(path)
			if target == "" {
				target = config.ProjectFileName
			}
			target, err := config.ExpandPath(target)
			if err != nil {
				return fmt.Errorf("resolve config path: %w", err)
			}
			if !overwrite {
				if _, err := os.Stat(target); err == nil {
					return fmt.Errorf("config file already exists at %s (use --overwrite to replace it)", target)
				} else if !os.IsNotExist(err) {
					return fmt.Errorf("check config path: %w", err)
				}
			}

			if strings.TrimSpace(root) == "" {
				root = filepath.Join(filepath.Dir(target), ".hive")
			}
			if slots < 0 {
				return fmt.Errorf("%w: --slots must be >= 0", errInvalidArgument)
			}

			draft := config.Default()
			draft.Store.Root = root
			draft.Store.Backend = strings.ToLower(strings.TrimSpace(backend))
			draft.Store.Slots = slots
			draft.Store.Label = label
			if err := draft.Save(target); err != nil {
				return err
			}

			cfg, _, _, err := config.Load(target)
			if err != nil {
				_ = os.Remove(target)
				return fmt.Errorf("validate new config: %w", err)
			}
			if err := cfg.EnsureDirectories(); err != nil {
				return err
			}
			st, err := storeaccess.Open(cfg)
			if err != nil {
				return err
			}
			defer st.Close()
			tracked, err := storeaccess.Initialize(cmd.Context(), cfg, st)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Wrote %s\n", target)
			fmt.Fprintf(out, "Store: %s (%s)\n", storeaccess.Location(cfg), cfg.Store.Backend)
			if tracked {
				fmt.Fprintf(out, "Capacity slots: %d\n", cfg.Store.Slots)
			} else {
				fmt.Fprintln(out, "Capacity slots: not tracked by this backend")
			}
			if cfg.Store.Label != "" {
				fmt.Fprintf(out, "Label: %s\n", cfg.Store.Label)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&root, "root", "", "Store root directory (default .hive next to the config)")
	cmd.Flags().StringVar(&backend, "backend", config.BackendSQLite, "Store backend: sqlite or file")
	cmd.Flags().IntVar(&slots, "slots", 4, "Capacity slots (sqlite backend)")
	cmd.Flags().StringVar(&label, "label", "", "Free-form label for this store")
	cmd.Flags().StringVarP(&path, "path", "p", "", "Destination for the project config (default ./hive.toml)")
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "Overwrite an existing project config")
	return cmd
}
