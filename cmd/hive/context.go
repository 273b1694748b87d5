package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"hive/internal/api"
	"hive/internal/config"
	"hive/internal/fleet"
	"hive/internal/logging"
	"hive/internal/queue"
	"hive/internal/store"
	"hive/internal/storeaccess"
	"hive/internal/telemetry"
)

type commandContext struct {
	configFlag *string

	configOnce   sync.Once
	config       *config.Config
	configPath   string
	configExists bool
	configErr    error
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, resolved, exists, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
		c.configPath = resolved
		c.configExists = exists
	})
	return c.config, c.configErr
}

// session bundles everything a command needs to act on the store.
type session struct {
	cfg       *config.Config
	store     store.Store
	queue     *queue.Queue
	fleet     *fleet.Manager
	views     *api.Service
	logger    *slog.Logger
	telemetry *telemetry.Provider
}

func (c *commandContext) withSession(cmd *cobra.Command, fn func(*session) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	return c.withSessionFor(cmd, cfg, fn)
}

func (c *commandContext) withSessionFor(cmd *cobra.Command, cfg *config.Config, fn func(*session) error) error {
	logger, err := logging.NewFromConfig(cfg)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	provider := telemetry.Disabled()
	if cfg.Telemetry.Enabled {
		provider, err = telemetry.Init(cmd.Context(), cfg.Telemetry)
		if err != nil {
			return fmt.Errorf("init telemetry: %w", err)
		}
	}
	defer func() {
		_ = provider.Shutdown(context.Background())
	}()

	st, err := storeaccess.Open(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	q := queue.New(st, queue.WithLogger(logger), queue.WithTelemetry(provider))
	m := fleet.NewManager(cfg, st, q, nil,
		fleet.WithLogger(logger),
		fleet.WithTelemetry(provider),
		fleet.WithConfigPath(c.configPath),
	)
	return fn(&session{
		cfg:       cfg,
		store:     st,
		queue:     q,
		fleet:     m,
		views:     api.NewService(cfg, q),
		logger:    logger,
		telemetry: provider,
	})
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
