package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"hive/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config rooted in a unique temp directory per test.
// It defaults to the SQLite backend and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Store.Root = filepath.Join(base, "store")
	cfgVal.Launcher.LogDir = filepath.Join(base, "logs")
	cfgVal.Store.LockPollMillis = 5

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	if err := builder.cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	return builder.cfg
}

// WithBackend selects the store backend.
func WithBackend(backend string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Store.Backend = backend
	}
}

// WithSlots sets the capacity slot count.
func WithSlots(n int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Store.Slots = n
	}
}

// WithLayers replaces the hierarchy policy table.
func WithLayers(layers ...config.LayerPolicy) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Hierarchy.Layers = layers
	}
}

// WithMaxDepth caps the hierarchy depth.
func WithMaxDepth(depth int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Hierarchy.MaxDepth = depth
	}
}

// WithMaxTotalInstances sets the emergency brake.
func WithMaxTotalInstances(n int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Hierarchy.MaxTotalInstances = n
	}
}

// WithLauncherCommand sets the session launch template.
func WithLauncherCommand(args ...string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Launcher.Command = args
	}
}

// WithStubbedBinaries writes shell stubs exiting with code for the provided
// names and prepends them to PATH.
func WithStubbedBinaries(code int, names ...string) ConfigOption {
	return func(b *configBuilder) {
		binDir := filepath.Join(b.baseDir, "bin")
		for _, name := range names {
			WriteScript(b.t, filepath.Join(binDir, name), exitScript(code))
		}

		oldPath := os.Getenv("PATH")
		if err := os.Setenv("PATH", binDir+string(os.PathListSeparator)+oldPath); err != nil {
			b.t.Fatalf("set PATH: %v", err)
		}
		b.t.Cleanup(func() {
			_ = os.Setenv("PATH", oldPath)
		})
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Store.Root)
}

// WithMaxTasksPerWorker sets the per-worker task budget.
func WithMaxTasksPerWorker(n int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Hierarchy.MaxTasksPerWorker = n
	}
}
