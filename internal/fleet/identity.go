package fleet

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"
)

// IdentityFileName is written into every worker's output area.
const IdentityFileName = "worker.toml"

// Identity tells a launched worker who it is and where the store lives.
type Identity struct {
	WorkerID   string        `toml:"worker_id"`
	Role       string        `toml:"role"`
	Layer      int           `toml:"layer"`
	Parent     string        `toml:"parent,omitempty"`
	OutputDir  string        `toml:"output_dir"`
	ConfigPath string        `toml:"config_path,omitempty"`
	Store      IdentityStore `toml:"store"`
}

// IdentityStore locates the shared durable store.
type IdentityStore struct {
	Backend  string `toml:"backend"`
	Root     string `toml:"root"`
	Location string `toml:"location"`
}

// WriteIdentity encodes id as TOML at path.
func WriteIdentity(path string, id Identity) error {
	var buf bytes.Buffer
	enc := toml.NewEncoder(&buf)
	enc.SetIndentTables(true)
	if err := enc.Encode(id); err != nil {
		return fmt.Errorf("encode identity: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write identity: %w", err)
	}
	return nil
}

// ReadIdentity decodes the identity document at path.
func ReadIdentity(path string) (Identity, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Identity{}, fmt.Errorf("read identity: %w", err)
	}
	var id Identity
	if err := toml.Unmarshal(data, &id); err != nil {
		return Identity{}, fmt.Errorf("parse identity %s: %w", path, err)
	}
	if id.WorkerID == "" {
		return Identity{}, fmt.Errorf("identity %s: worker_id is empty", path)
	}
	return id, nil
}
