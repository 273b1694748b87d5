package fleet

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"hive/internal/config"
	"hive/internal/errs"
	"hive/internal/logging"
	"hive/internal/store"
	"hive/internal/storeaccess"
)

// ProvisionRequest asks for a new worker under ParentID at Layer. An empty
// Role takes the layer's configured role.
type ProvisionRequest struct {
	ParentID string
	Layer    int
	Role     string
}

// FormatWorkerID renders a worker sequence number as an id.
func FormatWorkerID(seq int64) string {
	return fmt.Sprintf("w-%04d", seq)
}

func violation(format string, args ...any) error {
	return errs.Wrap(ErrPolicyViolation, "provision", fmt.Sprintf(format, args...), nil)
}

// checkPolicy validates req against the hierarchy and returns the new
// worker's sibling position.
func checkPolicy(h config.Hierarchy, existing []store.Worker, req ProvisionRequest) (int, error) {
	if req.Layer < 0 {
		return 0, violation("layer %d is negative", req.Layer)
	}
	if depth := h.Depth(); req.Layer > depth {
		return 0, violation("layer %d exceeds max depth %d", req.Layer, depth)
	}

	active := 0
	for _, w := range existing {
		if !w.Status.Terminal() {
			active++
		}
	}
	if active >= h.MaxTotalInstances {
		return 0, violation("emergency brake: %d active workers (max %d)", active, h.MaxTotalInstances)
	}

	if req.Layer == 0 {
		if req.ParentID != "" {
			return 0, violation("layer 0 workers cannot have a parent")
		}
		return 1 + countSiblings(existing, ""), nil
	}

	if req.ParentID == "" {
		return 0, violation("layer %d workers need a parent", req.Layer)
	}
	var parent *store.Worker
	for i := range existing {
		if existing[i].ID == req.ParentID {
			parent = &existing[i]
			break
		}
	}
	if parent == nil {
		return 0, violation("parent %s does not exist", req.ParentID)
	}
	if parent.Status.Terminal() {
		return 0, violation("parent %s is %s", parent.ID, parent.Status)
	}
	if parent.Layer != req.Layer-1 {
		return 0, violation("parent %s is at layer %d, expected %d", parent.ID, parent.Layer, req.Layer-1)
	}
	policy, ok := h.Layer(parent.Layer)
	if !ok || !policy.CanDelegate {
		return 0, violation("layer %d cannot delegate", parent.Layer)
	}
	if policy.MaxSubordinates > 0 {
		subordinates := 0
		for _, w := range existing {
			if w.ParentID == parent.ID && !w.Status.Terminal() {
				subordinates++
			}
		}
		if subordinates >= policy.MaxSubordinates {
			return 0, violation("parent %s already has %d subordinates (max %d)", parent.ID, subordinates, policy.MaxSubordinates)
		}
	}
	return 1 + countSiblings(existing, parent.ID), nil
}

func countSiblings(existing []store.Worker, parentID string) int {
	n := 0
	for _, w := range existing {
		if w.ParentID == parentID {
			n++
		}
	}
	return n
}

// Provision registers a new queued worker and prepares its output area.
// Policy violations return ErrPolicyViolation and create nothing.
func (m *Manager) Provision(ctx context.Context, req ProvisionRequest) (store.Worker, error) {
	req.ParentID = strings.TrimSpace(req.ParentID)
	role := strings.TrimSpace(req.Role)
	if role == "" {
		role = m.cfg.Hierarchy.RoleFor(req.Layer, "worker")
	}

	worker, err := m.store.CreateWorker(ctx, func(existing []store.Worker, nextSeq int64) (store.Worker, error) {
		position, err := checkPolicy(m.cfg.Hierarchy, existing, req)
		if err != nil {
			return store.Worker{}, err
		}
		id := FormatWorkerID(nextSeq)
		return store.Worker{
			ID:        id,
			Seq:       nextSeq,
			Role:      role,
			Layer:     req.Layer,
			ParentID:  req.ParentID,
			Position:  position,
			Status:    store.WorkerQueued,
			CreatedAt: m.now(),
			OutputDir: filepath.Join(m.cfg.OutputRoot(), id),
		}, nil
	})
	if err != nil {
		logging.WarnWithContext(m.logger, "provisioning rejected", "provision_rejected",
			logging.Int("layer", req.Layer),
			logging.String("parent", req.ParentID),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check hierarchy limits in the config"),
			logging.String(logging.FieldImpact, "no worker was created"),
		)
		return store.Worker{}, err
	}

	if err := os.MkdirAll(worker.OutputDir, 0o755); err != nil {
		return worker, m.markProvisionError(ctx, worker, fmt.Errorf("create output dir: %w", err))
	}
	identity := Identity{
		WorkerID:   worker.ID,
		Role:       worker.Role,
		Layer:      worker.Layer,
		Parent:     worker.ParentID,
		OutputDir:  worker.OutputDir,
		ConfigPath: m.configPath,
		Store: IdentityStore{
			Backend:  m.cfg.Store.Backend,
			Root:     m.cfg.Store.Root,
			Location: storeaccess.Location(m.cfg),
		},
	}
	if err := WriteIdentity(m.IdentityPath(worker.ID), identity); err != nil {
		return worker, m.markProvisionError(ctx, worker, err)
	}

	m.record(ctx, EventWorkerProvisioned, worker.ID, fmt.Sprintf("layer %d role %s", worker.Layer, worker.Role))
	m.logger.Info("worker provisioned",
		logging.EventType(EventWorkerProvisioned),
		logging.WorkerID(worker.ID),
		logging.String("role", worker.Role),
		logging.Int("layer", worker.Layer),
		logging.String("parent", worker.ParentID),
		logging.Int("position", worker.Position),
	)
	return worker, nil
}

func (m *Manager) markProvisionError(ctx context.Context, worker store.Worker, cause error) error {
	if _, err := m.store.UpdateWorker(ctx, worker.ID, func(w *store.Worker) error {
		w.LastError = cause.Error()
		return nil
	}); err != nil {
		m.logger.Warn("record provisioning error failed", logging.WorkerID(worker.ID), logging.Error(err))
	}
	return fmt.Errorf("provision %s: %w", worker.ID, cause)
}
