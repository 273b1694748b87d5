package fleet

// Event types appended to the store's event log.
const (
	EventWorkerProvisioned  = "worker_provisioned"
	EventWorkerSpawned      = "worker_spawned"
	EventSpawnFailed        = "spawn_failed"
	EventWorkerFinished     = "worker_finished"
	EventWorkerUnresponsive = "worker_unresponsive"
	EventWorkerRestarted    = "worker_restarted"
	EventRestartFailed      = "restart_failed"
	EventSessionStopped     = "session_stopped"
)

// AlertRestartExhausted tags the operator alert raised when the automatic
// restart of an unresponsive worker fails.
const AlertRestartExhausted = "worker_restart_exhausted"
