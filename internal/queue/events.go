package queue

// Event types appended to the store's event log.
const (
	EventTaskCreated    = "task_created"
	EventTaskClaimed    = "task_claimed"
	EventTaskCompleted  = "task_completed"
	EventTaskFailed     = "task_failed"
	EventTaskReleased   = "task_released"
	EventTaskDecomposed = "task_decomposed"
	EventAuditStarted   = "audit_started"
	EventAuditPassed    = "audit_passed"
	EventAuditFailed    = "audit_failed"
	EventTaskRequeued   = "task_requeued"
	EventTaskRolledUp   = "task_rolled_up"
)
