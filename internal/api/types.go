package api

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// TaskView describes a task in a transport-friendly format.
type TaskView struct {
	ID             int64             `json:"id"`
	Class          string            `json:"class"`
	Layer          int               `json:"layer"`
	Title          string            `json:"title"`
	Description    string            `json:"description,omitempty"`
	Status         string            `json:"status"`
	Owner          string            `json:"owner,omitempty"`
	CreatedAt      string            `json:"createdAt,omitempty"`
	StartedAt      string            `json:"startedAt,omitempty"`
	CompletedAt    string            `json:"completedAt,omitempty"`
	RetryCount     int               `json:"retryCount"`
	MaxRetries     int               `json:"maxRetries"`
	LastError      string            `json:"lastError,omitempty"`
	Params         map[string]string `json:"params,omitempty"`
	ResultLocation string            `json:"resultLocation,omitempty"`
	QualityGated   bool              `json:"qualityGated"`
	ParentID       int64             `json:"parentId,omitempty"`
	Children       []int64           `json:"children,omitempty"`
}

// WorkerView describes a worker registry record.
type WorkerView struct {
	ID           string `json:"id"`
	Role         string `json:"role"`
	Layer        int    `json:"layer"`
	ParentID     string `json:"parentId,omitempty"`
	Position     int    `json:"position"`
	Status       string `json:"status"`
	CurrentTask  int64  `json:"currentTask,omitempty"`
	Stage        string `json:"stage,omitempty"`
	Completed    int    `json:"completed"`
	Failed       int    `json:"failed"`
	LastSeen     string `json:"lastSeen,omitempty"`
	LastError    string `json:"lastError,omitempty"`
	SessionID    string `json:"sessionId,omitempty"`
	OutputDir    string `json:"outputDir"`
	Unresponsive bool   `json:"unresponsive"`
}

// EventView describes one activity log entry.
type EventView struct {
	ID       int64  `json:"id"`
	At       string `json:"at"`
	Type     string `json:"type"`
	WorkerID string `json:"workerId,omitempty"`
	TaskID   int64  `json:"taskId,omitempty"`
	Detail   string `json:"detail,omitempty"`
}

// WorkerSummary counts workers by status.
type WorkerSummary struct {
	Total    int            `json:"total"`
	ByStatus map[string]int `json:"byStatus"`
}

// TaskSummary counts tasks by status.
type TaskSummary struct {
	Total             int            `json:"total"`
	ByStatus          map[string]int `json:"byStatus"`
	Done              int            `json:"done"`
	Outstanding       int            `json:"outstanding"`
	CompletionPercent float64        `json:"completionPercent"`
}

// SlotSummary reports capacity slot utilization. Tracked is false on
// backends without slot support.
type SlotSummary struct {
	Tracked bool `json:"tracked"`
	Used    int  `json:"used"`
	Total   int  `json:"total"`
}

// Dashboard is the aggregated fleet view.
type Dashboard struct {
	GeneratedAt  string        `json:"generatedAt"`
	Backend      string        `json:"backend"`
	Location     string        `json:"location"`
	Workers      WorkerSummary `json:"workers"`
	Tasks        TaskSummary   `json:"tasks"`
	Slots        SlotSummary   `json:"slots"`
	Unresponsive []string      `json:"unresponsive"`
}
