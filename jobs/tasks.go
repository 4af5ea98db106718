package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskGrantsChanged follows a membership grant change with auditing and
	// a repeated invalidation broadcast.
	TaskGrantsChanged = "permissions:grants_changed"
	// TaskCatalogWarmup bumps and reloads the cached permission catalog.
	TaskCatalogWarmup = "permissions:catalog_warmup"
)

// GrantsChangedPayload describes a persisted grant change.
type GrantsChangedPayload struct {
	ActorID    int64     `json:"actor_id"`
	IdentityID int64     `json:"identity_id"`
	AccountID  int64     `json:"account_id"`
	Added      []string  `json:"added"`
	Removed    []string  `json:"removed"`
	Note       string    `json:"note,omitempty"`
	ChangedAt  time.Time `json:"changed_at"`
}

// NewGrantsChangedTask constructs an Asynq task.
func NewGrantsChangedTask(payload GrantsChangedPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskGrantsChanged, data, asynq.MaxRetry(5)), nil
}

// CatalogWarmupPayload optionally names who requested the warmup.
type CatalogWarmupPayload struct {
	RequestedBy string `json:"requested_by,omitempty"`
}

// NewCatalogWarmupTask constructs an Asynq task.
func NewCatalogWarmupTask(payload CatalogWarmupPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskCatalogWarmup, data, asynq.MaxRetry(2)), nil
}
