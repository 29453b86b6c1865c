package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskTypeAccessInvalidate fans a permission cache invalidation out to
	// every process through the queue.
	TaskTypeAccessInvalidate = "access:invalidate"
	// TaskTypeSecurityDigest refreshes periodic security posture metrics.
	TaskTypeSecurityDigest = "access:digest"
)

// InvalidatePayload carries the reason an invalidation was requested, for
// worker-side logging.
type InvalidatePayload struct {
	Reason string `json:"reason"`
}

// NewAccessInvalidateTask constructs an invalidation task.
func NewAccessInvalidateTask(payload InvalidatePayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeAccessInvalidate, data), nil
}

// NewSecurityDigestTask constructs a security digest task.
func NewSecurityDigestTask() *asynq.Task {
	return asynq.NewTask(TaskTypeSecurityDigest, nil)
}
