// Package mapping defines the durable identity mappings between
// task-domain entities and chat-domain entities.
package mapping

import (
	"strconv"
	"time"
)

// SpaceMapping links a project to a chat space within a company.
// (project_id, company_id) is unique; space_id is unique per company.
type SpaceMapping struct {
	ProjectID   int64     `json:"project_id"`
	SpaceID     string    `json:"space_id"`
	CompanyID   int64     `json:"company_id"`
	DisplayName string    `json:"display_name,omitempty"`
	LinkedAt    time.Time `json:"linked_at"`
}

// ThreadMapping links a task to a chat thread. thread_key is derived,
// not allocated, so the outbound and inbound paths can compute it
// independently without coordinating.
type ThreadMapping struct {
	TaskID    int64     `json:"task_id"`
	ThreadKey string    `json:"thread_key"`
	SpaceID   string    `json:"space_id"`
	CreatedAt time.Time `json:"created_at"`
}

// ThreadKeyForTask returns the deterministic thread key for a task.
// The key is a stable function of the task id alone and can be
// recomputed without a round trip.
func ThreadKeyForTask(taskID int64) string {
	return strconv.FormatInt(taskID, 10)
}

// TaskIDForThreadKey is the inverse of ThreadKeyForTask. ok is false
// when the key was not produced by this derivation.
func TaskIDForThreadKey(threadKey string) (int64, bool) {
	id, err := strconv.ParseInt(threadKey, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}
