// Package task defines the Task domain entity and its tracked fields.
package task

import "time"

// Field names tracked for outbound change notifications.
const (
	FieldName        = "name"
	FieldAssignee    = "assignee"
	FieldStage       = "stage"
	FieldPriority    = "priority"
	FieldDeadline    = "deadline"
	FieldDescription = "description"
)

// Changes maps a tracked field name to its new value.
type Changes map[string]string

// Task is a task-domain entity synchronized with a chat thread.
type Task struct {
	ID          int64      `json:"id"`
	ProjectID   int64      `json:"project_id"`
	Name        string     `json:"name"`
	Assignee    string     `json:"assignee,omitempty"`
	Stage       string     `json:"stage,omitempty"`
	Priority    string     `json:"priority,omitempty"`
	Deadline    *time.Time `json:"deadline,omitempty"`
	Description string     `json:"description,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// CurrentState returns the task's full tracked state as a change set,
// used for manual resync pushes.
func (t *Task) CurrentState() Changes {
	c := Changes{
		FieldName:        t.Name,
		FieldAssignee:    t.Assignee,
		FieldStage:       t.Stage,
		FieldPriority:    t.Priority,
		FieldDescription: t.Description,
	}
	if t.Deadline != nil {
		c[FieldDeadline] = t.Deadline.Format("2006-01-02")
	}
	return c
}

// Comment is a chat message mirrored into a task's activity log.
// ProviderEventID keys the comment so reapplying the same inbound
// event cannot duplicate it.
type Comment struct {
	ID              int64     `json:"id"`
	TaskID          int64     `json:"task_id"`
	ProviderEventID string    `json:"provider_event_id"`
	Author          string    `json:"author,omitempty"`
	Body            string    `json:"body"`
	PostedAt        time.Time `json:"posted_at"`
}
