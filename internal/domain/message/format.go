package message

import (
	"fmt"
	"strings"

	"github.com/syncforge/chatbridge/internal/domain/task"
)

// labeledField pairs a tracked field name with its display label.
// Output order follows this list, never the iteration order of the
// incoming change map.
type labeledField struct {
	field string
	label string
}

// trackedFields is the fixed allow-list of user-meaningful fields.
var trackedFields = []labeledField{
	{task.FieldName, "Name"},
	{task.FieldAssignee, "Assignee"},
	{task.FieldStage, "Stage"},
	{task.FieldPriority, "Priority"},
	{task.FieldDeadline, "Deadline"},
	{task.FieldDescription, "Description"},
}

// Format renders a task change set as a chat message payload.
// Fields outside the allow-list are silently dropped. ok is false when
// no tracked field changed; that is an expected outcome, not an error.
func Format(t *task.Task, changes task.Changes) (Payload, bool) {
	var lines []string
	for _, f := range trackedFields {
		value, present := changes[f.field]
		if !present {
			continue
		}
		lines = append(lines, fmt.Sprintf("• %s: %s", f.label, value))
	}
	if len(lines) == 0 {
		return Payload{}, false
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Task updated: %s\n", t.Name)
	b.WriteString(strings.Join(lines, "\n"))
	return Payload{Text: b.String()}, true
}

// FormatState renders a task's full tracked state as a card payload,
// used for manual resync pushes.
func FormatState(t *task.Task) Payload {
	state := t.CurrentState()
	card := &Card{Title: fmt.Sprintf("Task: %s", t.Name)}
	for _, f := range trackedFields {
		value := state[f.field]
		if value == "" {
			continue
		}
		card.Widgets = append(card.Widgets, KeyValue{Label: f.label, Value: value})
	}
	return Payload{Card: card}
}
