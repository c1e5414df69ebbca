package delivery

import (
	"strings"

	"auratask/internal/model"
)

const (
	subjectTitleMax = 50
	dueLayout       = "Jan 02, 2006 at 03:04 PM"
)

// Message is the channel-agnostic reminder text.
type Message struct {
	Subject string
	Body    string
}

func subjectPrefix(kind model.ReminderKind) string {
	switch kind {
	case model.Reminder24h:
		return "Task due in 24 hours: "
	case model.Reminder1h:
		return "Task due in 1 hour: "
	default:
		return "Task due now: "
	}
}

// BuildMessage renders the reminder for t.
func BuildMessage(t model.Task, kind model.ReminderKind) Message {
	title := []rune(t.Title)
	if len(title) > subjectTitleMax {
		title = title[:subjectTitleMax]
	}
	desc := strings.TrimSpace(t.Description)
	if desc == "" {
		desc = "No description provided."
	}

	var b strings.Builder
	b.WriteString("Task Reminder from AuraTask\n\n")
	b.WriteString("Task: " + t.Title + "\n")
	b.WriteString("Due: " + t.DueDate.UTC().Format(dueLayout) + " UTC\n")
	b.WriteString("Priority: " + string(model.ParsePriority(string(t.Priority))) + "\n\n")
	b.WriteString(desc + "\n\n")
	b.WriteString("---\nLog in to AuraTask to manage your tasks.")

	return Message{Subject: subjectPrefix(kind) + string(title), Body: b.String()}
}
