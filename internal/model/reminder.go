package model

import (
	"fmt"
	"time"
)

// ReminderKind is one of the three fixed notification offsets per task.
type ReminderKind string

const (
	Reminder24h   ReminderKind = "24hr"
	Reminder1h    ReminderKind = "1hr"
	ReminderAtDue ReminderKind = "at_due"
)

// ReminderKinds lists every kind in chronological order of firing.
var ReminderKinds = []ReminderKind{Reminder24h, Reminder1h, ReminderAtDue}

func ParseReminderKind(s string) (ReminderKind, error) {
	switch k := ReminderKind(s); k {
	case Reminder24h, Reminder1h, ReminderAtDue:
		return k, nil
	default:
		return "", fmt.Errorf("unknown reminder kind %q", s)
	}
}

// Offset is how long before the due date the reminder fires.
func (k ReminderKind) Offset() time.Duration {
	switch k {
	case Reminder24h:
		return 24 * time.Hour
	case Reminder1h:
		return time.Hour
	default:
		return 0
	}
}

// FireAt returns the trigger instant for a task due at due.
func (k ReminderKind) FireAt(due time.Time) time.Time {
	return due.UTC().Add(-k.Offset())
}

// Enabled reports whether settings allow this reminder. AT_DUE is always on.
func (k ReminderKind) Enabled(s NotificationSettings) bool {
	switch k {
	case Reminder24h:
		return s.Notify24hBefore
	case Reminder1h:
		return s.Notify1hBefore
	default:
		return true
	}
}

// Label is the upper-case form used in logs and messages.
func (k ReminderKind) Label() string {
	switch k {
	case Reminder24h:
		return "24_HOUR"
	case Reminder1h:
		return "1_HOUR"
	default:
		return "AT_DUE"
	}
}
