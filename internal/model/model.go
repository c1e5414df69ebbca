// Package model holds the task, settings and notification log records shared
// by the scheduler, the delivery handler and the store.
package model

import (
	"strings"
	"time"
)

type Priority string

const (
	PriorityLow    Priority = "LOW"
	PriorityMedium Priority = "MEDIUM"
	PriorityHigh   Priority = "HIGH"
	PriorityUrgent Priority = "URGENT"
)

// ParsePriority never fails: unknown input yields MEDIUM.
func ParsePriority(s string) Priority {
	switch p := Priority(strings.ToUpper(strings.TrimSpace(s))); p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
		return p
	default:
		return PriorityMedium
	}
}

type Status string

const (
	StatusPending    Status = "PENDING"
	StatusInProgress Status = "IN_PROGRESS"
	StatusCompleted  Status = "COMPLETED"
	StatusCancelled  Status = "CANCELLED"
)

func ParseStatus(s string) (Status, bool) {
	switch st := Status(strings.ToUpper(strings.TrimSpace(s))); st {
	case StatusPending, StatusInProgress, StatusCompleted, StatusCancelled:
		return st, true
	default:
		return "", false
	}
}

// Terminal reports whether no further scoring or notification happens for the status.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

type Task struct {
	ID           int64
	UserID       int64
	Title        string
	Description  string
	Priority     Priority
	Status       Status
	DueDate      time.Time
	SnoozedUntil *time.Time
	UrgencyScore float64
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Snoozed reports whether delivery is suppressed at now.
func (t Task) Snoozed(now time.Time) bool {
	return t.SnoozedUntil != nil && now.Before(*t.SnoozedUntil)
}

type Subtask struct {
	ID        int64
	TaskID    int64
	Title     string
	Completed bool
	Order     int
}

// NotificationSettings are per-user channel preferences.
type NotificationSettings struct {
	UserID int64

	EmailEnabled bool
	EmailAddress string

	TelegramEnabled bool
	TelegramChatID  string

	DiscordEnabled    bool
	DiscordWebhookURL string

	Notify1hBefore  bool
	Notify24hBefore bool
}

// DefaultSettings is what a user gets on first access.
func DefaultSettings(userID int64) NotificationSettings {
	return NotificationSettings{
		UserID:          userID,
		EmailEnabled:    true,
		Notify1hBefore:  true,
		Notify24hBefore: true,
	}
}

type Channel string

const (
	ChannelEmail    Channel = "EMAIL"
	ChannelTelegram Channel = "TELEGRAM"
	ChannelDiscord  Channel = "DISCORD"
)

// Channels lists every channel in delivery order.
var Channels = []Channel{ChannelEmail, ChannelTelegram, ChannelDiscord}

// Destination returns the configured address for ch and whether the channel
// should be attempted at all (enabled and configured).
func (s NotificationSettings) Destination(ch Channel) (string, bool) {
	var enabled bool
	var dest string
	switch ch {
	case ChannelEmail:
		enabled, dest = s.EmailEnabled, s.EmailAddress
	case ChannelTelegram:
		enabled, dest = s.TelegramEnabled, s.TelegramChatID
	case ChannelDiscord:
		enabled, dest = s.DiscordEnabled, s.DiscordWebhookURL
	}
	dest = strings.TrimSpace(dest)
	return dest, enabled && dest != ""
}

type LogStatus string

const (
	LogPending   LogStatus = "PENDING"
	LogSent      LogStatus = "SENT"
	LogFailed    LogStatus = "FAILED"
	LogCancelled LogStatus = "CANCELLED"
)

// NotificationLog is one row per delivery attempt on one channel.
type NotificationLog struct {
	ID           int64
	TaskID       int64
	Channel      Channel
	Status       LogStatus
	ReminderKind ReminderKind
	ScheduledFor time.Time
	SentAt       *time.Time
	ErrorMessage string
	CreatedAt    time.Time
}
