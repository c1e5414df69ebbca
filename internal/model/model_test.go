package model

import (
	"testing"
	"time"
)

func TestParsePriorityFallsBackToMedium(t *testing.T) {
	t.Parallel()

	tests := map[string]Priority{
		"low":     PriorityLow,
		" HIGH ":  PriorityHigh,
		"Urgent":  PriorityUrgent,
		"MEDIUM":  PriorityMedium,
		"":        PriorityMedium,
		"extreme": PriorityMedium,
	}
	for in, want := range tests {
		if got := ParsePriority(in); got != want {
			t.Fatalf("ParsePriority(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestStatusTerminal(t *testing.T) {
	t.Parallel()

	for _, st := range []Status{StatusCompleted, StatusCancelled} {
		if !st.Terminal() {
			t.Fatalf("%s.Terminal() = false, want true", st)
		}
	}
	for _, st := range []Status{StatusPending, StatusInProgress} {
		if st.Terminal() {
			t.Fatalf("%s.Terminal() = true, want false", st)
		}
	}
	if _, ok := ParseStatus("done"); ok {
		t.Fatalf("ParseStatus(done) ok = true, want false")
	}
}

func TestDestinationRequiresEnabledAndAddress(t *testing.T) {
	t.Parallel()

	s := NotificationSettings{
		EmailEnabled:      true,
		EmailAddress:      "a@example.com",
		TelegramEnabled:   true,
		TelegramChatID:    "  ",
		DiscordEnabled:    false,
		DiscordWebhookURL: "https://discord.com/api/webhooks/1/x",
	}
	if dest, ok := s.Destination(ChannelEmail); !ok || dest != "a@example.com" {
		t.Fatalf("email = %q, %v", dest, ok)
	}
	if _, ok := s.Destination(ChannelTelegram); ok {
		t.Fatalf("telegram with blank chat id should not be attempted")
	}
	if _, ok := s.Destination(ChannelDiscord); ok {
		t.Fatalf("disabled discord should not be attempted")
	}
}

func TestReminderKindFireAt(t *testing.T) {
	t.Parallel()

	due := time.Date(2026, 3, 10, 15, 0, 0, 0, time.FixedZone("WIB", 7*3600))
	tests := []struct {
		kind ReminderKind
		want time.Time
	}{
		{Reminder24h, time.Date(2026, 3, 9, 8, 0, 0, 0, time.UTC)},
		{Reminder1h, time.Date(2026, 3, 10, 7, 0, 0, 0, time.UTC)},
		{ReminderAtDue, time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		if got := tt.kind.FireAt(due); !got.Equal(tt.want) || got.Location() != time.UTC {
			t.Fatalf("%s.FireAt() = %v, want %v", tt.kind, got, tt.want)
		}
	}

	off := NotificationSettings{}
	if Reminder24h.Enabled(off) || Reminder1h.Enabled(off) || !ReminderAtDue.Enabled(off) {
		t.Fatalf("only at_due should be enabled with all toggles off")
	}
	if _, err := ParseReminderKind("2hr"); err == nil {
		t.Fatalf("ParseReminderKind(2hr) err = nil, want error")
	}
}
