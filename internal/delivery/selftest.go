package delivery

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"auratask/internal/model"
	logx "auratask/pkg/logx"
)

const (
	TestSubject        = "AuraTask Test Notification"
	DefaultTestMessage = "Hello from AuraTask! Your notifications are working."
)

var (
	ErrUnknownChannel       = errors.New("unknown channel")
	ErrChannelDisabled      = errors.New("channel notifications not enabled")
	ErrChannelNotConfigured = errors.New("channel destination not configured")
	ErrServerNotConfigured  = errors.New("channel not configured on server")
)

type SettingsStore interface {
	GetOrCreateSettings(ctx context.Context, userID int64) (model.NotificationSettings, error)
}

// Router is satisfied by *channel.Registry.
type Router interface {
	Sender
	Has(ch model.Channel) bool
}

// ChannelStatus reports whether one channel can deliver for a user.
type ChannelStatus struct {
	Channel     model.Channel `json:"name"`
	Enabled     bool          `json:"enabled"`
	Configured  bool          `json:"configured"`
	ServerReady bool          `json:"server_ready"`
}

// Ready is true when a reminder on this channel would be attempted and has a
// sender to go through.
func (c ChannelStatus) Ready() bool { return c.Enabled && c.Configured && c.ServerReady }

// TestResult describes a test send that passed the settings checks. A send
// error is reported here, not as an error return.
type TestResult struct {
	Channel model.Channel `json:"channel"`
	Success bool          `json:"success"`
	Message string        `json:"message"`
	SentTo  string        `json:"sent_to,omitempty"`
}

// Tester sends one-off test messages and reports per-channel readiness. It
// writes no notification logs.
type Tester struct {
	store  SettingsStore
	router Router
	log    logx.Logger
}

func NewTester(store SettingsStore, router Router, log logx.Logger) *Tester {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Tester{store: store, router: router, log: log.With(logx.Component("delivery"))}
}

// Channels returns the status of every channel in delivery order.
func (t *Tester) Channels(ctx context.Context, userID int64) ([]ChannelStatus, error) {
	ns, err := t.store.GetOrCreateSettings(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := make([]ChannelStatus, 0, len(model.Channels))
	for _, ch := range model.Channels {
		out = append(out, t.status(ns, ch))
	}
	return out, nil
}

func (t *Tester) status(ns model.NotificationSettings, ch model.Channel) ChannelStatus {
	st := ChannelStatus{Channel: ch, ServerReady: t.router.Has(ch)}
	switch ch {
	case model.ChannelEmail:
		st.Enabled, st.Configured = ns.EmailEnabled, strings.TrimSpace(ns.EmailAddress) != ""
	case model.ChannelTelegram:
		st.Enabled, st.Configured = ns.TelegramEnabled, strings.TrimSpace(ns.TelegramChatID) != ""
	case model.ChannelDiscord:
		st.Enabled, st.Configured = ns.DiscordEnabled, strings.TrimSpace(ns.DiscordWebhookURL) != ""
	}
	return st
}

// SendTest delivers msg (or DefaultTestMessage when blank) through ch to the
// user's configured destination. Settings problems are returned as errors
// wrapping ErrChannelDisabled, ErrChannelNotConfigured or
// ErrServerNotConfigured.
func (t *Tester) SendTest(ctx context.Context, userID int64, ch model.Channel, msg string) (TestResult, error) {
	if !slices.Contains(model.Channels, ch) {
		return TestResult{}, fmt.Errorf("%q: %w", ch, ErrUnknownChannel)
	}
	ns, err := t.store.GetOrCreateSettings(ctx, userID)
	if err != nil {
		return TestResult{}, err
	}
	st := t.status(ns, ch)
	switch {
	case !st.Enabled:
		return TestResult{}, fmt.Errorf("%s: %w", ch, ErrChannelDisabled)
	case !st.Configured:
		return TestResult{}, fmt.Errorf("%s: %w", ch, ErrChannelNotConfigured)
	case !st.ServerReady:
		return TestResult{}, fmt.Errorf("%s: %w", ch, ErrServerNotConfigured)
	}
	dest, _ := ns.Destination(ch)

	msg = strings.TrimSpace(msg)
	if msg == "" {
		msg = DefaultTestMessage
	}
	res := TestResult{Channel: ch, SentTo: sentTo(ch, dest)}
	if err := t.router.Send(ctx, ch, dest, TestSubject, testBody(ch, msg)); err != nil {
		t.log.Warn("test notification failed", logx.UserID(userID), logx.Channel(ch), logx.Err(err))
		res.Message = "Failed to send: " + err.Error()
		return res, nil
	}
	res.Success = true
	res.Message = "Test notification sent successfully!"
	return res, nil
}

func testBody(ch model.Channel, msg string) string {
	if ch == model.ChannelTelegram {
		return "<b>AuraTask Test</b>\n\n" + msg
	}
	return msg
}

// sentTo hides webhook secrets.
func sentTo(ch model.Channel, dest string) string {
	if ch == model.ChannelDiscord {
		return "Discord Webhook"
	}
	return dest
}
