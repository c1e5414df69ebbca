package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

type DiscordConfig struct {
	UserAgent string
}

// Discord posts an embed to a channel webhook.
type Discord struct {
	client *http.Client
	ua     string
	now    func() time.Time
}

const (
	discordColor       = 0x5865F2
	discordTitleMax    = 256
	discordDescMax     = 4096
	defaultDiscordUA   = "AuraTask (https://github.com/auratask, 1.0)"
	discordErrBodySize = 512
)

func NewDiscord(cfg DiscordConfig, client *http.Client) *Discord {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	ua := strings.TrimSpace(cfg.UserAgent)
	if ua == "" {
		ua = defaultDiscordUA
	}
	return &Discord{client: client, ua: ua, now: time.Now}
}

type discordEmbed struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Color       int    `json:"color"`
	Timestamp   string `json:"timestamp"`
}

type discordPayload struct {
	Embeds []discordEmbed `json:"embeds"`
}

func (d *Discord) Send(ctx context.Context, dest, subject, body string) error {
	u, err := url.Parse(strings.TrimSpace(dest))
	if err != nil || (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
		return permanentf("invalid discord webhook url")
	}

	payload, err := json.Marshal(discordPayload{Embeds: []discordEmbed{{
		Title:       truncateRunes(subject, discordTitleMax),
		Description: truncateRunes(body, discordDescMax),
		Color:       discordColor,
		Timestamp:   d.now().UTC().Format(time.RFC3339),
	}}})
	if err != nil {
		return Permanent(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(payload))
	if err != nil {
		return Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", d.ua)

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("discord webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 == 2 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, discordErrBodySize))
	err = fmt.Errorf("discord webhook: http %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	if resp.StatusCode/100 == 4 && resp.StatusCode != http.StatusTooManyRequests {
		return Permanent(err)
	}
	return err
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
