// Package discord implements a notifier.Notifier for Discord webhooks.
package discord

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Strob0t/ForgeTrack/internal/port/notifier"
)

const providerName = "discord"

// Discord limits embed descriptions to 4096 and field values to 1024 characters.
const (
	maxDescription = 4096
	maxFieldValue  = 1024
)

// Notifier posts alerts to a Discord webhook as a single embed.
type Notifier struct {
	webhookURL string
	httpClient *http.Client
}

// NewNotifier creates a Discord notifier with the given webhook URL.
func NewNotifier(webhookURL string) *Notifier {
	return &Notifier{
		webhookURL: webhookURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

func init() {
	notifier.Register(providerName, func(config map[string]string) (notifier.Notifier, error) {
		if config["webhook_url"] == "" {
			return nil, notifier.ErrNotConfigured
		}
		return NewNotifier(config["webhook_url"]), nil
	})
}

func (n *Notifier) Name() string { return providerName }

type discordWebhook struct {
	Embeds []discordEmbed `json:"embeds"`
}

type discordEmbed struct {
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Color       int            `json:"color"`
	Fields      []discordField `json:"fields,omitempty"`
	Footer      *discordFooter `json:"footer,omitempty"`
}

type discordField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

type discordFooter struct {
	Text string `json:"text"`
}

func (n *Notifier) Send(ctx context.Context, alert notifier.Alert) error {
	if n.webhookURL == "" {
		return notifier.ErrNotConfigured
	}

	body, err := json.Marshal(discordWebhook{Embeds: []discordEmbed{buildEmbed(alert)}})
	if err != nil {
		return fmt.Errorf("discord marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("discord request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req) //nolint:gosec // webhook URL from trusted config
	if err != nil {
		return fmt.Errorf("discord send: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	// Discord returns 204 on success
	if resp.StatusCode >= 400 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("discord API %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}
	return nil
}

func buildEmbed(alert notifier.Alert) discordEmbed {
	embed := discordEmbed{
		Title:       alert.Title,
		Description: truncate(alert.Message, maxDescription),
		Color:       levelColor(alert.Level),
	}
	for _, f := range alert.Fields {
		embed.Fields = append(embed.Fields, discordField{Name: f.Name, Value: truncate(f.Value, maxFieldValue), Inline: true})
	}
	if alert.Source != "" {
		embed.Footer = &discordFooter{Text: alert.Source}
	}
	return embed
}

func truncate(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit-1]) + "…"
}

// levelColor returns Discord embed color integers for alert levels.
func levelColor(level notifier.Level) int {
	switch level {
	case notifier.LevelError:
		return 0xE74C3C // red
	case notifier.LevelWarning:
		return 0xF39C12 // orange
	default:
		return 0x3498DB // blue
	}
}
