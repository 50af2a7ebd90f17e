package notify

import (
	"context"
	"net/http"
	"strings"
)

// Embed colours by event family.
const (
	colorCycle   = 0x2ECC71
	colorFailure = 0xE74C3C
	colorDefault = 0x3498DB
)

// DiscordSender delivers notifications as embeds via a Discord webhook.
type DiscordSender struct {
	webhookURL string
	username   string
	client     *http.Client
}

// NewDiscordSender creates a DiscordSender for the given webhook URL.
func NewDiscordSender(webhookURL, username string) *DiscordSender {
	return &DiscordSender{
		webhookURL: webhookURL,
		username:   username,
		client:     &http.Client{Timeout: defaultTimeout},
	}
}

type discordEmbed struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Color       int    `json:"color"`
	Footer      struct {
		Text string `json:"text"`
	} `json:"footer"`
}

type discordPayload struct {
	Username string         `json:"username,omitempty"`
	Embeds   []discordEmbed `json:"embeds"`
}

// Send posts the notification to the webhook. Discord replies 204 on success.
func (d *DiscordSender) Send(ctx context.Context, n Notification) error {
	embed := discordEmbed{
		Title:       n.Title,
		Description: n.Message,
		Color:       eventColor(n.Event),
	}
	embed.Footer.Text = n.Event
	return postJSON(ctx, d.client, "discord", d.webhookURL, discordPayload{
		Username: d.username,
		Embeds:   []discordEmbed{embed},
	})
}

// Name returns the sender identifier.
func (d *DiscordSender) Name() string {
	return "discord"
}

func eventColor(event string) int {
	switch {
	case strings.Contains(event, "failed"), strings.Contains(event, "rejected"):
		return colorFailure
	case strings.Contains(event, "cycled"):
		return colorCycle
	default:
		return colorDefault
	}
}
