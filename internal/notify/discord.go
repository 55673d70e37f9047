package notify

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/watzon/dbsentry/internal/scheduler"
)

// Discord posts embeds to a Discord webhook.
type Discord struct {
	client *http.Client
}

func NewDiscord(client *http.Client) *Discord {
	return &Discord{client: client}
}

type DiscordEmbed struct {
	Title       string       `json:"title"`
	Description string       `json:"description"`
	Color       int          `json:"color"`
	Fields      []EmbedField `json:"fields,omitempty"`
	Timestamp   string       `json:"timestamp,omitempty"`
	Footer      *EmbedFooter `json:"footer,omitempty"`
}

type EmbedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

type EmbedFooter struct {
	Text string `json:"text"`
}

type DiscordPayload struct {
	Content string         `json:"content,omitempty"`
	Embeds  []DiscordEmbed `json:"embeds,omitempty"`
}

func discordColor(l scheduler.NotificationLevel) int {
	switch l {
	case scheduler.LevelAlert:
		return 0xE01E5A
	case scheduler.LevelWarning:
		return 0xECB22E
	default:
		return 0x2EB67D
	}
}

func BuildDiscordPayload(n Notification, now time.Time) DiscordPayload {
	// Embed descriptions are capped at 4096 characters.
	body := truncate(n.Message, 3500, "\n\n*... (truncated)*")
	if body == "" {
		body = "*No details*"
	}

	fields := []EmbedField{{Name: "Level", Value: string(n.Level), Inline: true}}
	if n.Connection != nil {
		fields = append(fields, EmbedField{Name: "Connection", Value: fmt.Sprintf("`%s`", n.Connection.Name), Inline: true})
	}
	if n.Project != nil {
		fields = append(fields, EmbedField{Name: "Project", Value: n.Project.Name, Inline: true})
	}
	if n.Schedule != nil && n.Schedule.ExtraNotificationText != "" {
		fields = append(fields, EmbedField{Name: "Note", Value: truncate(n.Schedule.ExtraNotificationText, 1000, "..."), Inline: false})
	}

	return DiscordPayload{
		Embeds: []DiscordEmbed{{
			Title:       truncate(n.Title, 256, ""),
			Description: body,
			Color:       discordColor(n.Level),
			Fields:      fields,
			Timestamp:   now.UTC().Format(time.RFC3339),
			Footer:      &EmbedFooter{Text: footerText(n)},
		}},
	}
}

func (d *Discord) Send(ctx context.Context, webhookURL string, n Notification) error {
	return postJSON(ctx, d.client, webhookURL, BuildDiscordPayload(n, time.Now()))
}
