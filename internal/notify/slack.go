package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/watzon/dbsentry/internal/scheduler"
)

// Slack posts Block Kit messages to an incoming webhook.
type Slack struct {
	client *http.Client
}

func NewSlack(client *http.Client) *Slack {
	return &Slack{client: client}
}

// SlackBlock represents a Slack Block Kit block
type SlackBlock struct {
	Type     string         `json:"type"`
	Text     *SlackTextObj  `json:"text,omitempty"`
	Fields   []SlackTextObj `json:"fields,omitempty"`
	Elements []SlackTextObj `json:"elements,omitempty"`
}

type SlackTextObj struct {
	Type  string `json:"type"`
	Text  string `json:"text"`
	Emoji bool   `json:"emoji,omitempty"`
}

// SlackAttachment carries the colored sidebar.
type SlackAttachment struct {
	Color  string       `json:"color"`
	Blocks []SlackBlock `json:"blocks"`
}

type SlackPayload struct {
	Text        string            `json:"text,omitempty"`
	Attachments []SlackAttachment `json:"attachments,omitempty"`
}

func slackColor(l scheduler.NotificationLevel) string {
	switch l {
	case scheduler.LevelAlert:
		return "#E01E5A"
	case scheduler.LevelWarning:
		return "#ECB22E"
	default:
		return "#2EB67D"
	}
}

func BuildSlackPayload(n Notification) SlackPayload {
	body := truncate(convertToSlackMarkdown(n.Message), 2500, "\n... _(truncated)_")
	if body == "" {
		body = "_No details_"
	}

	var fields []SlackTextObj
	fields = append(fields, SlackTextObj{Type: "mrkdwn", Text: fmt.Sprintf("*Level:*\n%s", n.Level)})
	if n.Connection != nil {
		fields = append(fields, SlackTextObj{Type: "mrkdwn", Text: fmt.Sprintf("*Connection:*\n`%s`", n.Connection.Name)})
	}
	if n.Project != nil {
		fields = append(fields, SlackTextObj{Type: "mrkdwn", Text: fmt.Sprintf("*Project:*\n%s", n.Project.Name)})
	}
	if n.Schedule != nil {
		fields = append(fields, SlackTextObj{Type: "mrkdwn", Text: fmt.Sprintf("*Playbook:*\n%s", n.Schedule.Playbook)})
	}

	blocks := []SlackBlock{
		{
			Type: "header",
			Text: &SlackTextObj{
				Type:  "plain_text",
				Text:  truncate(n.Title, 140, "..."),
				Emoji: true,
			},
		},
		{Type: "section", Fields: fields},
		{Type: "divider"},
		{Type: "section", Text: &SlackTextObj{Type: "mrkdwn", Text: body}},
	}

	if n.Schedule != nil && n.Schedule.ExtraNotificationText != "" {
		blocks = append(blocks, SlackBlock{
			Type: "section",
			Text: &SlackTextObj{Type: "mrkdwn", Text: convertToSlackMarkdown(n.Schedule.ExtraNotificationText)},
		})
	}

	blocks = append(blocks, SlackBlock{
		Type:     "context",
		Elements: []SlackTextObj{{Type: "mrkdwn", Text: footerText(n)}},
	})

	return SlackPayload{
		Text: fmt.Sprintf("%s %s", levelEmoji(n.Level), n.Title),
		Attachments: []SlackAttachment{
			{Color: slackColor(n.Level), Blocks: blocks},
		},
	}
}

func (s *Slack) Send(ctx context.Context, webhookURL string, n Notification) error {
	return postJSON(ctx, s.client, webhookURL, BuildSlackPayload(n))
}

// convertToSlackMarkdown rewrites common markdown into Slack mrkdwn: bold
// markers, links and headers. Code blocks are left untouched.
func convertToSlackMarkdown(text string) string {
	lines := strings.Split(text, "\n")
	inCodeBlock := false
	for i, line := range lines {
		if strings.HasPrefix(line, "```") {
			inCodeBlock = !inCodeBlock
			continue
		}
		if inCodeBlock {
			continue
		}

		for strings.Contains(lines[i], "**") {
			lines[i] = strings.Replace(lines[i], "**", "*", 2)
		}

		for {
			start := strings.Index(lines[i], "[")
			if start == -1 {
				break
			}
			end := strings.Index(lines[i][start:], "](")
			if end == -1 {
				break
			}
			end += start
			urlEnd := strings.Index(lines[i][end+2:], ")")
			if urlEnd == -1 {
				break
			}
			urlEnd += end + 2

			linkText := lines[i][start+1 : end]
			linkURL := lines[i][end+2 : urlEnd]
			lines[i] = lines[i][:start] + fmt.Sprintf("<%s|%s>", linkURL, linkText) + lines[i][urlEnd+1:]
		}

		if trimmed := strings.TrimSpace(lines[i]); strings.HasPrefix(trimmed, "#") {
			lines[i] = "*" + strings.TrimLeft(trimmed, "# ") + "*"
		}
	}

	return strings.Join(lines, "\n")
}

func postJSON(ctx context.Context, client *http.Client, url string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("sending webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{Code: resp.StatusCode}
	}

	return nil
}
