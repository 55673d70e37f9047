package notify

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/watzon/dbsentry/internal/config"
	"github.com/watzon/dbsentry/internal/metrics"
)

// Dispatcher fans a notification out to every channel configured for the
// schedule's project. Project webhooks take precedence over the global ones.
type Dispatcher struct {
	slack   *Slack
	discord *Discord
	cfg     config.NotificationsConfig
	retry   RetryConfig
}

func NewDispatcher(cfg config.NotificationsConfig) *Dispatcher {
	client := &http.Client{Timeout: cfg.Timeout}
	retry := DefaultRetryConfig()
	if cfg.MaxAttempts > 0 {
		retry.MaxAttempts = cfg.MaxAttempts
	}
	if cfg.BaseDelay > 0 {
		retry.BaseDelay = cfg.BaseDelay
	}
	return &Dispatcher{
		slack:   NewSlack(client),
		discord: NewDiscord(client),
		cfg:     cfg,
		retry:   retry,
	}
}

type channel struct {
	name string
	url  string
	send func(ctx context.Context, url string, n Notification) error
}

func (d *Dispatcher) channels(n Notification) []channel {
	slackURL, discordURL := d.cfg.SlackWebhookURL, d.cfg.DiscordWebhookURL
	if n.Project != nil {
		if n.Project.SlackWebhookURL != "" {
			slackURL = n.Project.SlackWebhookURL
		}
		if n.Project.DiscordWebhookURL != "" {
			discordURL = n.Project.DiscordWebhookURL
		}
	}

	var out []channel
	if slackURL != "" {
		out = append(out, channel{name: "slack", url: slackURL, send: d.slack.Send})
	}
	if discordURL != "" {
		out = append(out, channel{name: "discord", url: discordURL, send: d.discord.Send})
	}
	return out
}

// Notify delivers n to each configured channel. A notification with no
// channel is logged and dropped.
func (d *Dispatcher) Notify(ctx context.Context, n Notification) error {
	chans := d.channels(n)
	if len(chans) == 0 {
		log.Warn().
			Str("level", string(n.Level)).
			Str("title", n.Title).
			Msg("No notification channel configured, dropping notification")
		return nil
	}

	var errs []error
	for _, ch := range chans {
		err := d.retry.deliver(ctx, ch.name, func(ctx context.Context) error {
			return ch.send(ctx, ch.url, n)
		})
		if err != nil {
			metrics.RecordNotification(ch.name, "failed")
			errs = append(errs, fmt.Errorf("%s: %w", ch.name, err))
			continue
		}
		metrics.RecordNotification(ch.name, "sent")
		log.Debug().Str("sink", ch.name).Str("level", string(n.Level)).Msg("Notification delivered")
	}

	return errors.Join(errs...)
}
