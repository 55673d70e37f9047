// Package connections stores projects and the PostgreSQL connections that
// schedules monitor.
package connections

import "time"

// Project groups connections and carries the project's alert channels.
type Project struct {
	ID                string
	Name              string
	OwnerID           string
	SlackWebhookURL   string
	DiscordWebhookURL string
	CreatedAt         time.Time
}

// Connection is a target PostgreSQL database.
type Connection struct {
	ID               string
	ProjectID        string
	Name             string
	ConnectionString string
	IsDefault        bool
	CreatedAt        time.Time
}
