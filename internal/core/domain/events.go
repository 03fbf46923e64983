package domain

import "time"

const (
	EventTypeOrderCompleted = "order.completed"
	EventTypeInventoryAdded = "inventory.added"
)

// Event is a post-commit notification. Payloads never carry secrets.
type Event struct {
	ID         string         `json:"event_id"`
	Type       string         `json:"event_type"`
	Version    string         `json:"event_version"`
	OccurredAt time.Time      `json:"timestamp"`
	Payload    map[string]any `json:"payload"`
}
