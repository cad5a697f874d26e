package dispatcher

import (
	"context"

	"wisefido-notify/internal/models"
)

// Sender delivers one claimed notification on one channel. New channels
// plug in here; the dispatcher's control flow never changes.
type Sender interface {
	// Name returns the channel identifier this sender handles
	// (IN_APP, EMAIL, WEBHOOK, ...).
	Name() string

	// Send delivers the notification or returns the concrete cause of
	// failure.
	Send(ctx context.Context, delivery *models.Delivery) error
}

// SenderRegistry maps channel identifiers to senders.
type SenderRegistry map[string]Sender

// NewSenderRegistry builds a registry from the given senders.
func NewSenderRegistry(senders ...Sender) SenderRegistry {
	registry := make(SenderRegistry, len(senders))
	for _, s := range senders {
		registry[s.Name()] = s
	}
	return registry
}
