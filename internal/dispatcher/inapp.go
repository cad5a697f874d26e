package dispatcher

import (
	"context"

	"wisefido-notify/internal/models"
)

// InAppSender handles the IN_APP channel. The notification row itself is
// the delivery; the inbox reads it once it reaches SENT.
type InAppSender struct{}

// NewInAppSender creates the in-app sender.
func NewInAppSender() *InAppSender {
	return &InAppSender{}
}

// Name implements Sender.
func (s *InAppSender) Name() string {
	return models.ChannelInApp
}

// Send implements Sender. Always succeeds.
func (s *InAppSender) Send(ctx context.Context, delivery *models.Delivery) error {
	return nil
}
