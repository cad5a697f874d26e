package dispatcher

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"wisefido-notify/internal/models"
)

// webhookPayload is the JSON body posted to the webhook endpoint.
type webhookPayload struct {
	NotificationID string  `json:"notification_id"`
	IssueID        *string `json:"issue_id,omitempty"`
	RuleID         string  `json:"rule_id"`
	RecipientID    string  `json:"recipient_id"`
	Title          string  `json:"title"`
	Body           string  `json:"body"`
	CreatedAt      string  `json:"created_at"`
}

// WebhookSender posts WEBHOOK notifications to a configured endpoint.
type WebhookSender struct {
	url    string
	client *resty.Client
	logger *zap.Logger
}

// NewWebhookSender creates the webhook sender. An empty url disables the
// channel: every send fails with a clear cause.
func NewWebhookSender(url string, timeout time.Duration, logger *zap.Logger) *WebhookSender {
	client := resty.New().SetTimeout(timeout)
	return &WebhookSender{
		url:    url,
		client: client,
		logger: logger,
	}
}

// Name implements Sender.
func (s *WebhookSender) Name() string {
	return models.ChannelWebhook
}

// Send implements Sender.
func (s *WebhookSender) Send(ctx context.Context, delivery *models.Delivery) error {
	if s.url == "" {
		return fmt.Errorf("webhook endpoint not configured")
	}

	payload := webhookPayload{
		NotificationID: delivery.ID,
		IssueID:        delivery.IssueID,
		RuleID:         delivery.RuleID,
		RecipientID:    delivery.RecipientID,
		Title:          delivery.MessageTitle,
		Body:           delivery.MessageBody,
		CreatedAt:      delivery.CreatedAt.UTC().Format(time.RFC3339),
	}

	resp, err := s.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(payload).
		Post(s.url)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("webhook endpoint returned %s", resp.Status())
	}
	return nil
}
