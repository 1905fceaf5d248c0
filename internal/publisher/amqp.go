// Package publisher hands scheduled post content to the external publishing
// pipeline over RabbitMQ. The publish id returned to the scheduler is the
// permanent message identifier downstream consumers key on.
package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/cuongbtq/post-scheduler/internal/scheduler/domain"
	"github.com/cuongbtq/post-scheduler/shared/rabbitmq"
)

// MessagePublisher sends one message to the broker
type MessagePublisher interface {
	PublishWithRetry(ctx context.Context, msg rabbitmq.Message) error
}

// PublishRequest is the message body consumed by the platform gateway
type PublishRequest struct {
	PublishID    string    `json:"publish_id"`
	CredentialID string    `json:"credential_id"`
	OwnerID      string    `json:"owner_id"`
	AccessToken  string    `json:"access_token"`
	Content      string    `json:"content"`
	RequestedAt  time.Time `json:"requested_at"`
}

// AMQPPublisher implements scheduler.Publisher on top of a RabbitMQ client
type AMQPPublisher struct {
	broker MessagePublisher
	logger *slog.Logger
	now    func() time.Time
	newID  func() string
}

// NewAMQPPublisher creates a new AMQPPublisher
func NewAMQPPublisher(broker MessagePublisher, logger *slog.Logger) *AMQPPublisher {
	return &AMQPPublisher{
		broker: broker,
		logger: logger,
		now:    time.Now,
		newID:  uuid.NewString,
	}
}

// Publish enqueues content for the owner behind credential and returns the publish id
func (p *AMQPPublisher) Publish(ctx context.Context, content string, credential domain.Credential) (string, error) {
	if content == "" {
		return "", errors.New("content is empty")
	}

	if credential.ExpiresAt != nil && !credential.ExpiresAt.After(p.now()) {
		return "", fmt.Errorf("credential %s expired at %s", credential.ID, credential.ExpiresAt.UTC().Format(time.RFC3339))
	}

	req := PublishRequest{
		PublishID:    p.newID(),
		CredentialID: credential.ID,
		OwnerID:      credential.OwnerID,
		AccessToken:  credential.AccessToken,
		Content:      content,
		RequestedAt:  p.now().UTC(),
	}

	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("failed to marshal publish request: %w", err)
	}

	err = p.broker.PublishWithRetry(ctx, rabbitmq.Message{
		MessageID:   req.PublishID,
		ContentType: "application/json",
		Body:        body,
		Headers: map[string]interface{}{
			"owner_id":      req.OwnerID,
			"credential_id": req.CredentialID,
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to enqueue post for publishing: %w", err)
	}

	p.logger.Debug("Post enqueued for publishing",
		slog.String("publish_id", req.PublishID),
		slog.String("owner_id", req.OwnerID),
		slog.Int("content_length", len(content)),
	)

	return req.PublishID, nil
}
