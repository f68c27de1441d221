package webhook

import (
	"context"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/freeflowhq/billing-engine/internal/config"
	ierr "github.com/freeflowhq/billing-engine/internal/errors"
	"github.com/freeflowhq/billing-engine/internal/logger"
	"github.com/freeflowhq/billing-engine/internal/types"
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Publisher hands lifecycle events to the webhook pipeline. Publish must
// never block the state transition that produced the event; delivery happens
// asynchronously off the critical path.
type Publisher interface {
	Publish(ctx context.Context, event *types.WebhookEvent) error
}

type publisher struct {
	pub    message.Publisher
	topic  string
	logger *logger.Logger
}

// NewPublisher creates a webhook event publisher on the given pub/sub
func NewPublisher(pub message.Publisher, cfg *config.Configuration, log *logger.Logger) Publisher {
	return &publisher{
		pub:    pub,
		topic:  cfg.Webhook.Topic,
		logger: log,
	}
}

func (p *publisher) Publish(ctx context.Context, event *types.WebhookEvent) error {
	if event.ID == "" {
		event.ID = types.GenerateUUIDWithPrefix(types.UUID_PREFIX_WEBHOOK_EVENT)
	}
	if event.TenantID == "" {
		event.TenantID = types.GetTenantID(ctx)
	}
	if event.EnvironmentID == "" {
		event.EnvironmentID = types.GetEnvironmentID(ctx)
	}

	body, err := json.Marshal(event)
	if err != nil {
		return ierr.WithError(err).
			WithHint("Failed to encode webhook event").
			Mark(ierr.ErrInternal)
	}

	msg := message.NewMessage(event.ID, body)
	msg.Metadata.Set("event_type", event.EventType)

	if err := p.pub.Publish(p.topic, msg); err != nil {
		return ierr.WithError(err).
			WithHint("Failed to publish webhook event").
			WithReportableDetails(map[string]interface{}{
				"event_id":   event.ID,
				"event_type": event.EventType,
			}).
			Mark(ierr.ErrInternal)
	}

	p.logger.Debugw("published webhook event",
		"event_id", event.ID,
		"event_type", event.EventType,
		"entity_id", event.EntityID)
	return nil
}
