package webhook

import (
	"context"
	"sync"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/freeflowhq/billing-engine/internal/config"
	"github.com/freeflowhq/billing-engine/internal/domain/webhookendpoint"
	"github.com/freeflowhq/billing-engine/internal/logger"
	"github.com/freeflowhq/billing-engine/internal/types"
	"github.com/freeflowhq/billing-engine/internal/webhook/payload"
	"github.com/sourcegraph/conc/pool"
)

// Handler consumes published webhook events and fans each one out to every
// enabled endpoint subscribed to its event type. Endpoints are independent:
// one endpoint failing or throttling never delays another.
type Handler struct {
	subscriber message.Subscriber
	factory    payload.PayloadBuilderFactory
	repo       webhookendpoint.Repository
	dispatcher *Dispatcher
	cfg        config.WebhookConfig
	logger     *logger.Logger

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// NewHandler creates a webhook event handler
func NewHandler(
	subscriber message.Subscriber,
	factory payload.PayloadBuilderFactory,
	repo webhookendpoint.Repository,
	dispatcher *Dispatcher,
	cfg *config.Configuration,
	log *logger.Logger,
) *Handler {
	return &Handler{
		subscriber: subscriber,
		factory:    factory,
		repo:       repo,
		dispatcher: dispatcher,
		cfg:        cfg.Webhook,
		logger:     log,
	}
}

// Start subscribes to the webhook topic and launches the worker pool. It
// returns once the subscription is established; workers run until Stop.
func (h *Handler) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	h.cancel = cancel

	messages, err := h.subscriber.Subscribe(ctx, h.cfg.Topic)
	if err != nil {
		return err
	}

	workers := h.cfg.WorkerCount
	if workers <= 0 {
		workers = 1
	}

	h.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer h.wg.Done()
			for msg := range messages {
				h.handleMessage(ctx, msg)
			}
		}()
	}

	h.logger.Infow("webhook handler started",
		"topic", h.cfg.Topic,
		"workers", workers)
	return nil
}

// Stop cancels the subscription and waits for in-flight deliveries
func (h *Handler) Stop() {
	if h.cancel != nil {
		h.cancel()
	}
	h.wg.Wait()
}

func (h *Handler) handleMessage(ctx context.Context, msg *message.Message) {
	// Delivery retries are the dispatcher's job; the message itself is
	// consumed exactly once regardless of outcome.
	defer msg.Ack()

	var event types.WebhookEvent
	if err := json.Unmarshal(msg.Payload, &event); err != nil {
		h.logger.Errorw("failed to decode webhook event",
			"message_id", msg.UUID, "error", err)
		return
	}

	ctx = types.SetTenantID(ctx, event.TenantID)
	ctx = types.SetEnvironmentID(ctx, event.EnvironmentID)

	if err := h.process(ctx, &event); err != nil {
		h.logger.Errorw("failed to process webhook event",
			"event_id", event.ID,
			"event_type", event.EventType,
			"error", err)
	}
}

func (h *Handler) process(ctx context.Context, event *types.WebhookEvent) error {
	builder, err := h.factory.GetPayloadBuilder(event.EventType)
	if err != nil {
		return err
	}

	body, err := builder.BuildPayload(ctx, event.EventType, event.Payload)
	if err != nil {
		return err
	}

	endpoints, err := h.repo.ListEnabledForEvent(ctx, event.EventType)
	if err != nil {
		return err
	}
	if len(endpoints) == 0 {
		h.logger.Debugw("no endpoints subscribed to event",
			"event_type", event.EventType,
			"event_id", event.ID)
		return nil
	}

	p := pool.New().WithContext(ctx)
	for _, endpoint := range endpoints {
		endpoint := endpoint
		p.Go(func(ctx context.Context) error {
			// errors are terminal per endpoint and already logged by
			// the dispatcher; they must not abort sibling deliveries
			_ = h.dispatcher.Deliver(ctx, endpoint, event, body)
			return nil
		})
	}
	return p.Wait()
}
