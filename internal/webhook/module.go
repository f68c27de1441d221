package webhook

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/freeflowhq/billing-engine/internal/config"
	"github.com/freeflowhq/billing-engine/internal/domain/webhookendpoint"
	"github.com/freeflowhq/billing-engine/internal/logger"
	"github.com/freeflowhq/billing-engine/internal/webhook/payload"
	"go.uber.org/fx"
)

// Module wires the webhook pipeline: an in-process pub/sub, the event
// publisher used by services, and the handler that delivers to endpoints.
var Module = fx.Options(
	fx.Provide(
		NewPubSub,
		NewWebhookPublisher,
		NewDispatcher,
		payload.NewPayloadBuilderFactory,
		NewWebhookHandler,
	),
	fx.Invoke(RegisterHandler),
)

// PubSub bundles the in-process publisher and subscriber halves so fx can
// provide both from a single gochannel instance.
type PubSub struct {
	*gochannel.GoChannel
}

// NewPubSub creates the in-process event bus for webhook fan-out
func NewPubSub(cfg *config.Configuration, log *logger.Logger) *PubSub {
	return &PubSub{
		GoChannel: gochannel.NewGoChannel(
			gochannel.Config{
				OutputChannelBuffer: 512,
			},
			watermill.NopLogger{},
		),
	}
}

// NewWebhookPublisher exposes the publisher half for the service layer
func NewWebhookPublisher(ps *PubSub, cfg *config.Configuration, log *logger.Logger) Publisher {
	return NewPublisher(ps.GoChannel, cfg, log)
}

// NewWebhookHandler exposes the handler built on the subscriber half
func NewWebhookHandler(
	ps *PubSub,
	factory payload.PayloadBuilderFactory,
	repo webhookendpoint.Repository,
	dispatcher *Dispatcher,
	cfg *config.Configuration,
	log *logger.Logger,
) *Handler {
	return NewHandler(ps.GoChannel, factory, repo, dispatcher, cfg, log)
}

// RegisterHandler ties the handler's lifecycle to the application's
func RegisterHandler(lc fx.Lifecycle, handler *Handler, ps *PubSub) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return handler.Start(ctx)
		},
		OnStop: func(ctx context.Context) error {
			handler.Stop()
			return ps.GoChannel.Close()
		},
	})
}
