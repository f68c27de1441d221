package payload

import (
	"context"
	"encoding/json"
	"strings"

	ierr "github.com/freeflowhq/billing-engine/internal/errors"
)

// PayloadBuilder builds webhook payloads for a family of events
type PayloadBuilder interface {
	BuildPayload(ctx context.Context, eventType string, data json.RawMessage) (json.RawMessage, error)
}

// PayloadBuilderFactory returns the builder for a given event type
type PayloadBuilderFactory interface {
	GetPayloadBuilder(eventType string) (PayloadBuilder, error)
}

type payloadBuilderFactory struct {
	builders map[string]PayloadBuilder
}

// NewPayloadBuilderFactory creates a factory with builders registered per
// event family (the segment before the first dot).
func NewPayloadBuilderFactory() PayloadBuilderFactory {
	return &payloadBuilderFactory{
		builders: map[string]PayloadBuilder{
			"subscription": NewSubscriptionPayloadBuilder(),
			"invoice":      NewInvoicePayloadBuilder(),
		},
	}
}

func (f *payloadBuilderFactory) GetPayloadBuilder(eventType string) (PayloadBuilder, error) {
	family, _, found := strings.Cut(eventType, ".")
	if !found {
		return nil, ierr.NewError("invalid event type").
			WithHint("Event type must be of the form <family>.<action>").
			WithReportableDetails(map[string]any{"event_type": eventType}).
			Mark(ierr.ErrValidation)
	}

	builder, ok := f.builders[family]
	if !ok {
		return nil, ierr.NewError("no payload builder registered").
			WithHint("Unsupported webhook event family").
			WithReportableDetails(map[string]any{"event_type": eventType}).
			Mark(ierr.ErrValidation)
	}
	return builder, nil
}
