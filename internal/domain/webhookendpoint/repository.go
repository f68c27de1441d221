package webhookendpoint

import "context"

// Repository provides access to webhook endpoint storage. Update is a
// versioned write; delivery workers retry on ErrVersionConflict since stats
// updates from concurrent deliveries may race.
type Repository interface {
	Create(ctx context.Context, e *Endpoint) error
	Get(ctx context.Context, id string) (*Endpoint, error)
	Update(ctx context.Context, e *Endpoint) error
	List(ctx context.Context) ([]*Endpoint, error)

	// ListEnabledForEvent returns enabled endpoints subscribed to the event type
	ListEnabledForEvent(ctx context.Context, eventType string) ([]*Endpoint, error)
}
