package testutil

import (
	"context"
	"sync"

	"github.com/freeflowhq/billing-engine/internal/types"
	"github.com/samber/lo"
)

// EventSink is a webhook.Publisher that captures published events for
// assertions instead of delivering them.
type EventSink struct {
	mu     sync.Mutex
	events []*types.WebhookEvent
}

// NewEventSink creates an empty event sink
func NewEventSink() *EventSink {
	return &EventSink{}
}

func (s *EventSink) Publish(_ context.Context, event *types.WebhookEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

// Events returns all captured events in publish order
func (s *EventSink) Events() []*types.WebhookEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*types.WebhookEvent{}, s.events...)
}

// EventsOfType returns captured events matching the given event type
func (s *EventSink) EventsOfType(eventType string) []*types.WebhookEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return lo.Filter(s.events, func(e *types.WebhookEvent, _ int) bool {
		return e.EventType == eventType
	})
}

// HasEvent reports whether an event of the given type was published
func (s *EventSink) HasEvent(eventType string) bool {
	return len(s.EventsOfType(eventType)) > 0
}

// Clear drops all captured events
func (s *EventSink) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = nil
}
