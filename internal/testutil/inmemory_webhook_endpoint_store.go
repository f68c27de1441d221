package testutil

import (
	"context"
	"time"

	"github.com/freeflowhq/billing-engine/internal/domain/webhookendpoint"
	ierr "github.com/freeflowhq/billing-engine/internal/errors"
	"github.com/freeflowhq/billing-engine/internal/types"
	"github.com/samber/lo"
)

// InMemoryWebhookEndpointStore implements webhookendpoint.Repository
type InMemoryWebhookEndpointStore struct {
	*InMemoryStore[*webhookendpoint.Endpoint]
}

// NewInMemoryWebhookEndpointStore creates a new in-memory webhook endpoint store
func NewInMemoryWebhookEndpointStore() *InMemoryWebhookEndpointStore {
	return &InMemoryWebhookEndpointStore{
		InMemoryStore: NewInMemoryStore[*webhookendpoint.Endpoint](),
	}
}

func copyEndpoint(e *webhookendpoint.Endpoint) *webhookendpoint.Endpoint {
	if e == nil {
		return nil
	}

	copied := *e
	copied.EventTypes = append([]string{}, e.EventTypes...)
	copied.RecentOutcomes = append([]bool{}, e.RecentOutcomes...)
	copied.Metadata = lo.Assign(map[string]string{}, e.Metadata)
	copied.LastDeliveryAt = copyTimePtr(e.LastDeliveryAt)
	if e.LastDeliveryStatus != nil {
		status := *e.LastDeliveryStatus
		copied.LastDeliveryStatus = &status
	}
	return &copied
}

func (s *InMemoryWebhookEndpointStore) Create(ctx context.Context, e *webhookendpoint.Endpoint) error {
	if e == nil {
		return ierr.NewError("endpoint cannot be nil").
			WithHint("Endpoint cannot be nil").
			Mark(ierr.ErrValidation)
	}
	if e.EnvironmentID == "" {
		e.EnvironmentID = types.GetEnvironmentID(ctx)
	}
	return s.InMemoryStore.Create(ctx, e.ID, copyEndpoint(e))
}

func (s *InMemoryWebhookEndpointStore) Get(ctx context.Context, id string) (*webhookendpoint.Endpoint, error) {
	e, err := s.InMemoryStore.Get(ctx, id)
	if err != nil || e.Status == types.StatusDeleted {
		return nil, ierr.NewError("webhook endpoint not found").
			WithHint("Webhook endpoint not found").
			WithReportableDetails(map[string]interface{}{"id": id}).
			Mark(ierr.ErrNotFound)
	}
	return copyEndpoint(e), nil
}

func (s *InMemoryWebhookEndpointStore) Update(ctx context.Context, e *webhookendpoint.Endpoint) error {
	if e == nil {
		return ierr.NewError("endpoint cannot be nil").
			WithHint("Endpoint cannot be nil").
			Mark(ierr.ErrValidation)
	}

	err := s.InMemoryStore.UpdateFn(ctx, e.ID, func(current *webhookendpoint.Endpoint) (*webhookendpoint.Endpoint, error) {
		if current.Version != e.Version {
			return nil, ierr.NewError("webhook endpoint was modified concurrently").
				WithHint("Re-read the endpoint and retry the update").
				WithReportableDetails(map[string]interface{}{"id": e.ID, "version": e.Version}).
				Mark(ierr.ErrVersionConflict)
		}
		updated := copyEndpoint(e)
		updated.Version++
		updated.UpdatedAt = time.Now().UTC()
		return updated, nil
	})
	if err != nil {
		return err
	}
	e.Version++
	return nil
}

func (s *InMemoryWebhookEndpointStore) List(ctx context.Context) ([]*webhookendpoint.Endpoint, error) {
	endpoints, err := s.InMemoryStore.List(ctx, nil, endpointFilterFn, endpointSortFn)
	if err != nil {
		return nil, err
	}
	return lo.Map(endpoints, func(e *webhookendpoint.Endpoint, _ int) *webhookendpoint.Endpoint {
		return copyEndpoint(e)
	}), nil
}

func (s *InMemoryWebhookEndpointStore) ListEnabledForEvent(ctx context.Context, eventType string) ([]*webhookendpoint.Endpoint, error) {
	endpoints, err := s.InMemoryStore.List(ctx, nil, func(ctx context.Context, e *webhookendpoint.Endpoint, _ interface{}) bool {
		return endpointFilterFn(ctx, e, nil) && e.Enabled && e.SubscribesTo(eventType)
	}, endpointSortFn)
	if err != nil {
		return nil, err
	}
	return lo.Map(endpoints, func(e *webhookendpoint.Endpoint, _ int) *webhookendpoint.Endpoint {
		return copyEndpoint(e)
	}), nil
}

func endpointFilterFn(ctx context.Context, e *webhookendpoint.Endpoint, _ interface{}) bool {
	if e == nil || e.Status == types.StatusDeleted {
		return false
	}
	if tenantID := types.GetTenantID(ctx); tenantID != "" && e.TenantID != tenantID {
		return false
	}
	return true
}

func endpointSortFn(i, j *webhookendpoint.Endpoint) bool {
	if i == nil || j == nil {
		return false
	}
	return i.CreatedAt.After(j.CreatedAt)
}
