package service

import (
	"context"

	"github.com/freeflowhq/billing-engine/internal/api/dto"
	"github.com/freeflowhq/billing-engine/internal/domain/webhookendpoint"
	"github.com/freeflowhq/billing-engine/internal/types"
	"github.com/samber/lo"
)

// WebhookEndpointService manages webhook endpoint registrations
type WebhookEndpointService interface {
	CreateEndpoint(ctx context.Context, req *dto.CreateWebhookEndpointRequest) (*dto.WebhookEndpointResponse, error)
	GetEndpoint(ctx context.Context, id string) (*dto.WebhookEndpointResponse, error)
	ListEndpoints(ctx context.Context) (*dto.ListWebhookEndpointsResponse, error)
	UpdateEndpoint(ctx context.Context, id string, req *dto.UpdateWebhookEndpointRequest) (*dto.WebhookEndpointResponse, error)
	DeleteEndpoint(ctx context.Context, id string) error
}

type webhookEndpointService struct {
	ServiceParams
}

// NewWebhookEndpointService creates a new webhook endpoint service
func NewWebhookEndpointService(params ServiceParams) WebhookEndpointService {
	return &webhookEndpointService{
		ServiceParams: params,
	}
}

func (s *webhookEndpointService) CreateEndpoint(ctx context.Context, req *dto.CreateWebhookEndpointRequest) (*dto.WebhookEndpointResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	endpoint := req.ToEndpoint(ctx)
	if err := endpoint.Validate(); err != nil {
		return nil, err
	}
	if err := s.WebhookEndpointRepo.Create(ctx, endpoint); err != nil {
		return nil, err
	}

	s.Logger.Infow("registered webhook endpoint",
		"endpoint_id", endpoint.ID,
		"url", endpoint.URL,
		"event_types", endpoint.EventTypes)
	return dto.NewWebhookEndpointResponse(endpoint), nil
}

func (s *webhookEndpointService) GetEndpoint(ctx context.Context, id string) (*dto.WebhookEndpointResponse, error) {
	endpoint, err := s.WebhookEndpointRepo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return dto.NewWebhookEndpointResponse(endpoint), nil
}

func (s *webhookEndpointService) ListEndpoints(ctx context.Context) (*dto.ListWebhookEndpointsResponse, error) {
	endpoints, err := s.WebhookEndpointRepo.List(ctx)
	if err != nil {
		return nil, err
	}
	return &dto.ListWebhookEndpointsResponse{
		Items: lo.Map(endpoints, func(e *webhookendpoint.Endpoint, _ int) *dto.WebhookEndpointResponse {
			return dto.NewWebhookEndpointResponse(e)
		}),
		Total: len(endpoints),
	}, nil
}

func (s *webhookEndpointService) UpdateEndpoint(ctx context.Context, id string, req *dto.UpdateWebhookEndpointRequest) (*dto.WebhookEndpointResponse, error) {
	endpoint, err := s.WebhookEndpointRepo.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if req.URL != nil {
		endpoint.URL = *req.URL
	}
	if req.EventTypes != nil {
		endpoint.EventTypes = req.EventTypes
	}
	if req.Enabled != nil {
		endpoint.Enabled = *req.Enabled
	}

	if err := endpoint.Validate(); err != nil {
		return nil, err
	}
	if err := s.WebhookEndpointRepo.Update(ctx, endpoint); err != nil {
		return nil, err
	}

	s.Logger.Infow("updated webhook endpoint",
		"endpoint_id", endpoint.ID,
		"enabled", endpoint.Enabled)
	return dto.NewWebhookEndpointResponse(endpoint), nil
}

func (s *webhookEndpointService) DeleteEndpoint(ctx context.Context, id string) error {
	endpoint, err := s.WebhookEndpointRepo.Get(ctx, id)
	if err != nil {
		return err
	}

	// soft delete; the row survives for audit but leaves reads and fan-out
	endpoint.Status = types.StatusDeleted
	endpoint.Enabled = false
	return s.WebhookEndpointRepo.Update(ctx, endpoint)
}
