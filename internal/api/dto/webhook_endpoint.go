package dto

import (
	"context"
	"time"

	"github.com/freeflowhq/billing-engine/internal/domain/webhookendpoint"
	"github.com/freeflowhq/billing-engine/internal/types"
	"github.com/freeflowhq/billing-engine/internal/validator"
)

type CreateWebhookEndpointRequest struct {
	URL        string         `json:"url" validate:"required,url"`
	EventTypes []string       `json:"event_types" validate:"required,min=1"`
	Secret     string         `json:"secret" validate:"required"`
	Metadata   types.Metadata `json:"metadata,omitempty"`
}

func (r *CreateWebhookEndpointRequest) Validate() error {
	return validator.ValidateRequest(r)
}

func (r *CreateWebhookEndpointRequest) ToEndpoint(ctx context.Context) *webhookendpoint.Endpoint {
	return &webhookendpoint.Endpoint{
		ID:            types.GenerateUUIDWithPrefix(types.UUID_PREFIX_WEBHOOK_ENDPOINT),
		URL:           r.URL,
		EventTypes:    r.EventTypes,
		Secret:        r.Secret,
		Enabled:       true,
		EnvironmentID: types.GetEnvironmentID(ctx),
		Metadata:      r.Metadata,
		BaseModel:     types.GetDefaultBaseModel(ctx),
	}
}

type UpdateWebhookEndpointRequest struct {
	URL        *string  `json:"url,omitempty"`
	EventTypes []string `json:"event_types,omitempty"`
	Enabled    *bool    `json:"enabled,omitempty"`
}

// WebhookEndpointResponse never exposes the signing secret
type WebhookEndpointResponse struct {
	ID                 string                       `json:"id"`
	URL                string                       `json:"url"`
	EventTypes         []string                     `json:"event_types"`
	Enabled            bool                         `json:"enabled"`
	SuccessRate        float64                      `json:"success_rate"`
	LastDeliveryAt     *time.Time                   `json:"last_delivery_at,omitempty"`
	LastDeliveryStatus *types.WebhookDeliveryStatus `json:"last_delivery_status,omitempty"`
	CreatedAt          time.Time                    `json:"created_at"`
	UpdatedAt          time.Time                    `json:"updated_at"`
}

func NewWebhookEndpointResponse(e *webhookendpoint.Endpoint) *WebhookEndpointResponse {
	return &WebhookEndpointResponse{
		ID:                 e.ID,
		URL:                e.URL,
		EventTypes:         e.EventTypes,
		Enabled:            e.Enabled,
		SuccessRate:        e.SuccessRate(),
		LastDeliveryAt:     e.LastDeliveryAt,
		LastDeliveryStatus: e.LastDeliveryStatus,
		CreatedAt:          e.CreatedAt,
		UpdatedAt:          e.UpdatedAt,
	}
}

type ListWebhookEndpointsResponse struct {
	Items []*WebhookEndpointResponse `json:"items"`
	Total int                        `json:"total"`
}
