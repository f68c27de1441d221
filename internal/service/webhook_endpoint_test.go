package service

import (
	"testing"

	"github.com/freeflowhq/billing-engine/internal/api/dto"
	ierr "github.com/freeflowhq/billing-engine/internal/errors"
	"github.com/freeflowhq/billing-engine/internal/testutil"
	"github.com/freeflowhq/billing-engine/internal/types"
	"github.com/samber/lo"
	"github.com/stretchr/testify/suite"
)

type WebhookEndpointServiceSuite struct {
	testutil.BaseServiceTestSuite
	service WebhookEndpointService
}

func TestWebhookEndpointService(t *testing.T) {
	suite.Run(t, new(WebhookEndpointServiceSuite))
}

func (s *WebhookEndpointServiceSuite) SetupTest() {
	s.BaseServiceTestSuite.SetupTest()
	s.service = NewWebhookEndpointService(ServiceParams{
		Logger:              s.GetLogger(),
		Config:              s.GetConfig(),
		DB:                  s.GetDB(),
		SubRepo:             s.GetStores().SubscriptionRepo,
		InvoiceRepo:         s.GetStores().InvoiceRepo,
		CouponRepo:          s.GetStores().CouponRepo,
		LedgerRepo:          s.GetStores().LedgerRepo,
		WebhookEndpointRepo: s.GetStores().WebhookEndpointRepo,
		WebhookPublisher:    s.GetPublisher(),
		Processor:           s.GetProcessor(),
		Cache:               s.GetCache(),
		Notifier:            s.GetNotifier(),
	})
}

func (s *WebhookEndpointServiceSuite) createEndpoint(eventTypes ...string) *dto.WebhookEndpointResponse {
	resp, err := s.service.CreateEndpoint(s.GetContext(), &dto.CreateWebhookEndpointRequest{
		URL:        "https://example.com/hooks/billing",
		EventTypes: eventTypes,
		Secret:     "whsec_abc123",
	})
	s.Require().NoError(err)
	return resp
}

func (s *WebhookEndpointServiceSuite) TestCreateEndpointStartsEnabled() {
	resp := s.createEndpoint(types.WebhookEventInvoicePaid, types.WebhookEventInvoicePaymentFailed)

	s.True(resp.Enabled)
	s.Equal(1.0, resp.SuccessRate)
	s.Nil(resp.LastDeliveryAt)

	enabled, err := s.GetStores().WebhookEndpointRepo.ListEnabledForEvent(s.GetContext(), types.WebhookEventInvoicePaid)
	s.NoError(err)
	s.Len(enabled, 1)
}

func (s *WebhookEndpointServiceSuite) TestCreateEndpointRejectsUnknownEventType() {
	_, err := s.service.CreateEndpoint(s.GetContext(), &dto.CreateWebhookEndpointRequest{
		URL:        "https://example.com/hooks",
		EventTypes: []string{"invoice.exploded"},
		Secret:     "whsec_abc123",
	})
	s.Error(err)
	s.True(ierr.IsValidation(err))
}

func (s *WebhookEndpointServiceSuite) TestDisabledEndpointLeavesFanOut() {
	resp := s.createEndpoint(types.WebhookEventInvoicePaid)

	_, err := s.service.UpdateEndpoint(s.GetContext(), resp.ID, &dto.UpdateWebhookEndpointRequest{
		Enabled: lo.ToPtr(false),
	})
	s.Require().NoError(err)

	enabled, err := s.GetStores().WebhookEndpointRepo.ListEnabledForEvent(s.GetContext(), types.WebhookEventInvoicePaid)
	s.NoError(err)
	s.Empty(enabled)
}

func (s *WebhookEndpointServiceSuite) TestUpdateEndpointEventTypes() {
	resp := s.createEndpoint(types.WebhookEventInvoicePaid)

	updated, err := s.service.UpdateEndpoint(s.GetContext(), resp.ID, &dto.UpdateWebhookEndpointRequest{
		EventTypes: []string{types.WebhookEventSubscriptionCanceled},
	})
	s.Require().NoError(err)
	s.Equal([]string{types.WebhookEventSubscriptionCanceled}, updated.EventTypes)

	enabled, err := s.GetStores().WebhookEndpointRepo.ListEnabledForEvent(s.GetContext(), types.WebhookEventInvoicePaid)
	s.NoError(err)
	s.Empty(enabled)
}

func (s *WebhookEndpointServiceSuite) TestDeleteEndpointIsTerminal() {
	resp := s.createEndpoint(types.WebhookEventInvoicePaid)

	s.Require().NoError(s.service.DeleteEndpoint(s.GetContext(), resp.ID))

	// a deleted endpoint is invisible to reads and fan-out
	_, err := s.service.GetEndpoint(s.GetContext(), resp.ID)
	s.Error(err)
	s.True(ierr.IsNotFound(err))

	err = s.service.DeleteEndpoint(s.GetContext(), resp.ID)
	s.Error(err)
	s.True(ierr.IsNotFound(err))
}

func (s *WebhookEndpointServiceSuite) TestResponseNeverExposesSecret() {
	resp := s.createEndpoint(types.WebhookEventInvoicePaid)

	raw, err := jsonMarshal(resp)
	s.Require().NoError(err)
	s.NotContains(string(raw), "whsec_abc123")
}
