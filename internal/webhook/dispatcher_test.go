package webhook

import (
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/freeflowhq/billing-engine/internal/domain/webhookendpoint"
	ierr "github.com/freeflowhq/billing-engine/internal/errors"
	"github.com/freeflowhq/billing-engine/internal/logger"
	"github.com/freeflowhq/billing-engine/internal/testutil"
	"github.com/freeflowhq/billing-engine/internal/types"
	"github.com/stretchr/testify/suite"
)

type DispatcherSuite struct {
	testutil.BaseServiceTestSuite
	dispatcher *Dispatcher
}

func TestDispatcher(t *testing.T) {
	suite.Run(t, new(DispatcherSuite))
}

func (s *DispatcherSuite) SetupTest() {
	s.BaseServiceTestSuite.SetupTest()
	s.dispatcher = NewDispatcher(s.GetStores().WebhookEndpointRepo, s.GetConfig(), logger.NewTestLogger())
}

func (s *DispatcherSuite) registerEndpoint(url string) *webhookendpoint.Endpoint {
	endpoint := &webhookendpoint.Endpoint{
		ID:            types.GenerateUUIDWithPrefix(types.UUID_PREFIX_WEBHOOK_ENDPOINT),
		URL:           url,
		EventTypes:    []string{types.WebhookEventInvoicePaid},
		Secret:        "whsec_test_secret",
		Enabled:       true,
		EnvironmentID: "env_test",
		BaseModel:     types.GetDefaultBaseModel(s.GetContext()),
	}
	s.Require().NoError(s.GetStores().WebhookEndpointRepo.Create(s.GetContext(), endpoint))
	return endpoint
}

func (s *DispatcherSuite) event() *types.WebhookEvent {
	return &types.WebhookEvent{
		ID:            types.GenerateUUIDWithPrefix(types.UUID_PREFIX_WEBHOOK_EVENT),
		EventType:     types.WebhookEventInvoicePaid,
		TenantID:      types.GetTenantID(s.GetContext()),
		EnvironmentID: "env_test",
		EntityID:      "inv_123",
		Timestamp:     time.Now().UTC(),
	}
}

func (s *DispatcherSuite) freshEndpoint(id string) *webhookendpoint.Endpoint {
	endpoint, err := s.GetStores().WebhookEndpointRepo.Get(s.GetContext(), id)
	s.Require().NoError(err)
	return endpoint
}

func (s *DispatcherSuite) TestDeliverSignsPayload() {
	body := []byte(`{"invoice_id":"inv_123","amount_due":"99"}`)
	event := s.event()

	var gotSignature, gotEventID, gotEventType string
	var gotBody []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSignature = r.Header.Get("X-Billing-Signature")
		gotEventID = r.Header.Get("X-Billing-Event-Id")
		gotEventType = r.Header.Get("X-Billing-Event-Type")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	endpoint := s.registerEndpoint(server.URL)
	s.Require().NoError(s.dispatcher.Deliver(s.GetContext(), endpoint, event, body))

	s.Equal(body, gotBody)
	s.Equal(event.ID, gotEventID)
	s.Equal(event.EventType, gotEventType)
	s.True(VerifySignature(body, endpoint.Secret, gotSignature))

	fresh := s.freshEndpoint(endpoint.ID)
	s.Equal([]bool{true}, fresh.RecentOutcomes)
	s.Equal(1.0, fresh.SuccessRate())
	s.Require().NotNil(fresh.LastDeliveryStatus)
	s.Equal(types.WebhookDeliverySucceeded, *fresh.LastDeliveryStatus)
}

func (s *DispatcherSuite) TestDeliverRetriesUntilSuccess() {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	endpoint := s.registerEndpoint(server.URL)
	err := s.dispatcher.Deliver(s.GetContext(), endpoint, s.event(), []byte(`{}`))
	s.Require().NoError(err)
	s.Equal(int32(3), calls.Load())

	// retries within one delivery record a single terminal outcome
	fresh := s.freshEndpoint(endpoint.ID)
	s.Equal([]bool{true}, fresh.RecentOutcomes)
}

func (s *DispatcherSuite) TestDeliverExhaustsAttempts() {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	endpoint := s.registerEndpoint(server.URL)
	err := s.dispatcher.Deliver(s.GetContext(), endpoint, s.event(), []byte(`{}`))
	s.Require().Error(err)
	s.True(errors.Is(err, ierr.ErrHTTPClient))
	s.Equal(int32(s.GetConfig().Webhook.MaxAttempts), calls.Load())

	fresh := s.freshEndpoint(endpoint.ID)
	s.Equal([]bool{false}, fresh.RecentOutcomes)
	s.Equal(0.0, fresh.SuccessRate())
	s.Require().NotNil(fresh.LastDeliveryStatus)
	s.Equal(types.WebhookDeliveryFailed, *fresh.LastDeliveryStatus)
}

func (s *DispatcherSuite) TestSuccessRateDegradesAcrossDeliveries() {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	endpoint := s.registerEndpoint(server.URL)
	s.Error(s.dispatcher.Deliver(s.GetContext(), endpoint, s.event(), []byte(`{}`)))

	failing := s.freshEndpoint(endpoint.ID)
	s.Error(s.dispatcher.Deliver(s.GetContext(), failing, s.event(), []byte(`{}`)))

	fresh := s.freshEndpoint(endpoint.ID)
	s.Equal([]bool{false, false}, fresh.RecentOutcomes)
	s.Equal(0.0, fresh.SuccessRate())
}

func TestSignatureRoundTrip(t *testing.T) {
	body := []byte(`{"hello":"world"}`)
	sig := Sign(body, "secret_a")

	if !VerifySignature(body, "secret_a", sig) {
		t.Fatal("signature should verify against the signing secret")
	}
	if VerifySignature(body, "secret_b", sig) {
		t.Fatal("signature must not verify with a different secret")
	}
	if VerifySignature([]byte(`{"hello":"tampered"}`), "secret_a", sig) {
		t.Fatal("signature must not verify for a modified body")
	}
}

func TestRollingWindowCapped(t *testing.T) {
	endpoint := &webhookendpoint.Endpoint{}
	now := time.Now().UTC()
	for i := 0; i < 10; i++ {
		endpoint.RecordDelivery(i >= 5, now, 4)
	}
	if len(endpoint.RecentOutcomes) != 4 {
		t.Fatalf("window length = %d, want 4", len(endpoint.RecentOutcomes))
	}
	if endpoint.SuccessRate() != 1.0 {
		t.Fatalf("success rate = %v, want 1.0 after window slid past failures", endpoint.SuccessRate())
	}
}
