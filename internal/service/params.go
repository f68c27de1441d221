package service

import (
	"github.com/freeflowhq/billing-engine/internal/cache"
	"github.com/freeflowhq/billing-engine/internal/config"
	"github.com/freeflowhq/billing-engine/internal/domain/coupon"
	"github.com/freeflowhq/billing-engine/internal/domain/invoice"
	"github.com/freeflowhq/billing-engine/internal/domain/ledger"
	"github.com/freeflowhq/billing-engine/internal/domain/payment"
	"github.com/freeflowhq/billing-engine/internal/domain/subscription"
	"github.com/freeflowhq/billing-engine/internal/domain/webhookendpoint"
	"github.com/freeflowhq/billing-engine/internal/email"
	"github.com/freeflowhq/billing-engine/internal/logger"
	"github.com/freeflowhq/billing-engine/internal/postgres"
	"github.com/freeflowhq/billing-engine/internal/webhook"
)

// ServiceParams bundles the dependencies shared by all services. Services
// embed it so constructors stay stable as the dependency set grows.
type ServiceParams struct {
	Logger *logger.Logger
	Config *config.Configuration
	DB     postgres.IClient

	SubRepo             subscription.Repository
	InvoiceRepo         invoice.Repository
	CouponRepo          coupon.Repository
	LedgerRepo          ledger.Repository
	WebhookEndpointRepo webhookendpoint.Repository

	WebhookPublisher webhook.Publisher
	Processor        payment.Processor
	Cache            cache.Cache
	Notifier         email.Notifier
}
