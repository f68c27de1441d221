package testutil

import (
	"context"
	"time"

	"github.com/freeflowhq/billing-engine/internal/cache"
	"github.com/freeflowhq/billing-engine/internal/config"
	"github.com/freeflowhq/billing-engine/internal/logger"
	"github.com/freeflowhq/billing-engine/internal/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"
)

// Stores bundles the in-memory repositories used by service tests
type Stores struct {
	SubscriptionRepo    *InMemorySubscriptionStore
	InvoiceRepo         *InMemoryInvoiceStore
	CouponRepo          *InMemoryCouponStore
	LedgerRepo          *InMemoryLedgerStore
	WebhookEndpointRepo *InMemoryWebhookEndpointStore
}

// NewStores creates fresh in-memory repositories
func NewStores() Stores {
	return Stores{
		SubscriptionRepo:    NewInMemorySubscriptionStore(),
		InvoiceRepo:         NewInMemoryInvoiceStore(),
		CouponRepo:          NewInMemoryCouponStore(),
		LedgerRepo:          NewInMemoryLedgerStore(),
		WebhookEndpointRepo: NewInMemoryWebhookEndpointStore(),
	}
}

// BaseServiceTestSuite provides the shared fixture for service test suites:
// a tenant-scoped context, in-memory stores, a scriptable processor, an
// event sink in place of the webhook pipeline and a fake email notifier.
type BaseServiceTestSuite struct {
	suite.Suite
	ctx       context.Context
	cfg       *config.Configuration
	log       *logger.Logger
	stores    Stores
	publisher *EventSink
	processor *FakeProcessor
	notifier  *FakeNotifier
	cache     cache.Cache
	db        *InMemoryDB
	now       time.Time
}

// SetupTest initializes fresh fixtures before each test
func (s *BaseServiceTestSuite) SetupTest() {
	s.ctx = types.SetTenantID(context.Background(), types.DefaultTenantID)
	s.ctx = types.SetEnvironmentID(s.ctx, "env_test")
	s.ctx = types.SetUserID(s.ctx, types.DefaultUserID)

	s.cfg = NewTestConfig()
	s.log = logger.NewTestLogger()
	s.stores = NewStores()
	s.publisher = NewEventSink()
	s.processor = NewFakeProcessor()
	s.notifier = NewFakeNotifier()
	s.cache = cache.NewInMemoryCache()
	s.cache.DeleteByPrefix(s.ctx, "")
	s.db = NewInMemoryDB()
	s.now = time.Now().UTC()
}

func (s *BaseServiceTestSuite) GetContext() context.Context    { return s.ctx }
func (s *BaseServiceTestSuite) GetConfig() *config.Configuration { return s.cfg }
func (s *BaseServiceTestSuite) GetLogger() *logger.Logger      { return s.log }
func (s *BaseServiceTestSuite) GetStores() Stores              { return s.stores }
func (s *BaseServiceTestSuite) GetPublisher() *EventSink       { return s.publisher }
func (s *BaseServiceTestSuite) GetProcessor() *FakeProcessor   { return s.processor }
func (s *BaseServiceTestSuite) GetNotifier() *FakeNotifier     { return s.notifier }
func (s *BaseServiceTestSuite) GetCache() cache.Cache          { return s.cache }
func (s *BaseServiceTestSuite) GetNow() time.Time              { return s.now }

// GetDB returns the in-memory transaction runner backing the sweep entry points
func (s *BaseServiceTestSuite) GetDB() *InMemoryDB { return s.db }

// NewTestConfig returns a configuration with sane billing defaults for tests
func NewTestConfig() *config.Configuration {
	return &config.Configuration{
		Deployment: config.DeploymentConfig{Mode: "test"},
		Server:     config.ServerConfig{Address: ":0"},
		Logging:    config.LoggingConfig{Level: "debug"},
		Dunning: config.DunningConfig{
			Policy: "standard",
			Policies: map[string][]int{
				"standard": {1, 3, 7, 14},
				"gentle":   {3, 7, 14},
			},
			MaxAttempts:       4,
			MarkUncollectible: false,
			SmartRetry:        false,
		},
		Invoice: config.InvoiceConfig{
			Prefix:                "INV",
			Format:                types.InvoiceNumberFormatYearSequential,
			YearlyReset:           true,
			StartSequence:         0,
			Separator:             "-",
			SuffixLength:          6,
			NetTermsDays:          0,
			IncompleteMaxAttempts: 3,
		},
		Tax: config.TaxConfig{
			DefaultRates: map[string]decimal.Decimal{},
			Inclusive:    false,
		},
		Webhook: config.WebhookConfig{
			Topic:             "webhook_events",
			MaxAttempts:       5,
			InitialBackoff:    time.Millisecond,
			BackoffMultiplier: 2.0,
			DeliveryTimeout:   time.Second,
			RateLimitRPS:      1000,
			SuccessWindowSize: 50,
			WorkerCount:       2,
		},
		Workers: config.WorkersConfig{
			CollectionPoolSize: 4,
			AdvanceCron:        "@hourly",
			DunningCron:        "@hourly",
		},
	}
}
