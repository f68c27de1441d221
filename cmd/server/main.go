package main

import (
	"context"
	"net/http"
	"time"

	"github.com/freeflowhq/billing-engine/internal/api"
	cronapi "github.com/freeflowhq/billing-engine/internal/api/cron"
	v1 "github.com/freeflowhq/billing-engine/internal/api/v1"
	"github.com/freeflowhq/billing-engine/internal/cache"
	"github.com/freeflowhq/billing-engine/internal/config"
	"github.com/freeflowhq/billing-engine/internal/domain/coupon"
	"github.com/freeflowhq/billing-engine/internal/domain/invoice"
	"github.com/freeflowhq/billing-engine/internal/domain/ledger"
	"github.com/freeflowhq/billing-engine/internal/domain/payment"
	"github.com/freeflowhq/billing-engine/internal/domain/subscription"
	"github.com/freeflowhq/billing-engine/internal/domain/webhookendpoint"
	"github.com/freeflowhq/billing-engine/internal/email"
	"github.com/freeflowhq/billing-engine/internal/integration/stripeproc"
	"github.com/freeflowhq/billing-engine/internal/logger"
	"github.com/freeflowhq/billing-engine/internal/postgres"
	pgrepo "github.com/freeflowhq/billing-engine/internal/repository/postgres"
	"github.com/freeflowhq/billing-engine/internal/scheduler"
	"github.com/freeflowhq/billing-engine/internal/service"
	"github.com/freeflowhq/billing-engine/internal/webhook"
	sentry "github.com/getsentry/sentry-go"
	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		fx.Provide(
			config.NewConfig,
			logger.NewLogger,
			postgres.NewClient,
			cache.NewInMemoryCache,

			pgrepo.NewSubscriptionRepository,
			pgrepo.NewInvoiceRepository,
			pgrepo.NewCouponRepository,
			pgrepo.NewLedgerRepository,
			pgrepo.NewWebhookEndpointRepository,

			newPaymentProcessor,
			email.NewEmailClient,
			email.NewEmail,
			email.NewNotifier,

			newServiceParams,
			service.NewSubscriptionService,
			service.NewInvoiceService,
			service.NewCouponService,
			service.NewDunningService,
			service.NewWebhookEndpointService,

			v1.NewSubscriptionHandler,
			v1.NewInvoiceHandler,
			v1.NewCouponHandler,
			v1.NewWebhookEndpointHandler,
			cronapi.NewBillingCronHandler,
			newHandlers,
			api.NewRouter,

			scheduler.NewScheduler,
		),
		webhook.Module,
		fx.Invoke(
			initSentry,
			startServer,
			startScheduler,
			closePostgres,
		),
	)

	app.Run()
}

func newPaymentProcessor(cfg *config.Configuration, log *logger.Logger) payment.Processor {
	return stripeproc.NewProcessor(cfg, log)
}

func newServiceParams(
	log *logger.Logger,
	cfg *config.Configuration,
	db *postgres.Client,
	subRepo subscription.Repository,
	invoiceRepo invoice.Repository,
	couponRepo coupon.Repository,
	ledgerRepo ledger.Repository,
	endpointRepo webhookendpoint.Repository,
	publisher webhook.Publisher,
	processor payment.Processor,
	c cache.Cache,
	notifier email.Notifier,
) service.ServiceParams {
	return service.ServiceParams{
		Logger:              log,
		Config:              cfg,
		DB:                  db,
		SubRepo:             subRepo,
		InvoiceRepo:         invoiceRepo,
		CouponRepo:          couponRepo,
		LedgerRepo:          ledgerRepo,
		WebhookEndpointRepo: endpointRepo,
		WebhookPublisher:    publisher,
		Processor:           processor,
		Cache:               c,
		Notifier:            notifier,
	}
}

func newHandlers(
	sub *v1.SubscriptionHandler,
	inv *v1.InvoiceHandler,
	cpn *v1.CouponHandler,
	endpoint *v1.WebhookEndpointHandler,
	billingCron *cronapi.BillingCronHandler,
) api.Handlers {
	return api.Handlers{
		Subscription:    sub,
		Invoice:         inv,
		Coupon:          cpn,
		WebhookEndpoint: endpoint,
		BillingCron:     billingCron,
	}
}

func initSentry(lc fx.Lifecycle, cfg *config.Configuration, log *logger.Logger) error {
	if !cfg.Sentry.Enabled {
		return nil
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:              cfg.Sentry.DSN,
		Environment:      cfg.Sentry.Environment,
		EnableTracing:    true,
		TracesSampleRate: cfg.Sentry.SampleRate,
	})
	if err != nil {
		log.Errorw("failed to initialize sentry", "error", err)
		return err
	}

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			sentry.Flush(2 * time.Second)
			return nil
		},
	})
	return nil
}

func startServer(lc fx.Lifecycle, router *gin.Engine, cfg *config.Configuration, log *logger.Logger) {
	srv := &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				log.Infow("starting server", "address", cfg.Server.Address)
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Fatalw("server failed", "error", err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			log.Info("shutting down server")
			return srv.Shutdown(ctx)
		},
	})
}

func startScheduler(lc fx.Lifecycle, s *scheduler.Scheduler) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return s.Start()
		},
		OnStop: func(ctx context.Context) error {
			s.Stop()
			return nil
		},
	})
}

func closePostgres(lc fx.Lifecycle, client *postgres.Client) {
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return client.Close()
		},
	})
}
