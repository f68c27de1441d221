package scheduler

import (
	"context"
	"time"

	"github.com/freeflowhq/billing-engine/internal/config"
	"github.com/freeflowhq/billing-engine/internal/logger"
	"github.com/freeflowhq/billing-engine/internal/service"
	"github.com/freeflowhq/billing-engine/internal/types"
	"github.com/robfig/cron/v3"
)

// Scheduler runs the in-process billing sweeps: subscription renewals and
// dunning collection attempts. Sweeps are idempotent, so running them here
// and through the /cron endpoints at the same time is safe.
type Scheduler struct {
	cron                *cron.Cron
	cfg                 *config.Configuration
	subscriptionService service.SubscriptionService
	dunningService      service.DunningService
	logger              *logger.Logger
}

// NewScheduler creates the billing sweep scheduler
func NewScheduler(
	cfg *config.Configuration,
	subscriptionService service.SubscriptionService,
	dunningService service.DunningService,
	log *logger.Logger,
) *Scheduler {
	return &Scheduler{
		cron:                cron.New(),
		cfg:                 cfg,
		subscriptionService: subscriptionService,
		dunningService:      dunningService,
		logger:              log,
	}
}

// Start registers the sweep entries and starts the cron loop
func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(s.cfg.Workers.AdvanceCron, s.runRenewals); err != nil {
		return err
	}
	if _, err := s.cron.AddFunc(s.cfg.Workers.DunningCron, s.runDunning); err != nil {
		return err
	}

	s.cron.Start()
	s.logger.Infow("started billing scheduler",
		"advance_cron", s.cfg.Workers.AdvanceCron,
		"dunning_cron", s.cfg.Workers.DunningCron)
	return nil
}

// Stop halts the cron loop and waits for running sweeps
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Infow("stopped billing scheduler")
}

func (s *Scheduler) runRenewals() {
	ctx := s.sweepContext()
	if err := s.subscriptionService.ProcessRenewals(ctx, time.Now().UTC()); err != nil {
		s.logger.Errorw("renewal sweep failed", "error", err)
	}
}

func (s *Scheduler) runDunning() {
	ctx := s.sweepContext()
	if err := s.dunningService.RunDueAttempts(ctx, time.Now().UTC()); err != nil {
		s.logger.Errorw("dunning sweep failed", "error", err)
	}
}

func (s *Scheduler) sweepContext() context.Context {
	ctx := types.SetTenantID(context.Background(), types.DefaultTenantID)
	return types.SetUserID(ctx, types.DefaultUserID)
}
