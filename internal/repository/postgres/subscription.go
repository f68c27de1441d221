package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/freeflowhq/billing-engine/internal/domain/subscription"
	ierr "github.com/freeflowhq/billing-engine/internal/errors"
	"github.com/freeflowhq/billing-engine/internal/logger"
	"github.com/freeflowhq/billing-engine/internal/postgres"
	"github.com/freeflowhq/billing-engine/internal/types"
)

type subscriptionRepository struct {
	client *postgres.Client
	logger *logger.Logger
}

// NewSubscriptionRepository returns the postgres-backed subscription store
func NewSubscriptionRepository(client *postgres.Client, log *logger.Logger) subscription.Repository {
	return &subscriptionRepository{client: client, logger: log}
}

const subscriptionColumns = `
	id, tenant_id, environment_id, customer_id, plan_id, subscription_status,
	amount, currency, billing_period, current_period_start, current_period_end,
	cancel_at_period_end, trial_end, payment_method_ref, coupon_ref,
	coupon_remaining_periods, canceled_at, paused_at, metadata, version,
	status, created_at, updated_at, created_by, updated_by`

func (r *subscriptionRepository) Create(ctx context.Context, sub *subscription.Subscription) error {
	metadata, err := json.Marshal(sub.Metadata)
	if err != nil {
		return ierr.WithError(err).WithHint("Failed to encode metadata").Mark(ierr.ErrInternal)
	}

	_, err = r.client.Querier(ctx).ExecContext(ctx, `
		INSERT INTO subscriptions (`+subscriptionColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$25)`,
		sub.ID, sub.TenantID, sub.EnvironmentID, sub.CustomerID, sub.PlanID, sub.SubscriptionStatus,
		sub.Amount, sub.Currency, sub.BillingPeriod, sub.CurrentPeriodStart, sub.CurrentPeriodEnd,
		sub.CancelAtPeriodEnd, sub.TrialEnd, sub.PaymentMethodRef, sub.CouponRef,
		sub.CouponRemainingPeriods, sub.CanceledAt, sub.PausedAt, metadata, sub.Version,
		sub.Status, sub.CreatedAt, sub.UpdatedAt, sub.CreatedBy, sub.UpdatedBy,
	)
	if err != nil {
		return ierr.WithError(err).
			WithHint("Failed to create subscription").
			WithReportableDetails(map[string]interface{}{"id": sub.ID}).
			Mark(ierr.ErrDatabase)
	}
	return nil
}

func (r *subscriptionRepository) Get(ctx context.Context, id string) (*subscription.Subscription, error) {
	row := r.client.Querier(ctx).QueryRowContext(ctx, `
		SELECT `+subscriptionColumns+`
		FROM subscriptions WHERE id = $1 AND status != $2`, id, types.StatusDeleted)

	sub, err := scanSubscription(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ierr.NewError("subscription not found").
				WithHint("Subscription not found").
				WithReportableDetails(map[string]interface{}{"id": id}).
				Mark(ierr.ErrNotFound)
		}
		return nil, ierr.WithError(err).WithHint("Failed to fetch subscription").Mark(ierr.ErrDatabase)
	}
	return sub, nil
}

// Update performs a versioned write; a stale version fails with ErrVersionConflict.
func (r *subscriptionRepository) Update(ctx context.Context, sub *subscription.Subscription) error {
	metadata, err := json.Marshal(sub.Metadata)
	if err != nil {
		return ierr.WithError(err).WithHint("Failed to encode metadata").Mark(ierr.ErrInternal)
	}

	res, err := r.client.Querier(ctx).ExecContext(ctx, `
		UPDATE subscriptions SET
			subscription_status = $1, amount = $2, currency = $3, billing_period = $4,
			current_period_start = $5, current_period_end = $6, cancel_at_period_end = $7,
			trial_end = $8, payment_method_ref = $9, coupon_ref = $10,
			coupon_remaining_periods = $11, canceled_at = $12, paused_at = $13,
			metadata = $14, version = version + 1, updated_at = $15, updated_by = $16
		WHERE id = $17 AND version = $18`,
		sub.SubscriptionStatus, sub.Amount, sub.Currency, sub.BillingPeriod,
		sub.CurrentPeriodStart, sub.CurrentPeriodEnd, sub.CancelAtPeriodEnd,
		sub.TrialEnd, sub.PaymentMethodRef, sub.CouponRef,
		sub.CouponRemainingPeriods, sub.CanceledAt, sub.PausedAt,
		metadata, time.Now().UTC(), types.GetUserID(ctx),
		sub.ID, sub.Version,
	)
	if err != nil {
		return ierr.WithError(err).WithHint("Failed to update subscription").Mark(ierr.ErrDatabase)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return ierr.WithError(err).WithHint("Failed to update subscription").Mark(ierr.ErrDatabase)
	}
	if affected == 0 {
		return ierr.NewError("subscription was modified concurrently").
			WithHint("Re-read the subscription and retry the operation").
			WithReportableDetails(map[string]interface{}{"id": sub.ID, "version": sub.Version}).
			Mark(ierr.ErrVersionConflict)
	}

	sub.Version++
	return nil
}

func (r *subscriptionRepository) List(ctx context.Context, customerID string) ([]*subscription.Subscription, error) {
	rows, err := r.client.Querier(ctx).QueryContext(ctx, `
		SELECT `+subscriptionColumns+`
		FROM subscriptions
		WHERE customer_id = $1 AND status != $2
		ORDER BY created_at DESC`, customerID, types.StatusDeleted)
	if err != nil {
		return nil, ierr.WithError(err).WithHint("Failed to list subscriptions").Mark(ierr.ErrDatabase)
	}
	defer rows.Close()

	return collectSubscriptions(rows)
}

func (r *subscriptionRepository) ListDueForRenewal(ctx context.Context, now time.Time) ([]*subscription.Subscription, error) {
	rows, err := r.client.Querier(ctx).QueryContext(ctx, `
		SELECT `+subscriptionColumns+`
		FROM subscriptions
		WHERE current_period_end <= $1
		  AND subscription_status IN ($2, $3)
		  AND status != $4
		ORDER BY current_period_end ASC`,
		now, types.SubscriptionStatusActive, types.SubscriptionStatusTrialing, types.StatusDeleted)
	if err != nil {
		return nil, ierr.WithError(err).WithHint("Failed to list renewals").Mark(ierr.ErrDatabase)
	}
	defer rows.Close()

	return collectSubscriptions(rows)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSubscription(row rowScanner) (*subscription.Subscription, error) {
	var sub subscription.Subscription
	var metadata []byte

	err := row.Scan(
		&sub.ID, &sub.TenantID, &sub.EnvironmentID, &sub.CustomerID, &sub.PlanID, &sub.SubscriptionStatus,
		&sub.Amount, &sub.Currency, &sub.BillingPeriod, &sub.CurrentPeriodStart, &sub.CurrentPeriodEnd,
		&sub.CancelAtPeriodEnd, &sub.TrialEnd, &sub.PaymentMethodRef, &sub.CouponRef,
		&sub.CouponRemainingPeriods, &sub.CanceledAt, &sub.PausedAt, &metadata, &sub.Version,
		&sub.Status, &sub.CreatedAt, &sub.UpdatedAt, &sub.CreatedBy, &sub.UpdatedBy,
	)
	if err != nil {
		return nil, err
	}

	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &sub.Metadata); err != nil {
			return nil, err
		}
	}
	return &sub, nil
}

func collectSubscriptions(rows *sql.Rows) ([]*subscription.Subscription, error) {
	var subs []*subscription.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, ierr.WithError(err).WithHint("Failed to scan subscription").Mark(ierr.ErrDatabase)
		}
		subs = append(subs, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, ierr.WithError(err).WithHint("Failed to iterate subscriptions").Mark(ierr.ErrDatabase)
	}
	return subs, nil
}
