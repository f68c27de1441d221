package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/freeflowhq/billing-engine/internal/domain/coupon"
	ierr "github.com/freeflowhq/billing-engine/internal/errors"
	"github.com/freeflowhq/billing-engine/internal/logger"
	"github.com/freeflowhq/billing-engine/internal/postgres"
	"github.com/freeflowhq/billing-engine/internal/types"
)

type couponRepository struct {
	client *postgres.Client
	logger *logger.Logger
}

// NewCouponRepository returns the postgres-backed coupon store
func NewCouponRepository(client *postgres.Client, log *logger.Logger) coupon.Repository {
	return &couponRepository{client: client, logger: log}
}

const couponColumns = `
	id, tenant_id, environment_id, code, name, type, percentage_off, amount_off,
	currency, duration, duration_in_months, max_redemptions, times_redeemed,
	expires_at, metadata, version, status, created_at, updated_at, created_by,
	updated_by`

func (r *couponRepository) Create(ctx context.Context, c *coupon.Coupon) error {
	metadata, err := json.Marshal(c.Metadata)
	if err != nil {
		return ierr.WithError(err).WithHint("Failed to encode metadata").Mark(ierr.ErrInternal)
	}

	_, err = r.client.Querier(ctx).ExecContext(ctx, `
		INSERT INTO coupons (`+couponColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21)`,
		c.ID, c.TenantID, c.EnvironmentID, c.Code, c.Name, c.Type, c.PercentageOff, c.AmountOff,
		c.Currency, c.Duration, c.DurationInMonths, c.MaxRedemptions, c.TimesRedeemed,
		c.ExpiresAt, metadata, c.Version, c.Status, c.CreatedAt, c.UpdatedAt, c.CreatedBy,
		c.UpdatedBy,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ierr.NewError("coupon code already exists").
				WithHint("A coupon with this code already exists").
				WithReportableDetails(map[string]interface{}{"code": c.Code}).
				Mark(ierr.ErrAlreadyExists)
		}
		return ierr.WithError(err).WithHint("Failed to create coupon").Mark(ierr.ErrDatabase)
	}
	return nil
}

func (r *couponRepository) Get(ctx context.Context, id string) (*coupon.Coupon, error) {
	row := r.client.Querier(ctx).QueryRowContext(ctx, `
		SELECT `+couponColumns+`
		FROM coupons WHERE id = $1 AND status != $2`, id, types.StatusDeleted)
	return r.scanOne(row, map[string]interface{}{"id": id})
}

func (r *couponRepository) GetByCode(ctx context.Context, code string) (*coupon.Coupon, error) {
	row := r.client.Querier(ctx).QueryRowContext(ctx, `
		SELECT `+couponColumns+`
		FROM coupons WHERE UPPER(code) = $1 AND status = $2`,
		coupon.NormalizeCode(code), types.StatusPublished)
	return r.scanOne(row, map[string]interface{}{"code": code})
}

// UpdateWithVersion is the compare-and-swap backing Redeem: the write applies
// only if the stored version still matches, so concurrent redemptions of the
// same coupon can never produce a lost update.
func (r *couponRepository) UpdateWithVersion(ctx context.Context, c *coupon.Coupon) error {
	metadata, err := json.Marshal(c.Metadata)
	if err != nil {
		return ierr.WithError(err).WithHint("Failed to encode metadata").Mark(ierr.ErrInternal)
	}

	res, err := r.client.Querier(ctx).ExecContext(ctx, `
		UPDATE coupons SET
			name = $1, times_redeemed = $2, expires_at = $3, metadata = $4,
			version = version + 1, updated_at = $5, updated_by = $6
		WHERE id = $7 AND version = $8`,
		c.Name, c.TimesRedeemed, c.ExpiresAt, metadata,
		time.Now().UTC(), types.GetUserID(ctx),
		c.ID, c.Version,
	)
	if err != nil {
		return ierr.WithError(err).WithHint("Failed to update coupon").Mark(ierr.ErrDatabase)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return ierr.WithError(err).WithHint("Failed to update coupon").Mark(ierr.ErrDatabase)
	}
	if affected == 0 {
		return ierr.NewError("coupon was modified concurrently").
			WithHint("Re-read the coupon and retry").
			WithReportableDetails(map[string]interface{}{"id": c.ID, "version": c.Version}).
			Mark(ierr.ErrVersionConflict)
	}

	c.Version++
	return nil
}

func (r *couponRepository) List(ctx context.Context) ([]*coupon.Coupon, error) {
	rows, err := r.client.Querier(ctx).QueryContext(ctx, `
		SELECT `+couponColumns+`
		FROM coupons WHERE status != $1
		ORDER BY created_at DESC`, types.StatusDeleted)
	if err != nil {
		return nil, ierr.WithError(err).WithHint("Failed to list coupons").Mark(ierr.ErrDatabase)
	}
	defer rows.Close()

	var coupons []*coupon.Coupon
	for rows.Next() {
		c, err := scanCoupon(rows)
		if err != nil {
			return nil, ierr.WithError(err).WithHint("Failed to scan coupon").Mark(ierr.ErrDatabase)
		}
		coupons = append(coupons, c)
	}
	if err := rows.Err(); err != nil {
		return nil, ierr.WithError(err).WithHint("Failed to iterate coupons").Mark(ierr.ErrDatabase)
	}
	return coupons, nil
}

func (r *couponRepository) scanOne(row rowScanner, details map[string]interface{}) (*coupon.Coupon, error) {
	c, err := scanCoupon(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ierr.NewError("coupon not found").
				WithHint("No coupon matches this code").
				WithReportableDetails(details).
				Mark(ierr.ErrCouponNotFound)
		}
		return nil, ierr.WithError(err).WithHint("Failed to fetch coupon").Mark(ierr.ErrDatabase)
	}
	return c, nil
}

func scanCoupon(row rowScanner) (*coupon.Coupon, error) {
	var c coupon.Coupon
	var metadata []byte
	var currency sql.NullString

	err := row.Scan(
		&c.ID, &c.TenantID, &c.EnvironmentID, &c.Code, &c.Name, &c.Type, &c.PercentageOff, &c.AmountOff,
		&currency, &c.Duration, &c.DurationInMonths, &c.MaxRedemptions, &c.TimesRedeemed,
		&c.ExpiresAt, &metadata, &c.Version, &c.Status, &c.CreatedAt, &c.UpdatedAt, &c.CreatedBy,
		&c.UpdatedBy,
	)
	if err != nil {
		return nil, err
	}

	if currency.Valid {
		c.Currency = currency.String
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &c.Metadata); err != nil {
			return nil, err
		}
	}
	return &c, nil
}
