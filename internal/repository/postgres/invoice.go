package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/freeflowhq/billing-engine/internal/domain/invoice"
	ierr "github.com/freeflowhq/billing-engine/internal/errors"
	"github.com/freeflowhq/billing-engine/internal/logger"
	"github.com/freeflowhq/billing-engine/internal/postgres"
	"github.com/freeflowhq/billing-engine/internal/types"
	"github.com/lib/pq"
)

type invoiceRepository struct {
	client *postgres.Client
	logger *logger.Logger
}

// NewInvoiceRepository returns the postgres-backed invoice store
func NewInvoiceRepository(client *postgres.Client, log *logger.Logger) invoice.Repository {
	return &invoiceRepository{client: client, logger: log}
}

const invoiceColumns = `
	id, tenant_id, environment_id, invoice_number, subscription_id, customer_id,
	invoice_status, currency, subtotal, discount_amount, tax_amount, total,
	amount_paid, amount_remaining, period_start, period_end, due_date,
	attempt_count, next_attempt_at, opened_at, paid_at, voided_at,
	applied_coupon_id, metadata, version, status, created_at, updated_at,
	created_by, updated_by`

func (r *invoiceRepository) Create(ctx context.Context, inv *invoice.Invoice) error {
	return r.client.WithTx(ctx, func(txCtx context.Context) error {
		metadata, err := json.Marshal(inv.Metadata)
		if err != nil {
			return ierr.WithError(err).WithHint("Failed to encode metadata").Mark(ierr.ErrInternal)
		}

		_, err = r.client.Querier(txCtx).ExecContext(txCtx, `
			INSERT INTO invoices (`+invoiceColumns+`)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$25,$26,$27,$28,$29,$30)`,
			inv.ID, inv.TenantID, inv.EnvironmentID, inv.InvoiceNumber, inv.SubscriptionID, inv.CustomerID,
			inv.InvoiceStatus, inv.Currency, inv.Subtotal, inv.DiscountAmount, inv.TaxAmount, inv.Total,
			inv.AmountPaid, inv.AmountRemaining, inv.PeriodStart, inv.PeriodEnd, inv.DueDate,
			inv.AttemptCount, inv.NextAttemptAt, inv.OpenedAt, inv.PaidAt, inv.VoidedAt,
			inv.AppliedCouponID, metadata, inv.Version, inv.Status, inv.CreatedAt, inv.UpdatedAt,
			inv.CreatedBy, inv.UpdatedBy,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return ierr.NewError("invoice already exists for this period").
					WithHint("An invoice was already created for this subscription period").
					WithReportableDetails(map[string]interface{}{
						"subscription_id": inv.SubscriptionID,
						"period_start":    inv.PeriodStart,
					}).
					Mark(ierr.ErrAlreadyExists)
			}
			return ierr.WithError(err).WithHint("Failed to create invoice").Mark(ierr.ErrDatabase)
		}

		return r.insertLineItems(txCtx, inv.ID, inv.LineItems)
	})
}

func (r *invoiceRepository) insertLineItems(ctx context.Context, invoiceID string, items []*invoice.LineItem) error {
	for _, li := range items {
		metadata, err := json.Marshal(li.Metadata)
		if err != nil {
			return ierr.WithError(err).WithHint("Failed to encode metadata").Mark(ierr.ErrInternal)
		}
		_, err = r.client.Querier(ctx).ExecContext(ctx, `
			INSERT INTO invoice_line_items (
				id, tenant_id, environment_id, invoice_id, description, quantity,
				unit_amount, amount, period_start, period_end, proration, metadata,
				status, created_at, updated_at, created_by, updated_by
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
			ON CONFLICT (id) DO NOTHING`,
			li.ID, li.TenantID, li.EnvironmentID, invoiceID, li.Description, li.Quantity,
			li.UnitAmount, li.Amount, li.PeriodStart, li.PeriodEnd, li.Proration, metadata,
			li.Status, li.CreatedAt, li.UpdatedAt, li.CreatedBy, li.UpdatedBy,
		)
		if err != nil {
			return ierr.WithError(err).WithHint("Failed to create invoice line item").Mark(ierr.ErrDatabase)
		}
	}
	return nil
}

func (r *invoiceRepository) Get(ctx context.Context, id string) (*invoice.Invoice, error) {
	row := r.client.Querier(ctx).QueryRowContext(ctx, `
		SELECT `+invoiceColumns+`
		FROM invoices WHERE id = $1 AND status != $2`, id, types.StatusDeleted)

	inv, err := scanInvoice(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ierr.NewError("invoice not found").
				WithHint("Invoice not found").
				WithReportableDetails(map[string]interface{}{"id": id}).
				Mark(ierr.ErrNotFound)
		}
		return nil, ierr.WithError(err).WithHint("Failed to fetch invoice").Mark(ierr.ErrDatabase)
	}

	if err := r.loadLineItems(ctx, inv); err != nil {
		return nil, err
	}
	return inv, nil
}

func (r *invoiceRepository) GetByPeriod(ctx context.Context, subscriptionID string, periodStart time.Time) (*invoice.Invoice, error) {
	row := r.client.Querier(ctx).QueryRowContext(ctx, `
		SELECT `+invoiceColumns+`
		FROM invoices
		WHERE subscription_id = $1 AND period_start = $2 AND status != $3`,
		subscriptionID, periodStart, types.StatusDeleted)

	inv, err := scanInvoice(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ierr.NewError("invoice not found for period").
				WithHint("No invoice exists for this subscription period").
				WithReportableDetails(map[string]interface{}{
					"subscription_id": subscriptionID,
					"period_start":    periodStart,
				}).
				Mark(ierr.ErrNotFound)
		}
		return nil, ierr.WithError(err).WithHint("Failed to fetch invoice").Mark(ierr.ErrDatabase)
	}

	if err := r.loadLineItems(ctx, inv); err != nil {
		return nil, err
	}
	return inv, nil
}

// Update performs a versioned write of the invoice header and appends any new
// line items. Existing line items are immutable.
func (r *invoiceRepository) Update(ctx context.Context, inv *invoice.Invoice) error {
	return r.client.WithTx(ctx, func(txCtx context.Context) error {
		metadata, err := json.Marshal(inv.Metadata)
		if err != nil {
			return ierr.WithError(err).WithHint("Failed to encode metadata").Mark(ierr.ErrInternal)
		}

		res, err := r.client.Querier(txCtx).ExecContext(txCtx, `
			UPDATE invoices SET
				invoice_status = $1, subtotal = $2, discount_amount = $3, tax_amount = $4,
				total = $5, amount_paid = $6, amount_remaining = $7, due_date = $8,
				attempt_count = $9, next_attempt_at = $10, opened_at = $11, paid_at = $12,
				voided_at = $13, applied_coupon_id = $14, metadata = $15,
				version = version + 1, updated_at = $16, updated_by = $17
			WHERE id = $18 AND version = $19`,
			inv.InvoiceStatus, inv.Subtotal, inv.DiscountAmount, inv.TaxAmount,
			inv.Total, inv.AmountPaid, inv.AmountRemaining, inv.DueDate,
			inv.AttemptCount, inv.NextAttemptAt, inv.OpenedAt, inv.PaidAt,
			inv.VoidedAt, inv.AppliedCouponID, metadata,
			time.Now().UTC(), types.GetUserID(txCtx),
			inv.ID, inv.Version,
		)
		if err != nil {
			return ierr.WithError(err).WithHint("Failed to update invoice").Mark(ierr.ErrDatabase)
		}

		affected, err := res.RowsAffected()
		if err != nil {
			return ierr.WithError(err).WithHint("Failed to update invoice").Mark(ierr.ErrDatabase)
		}
		if affected == 0 {
			return ierr.NewError("invoice was modified concurrently").
				WithHint("Re-read the invoice and retry the operation").
				WithReportableDetails(map[string]interface{}{"id": inv.ID, "version": inv.Version}).
				Mark(ierr.ErrVersionConflict)
		}

		if err := r.insertLineItems(txCtx, inv.ID, inv.LineItems); err != nil {
			return err
		}

		inv.Version++
		return nil
	})
}

func (r *invoiceRepository) List(ctx context.Context, customerID string) ([]*invoice.Invoice, error) {
	rows, err := r.client.Querier(ctx).QueryContext(ctx, `
		SELECT `+invoiceColumns+`
		FROM invoices
		WHERE customer_id = $1 AND status != $2
		ORDER BY created_at DESC`, customerID, types.StatusDeleted)
	if err != nil {
		return nil, ierr.WithError(err).WithHint("Failed to list invoices").Mark(ierr.ErrDatabase)
	}
	defer rows.Close()

	invoices, err := collectInvoices(rows)
	if err != nil {
		return nil, err
	}
	for _, inv := range invoices {
		if err := r.loadLineItems(ctx, inv); err != nil {
			return nil, err
		}
	}
	return invoices, nil
}

func (r *invoiceRepository) ListDueForCollection(ctx context.Context, now time.Time) ([]*invoice.Invoice, error) {
	rows, err := r.client.Querier(ctx).QueryContext(ctx, `
		SELECT `+invoiceColumns+`
		FROM invoices
		WHERE invoice_status = $1
		  AND amount_remaining > 0
		  AND next_attempt_at IS NOT NULL
		  AND next_attempt_at <= $2
		  AND status != $3
		ORDER BY next_attempt_at ASC`,
		types.InvoiceStatusOpen, now, types.StatusDeleted)
	if err != nil {
		return nil, ierr.WithError(err).WithHint("Failed to list due invoices").Mark(ierr.ErrDatabase)
	}
	defer rows.Close()

	return collectInvoices(rows)
}

// NextSequence claims the next invoice number for the (tenant, scope) bucket.
// The upsert takes a row lock, so concurrent claimants serialize and every
// caller gets a distinct value.
func (r *invoiceRepository) NextSequence(ctx context.Context, tenantID, scope string) (int, error) {
	var value int
	err := r.client.Querier(ctx).QueryRowContext(ctx, `
		INSERT INTO invoice_sequences (tenant_id, scope, last_value)
		VALUES ($1, $2, 1)
		ON CONFLICT (tenant_id, scope)
		DO UPDATE SET last_value = invoice_sequences.last_value + 1
		RETURNING last_value`, tenantID, scope).Scan(&value)
	if err != nil {
		return 0, ierr.WithError(err).WithHint("Failed to claim invoice sequence").Mark(ierr.ErrDatabase)
	}
	return value, nil
}

func (r *invoiceRepository) loadLineItems(ctx context.Context, inv *invoice.Invoice) error {
	rows, err := r.client.Querier(ctx).QueryContext(ctx, `
		SELECT id, tenant_id, environment_id, invoice_id, description, quantity,
		       unit_amount, amount, period_start, period_end, proration, metadata,
		       status, created_at, updated_at, created_by, updated_by
		FROM invoice_line_items
		WHERE invoice_id = $1
		ORDER BY created_at ASC, id ASC`, inv.ID)
	if err != nil {
		return ierr.WithError(err).WithHint("Failed to load line items").Mark(ierr.ErrDatabase)
	}
	defer rows.Close()

	var items []*invoice.LineItem
	for rows.Next() {
		var li invoice.LineItem
		var metadata []byte
		err := rows.Scan(
			&li.ID, &li.TenantID, &li.EnvironmentID, &li.InvoiceID, &li.Description, &li.Quantity,
			&li.UnitAmount, &li.Amount, &li.PeriodStart, &li.PeriodEnd, &li.Proration, &metadata,
			&li.Status, &li.CreatedAt, &li.UpdatedAt, &li.CreatedBy, &li.UpdatedBy,
		)
		if err != nil {
			return ierr.WithError(err).WithHint("Failed to scan line item").Mark(ierr.ErrDatabase)
		}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &li.Metadata); err != nil {
				return ierr.WithError(err).WithHint("Failed to decode line item metadata").Mark(ierr.ErrInternal)
			}
		}
		items = append(items, &li)
	}
	if err := rows.Err(); err != nil {
		return ierr.WithError(err).WithHint("Failed to iterate line items").Mark(ierr.ErrDatabase)
	}

	inv.LineItems = items
	return nil
}

func scanInvoice(row rowScanner) (*invoice.Invoice, error) {
	var inv invoice.Invoice
	var metadata []byte

	err := row.Scan(
		&inv.ID, &inv.TenantID, &inv.EnvironmentID, &inv.InvoiceNumber, &inv.SubscriptionID, &inv.CustomerID,
		&inv.InvoiceStatus, &inv.Currency, &inv.Subtotal, &inv.DiscountAmount, &inv.TaxAmount, &inv.Total,
		&inv.AmountPaid, &inv.AmountRemaining, &inv.PeriodStart, &inv.PeriodEnd, &inv.DueDate,
		&inv.AttemptCount, &inv.NextAttemptAt, &inv.OpenedAt, &inv.PaidAt, &inv.VoidedAt,
		&inv.AppliedCouponID, &metadata, &inv.Version, &inv.Status, &inv.CreatedAt, &inv.UpdatedAt,
		&inv.CreatedBy, &inv.UpdatedBy,
	)
	if err != nil {
		return nil, err
	}

	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &inv.Metadata); err != nil {
			return nil, err
		}
	}
	return &inv, nil
}

func collectInvoices(rows *sql.Rows) ([]*invoice.Invoice, error) {
	var invoices []*invoice.Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, ierr.WithError(err).WithHint("Failed to scan invoice").Mark(ierr.ErrDatabase)
		}
		invoices = append(invoices, inv)
	}
	if err := rows.Err(); err != nil {
		return nil, ierr.WithError(err).WithHint("Failed to iterate invoices").Mark(ierr.ErrDatabase)
	}
	return invoices, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if ok := errorsAs(err, &pqErr); ok {
		// 23505 = unique_violation
		return pqErr.Code == "23505"
	}
	return false
}
