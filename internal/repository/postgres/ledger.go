package postgres

import (
	"context"
	"database/sql"

	"github.com/freeflowhq/billing-engine/internal/domain/ledger"
	ierr "github.com/freeflowhq/billing-engine/internal/errors"
	"github.com/freeflowhq/billing-engine/internal/logger"
	"github.com/freeflowhq/billing-engine/internal/postgres"
)

type ledgerRepository struct {
	client *postgres.Client
	logger *logger.Logger
}

// NewLedgerRepository returns the postgres-backed append-only ledger
func NewLedgerRepository(client *postgres.Client, log *logger.Logger) ledger.Repository {
	return &ledgerRepository{client: client, logger: log}
}

const ledgerColumns = `
	id, tenant_id, idempotency_key, entry_type, invoice_id, amount, currency,
	payment_method, outcome, decline_reason, requires_reconciliation, created_at`

// Record appends the entry unless the idempotency key was already recorded.
// ON CONFLICT DO NOTHING plus a follow-up read keeps the check-and-insert
// race-free without explicit locking.
func (r *ledgerRepository) Record(ctx context.Context, entry *ledger.Entry) (*ledger.Entry, bool, error) {
	res, err := r.client.Querier(ctx).ExecContext(ctx, `
		INSERT INTO ledger_entries (`+ledgerColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		ON CONFLICT (idempotency_key) DO NOTHING`,
		entry.ID, entry.TenantID, entry.IdempotencyKey, entry.EntryType, entry.InvoiceID,
		entry.Amount, entry.Currency, entry.PaymentMethod, entry.Outcome, entry.DeclineReason,
		entry.RequiresReconciliation, entry.CreatedAt,
	)
	if err != nil {
		return nil, false, ierr.WithError(err).
			WithHint("Failed to record ledger entry").
			Mark(ierr.ErrDatabase)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return nil, false, ierr.WithError(err).WithHint("Failed to record ledger entry").Mark(ierr.ErrDatabase)
	}
	if affected == 1 {
		return entry, false, nil
	}

	existing, err := r.Get(ctx, entry.IdempotencyKey)
	if err != nil {
		return nil, false, err
	}
	return existing, true, nil
}

func (r *ledgerRepository) Get(ctx context.Context, idempotencyKey string) (*ledger.Entry, error) {
	row := r.client.Querier(ctx).QueryRowContext(ctx, `
		SELECT `+ledgerColumns+`
		FROM ledger_entries WHERE idempotency_key = $1`, idempotencyKey)

	entry, err := scanLedgerEntry(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ierr.NewError("ledger entry not found").
				WithHint("No ledger entry for this idempotency key").
				WithReportableDetails(map[string]interface{}{"idempotency_key": idempotencyKey}).
				Mark(ierr.ErrNotFound)
		}
		return nil, ierr.WithError(err).WithHint("Failed to fetch ledger entry").Mark(ierr.ErrDatabase)
	}
	return entry, nil
}

func (r *ledgerRepository) ListByInvoice(ctx context.Context, invoiceID string) ([]*ledger.Entry, error) {
	rows, err := r.client.Querier(ctx).QueryContext(ctx, `
		SELECT `+ledgerColumns+`
		FROM ledger_entries WHERE invoice_id = $1
		ORDER BY created_at ASC`, invoiceID)
	if err != nil {
		return nil, ierr.WithError(err).WithHint("Failed to list ledger entries").Mark(ierr.ErrDatabase)
	}
	defer rows.Close()

	return collectLedgerEntries(rows)
}

func (r *ledgerRepository) ListRequiringReconciliation(ctx context.Context) ([]*ledger.Entry, error) {
	rows, err := r.client.Querier(ctx).QueryContext(ctx, `
		SELECT `+ledgerColumns+`
		FROM ledger_entries WHERE requires_reconciliation = TRUE
		ORDER BY created_at ASC`)
	if err != nil {
		return nil, ierr.WithError(err).WithHint("Failed to list reconciliation entries").Mark(ierr.ErrDatabase)
	}
	defer rows.Close()

	return collectLedgerEntries(rows)
}

func scanLedgerEntry(row rowScanner) (*ledger.Entry, error) {
	var e ledger.Entry
	err := row.Scan(
		&e.ID, &e.TenantID, &e.IdempotencyKey, &e.EntryType, &e.InvoiceID, &e.Amount, &e.Currency,
		&e.PaymentMethod, &e.Outcome, &e.DeclineReason, &e.RequiresReconciliation, &e.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func collectLedgerEntries(rows *sql.Rows) ([]*ledger.Entry, error) {
	var entries []*ledger.Entry
	for rows.Next() {
		e, err := scanLedgerEntry(rows)
		if err != nil {
			return nil, ierr.WithError(err).WithHint("Failed to scan ledger entry").Mark(ierr.ErrDatabase)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, ierr.WithError(err).WithHint("Failed to iterate ledger entries").Mark(ierr.ErrDatabase)
	}
	return entries, nil
}
