package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/freeflowhq/billing-engine/internal/domain/webhookendpoint"
	ierr "github.com/freeflowhq/billing-engine/internal/errors"
	"github.com/freeflowhq/billing-engine/internal/logger"
	"github.com/freeflowhq/billing-engine/internal/postgres"
	"github.com/freeflowhq/billing-engine/internal/types"
	"github.com/lib/pq"
)

type webhookEndpointRepository struct {
	client *postgres.Client
	logger *logger.Logger
}

// NewWebhookEndpointRepository returns the postgres-backed endpoint store
func NewWebhookEndpointRepository(client *postgres.Client, log *logger.Logger) webhookendpoint.Repository {
	return &webhookEndpointRepository{client: client, logger: log}
}

const endpointColumns = `
	id, tenant_id, environment_id, url, event_types, secret, enabled,
	recent_outcomes, last_delivery_at, last_delivery_status, metadata, version,
	status, created_at, updated_at, created_by, updated_by`

func (r *webhookEndpointRepository) Create(ctx context.Context, e *webhookendpoint.Endpoint) error {
	metadata, err := json.Marshal(e.Metadata)
	if err != nil {
		return ierr.WithError(err).WithHint("Failed to encode metadata").Mark(ierr.ErrInternal)
	}

	_, err = r.client.Querier(ctx).ExecContext(ctx, `
		INSERT INTO webhook_endpoints (`+endpointColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)`,
		e.ID, e.TenantID, e.EnvironmentID, e.URL, pq.Array(e.EventTypes), e.Secret, e.Enabled,
		encodeOutcomes(e.RecentOutcomes), e.LastDeliveryAt, e.LastDeliveryStatus, metadata, e.Version,
		e.Status, e.CreatedAt, e.UpdatedAt, e.CreatedBy, e.UpdatedBy,
	)
	if err != nil {
		return ierr.WithError(err).WithHint("Failed to create webhook endpoint").Mark(ierr.ErrDatabase)
	}
	return nil
}

func (r *webhookEndpointRepository) Get(ctx context.Context, id string) (*webhookendpoint.Endpoint, error) {
	row := r.client.Querier(ctx).QueryRowContext(ctx, `
		SELECT `+endpointColumns+`
		FROM webhook_endpoints WHERE id = $1 AND status != $2`, id, types.StatusDeleted)

	e, err := scanEndpoint(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ierr.NewError("webhook endpoint not found").
				WithHint("Webhook endpoint not found").
				WithReportableDetails(map[string]interface{}{"id": id}).
				Mark(ierr.ErrNotFound)
		}
		return nil, ierr.WithError(err).WithHint("Failed to fetch webhook endpoint").Mark(ierr.ErrDatabase)
	}
	return e, nil
}

func (r *webhookEndpointRepository) Update(ctx context.Context, e *webhookendpoint.Endpoint) error {
	metadata, err := json.Marshal(e.Metadata)
	if err != nil {
		return ierr.WithError(err).WithHint("Failed to encode metadata").Mark(ierr.ErrInternal)
	}

	res, err := r.client.Querier(ctx).ExecContext(ctx, `
		UPDATE webhook_endpoints SET
			url = $1, event_types = $2, secret = $3, enabled = $4,
			recent_outcomes = $5, last_delivery_at = $6, last_delivery_status = $7,
			metadata = $8, version = version + 1, updated_at = $9, updated_by = $10
		WHERE id = $11 AND version = $12`,
		e.URL, pq.Array(e.EventTypes), e.Secret, e.Enabled,
		encodeOutcomes(e.RecentOutcomes), e.LastDeliveryAt, e.LastDeliveryStatus,
		metadata, time.Now().UTC(), types.GetUserID(ctx),
		e.ID, e.Version,
	)
	if err != nil {
		return ierr.WithError(err).WithHint("Failed to update webhook endpoint").Mark(ierr.ErrDatabase)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return ierr.WithError(err).WithHint("Failed to update webhook endpoint").Mark(ierr.ErrDatabase)
	}
	if affected == 0 {
		return ierr.NewError("webhook endpoint was modified concurrently").
			WithHint("Re-read the endpoint and retry").
			WithReportableDetails(map[string]interface{}{"id": e.ID, "version": e.Version}).
			Mark(ierr.ErrVersionConflict)
	}

	e.Version++
	return nil
}

func (r *webhookEndpointRepository) List(ctx context.Context) ([]*webhookendpoint.Endpoint, error) {
	rows, err := r.client.Querier(ctx).QueryContext(ctx, `
		SELECT `+endpointColumns+`
		FROM webhook_endpoints WHERE status != $1
		ORDER BY created_at DESC`, types.StatusDeleted)
	if err != nil {
		return nil, ierr.WithError(err).WithHint("Failed to list webhook endpoints").Mark(ierr.ErrDatabase)
	}
	defer rows.Close()

	return collectEndpoints(rows)
}

func (r *webhookEndpointRepository) ListEnabledForEvent(ctx context.Context, eventType string) ([]*webhookendpoint.Endpoint, error) {
	rows, err := r.client.Querier(ctx).QueryContext(ctx, `
		SELECT `+endpointColumns+`
		FROM webhook_endpoints
		WHERE enabled = TRUE AND $1 = ANY(event_types) AND status = $2`,
		eventType, types.StatusPublished)
	if err != nil {
		return nil, ierr.WithError(err).WithHint("Failed to list endpoints for event").Mark(ierr.ErrDatabase)
	}
	defer rows.Close()

	return collectEndpoints(rows)
}

// encodeOutcomes packs the rolling window as a string of '1'/'0' so it fits a
// single text column.
func encodeOutcomes(outcomes []bool) string {
	var b strings.Builder
	for _, ok := range outcomes {
		if ok {
			b.WriteByte('1')
		} else {
			b.WriteByte('0')
		}
	}
	return b.String()
}

func decodeOutcomes(s string) []bool {
	if s == "" {
		return nil
	}
	outcomes := make([]bool, 0, len(s))
	for _, ch := range s {
		outcomes = append(outcomes, ch == '1')
	}
	return outcomes
}

func scanEndpoint(row rowScanner) (*webhookendpoint.Endpoint, error) {
	var e webhookendpoint.Endpoint
	var metadata []byte
	var outcomes string
	var eventTypes pq.StringArray

	err := row.Scan(
		&e.ID, &e.TenantID, &e.EnvironmentID, &e.URL, &eventTypes, &e.Secret, &e.Enabled,
		&outcomes, &e.LastDeliveryAt, &e.LastDeliveryStatus, &metadata, &e.Version,
		&e.Status, &e.CreatedAt, &e.UpdatedAt, &e.CreatedBy, &e.UpdatedBy,
	)
	if err != nil {
		return nil, err
	}

	e.EventTypes = []string(eventTypes)
	e.RecentOutcomes = decodeOutcomes(outcomes)
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &e.Metadata); err != nil {
			return nil, err
		}
	}
	return &e, nil
}

func collectEndpoints(rows *sql.Rows) ([]*webhookendpoint.Endpoint, error) {
	var endpoints []*webhookendpoint.Endpoint
	for rows.Next() {
		e, err := scanEndpoint(rows)
		if err != nil {
			return nil, ierr.WithError(err).WithHint("Failed to scan webhook endpoint").Mark(ierr.ErrDatabase)
		}
		endpoints = append(endpoints, e)
	}
	if err := rows.Err(); err != nil {
		return nil, ierr.WithError(err).WithHint("Failed to iterate webhook endpoints").Mark(ierr.ErrDatabase)
	}
	return endpoints, nil
}
