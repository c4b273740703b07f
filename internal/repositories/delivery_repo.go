package repositories

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pulsecrm/delivery/internal/models"
)

type DeliveryRepo struct {
	pool *pgxpool.Pool
}

func NewDeliveryRepo(pool *pgxpool.Pool) *DeliveryRepo {
	return &DeliveryRepo{pool: pool}
}

const deliveryColumns = `id, campaign_id, customer_id, message, status, vendor, message_id, cost,
	sent_at, delivered_at, failure_reason, webhook_received_at, created_at`

func scanDelivery(row pgx.Row) (*models.DeliveryRecord, error) {
	var d models.DeliveryRecord
	err := row.Scan(&d.ID, &d.CampaignID, &d.CustomerID, &d.Message, &d.Status, &d.Vendor,
		&d.MessageID, &d.Cost, &d.SentAt, &d.DeliveredAt, &d.FailureReason,
		&d.WebhookReceivedAt, &d.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (r *DeliveryRepo) CountByCampaign(ctx context.Context, campaignID uuid.UUID) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM delivery_records WHERE campaign_id = $1`, campaignID).Scan(&n)
	return n, err
}

// CreatePending locks the campaign row, so two deliveries of the same campaign
// serialize here and the second one sees the first one's records.
func (r *DeliveryRepo) CreatePending(ctx context.Context, campaignID uuid.UUID, records []models.DeliveryRecord) (bool, error) {
	created := false
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		var id uuid.UUID
		err := tx.QueryRow(ctx, `SELECT id FROM campaigns WHERE id = $1 FOR UPDATE`, campaignID).Scan(&id)
		if err != nil {
			return notFound(err)
		}

		var existing int
		if err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM delivery_records WHERE campaign_id = $1`, campaignID).Scan(&existing); err != nil {
			return err
		}
		if existing > 0 {
			return nil
		}

		now := time.Now().UTC()
		_, err = tx.CopyFrom(ctx,
			pgx.Identifier{"delivery_records"},
			[]string{"id", "campaign_id", "customer_id", "message", "status", "created_at"},
			pgx.CopyFromSlice(len(records), func(i int) ([]any, error) {
				rec := records[i]
				return []any{rec.ID, campaignID, rec.CustomerID, rec.Message, models.DeliveryStatusPending, now}, nil
			}),
		)
		if err != nil {
			return err
		}

		if _, err := tx.Exec(ctx, `UPDATE campaigns SET audience_size = $2 WHERE id = $1`, campaignID, len(records)); err != nil {
			return err
		}
		created = true
		return nil
	})
	return created, err
}

// ApplyOutcome writes a synchronous send result onto a record that is still PENDING.
func (r *DeliveryRepo) ApplyOutcome(ctx context.Context, recordID uuid.UUID, o models.SendOutcome) error {
	var sentAt *time.Time
	if o.Status == models.DeliveryStatusSent {
		sentAt = o.SentAt
	}
	_, err := r.pool.Exec(ctx, `
		UPDATE delivery_records
		SET status = $2, vendor = $3, message_id = $4, cost = $5, sent_at = $6, failure_reason = $7
		WHERE id = $1 AND status = $8
	`, recordID, o.Status, o.Vendor, o.MessageID, o.Cost, sentAt, o.FailureReason, models.DeliveryStatusPending)
	return err
}

func (r *DeliveryRepo) FailPending(ctx context.Context, ids []uuid.UUID, reason string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := r.pool.Exec(ctx, `
		UPDATE delivery_records SET status = $2, failure_reason = $3
		WHERE id = ANY($1) AND status = $4
	`, ids, models.DeliveryStatusFailed, reason, models.DeliveryStatusPending)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (r *DeliveryRepo) GetByMessageID(ctx context.Context, messageID string) (*models.DeliveryRecord, error) {
	d, err := scanDelivery(r.pool.QueryRow(ctx,
		`SELECT `+deliveryColumns+` FROM delivery_records WHERE message_id = $1`, messageID))
	if err != nil {
		return nil, notFound(err)
	}
	return d, nil
}

// ApplyReceipt refines a terminal record with its first receipt and reports
// whether it did. A nil cost or empty vendor keeps the stored value. PENDING
// records and records that already have a receipt are left alone.
func (r *DeliveryRepo) ApplyReceipt(ctx context.Context, u models.ReceiptUpdate) (bool, error) {
	var vendor *string
	if u.Vendor != "" {
		vendor = &u.Vendor
	}
	tag, err := r.pool.Exec(ctx, `
		UPDATE delivery_records
		SET status = $2,
		    delivered_at = COALESCE($3, delivered_at),
		    failure_reason = $4,
		    cost = COALESCE($5, cost),
		    vendor = COALESCE($6, vendor),
		    webhook_received_at = $7
		WHERE message_id = $1 AND status <> $8 AND webhook_received_at IS NULL
	`, u.MessageID, u.Status, u.DeliveredAt, u.FailureReason, u.Cost, vendor,
		u.WebhookReceivedAt, models.DeliveryStatusPending)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *DeliveryRepo) StatusCounts(ctx context.Context, campaignID uuid.UUID) (map[string]int, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT status, COUNT(*) FROM delivery_records WHERE campaign_id = $1 GROUP BY status
	`, campaignID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := map[string]int{}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// Stats aggregates records of one campaign, or of every campaign when
// campaignID is nil.
func (r *DeliveryRepo) Stats(ctx context.Context, campaignID *uuid.UUID) (*models.DeliveryStats, error) {
	stats := &models.DeliveryStats{Status: map[string]int{}, Vendors: []models.VendorBreakdown{}}

	rows, err := r.pool.Query(ctx, `
		SELECT status, COUNT(*) FROM delivery_records
		WHERE $1::uuid IS NULL OR campaign_id = $1
		GROUP BY status
	`, campaignID)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			rows.Close()
			return nil, err
		}
		stats.Status[status] = n
		stats.Total += n
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = r.pool.Query(ctx, `
		SELECT vendor, COUNT(*), COALESCE(AVG(cost), 0)::float8 FROM delivery_records
		WHERE ($1::uuid IS NULL OR campaign_id = $1) AND vendor IS NOT NULL
		GROUP BY vendor ORDER BY vendor
	`, campaignID)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var v models.VendorBreakdown
		if err := rows.Scan(&v.Vendor, &v.Count, &v.AvgCost); err != nil {
			rows.Close()
			return nil, err
		}
		stats.Vendors = append(stats.Vendors, v)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	err = r.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(cost), 0)::float8, COALESCE(AVG(cost), 0)::float8,
		       COALESCE(MIN(cost), 0)::float8, COALESCE(MAX(cost), 0)::float8
		FROM delivery_records
		WHERE ($1::uuid IS NULL OR campaign_id = $1) AND cost IS NOT NULL
	`, campaignID).Scan(&stats.Costs.Total, &stats.Costs.Average, &stats.Costs.Min, &stats.Costs.Max)
	if err != nil {
		return nil, err
	}
	return stats, nil
}
