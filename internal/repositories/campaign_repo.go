package repositories

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pulsecrm/delivery/internal/models"
)

type CampaignRepo struct {
	pool *pgxpool.Pool
}

func NewCampaignRepo(pool *pgxpool.Pool) *CampaignRepo {
	return &CampaignRepo{pool: pool}
}

const campaignColumns = `id, name, rules, message, audience_size, status, created_by, created_at, completed_at`

func (r *CampaignRepo) Create(ctx context.Context, c *models.Campaign) error {
	if c.Status == "" {
		c.Status = models.CampaignStatusActive
	}
	return r.pool.QueryRow(ctx, `
		INSERT INTO campaigns (name, rules, message, audience_size, status, created_by)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at
	`, c.Name, c.Rules, c.Message, c.AudienceSize, c.Status, c.CreatedBy,
	).Scan(&c.ID, &c.CreatedAt)
}

func (r *CampaignRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Campaign, error) {
	var c models.Campaign
	err := r.pool.QueryRow(ctx, `SELECT `+campaignColumns+` FROM campaigns WHERE id = $1`, id).
		Scan(&c.ID, &c.Name, &c.Rules, &c.Message, &c.AudienceSize, &c.Status,
			&c.CreatedBy, &c.CreatedAt, &c.CompletedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &c, nil
}

// MarkCompleted moves the campaign to COMPLETED unless it already is. Only the
// caller whose update matched gets true.
func (r *CampaignRepo) MarkCompleted(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE campaigns SET status = $2, completed_at = $3
		WHERE id = $1 AND status IN ($4, $5)
	`, id, models.CampaignStatusCompleted, at, models.CampaignStatusActive, models.CampaignStatusFailed)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *CampaignRepo) MarkFailed(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE campaigns SET status = $2 WHERE id = $1 AND status = $3
	`, id, models.CampaignStatusFailed, models.CampaignStatusActive)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

type CampaignFilter struct {
	CreatedBy *uuid.UUID
	Status    *string
	Limit     int
	Offset    int
}

// ListWithStats returns campaigns newest first with their delivery breakdown.
func (r *CampaignRepo) ListWithStats(ctx context.Context, f CampaignFilter) ([]models.CampaignWithStats, error) {
	args := []any{}
	argIdx := 1
	where := []string{}

	if f.CreatedBy != nil {
		where = append(where, fmt.Sprintf("c.created_by = $%d", argIdx))
		args = append(args, *f.CreatedBy)
		argIdx++
	}
	if f.Status != nil {
		where = append(where, fmt.Sprintf("c.status = $%d", argIdx))
		args = append(args, *f.Status)
		argIdx++
	}

	query := `
		SELECT c.id, c.name, c.rules, c.message, c.audience_size, c.status,
		       c.created_by, c.created_at, c.completed_at,
		       COUNT(d.id) FILTER (WHERE d.status = 'SENT'),
		       COUNT(d.id) FILTER (WHERE d.status = 'FAILED'),
		       COUNT(d.id) FILTER (WHERE d.status = 'PENDING')
		FROM campaigns c
		LEFT JOIN delivery_records d ON d.campaign_id = c.id
	`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}

	limit := f.Limit
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	query += fmt.Sprintf(" GROUP BY c.id ORDER BY c.created_at DESC LIMIT $%d OFFSET $%d", argIdx, argIdx+1)
	args = append(args, limit, f.Offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	campaigns := []models.CampaignWithStats{}
	for rows.Next() {
		var c models.CampaignWithStats
		var sent, failed, pending int
		if err := rows.Scan(&c.ID, &c.Name, &c.Rules, &c.Message, &c.AudienceSize, &c.Status,
			&c.CreatedBy, &c.CreatedAt, &c.CompletedAt, &sent, &failed, &pending); err != nil {
			return nil, err
		}
		c.Stats = models.NewCampaignStats(map[string]int{
			models.DeliveryStatusSent:    sent,
			models.DeliveryStatusFailed:  failed,
			models.DeliveryStatusPending: pending,
		})
		campaigns = append(campaigns, c)
	}
	return campaigns, rows.Err()
}
