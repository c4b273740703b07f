package repositories

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pulsecrm/delivery/internal/models"
	"github.com/pulsecrm/delivery/internal/segment"
)

type CustomerRepo struct {
	pool *pgxpool.Pool
}

func NewCustomerRepo(pool *pgxpool.Pool) *CustomerRepo {
	return &CustomerRepo{pool: pool}
}

const upsertCustomerSQL = `
	INSERT INTO customers (name, email, total_spent, visits, last_visit)
	VALUES ($1, $2, $3, $4, $5)
	ON CONFLICT (email) DO UPDATE SET
		name = EXCLUDED.name,
		total_spent = EXCLUDED.total_spent,
		visits = EXCLUDED.visits,
		last_visit = EXCLUDED.last_visit,
		updated_at = now()
	RETURNING id, created_at
`

// Upsert inserts the customer or overwrites the one with the same email.
func (r *CustomerRepo) Upsert(ctx context.Context, c *models.Customer) error {
	return r.pool.QueryRow(ctx, upsertCustomerSQL,
		c.Name, c.Email, c.TotalSpent, c.Visits, c.LastVisit,
	).Scan(&c.ID, &c.CreatedAt)
}

// UpsertMany upserts all customers in one transaction.
func (r *CustomerRepo) UpsertMany(ctx context.Context, customers []models.Customer) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, c := range customers {
			batch.Queue(upsertCustomerSQL, c.Name, c.Email, c.TotalSpent, c.Visits, c.LastVisit)
		}
		return tx.SendBatch(ctx, batch).Close()
	})
}

func (r *CustomerRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Customer, error) {
	var c models.Customer
	err := r.pool.QueryRow(ctx, `
		SELECT id, name, email, total_spent, visits, last_visit, created_at
		FROM customers WHERE id = $1
	`, id).Scan(&c.ID, &c.Name, &c.Email, &c.TotalSpent, &c.Visits, &c.LastVisit, &c.CreatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &c, nil
}

// ListMatching returns every customer selected by the audience filter.
func (r *CustomerRepo) ListMatching(ctx context.Context, f segment.Filter) ([]models.Customer, error) {
	where, args := f.SQL(1)
	rows, err := r.pool.Query(ctx, `
		SELECT id, name, email, total_spent, visits, last_visit, created_at
		FROM customers WHERE `+where+` ORDER BY created_at`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var customers []models.Customer
	for rows.Next() {
		var c models.Customer
		if err := rows.Scan(&c.ID, &c.Name, &c.Email, &c.TotalSpent, &c.Visits, &c.LastVisit, &c.CreatedAt); err != nil {
			return nil, err
		}
		customers = append(customers, c)
	}
	return customers, rows.Err()
}

// CountMatching sizes an audience without loading it.
func (r *CustomerRepo) CountMatching(ctx context.Context, f segment.Filter) (int, error) {
	where, args := f.SQL(1)
	var n int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM customers WHERE `+where, args...).Scan(&n)
	return n, err
}

func (r *CustomerRepo) TouchLastVisit(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE customers SET last_visit = $2, updated_at = now() WHERE id = $1
	`, id, at)
	return err
}
