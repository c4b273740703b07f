package repositories

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pulsecrm/delivery/internal/models"
)

type OrderRepo struct {
	pool *pgxpool.Pool
}

func NewOrderRepo(pool *pgxpool.Pool) *OrderRepo {
	return &OrderRepo{pool: pool}
}

// Create records the order and adds its amount to the customer's spend in one
// transaction. The customer's last visit becomes the order time.
func (r *OrderRepo) Create(ctx context.Context, o *models.Order) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		return r.create(ctx, tx, o)
	})
}

// CreateMany records all orders in one transaction.
func (r *OrderRepo) CreateMany(ctx context.Context, orders []models.Order) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		for i := range orders {
			if err := r.create(ctx, tx, &orders[i]); err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *OrderRepo) create(ctx context.Context, tx pgx.Tx, o *models.Order) error {
	err := tx.QueryRow(ctx, `
		INSERT INTO orders (customer_id, amount) VALUES ($1, $2)
		RETURNING id, created_at
	`, o.CustomerID, o.Amount).Scan(&o.ID, &o.CreatedAt)
	if err != nil {
		return err
	}

	tag, err := tx.Exec(ctx, `
		UPDATE customers
		SET total_spent = total_spent + $2, last_visit = $3, updated_at = now()
		WHERE id = $1
	`, o.CustomerID, o.Amount, o.CreatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("customer %s: %w", o.CustomerID, ErrNotFound)
	}
	return nil
}
