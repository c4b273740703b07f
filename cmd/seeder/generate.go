package main

import (
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/google/uuid"
	"github.com/pulsecrm/delivery/internal/models"
)

type generator struct {
	faker *gofakeit.Faker
	now   time.Time
}

func newGenerator(seed int64, now time.Time) *generator {
	return &generator{faker: gofakeit.New(seed), now: now}
}

// customers builds n customers. Roughly a third have not visited in over 90
// days so lapsed-customer segments have something to select.
func (g *generator) customers(n int) []models.CustomerPayload {
	out := make([]models.CustomerPayload, n)
	for i := range out {
		lastVisit := g.faker.DateRange(g.now.AddDate(0, 0, -60), g.now)
		if g.faker.Number(1, 3) == 1 {
			lastVisit = g.faker.DateRange(g.now.AddDate(-1, 0, 0), g.now.AddDate(0, 0, -91))
		}
		out[i] = models.CustomerPayload{
			Name:       g.faker.Name(),
			Email:      g.faker.Email(),
			TotalSpent: g.faker.Price(0, 5000),
			Visits:     g.faker.Number(0, 40),
			LastVisit:  &lastVisit,
		}
	}
	return out
}

// orders spreads n orders over the given customers.
func (g *generator) orders(customerIDs []uuid.UUID, n int) []models.OrderPayload {
	if len(customerIDs) == 0 {
		return nil
	}
	out := make([]models.OrderPayload, n)
	for i := range out {
		out[i] = models.OrderPayload{
			CustomerID: customerIDs[g.faker.Number(0, len(customerIDs)-1)].String(),
			Amount:     g.faker.Price(5, 500),
		}
	}
	return out
}

func chunk[T any](items []T, size int) [][]T {
	var out [][]T
	for start := 0; start < len(items); start += size {
		out = append(out, items[start:min(start+size, len(items))])
	}
	return out
}
