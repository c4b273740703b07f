package main

import (
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGeneratedPayloadsValidate(t *testing.T) {
	now := time.Date(2025, 3, 4, 10, 0, 0, 0, time.UTC)
	gen := newGenerator(7, now)
	v := validator.New()

	customers := gen.customers(200)
	require.Len(t, customers, 200)
	lapsed := 0
	for _, c := range customers {
		require.NoError(t, v.Struct(c))
		require.NotNil(t, c.LastVisit)
		assert.False(t, c.LastVisit.After(now))
		if c.LastVisit.Before(now.AddDate(0, 0, -90)) {
			lapsed++
		}
	}
	assert.Positive(t, lapsed)

	ids := []uuid.UUID{uuid.New(), uuid.New()}
	for _, o := range gen.orders(ids, 50) {
		require.NoError(t, v.Struct(o))
	}
	assert.Nil(t, gen.orders(nil, 10))
}

func TestChunk(t *testing.T) {
	got := chunk([]int{1, 2, 3, 4, 5}, 2)
	assert.Equal(t, [][]int{{1, 2}, {3, 4}, {5}}, got)
	assert.Nil(t, chunk([]int{}, 3))
}
