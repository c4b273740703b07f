package segment

import (
	"testing"
	"time"

	"github.com/pulsecrm/delivery/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

func daysAgo(n int) *time.Time {
	t := now.AddDate(0, 0, -n)
	return &t
}

func TestTotalSpentGreaterExcludesBoundary(t *testing.T) {
	f, err := Compile([]models.Rule{{Field: models.FieldTotalSpent, Operator: ">", Value: "500"}}, now)
	require.NoError(t, err)

	tests := []struct {
		spent    float64
		expected bool
	}{
		{500.01, true},
		{1000, true},
		{500, false},
		{499.99, false},
		{0, false},
	}
	for _, tt := range tests {
		got := f.Match(models.Customer{TotalSpent: tt.spent})
		assert.Equal(t, tt.expected, got, "spent=%v", tt.spent)
	}
}

func TestLastVisitDaysAgoIsStrict(t *testing.T) {
	f, err := Compile([]models.Rule{{Field: models.FieldLastVisit, Operator: models.OpDaysAgo, Value: "30"}}, now)
	require.NoError(t, err)

	assert.True(t, f.Match(models.Customer{LastVisit: daysAgo(31)}), "31 days ago should match")
	assert.False(t, f.Match(models.Customer{LastVisit: daysAgo(29)}), "29 days ago should not match")
	assert.False(t, f.Match(models.Customer{LastVisit: daysAgo(30)}), "exactly 30 days ago should not match")
	assert.False(t, f.Match(models.Customer{}), "never visited should not match")
}

func TestOrConnectiveIsInert(t *testing.T) {
	rules := []models.Rule{
		{Field: models.FieldTotalSpent, Operator: ">", Value: "1000", Logic: models.LogicOr},
		{Field: models.FieldVisits, Operator: "<", Value: "5"},
	}
	f, err := Compile(rules, now)
	require.NoError(t, err)

	// A customer satisfying only one side of the OR is still excluded.
	assert.False(t, f.Match(models.Customer{TotalSpent: 2000, Visits: 10}))
	assert.False(t, f.Match(models.Customer{TotalSpent: 10, Visits: 1}))
	assert.True(t, f.Match(models.Customer{TotalSpent: 2000, Visits: 1}))
}

func TestOperators(t *testing.T) {
	c := models.Customer{Visits: 5}
	tests := []struct {
		op       string
		value    models.RuleValue
		expected bool
	}{
		{">", "4", true},
		{">", "5", false},
		{"<", "6", true},
		{">=", "5", true},
		{"<=", "5", true},
		{"<=", "4", false},
		{"=", "5", true},
		{"!=", "5", false},
		{"!=", "4", true},
		{"~", "5", true}, // unknown operator compares for equality
	}
	for _, tt := range tests {
		t.Run(tt.op+string(tt.value), func(t *testing.T) {
			f, err := Compile([]models.Rule{{Field: models.FieldVisits, Operator: tt.op, Value: tt.value}}, now)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, f.Match(c))
		})
	}
}

func TestCreatedAtDate(t *testing.T) {
	f, err := Compile([]models.Rule{{Field: models.FieldCreatedAt, Operator: ">=", Value: "2025-01-01"}}, now)
	require.NoError(t, err)

	assert.True(t, f.Match(models.Customer{CreatedAt: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}))
	assert.False(t, f.Match(models.Customer{CreatedAt: time.Date(2024, 12, 31, 23, 0, 0, 0, time.UTC)}))
}

func TestUnknownFieldIsSkipped(t *testing.T) {
	f, err := Compile([]models.Rule{{Field: "favouriteColour", Operator: "=", Value: "blue"}}, now)
	require.NoError(t, err)
	assert.Empty(t, f.Conditions)
	assert.True(t, f.Match(models.Customer{}))
}

func TestInvalidValues(t *testing.T) {
	tests := []models.Rule{
		{Field: models.FieldTotalSpent, Operator: ">", Value: "lots"},
		{Field: models.FieldLastVisit, Operator: models.OpDaysAgo, Value: "a month"},
		{Field: models.FieldCreatedAt, Operator: ">", Value: "yesterday"},
	}
	for _, r := range tests {
		_, err := Compile([]models.Rule{r}, now)
		assert.Error(t, err, "rule %+v", r)
	}
}

func TestSQL(t *testing.T) {
	f, err := Compile([]models.Rule{
		{Field: models.FieldTotalSpent, Operator: ">", Value: "500"},
		{Field: models.FieldVisits, Operator: "!=", Value: "3"},
		{Field: models.FieldLastVisit, Operator: models.OpDaysAgo, Value: "30"},
	}, now)
	require.NoError(t, err)

	where, args := f.SQL(1)
	assert.Equal(t, "total_spent > $1 AND visits <> $2 AND last_visit < $3", where)
	require.Len(t, args, 3)
	assert.Equal(t, 500.0, args[0])
	assert.Equal(t, 3.0, args[1])
	assert.Equal(t, now.AddDate(0, 0, -30), args[2])

	empty, _ := Compile(nil, now)
	where, args = empty.SQL(1)
	assert.Equal(t, "TRUE", where)
	assert.Empty(t, args)
}
