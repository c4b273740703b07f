// Package segment turns campaign audience rules into a conjunctive customer filter.
//
// Every clause is ANDed. A clause's Logic connective ("AND"/"OR") is accepted and
// carried on the wire but does not change the result; mixed AND/OR audiences are a
// known limitation.
package segment

import (
	"fmt"
	"strings"
	"time"

	"github.com/pulsecrm/delivery/internal/models"
)

// Condition is one compiled clause: column op value.
type Condition struct {
	Column string
	Op     string // SQL comparison operator
	Value  any    // float64 or time.Time
}

// Filter is the conjunction of all compiled conditions. An empty filter matches everyone.
type Filter struct {
	Conditions []Condition
}

var columns = map[string]string{
	models.FieldTotalSpent: "total_spent",
	models.FieldVisits:     "visits",
	models.FieldLastVisit:  "last_visit",
	models.FieldCreatedAt:  "created_at",
}

var sqlOps = map[string]string{
	models.OpGreater:      ">",
	models.OpLess:         "<",
	models.OpGreaterEqual: ">=",
	models.OpLessEqual:    "<=",
	models.OpEqual:        "=",
	models.OpNotEqual:     "<>",
}

// Compile translates rules into a Filter evaluated at now. Rules on unknown fields
// are skipped; unknown operators compare for equality. days_ago on a date field
// means "strictly before now minus N days".
func Compile(rules []models.Rule, now time.Time) (Filter, error) {
	var f Filter
	for i, r := range rules {
		col, ok := columns[r.Field]
		if !ok {
			continue
		}

		switch r.Field {
		case models.FieldTotalSpent, models.FieldVisits:
			v, err := r.Value.Float()
			if err != nil {
				return Filter{}, fmt.Errorf("rule %d: %s expects a number, got %q", i, r.Field, r.Value)
			}
			f.Conditions = append(f.Conditions, Condition{Column: col, Op: sqlOp(r.Operator), Value: v})

		case models.FieldLastVisit, models.FieldCreatedAt:
			if r.Operator == models.OpDaysAgo {
				days, err := r.Value.Int()
				if err != nil {
					return Filter{}, fmt.Errorf("rule %d: days_ago expects a whole number of days, got %q", i, r.Value)
				}
				f.Conditions = append(f.Conditions, Condition{Column: col, Op: "<", Value: now.AddDate(0, 0, -days)})
				continue
			}
			t, err := parseDate(string(r.Value))
			if err != nil {
				return Filter{}, fmt.Errorf("rule %d: %s expects a date, got %q", i, r.Field, r.Value)
			}
			f.Conditions = append(f.Conditions, Condition{Column: col, Op: sqlOp(r.Operator), Value: t})
		}
	}
	return f, nil
}

func sqlOp(op string) string {
	if s, ok := sqlOps[op]; ok {
		return s
	}
	return "="
}

func parseDate(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised date %q", s)
}

// SQL renders the filter as a WHERE fragment with positional args starting at $argStart.
func (f Filter) SQL(argStart int) (string, []any) {
	if len(f.Conditions) == 0 {
		return "TRUE", nil
	}
	parts := make([]string, 0, len(f.Conditions))
	args := make([]any, 0, len(f.Conditions))
	for i, c := range f.Conditions {
		parts = append(parts, fmt.Sprintf("%s %s $%d", c.Column, c.Op, argStart+i))
		args = append(args, c.Value)
	}
	return strings.Join(parts, " AND "), args
}

// Match evaluates the filter against a customer in memory. A nil timestamp never matches.
func (f Filter) Match(c models.Customer) bool {
	for _, cond := range f.Conditions {
		if !cond.match(c) {
			return false
		}
	}
	return true
}

func (cond Condition) match(c models.Customer) bool {
	switch cond.Column {
	case "total_spent":
		return compareFloat(c.TotalSpent, cond.Op, cond.Value.(float64))
	case "visits":
		return compareFloat(float64(c.Visits), cond.Op, cond.Value.(float64))
	case "last_visit":
		if c.LastVisit == nil {
			return false
		}
		return compareTime(*c.LastVisit, cond.Op, cond.Value.(time.Time))
	case "created_at":
		return compareTime(c.CreatedAt, cond.Op, cond.Value.(time.Time))
	}
	return false
}

func compareFloat(a float64, op string, b float64) bool {
	switch op {
	case ">":
		return a > b
	case "<":
		return a < b
	case ">=":
		return a >= b
	case "<=":
		return a <= b
	case "<>":
		return a != b
	default:
		return a == b
	}
}

func compareTime(a time.Time, op string, b time.Time) bool {
	switch op {
	case ">":
		return a.After(b)
	case "<":
		return a.Before(b)
	case ">=":
		return !a.Before(b)
	case "<=":
		return !a.After(b)
	case "<>":
		return !a.Equal(b)
	default:
		return a.Equal(b)
	}
}
