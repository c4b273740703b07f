package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Rule fields
const (
	FieldTotalSpent = "totalSpent"
	FieldVisits     = "visits"
	FieldLastVisit  = "lastVisit"
	FieldCreatedAt  = "createdAt"
)

// Rule operators
const (
	OpGreater      = ">"
	OpLess         = "<"
	OpGreaterEqual = ">="
	OpLessEqual    = "<="
	OpEqual        = "="
	OpNotEqual     = "!="
	OpDaysAgo      = "days_ago"
)

// Rule connectives. Logic is carried on the wire but clauses are always ANDed.
const (
	LogicAnd = "AND"
	LogicOr  = "OR"
)

// Rule is one audience selection clause.
type Rule struct {
	Field    string    `json:"field" validate:"required,oneof=totalSpent visits lastVisit createdAt"`
	Operator string    `json:"operator" validate:"required,oneof=> < >= <= = != days_ago"`
	Value    RuleValue `json:"value"`
	Logic    string    `json:"logic,omitempty" validate:"omitempty,oneof=AND OR"`
}

// RuleValue accepts both JSON numbers and strings ("500", 500, "2024-01-02").
type RuleValue string

func (v *RuleValue) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*v = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*v = RuleValue(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("rule value must be a number or string: %w", err)
	}
	*v = RuleValue(n.String())
	return nil
}

func (v RuleValue) MarshalJSON() ([]byte, error) {
	if _, err := strconv.ParseFloat(string(v), 64); err == nil {
		return []byte(v), nil
	}
	return json.Marshal(string(v))
}

func (v RuleValue) Float() (float64, error) {
	return strconv.ParseFloat(string(v), 64)
}

func (v RuleValue) Int() (int, error) {
	f, err := strconv.ParseFloat(string(v), 64)
	if err != nil {
		return 0, err
	}
	return int(f), nil
}
