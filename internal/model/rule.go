package model

import "time"

// Rule maps merchant/keyword patterns and amount conditions to a category.
// Rules form the deterministic layer in front of the statistical classifier;
// the highest-priority (most specific) match wins.
type Rule struct {
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
	AmountValue     *float64  `json:"amount_value,omitempty"`
	AmountMin       *float64  `json:"amount_min,omitempty"`
	AmountMax       *float64  `json:"amount_max,omitempty"`
	Name            string    `json:"name"`
	MerchantPattern string    `json:"merchant_pattern"`
	AmountCondition string    `json:"amount_condition"`
	Category        Category  `json:"category"`
	Priority        int       `json:"priority"`
	ID              int       `json:"id"`
	Confidence      float64   `json:"confidence"`
	UseCount        int       `json:"use_count"`
	IsActive        bool      `json:"is_active"`
	IsRegex         bool      `json:"is_regex"`
}

// AmountConditionType represents the type of amount comparison.
type AmountConditionType string

// Amount condition constants.
const (
	AmountLessThan     AmountConditionType = "lt"
	AmountLessEqual    AmountConditionType = "le"
	AmountEqual        AmountConditionType = "eq"
	AmountGreaterEqual AmountConditionType = "ge"
	AmountGreaterThan  AmountConditionType = "gt"
	AmountRange        AmountConditionType = "range"
	AmountAny          AmountConditionType = "any"
)
