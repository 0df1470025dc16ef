package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/varo-app/varo/internal/model"
)

func floatPtr(v float64) *float64 { return &v }

func TestRuleMatcher_Match(t *testing.T) {
	rules := []model.Rule{
		{ID: 1, MerchantPattern: "k-market", Category: model.CategoryGroceries, Priority: 10, Confidence: 0.95, IsActive: true},
		{ID: 2, MerchantPattern: "netflix", Category: model.CategoryEntertainment, Priority: 10, Confidence: 0.95, IsActive: true},
		{ID: 3, MerchantPattern: "^vr\\b", Category: model.CategoryTransport, Priority: 10, Confidence: 0.9, IsActive: true, IsRegex: true},
		{ID: 4, MerchantPattern: "market", Category: model.CategoryGroceries, Priority: 5, Confidence: 0.7, IsActive: true},
		{ID: 5, MerchantPattern: "inactive", Category: model.CategoryHealth, Priority: 99, Confidence: 0.99, IsActive: false},
	}
	matcher := NewRuleMatcher(rules)

	tests := []struct {
		name      string
		desc      string
		amount    float64
		wantFirst int
		wantCount int
	}{
		{
			name:      "case-insensitive substring match",
			desc:      "K-MARKET KALLIO",
			amount:    -12.30,
			wantFirst: 1,
			wantCount: 2, // k-market rule plus the generic market rule
		},
		{
			name:      "regex match anchored at start",
			desc:      "VR Helsinki-Tampere",
			amount:    -25,
			wantFirst: 3,
			wantCount: 1,
		},
		{
			name:      "no match",
			desc:      "Tuntematon Yritys",
			amount:    -5,
			wantCount: 0,
		},
		{
			name:      "inactive rules never match",
			desc:      "inactive merchant",
			amount:    -5,
			wantCount: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			matches := matcher.Match(tt.desc, tt.amount)
			require.Len(t, matches, tt.wantCount)
			if tt.wantCount > 0 {
				assert.Equal(t, tt.wantFirst, matches[0].ID)
			}
		})
	}
}

func TestRuleMatcher_AmountConditions(t *testing.T) {
	rules := []model.Rule{
		{ID: 1, MerchantPattern: "shop", AmountCondition: "lt", AmountValue: floatPtr(50), Category: model.CategoryGroceries, Confidence: 0.9, IsActive: true},
		{ID: 2, MerchantPattern: "shop", AmountCondition: "range", AmountMin: floatPtr(50), AmountMax: floatPtr(200), Category: model.CategoryClothing, Confidence: 0.9, IsActive: true, Priority: 1},
	}
	matcher := NewRuleMatcher(rules)

	// Amounts compare on absolute value; expenses are negative.
	matches := matcher.Match("Shop Center", -20)
	require.Len(t, matches, 1)
	assert.Equal(t, 1, matches[0].ID)

	matches = matcher.Match("Shop Center", -120)
	require.Len(t, matches, 1)
	assert.Equal(t, 2, matches[0].ID)

	matches = matcher.Match("Shop Center", -500)
	assert.Empty(t, matches)
}

func TestRuleMatcher_SpecificityOrdering(t *testing.T) {
	rules := []model.Rule{
		{ID: 1, MerchantPattern: "s", Category: model.CategoryGroceries, Priority: 1, IsActive: true},
		{ID: 2, MerchantPattern: "s-market", Category: model.CategoryGroceries, Priority: 1, IsActive: true},
		{ID: 3, MerchantPattern: "s-m", Category: model.CategoryGroceries, Priority: 7, IsActive: true},
	}
	matcher := NewRuleMatcher(rules)

	matches := matcher.Match("S-Market Töölö", -10)
	require.Len(t, matches, 3)
	// Priority first, then pattern length.
	assert.Equal(t, 3, matches[0].ID)
	assert.Equal(t, 2, matches[1].ID)
	assert.Equal(t, 1, matches[2].ID)
}

func TestRuleMatcher_InvalidRegexNeverMatches(t *testing.T) {
	matcher := NewRuleMatcher([]model.Rule{
		{ID: 1, MerchantPattern: "([", Category: model.CategoryGroceries, IsActive: true, IsRegex: true},
	})
	assert.Empty(t, matcher.Match("([ anything", -10))
}
