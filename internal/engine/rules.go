package engine

import (
	"regexp"
	"strings"

	"github.com/varo-app/varo/internal/model"
)

// RuleMatcher evaluates the deterministic rule layer: merchant/keyword
// patterns plus amount conditions, highest-specificity match first.
type RuleMatcher struct {
	compiledRegex map[int]*regexp.Regexp
	rules         []model.Rule
}

// NewRuleMatcher creates a matcher over the given rule table. Regex patterns
// are pre-compiled; rules with invalid regexes never match.
func NewRuleMatcher(rules []model.Rule) *RuleMatcher {
	m := &RuleMatcher{
		rules:         rules,
		compiledRegex: make(map[int]*regexp.Regexp),
	}

	for _, rule := range rules {
		if rule.IsRegex && rule.MerchantPattern != "" {
			if re, err := regexp.Compile(rule.MerchantPattern); err == nil {
				m.compiledRegex[rule.ID] = re
			}
		}
	}

	return m
}

// Match evaluates a description and amount against all configured rules and
// returns matching rules, most specific first.
func (m *RuleMatcher) Match(description string, amount float64) []model.Rule {
	var matches []model.Rule

	for _, rule := range m.rules {
		if !rule.IsActive {
			continue
		}

		if m.matchesRule(description, amount, rule) {
			matches = append(matches, rule)
		}
	}

	sortBySpecificity(matches)

	return matches
}

// matchesRule checks if a description/amount pair matches a specific rule.
func (m *RuleMatcher) matchesRule(description string, amount float64, rule model.Rule) bool {
	if !m.matchesPattern(description, rule) {
		return false
	}

	return m.matchesAmount(amount, rule)
}

// matchesPattern checks the merchant/keyword pattern. Non-regex patterns are
// case-insensitive substring (keyword) matches.
func (m *RuleMatcher) matchesPattern(description string, rule model.Rule) bool {
	if rule.MerchantPattern == "" {
		return true // No pattern means match all
	}

	desc := strings.ToLower(description)

	if rule.IsRegex {
		if re, ok := m.compiledRegex[rule.ID]; ok {
			return re.MatchString(desc)
		}
		return false
	}

	return strings.Contains(desc, strings.ToLower(rule.MerchantPattern))
}

// matchesAmount checks if the amount matches the rule condition. Amounts are
// compared on their absolute value so expense rules work on signed data.
func (m *RuleMatcher) matchesAmount(amount float64, rule model.Rule) bool {
	if amount < 0 {
		amount = -amount
	}

	switch model.AmountConditionType(rule.AmountCondition) {
	case model.AmountAny, "":
		return true
	case model.AmountLessThan:
		return rule.AmountValue != nil && amount < *rule.AmountValue
	case model.AmountLessEqual:
		return rule.AmountValue != nil && amount <= *rule.AmountValue
	case model.AmountEqual:
		return rule.AmountValue != nil && amount == *rule.AmountValue
	case model.AmountGreaterEqual:
		return rule.AmountValue != nil && amount >= *rule.AmountValue
	case model.AmountGreaterThan:
		return rule.AmountValue != nil && amount > *rule.AmountValue
	case model.AmountRange:
		if rule.AmountMin != nil && amount < *rule.AmountMin {
			return false
		}
		if rule.AmountMax != nil && amount > *rule.AmountMax {
			return false
		}
		return true
	}

	return false
}

// sortBySpecificity orders rules by priority (highest first); ties go to the
// longer, more specific pattern.
func sortBySpecificity(rules []model.Rule) {
	for i := 0; i < len(rules)-1; i++ {
		for j := 0; j < len(rules)-i-1; j++ {
			a, b := rules[j], rules[j+1]
			if a.Priority < b.Priority ||
				(a.Priority == b.Priority && len(a.MerchantPattern) < len(b.MerchantPattern)) {
				rules[j], rules[j+1] = rules[j+1], rules[j]
			}
		}
	}
}
