package model

import "time"

// AlertType classifies what condition raised an alert.
type AlertType string

// Alert type constants.
const (
	AlertHighSpending    AlertType = "HighSpending"
	AlertAnomalyDetected AlertType = "AnomalyDetected"
	AlertGoalAtRisk      AlertType = "GoalAtRisk"
	AlertBudgetExceeded  AlertType = "BudgetExceeded"
)

// AlertSeverity ranks how urgent an alert is.
type AlertSeverity string

// Alert severity constants, in ascending order.
const (
	SeverityLow      AlertSeverity = "low"
	SeverityMedium   AlertSeverity = "medium"
	SeverityHigh     AlertSeverity = "high"
	SeverityCritical AlertSeverity = "critical"
)

// rank orders severities for comparison.
func (s AlertSeverity) rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	}
	return 0
}

// AtLeast reports whether s is equal to or more urgent than other.
func (s AlertSeverity) AtLeast(other AlertSeverity) bool {
	return s.rank() >= other.rank()
}

// AlertStatus is the lifecycle state of an alert.
type AlertStatus string

// Alert status constants. Transitions: active -> acknowledged -> resolved,
// or active -> resolved directly. No transition leaves resolved.
const (
	StatusActive       AlertStatus = "active"
	StatusAcknowledged AlertStatus = "acknowledged"
	StatusResolved     AlertStatus = "resolved"
)

// ConditionEvidence captures one triggered anomaly condition. When several
// conditions fire for the same window the highest-severity one sets the
// alert's severity but every condition's evidence is kept.
type ConditionEvidence struct {
	Condition string        `json:"condition"`
	Severity  AlertSeverity `json:"severity"`
	Current   float64       `json:"current"`
	Average   float64       `json:"average"`
	Increase  float64       `json:"increase"`
	ZScore    float64       `json:"z_score,omitempty"`
}

// AlertEvidence is the structured payload backing an alert.
type AlertEvidence struct {
	Category   Category            `json:"category,omitempty"`
	Window     string              `json:"window"`
	Current    float64             `json:"current"`
	Average    float64             `json:"average"`
	Increase   float64             `json:"increase"`
	Conditions []ConditionEvidence `json:"conditions,omitempty"`
}

// Alert is a detected spending signal with a small lifecycle state machine.
// At most one alert per (user, type, window) is live at a time.
type Alert struct {
	CreatedAt      time.Time
	AcknowledgedAt *time.Time
	ResolvedAt     *time.Time
	ID             string
	UserID         string
	Window         string
	Type           AlertType
	Severity       AlertSeverity
	Status         AlertStatus
	Notes          string
	Evidence       AlertEvidence
}

// Live reports whether the alert still occupies its (user, type, window) slot.
func (a *Alert) Live() bool {
	return a.Status == StatusActive || a.Status == StatusAcknowledged
}

// Acknowledge moves an active alert to acknowledged. Acknowledging an already
// acknowledged alert is a no-op; a resolved alert cannot be acknowledged.
func (a *Alert) Acknowledge(now time.Time, notes string) error {
	switch a.Status {
	case StatusAcknowledged:
		return nil
	case StatusResolved:
		return ErrAlertResolved
	case StatusActive:
		a.Status = StatusAcknowledged
		a.AcknowledgedAt = &now
		if notes != "" {
			a.Notes = notes
		}
		return nil
	}
	return ErrInvalidTransition
}

// Resolve moves an alert to its terminal state. Resolving an already resolved
// alert is a no-op, not an error.
func (a *Alert) Resolve(now time.Time) bool {
	if a.Status == StatusResolved {
		return false
	}
	a.Status = StatusResolved
	a.ResolvedAt = &now
	return true
}
