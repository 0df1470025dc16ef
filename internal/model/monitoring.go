package model

import (
	"math"
	"time"
)

// trailingWindowSize bounds the recent-total history kept per category.
const trailingWindowSize = 12

// CategoryStats holds the exponentially weighted baseline for one category:
// mean and variance over completed detection-window totals, plus a trailing
// window of recent totals for trend estimation.
type CategoryStats struct {
	Mean     float64
	Variance float64
	Count    int64
	Recent   []float64
}

// Observe folds a completed window total into the rolling baseline.
func (s *CategoryStats) Observe(amount float64, alpha float64) {
	s.Count++
	if s.Count == 1 {
		s.Mean = amount
		s.Variance = 0
	} else {
		delta := amount - s.Mean
		incr := alpha * delta
		s.Mean += incr
		s.Variance = (1 - alpha) * (s.Variance + delta*incr)
	}
	s.Recent = append(s.Recent, amount)
	if len(s.Recent) > trailingWindowSize {
		s.Recent = s.Recent[len(s.Recent)-trailingWindowSize:]
	}
}

// StdDev returns the rolling standard deviation of window totals.
func (s *CategoryStats) StdDev() float64 {
	if s.Variance <= 0 {
		return 0
	}
	return math.Sqrt(s.Variance)
}

// Trend estimates the per-window drift from the trailing totals.
func (s *CategoryStats) Trend() float64 {
	n := len(s.Recent)
	if n < 2 {
		return 0
	}
	return (s.Recent[n-1] - s.Recent[0]) / float64(n-1)
}

// MonitoringState is the watchdog's per-user rolling view of spending.
// Baselines cover completed windows; WindowTotals accumulates the current
// window transaction by transaction. The state is mutated only by the
// watchdog, under that user's lock, and is never read by other components
// except through published alerts.
type MonitoringState struct {
	LastScan          time.Time
	Stats             map[Category]*CategoryStats
	WindowTotals      map[Category]float64
	ActiveAnomalies   map[string]bool
	UserID            string
	CurrentWindow     string
	TxnsSinceScan     int
	TotalObservations int64
}

// NewMonitoringState creates an empty state for a user.
func NewMonitoringState(userID string) *MonitoringState {
	return &MonitoringState{
		UserID:          userID,
		Stats:           make(map[Category]*CategoryStats),
		WindowTotals:    make(map[Category]float64),
		ActiveAnomalies: make(map[string]bool),
	}
}

// CategoryStats returns the baseline bucket for a category, creating it on
// first use.
func (m *MonitoringState) CategoryStats(c Category) *CategoryStats {
	s, ok := m.Stats[c]
	if !ok {
		s = &CategoryStats{}
		m.Stats[c] = s
	}
	return s
}

// ObserveTransaction folds one categorized transaction into the current
// window's running totals, rolling the window over first if it changed.
func (m *MonitoringState) ObserveTransaction(c Category, amount float64, window string, alpha float64) {
	m.Rollover(window, alpha)
	if amount < 0 {
		amount = -amount
	}
	m.WindowTotals[c] += amount
	m.TxnsSinceScan++
	m.TotalObservations++
}

// Rollover folds the previous window's totals into the baselines when the
// detection window advances. Idempotent for an unchanged window.
func (m *MonitoringState) Rollover(window string, alpha float64) {
	if m.CurrentWindow == window {
		return
	}
	if m.CurrentWindow != "" {
		for category, total := range m.WindowTotals {
			m.CategoryStats(category).Observe(total, alpha)
		}
	}
	m.WindowTotals = make(map[Category]float64)
	m.CurrentWindow = window
}
