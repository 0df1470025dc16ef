package watchdog

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/varo-app/varo/internal/model"
)

// condition is one triggered detection before it is folded into an alert.
type condition struct {
	category model.Category
	evidence model.ConditionEvidence
}

// scanLocked runs one detection pass for a user. The caller holds the user's
// lock. A scan that finds no transactions in the window is skipped entirely:
// no alerts, no state mutation, no false "improving" signal from missing
// data.
func (w *Watchdog) scanLocked(ctx context.Context, state *model.MonitoringState, now time.Time) error {
	window := now.UTC().Format("2006-01")
	start, end := windowBounds(now)

	txns, err := w.storage.GetTransactionsByUserAndPeriod(ctx, state.UserID, start, end)
	if err != nil {
		return fmt.Errorf("failed to read window transactions: %w", err)
	}
	if len(txns) == 0 {
		scansTotal.WithLabelValues("skipped").Inc()
		slog.Debug("Scan skipped, empty window", "user_id", state.UserID, "window", window)
		return nil
	}

	// Fold the stream position forward before detecting, so baselines
	// reflect completed windows only.
	state.Rollover(window, w.config.Alpha)

	spend := spendByCategory(txns)
	var total float64
	for _, amount := range spend {
		total += amount
	}

	anomalies := w.detectCategoryAnomalies(state, spend)
	highSpend := w.detectHighSpending(ctx, state.UserID, total, now)

	if len(anomalies) > 0 {
		severity, evidence := summarize(window, anomalies)
		if err := w.raiseOrUpdate(ctx, state.UserID, model.AlertAnomalyDetected, window, severity, evidence); err != nil {
			slog.Error("Failed to raise anomaly alert", "user_id", state.UserID, "error", err)
		}
	} else {
		w.autoResolve(ctx, state.UserID, model.AlertAnomalyDetected)
	}

	if highSpend != nil {
		severity, evidence := summarize(window, []condition{*highSpend})
		if err := w.raiseOrUpdate(ctx, state.UserID, model.AlertHighSpending, window, severity, evidence); err != nil {
			slog.Error("Failed to raise high-spending alert", "user_id", state.UserID, "error", err)
		}
	} else {
		w.autoResolve(ctx, state.UserID, model.AlertHighSpending)
	}

	state.LastScan = now
	state.TxnsSinceScan = 0
	state.ActiveAnomalies = make(map[string]bool)
	for _, c := range anomalies {
		state.ActiveAnomalies[string(model.AlertAnomalyDetected)+":"+window+":"+string(c.category)] = true
	}
	if highSpend != nil {
		state.ActiveAnomalies[string(model.AlertHighSpending)+":"+window] = true
	}

	scansTotal.WithLabelValues("completed").Inc()
	w.publisher.Publish(model.Event{
		Type:   model.EventScanCompleted,
		UserID: state.UserID,
		Payload: model.ScanCompletedPayload{
			UserID:       state.UserID,
			Window:       window,
			AnomalyCount: len(anomalies),
		},
	})

	return nil
}

// detectCategoryAnomalies flags categories whose window spend exceeds the
// baseline by the configured multiple of its standard deviation.
func (w *Watchdog) detectCategoryAnomalies(state *model.MonitoringState, spend map[model.Category]float64) []condition {
	var conditions []condition

	for category, amount := range spend {
		stats, ok := state.Stats[category]
		if !ok || stats.Count < int64(w.config.MinObservations) {
			continue
		}
		stddev := stats.StdDev()
		if stddev == 0 || amount <= stats.Mean {
			continue
		}

		zscore := (amount - stats.Mean) / stddev
		if zscore <= w.config.ZScoreThreshold {
			continue
		}

		conditions = append(conditions, condition{
			category: category,
			evidence: model.ConditionEvidence{
				Condition: "zscore",
				Severity:  severityForRatio(zscore / w.config.ZScoreThreshold),
				Current:   amount,
				Average:   stats.Mean,
				Increase:  increasePct(amount, stats.Mean),
				ZScore:    zscore,
			},
		})
	}

	return conditions
}

// detectHighSpending compares the window's total spend against the previous
// comparable period.
func (w *Watchdog) detectHighSpending(ctx context.Context, userID string, total float64, now time.Time) *condition {
	prevStart, prevEnd := windowBounds(now.AddDate(0, -1, 0))
	prev, err := w.storage.GetTransactionsByUserAndPeriod(ctx, userID, prevStart, prevEnd)
	if err != nil {
		slog.Warn("Failed to read previous period", "user_id", userID, "error", err)
		return nil
	}
	if len(prev) == 0 {
		// No comparable period, nothing to compare against.
		return nil
	}

	var prevTotal float64
	for _, amount := range spendByCategory(prev) {
		prevTotal += amount
	}
	if prevTotal <= 0 {
		return nil
	}

	increase := increasePct(total, prevTotal)
	if increase <= w.config.PercentThreshold {
		return nil
	}

	return &condition{
		evidence: model.ConditionEvidence{
			Condition: "period_over_period",
			Severity:  severityForRatio(increase / w.config.PercentThreshold),
			Current:   total,
			Average:   prevTotal,
			Increase:  increase,
		},
	}
}

// summarize collapses triggered conditions into an alert severity and
// evidence payload. The highest-severity condition determines the alert's
// severity and headline numbers; evidence from every condition is retained.
func summarize(window string, conditions []condition) (model.AlertSeverity, model.AlertEvidence) {
	worst := 0
	for i := 1; i < len(conditions); i++ {
		a, b := conditions[i].evidence, conditions[worst].evidence
		if !b.Severity.AtLeast(a.Severity) ||
			(a.Severity == b.Severity && a.Increase > b.Increase) {
			worst = i
		}
	}

	all := make([]model.ConditionEvidence, len(conditions))
	for i, c := range conditions {
		all[i] = c.evidence
	}

	top := conditions[worst]
	return top.evidence.Severity, model.AlertEvidence{
		Category:   top.category,
		Window:     window,
		Current:    top.evidence.Current,
		Average:    top.evidence.Average,
		Increase:   top.evidence.Increase,
		Conditions: all,
	}
}

// severityForRatio maps how far past its threshold a condition is to a
// severity level.
func severityForRatio(ratio float64) model.AlertSeverity {
	switch {
	case ratio >= 3:
		return model.SeverityCritical
	case ratio >= 2:
		return model.SeverityHigh
	case ratio >= 1.5:
		return model.SeverityMedium
	default:
		return model.SeverityLow
	}
}

// spendByCategory totals absolute expense amounts per category, excluding
// income and uncategorized flows.
func spendByCategory(txns []model.Transaction) map[model.Category]float64 {
	spend := make(map[model.Category]float64)
	for _, txn := range txns {
		if txn.Category == model.CategoryIncome || txn.Category == model.CategoryUncategorized || txn.Category == "" {
			continue
		}
		amount := txn.Amount
		if amount < 0 {
			amount = -amount
		}
		spend[txn.Category] += amount
	}
	return spend
}

// windowBounds returns the UTC calendar-month bounds containing t.
func windowBounds(t time.Time) (start, end time.Time) {
	t = t.UTC()
	start = time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	end = start.AddDate(0, 1, 0)
	return start, end
}

// increasePct is the percent increase of current over baseline.
func increasePct(current, baseline float64) float64 {
	if baseline <= 0 {
		return 0
	}
	return (current - baseline) / baseline * 100
}
