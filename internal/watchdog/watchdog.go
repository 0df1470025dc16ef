// Package watchdog converts the categorized transaction stream plus periodic
// scans into alerts. It owns per-user monitoring state and the alert
// lifecycle state machine.
package watchdog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/varo-app/varo/internal/common"
	"github.com/varo-app/varo/internal/model"
	"github.com/varo-app/varo/internal/service"
)

var (
	scansTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "varo_watchdog_scans_total",
		Help: "Watchdog scans by outcome.",
	}, []string{"outcome"})

	alertsRaised = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "varo_watchdog_alerts_raised_total",
		Help: "Alerts raised by type.",
	}, []string{"type"})
)

// Config holds configuration options for the watchdog. Thresholds are
// deployment configuration; there are no hard-coded anomaly constants.
type Config struct {
	// ZScoreThreshold is the number of standard deviations a category's
	// window spend must exceed its baseline by to flag an anomaly.
	ZScoreThreshold float64
	// PercentThreshold is the percent increase over the previous
	// comparable period that flags high total spending.
	PercentThreshold float64
	// Alpha is the exponential weight for rolling mean/variance updates.
	Alpha float64
	// ScanEveryN triggers an inline scan after every Nth categorized
	// transaction for a user.
	ScanEveryN int
	// MinObservations is how many samples a category baseline needs
	// before z-score detection applies to it.
	MinObservations int
}

// DefaultConfig returns the default watchdog configuration.
func DefaultConfig() Config {
	return Config{
		ZScoreThreshold:  2.0,
		PercentThreshold: 40.0,
		Alpha:            0.3,
		ScanEveryN:       10,
		MinObservations:  5,
	}
}

// Watchdog maintains per-user monitoring state and manages alert lifecycles.
// Updates within a single user's state are serialized by a per-user lock;
// scans across users run fully in parallel.
type Watchdog struct {
	storage   service.Storage
	publisher service.Publisher
	config    Config

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex

	// Delivery is at-least-once; seen correlation ids are dropped so a
	// redelivered event cannot double-count into rolling statistics.
	dedupMu    sync.Mutex
	dedupSeen  map[string]struct{}
	dedupOrder []string
}

// dedupCapacity bounds the remembered correlation ids.
const dedupCapacity = 4096

// New creates a watchdog.
func New(storage service.Storage, publisher service.Publisher, config Config) *Watchdog {
	return &Watchdog{
		storage:   storage,
		publisher: publisher,
		config:    config,
		locks:     make(map[string]*sync.Mutex),
		dedupSeen: make(map[string]struct{}),
	}
}

// userLock returns the mutex serializing one user's monitoring state.
func (w *Watchdog) userLock(userID string) *sync.Mutex {
	w.locksMu.Lock()
	defer w.locksMu.Unlock()

	mu, ok := w.locks[userID]
	if !ok {
		mu = &sync.Mutex{}
		w.locks[userID] = mu
	}
	return mu
}

// seen records a correlation id, reporting whether it was already delivered.
func (w *Watchdog) seen(correlationID string) bool {
	if correlationID == "" {
		return false
	}

	w.dedupMu.Lock()
	defer w.dedupMu.Unlock()

	if _, ok := w.dedupSeen[correlationID]; ok {
		return true
	}
	w.dedupSeen[correlationID] = struct{}{}
	w.dedupOrder = append(w.dedupOrder, correlationID)
	if len(w.dedupOrder) > dedupCapacity {
		oldest := w.dedupOrder[0]
		w.dedupOrder = w.dedupOrder[1:]
		delete(w.dedupSeen, oldest)
	}
	return false
}

// HandleTransactionCategorized folds a categorized transaction into the
// user's rolling statistics and triggers an inline scan every Nth update.
// Registered on the bus for TransactionCategorized events.
func (w *Watchdog) HandleTransactionCategorized(ctx context.Context, event model.Event) {
	payload, ok := event.Payload.(model.TransactionCategorizedPayload)
	if !ok {
		slog.Warn("Unexpected payload for TransactionCategorized", "correlation_id", event.CorrelationID)
		return
	}
	txn := payload.Transaction
	if txn.UserID == "" {
		return
	}

	mu := w.userLock(txn.UserID)
	mu.Lock()
	defer mu.Unlock()

	state, err := w.loadState(ctx, txn.UserID)
	if err != nil {
		slog.Error("Failed to load monitoring state", "user_id", txn.UserID, "error", err)
		return
	}

	// Mark delivery only once the state loaded, so a redelivery after a
	// transient load failure still counts.
	if w.seen(event.CorrelationID) {
		return
	}

	// Income flows don't feed spending baselines.
	if txn.Category != model.CategoryIncome && txn.Category != model.CategoryUncategorized {
		state.ObserveTransaction(txn.Category, txn.Amount, txn.Window(), w.config.Alpha)
	}

	if state.TxnsSinceScan >= w.config.ScanEveryN {
		if err := w.scanLocked(ctx, state, time.Now()); err != nil {
			slog.Error("Inline scan failed", "user_id", txn.UserID, "error", err)
		}
	}

	if err := w.storage.SaveMonitoringState(ctx, state); err != nil {
		slog.Error("Failed to save monitoring state", "user_id", txn.UserID, "error", err)
	}
}

// ScanUser runs a full scan for one user under their lock. This is the entry
// point the scheduler's periodic scan job uses.
func (w *Watchdog) ScanUser(ctx context.Context, userID string, now time.Time) error {
	mu := w.userLock(userID)
	mu.Lock()
	defer mu.Unlock()

	state, err := w.loadState(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to load monitoring state for %s: %w", userID, err)
	}

	if err := w.scanLocked(ctx, state, now); err != nil {
		return err
	}

	if err := w.storage.SaveMonitoringState(ctx, state); err != nil {
		return fmt.Errorf("failed to save monitoring state for %s: %w", userID, err)
	}
	return nil
}

// ScanAll scans every user active in the record store since the cutoff.
// Users scan independently; one user's failure does not stop the rest.
func (w *Watchdog) ScanAll(ctx context.Context, now time.Time) error {
	userIDs, err := w.storage.GetActiveUserIDs(ctx, now.AddDate(0, -3, 0))
	if err != nil {
		return fmt.Errorf("failed to list active users: %w", err)
	}

	var failed int
	for _, userID := range userIDs {
		select {
		case <-ctx.Done():
			// Cooperative cancellation between users; completed users'
			// state is already flushed.
			return ctx.Err()
		default:
		}

		if err := w.ScanUser(ctx, userID, now); err != nil {
			failed++
			slog.Error("User scan failed", "user_id", userID, "error", err)
		}
	}

	if failed > 0 {
		return fmt.Errorf("scan failed for %d of %d users", failed, len(userIDs))
	}
	return nil
}

// loadState fetches or initializes a user's monitoring state. Only a missing
// row yields a fresh state; any other failure propagates, so a transient read
// error can never overwrite durable baselines with an empty state.
func (w *Watchdog) loadState(ctx context.Context, userID string) (*model.MonitoringState, error) {
	state, err := w.storage.GetMonitoringState(ctx, userID)
	switch {
	case err == nil:
		return state, nil
	case errors.Is(err, common.ErrNotFound):
		return model.NewMonitoringState(userID), nil
	default:
		return nil, err
	}
}

// Acknowledge records an external acknowledgment on an alert. The watchdog
// accepts and timestamps the transition; acknowledgment policy lives outside
// the core.
func (w *Watchdog) Acknowledge(ctx context.Context, alertID, notes string) error {
	alert, err := w.storage.GetAlert(ctx, alertID)
	if err != nil {
		return fmt.Errorf("failed to load alert %s: %w", alertID, err)
	}

	if err := alert.Acknowledge(time.Now(), notes); err != nil {
		return err
	}

	if err := w.storage.SaveAlert(ctx, alert); err != nil {
		return fmt.Errorf("failed to save alert %s: %w", alertID, err)
	}
	return nil
}

// Resolve explicitly resolves an alert. Resolving an already-resolved alert
// is a no-op and publishes nothing.
func (w *Watchdog) Resolve(ctx context.Context, alertID string) error {
	alert, err := w.storage.GetAlert(ctx, alertID)
	if err != nil {
		return fmt.Errorf("failed to load alert %s: %w", alertID, err)
	}

	if !alert.Resolve(time.Now()) {
		return nil
	}

	if err := w.storage.SaveAlert(ctx, alert); err != nil {
		return fmt.Errorf("failed to save alert %s: %w", alertID, err)
	}

	w.publisher.Publish(model.Event{
		Type:    model.EventAlertResolved,
		UserID:  alert.UserID,
		Payload: *alert,
	})
	return nil
}

// ListAlerts returns alerts matching the filter.
func (w *Watchdog) ListAlerts(ctx context.Context, filter service.AlertFilter) ([]model.Alert, error) {
	return w.storage.ListAlerts(ctx, filter)
}

// raiseOrUpdate creates a new active alert for (user, type, window) or folds
// fresh evidence into the live one. Only a first detection publishes
// AlertRaised; repeats update evidence without duplicating the alert.
func (w *Watchdog) raiseOrUpdate(ctx context.Context, userID string, alertType model.AlertType, window string, severity model.AlertSeverity, evidence model.AlertEvidence) error {
	live, err := w.storage.GetLiveAlert(ctx, userID, alertType, window)
	if err == nil && live != nil {
		live.Evidence = evidence
		if severity.AtLeast(live.Severity) {
			live.Severity = severity
		}
		return w.storage.SaveAlert(ctx, live)
	}

	alert := &model.Alert{
		CreatedAt: time.Now(),
		ID:        uuid.NewString(),
		UserID:    userID,
		Window:    window,
		Type:      alertType,
		Severity:  severity,
		Status:    model.StatusActive,
		Evidence:  evidence,
	}

	if err := w.storage.SaveAlert(ctx, alert); err != nil {
		return fmt.Errorf("failed to save alert: %w", err)
	}

	alertsRaised.WithLabelValues(string(alertType)).Inc()
	w.publisher.Publish(model.Event{
		Type:    model.EventAlertRaised,
		UserID:  userID,
		Payload: *alert,
	})

	slog.Info("Alert raised",
		"user_id", userID,
		"type", alertType,
		"window", window,
		"severity", severity)
	return nil
}

// autoResolve resolves live alerts of the given type whose condition is no
// longer triggered.
func (w *Watchdog) autoResolve(ctx context.Context, userID string, alertType model.AlertType) {
	for _, status := range []model.AlertStatus{model.StatusActive, model.StatusAcknowledged} {
		alerts, err := w.storage.ListAlerts(ctx, service.AlertFilter{UserID: userID, Status: status})
		if err != nil {
			slog.Warn("Failed to list alerts for auto-resolve", "user_id", userID, "error", err)
			return
		}

		for i := range alerts {
			alert := alerts[i]
			if alert.Type != alertType {
				continue
			}
			if !alert.Resolve(time.Now()) {
				continue
			}
			if err := w.storage.SaveAlert(ctx, &alert); err != nil {
				slog.Warn("Failed to save auto-resolved alert", "alert_id", alert.ID, "error", err)
				continue
			}
			w.publisher.Publish(model.Event{
				Type:    model.EventAlertResolved,
				UserID:  userID,
				Payload: alert,
			})
			slog.Info("Alert auto-resolved",
				"user_id", userID,
				"alert_id", alert.ID,
				"type", alertType)
		}
	}
}
