package watchdog

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/varo-app/varo/internal/model"
	"github.com/varo-app/varo/internal/service"
	"github.com/varo-app/varo/internal/storage"
)

type capturePublisher struct {
	mu     sync.Mutex
	events []model.Event
}

func (p *capturePublisher) Publish(event model.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
}

func (p *capturePublisher) byType(eventType model.EventType) []model.Event {
	p.mu.Lock()
	defer p.mu.Unlock()

	var out []model.Event
	for _, e := range p.events {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

func setupWatchdog(t *testing.T) (*Watchdog, *storage.SQLiteStorage, *capturePublisher) {
	t.Helper()

	store, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	require.NoError(t, store.Migrate(context.Background()))
	t.Cleanup(func() { _ = store.Close() })

	publisher := &capturePublisher{}
	return New(store, publisher, DefaultConfig()), store, publisher
}

func saveSpend(t *testing.T, store *storage.SQLiteStorage, id string, date time.Time, amount float64, category model.Category) {
	t.Helper()
	require.NoError(t, store.SaveTransactions(context.Background(), []model.Transaction{{
		ID:          id,
		UserID:      "alice",
		Date:        date,
		Description: "test spend",
		Amount:      amount,
		Category:    category,
	}}))
}

// saveBaseline persists a monitoring state whose groceries baseline has a
// mean of 300 and a standard deviation of 20.
func saveBaseline(t *testing.T, store *storage.SQLiteStorage) {
	t.Helper()
	state := model.NewMonitoringState("alice")
	stats := state.CategoryStats(model.CategoryGroceries)
	stats.Mean = 300
	stats.Variance = 400
	stats.Count = 6
	require.NoError(t, store.SaveMonitoringState(context.Background(), state))
}

func TestScanUser_RaisesAnomalyAlert(t *testing.T) {
	dog, store, publisher := setupWatchdog(t)
	ctx := context.Background()
	now := time.Date(2026, 7, 15, 12, 0, 0, 0, time.UTC)

	saveBaseline(t, store)
	saveSpend(t, store, "t1", now, -450, model.CategoryGroceries)

	require.NoError(t, dog.ScanUser(ctx, "alice", now))

	raised := publisher.byType(model.EventAlertRaised)
	require.Len(t, raised, 1)
	alert, ok := raised[0].Payload.(model.Alert)
	require.True(t, ok)
	assert.Equal(t, model.AlertAnomalyDetected, alert.Type)
	assert.Equal(t, model.StatusActive, alert.Status)
	assert.Equal(t, "2026-07", alert.Window)
	assert.Equal(t, model.CategoryGroceries, alert.Evidence.Category)
	assert.InDelta(t, 450, alert.Evidence.Current, 1e-9)
	assert.InDelta(t, 300, alert.Evidence.Average, 1e-9)
	assert.InDelta(t, 50, alert.Evidence.Increase, 1e-9)
	// z-score 7.5 against a threshold of 2 is well past critical.
	assert.Equal(t, model.SeverityCritical, alert.Severity)

	scans := publisher.byType(model.EventScanCompleted)
	require.Len(t, scans, 1)
	payload, ok := scans[0].Payload.(model.ScanCompletedPayload)
	require.True(t, ok)
	assert.Equal(t, 1, payload.AnomalyCount)

	live, err := store.GetLiveAlert(ctx, "alice", model.AlertAnomalyDetected, "2026-07")
	require.NoError(t, err)
	assert.Equal(t, alert.ID, live.ID)
}

func TestScanUser_RepeatScanUpdatesWithoutDuplicating(t *testing.T) {
	dog, store, publisher := setupWatchdog(t)
	ctx := context.Background()
	now := time.Date(2026, 7, 15, 12, 0, 0, 0, time.UTC)

	saveBaseline(t, store)
	saveSpend(t, store, "t1", now, -450, model.CategoryGroceries)

	require.NoError(t, dog.ScanUser(ctx, "alice", now))
	require.Len(t, publisher.byType(model.EventAlertRaised), 1)

	// More spending lands, the condition persists. The same alert absorbs
	// the fresh evidence.
	saveSpend(t, store, "t2", now.Add(time.Hour), -100, model.CategoryGroceries)
	require.NoError(t, dog.ScanUser(ctx, "alice", now))

	require.Len(t, publisher.byType(model.EventAlertRaised), 1)
	live, err := store.GetLiveAlert(ctx, "alice", model.AlertAnomalyDetected, "2026-07")
	require.NoError(t, err)
	assert.InDelta(t, 550, live.Evidence.Current, 1e-9)
}

func TestScanUser_AcknowledgedAlertHoldsLiveSlot(t *testing.T) {
	dog, store, publisher := setupWatchdog(t)
	ctx := context.Background()
	now := time.Date(2026, 7, 15, 12, 0, 0, 0, time.UTC)

	saveBaseline(t, store)
	saveSpend(t, store, "t1", now, -450, model.CategoryGroceries)
	require.NoError(t, dog.ScanUser(ctx, "alice", now))

	raised := publisher.byType(model.EventAlertRaised)
	require.Len(t, raised, 1)
	alertID := raised[0].Payload.(model.Alert).ID

	require.NoError(t, dog.Acknowledge(ctx, alertID, "expected, summer party"))

	require.NoError(t, dog.ScanUser(ctx, "alice", now))
	assert.Len(t, publisher.byType(model.EventAlertRaised), 1)

	live, err := store.GetLiveAlert(ctx, "alice", model.AlertAnomalyDetected, "2026-07")
	require.NoError(t, err)
	assert.Equal(t, model.StatusAcknowledged, live.Status)
	assert.Equal(t, "expected, summer party", live.Notes)
}

func TestScanUser_AutoResolvesWhenConditionClears(t *testing.T) {
	dog, store, publisher := setupWatchdog(t)
	ctx := context.Background()
	july := time.Date(2026, 7, 15, 12, 0, 0, 0, time.UTC)
	august := time.Date(2026, 8, 15, 12, 0, 0, 0, time.UTC)

	saveBaseline(t, store)
	saveSpend(t, store, "t1", july, -450, model.CategoryGroceries)
	require.NoError(t, dog.ScanUser(ctx, "alice", july))
	require.Len(t, publisher.byType(model.EventAlertRaised), 1)

	// August returns to normal spending.
	saveSpend(t, store, "t2", august, -310, model.CategoryGroceries)
	require.NoError(t, dog.ScanUser(ctx, "alice", august))

	resolved := publisher.byType(model.EventAlertResolved)
	require.Len(t, resolved, 1)
	alert, ok := resolved[0].Payload.(model.Alert)
	require.True(t, ok)
	assert.Equal(t, model.StatusResolved, alert.Status)
	assert.NotNil(t, alert.ResolvedAt)

	_, err := store.GetLiveAlert(ctx, "alice", model.AlertAnomalyDetected, "2026-07")
	require.Error(t, err)
}

func TestScanUser_HighSpendingPeriodOverPeriod(t *testing.T) {
	dog, store, publisher := setupWatchdog(t)
	ctx := context.Background()
	july := time.Date(2026, 7, 15, 12, 0, 0, 0, time.UTC)
	august := time.Date(2026, 8, 15, 12, 0, 0, 0, time.UTC)

	saveSpend(t, store, "t1", july, -300, model.CategoryEntertainment)
	saveSpend(t, store, "t2", august, -600, model.CategoryEntertainment)

	require.NoError(t, dog.ScanUser(ctx, "alice", august))

	raised := publisher.byType(model.EventAlertRaised)
	require.Len(t, raised, 1)
	alert := raised[0].Payload.(model.Alert)
	assert.Equal(t, model.AlertHighSpending, alert.Type)
	assert.InDelta(t, 600, alert.Evidence.Current, 1e-9)
	assert.InDelta(t, 300, alert.Evidence.Average, 1e-9)
	assert.InDelta(t, 100, alert.Evidence.Increase, 1e-9)
	// A 100% jump against a 40% threshold sits in the high band.
	assert.Equal(t, model.SeverityHigh, alert.Severity)
}

func TestScanUser_EmptyWindowIsSkipped(t *testing.T) {
	dog, store, publisher := setupWatchdog(t)
	ctx := context.Background()
	now := time.Date(2026, 7, 15, 12, 0, 0, 0, time.UTC)

	require.NoError(t, dog.ScanUser(ctx, "alice", now))

	assert.Empty(t, publisher.byType(model.EventAlertRaised))
	assert.Empty(t, publisher.byType(model.EventScanCompleted))

	state, err := store.GetMonitoringState(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, state.LastScan.IsZero())
}

func TestResolve_IsIdempotent(t *testing.T) {
	dog, store, publisher := setupWatchdog(t)
	ctx := context.Background()
	now := time.Date(2026, 7, 15, 12, 0, 0, 0, time.UTC)

	saveBaseline(t, store)
	saveSpend(t, store, "t1", now, -450, model.CategoryGroceries)
	require.NoError(t, dog.ScanUser(ctx, "alice", now))

	raised := publisher.byType(model.EventAlertRaised)
	require.Len(t, raised, 1)
	alertID := raised[0].Payload.(model.Alert).ID

	require.NoError(t, dog.Resolve(ctx, alertID))
	require.Len(t, publisher.byType(model.EventAlertResolved), 1)

	// A second resolve changes nothing and stays silent.
	require.NoError(t, dog.Resolve(ctx, alertID))
	assert.Len(t, publisher.byType(model.EventAlertResolved), 1)
}

func categorizedEvent(correlationID, txnID string, date time.Time, amount float64, category model.Category) model.Event {
	return model.Event{
		Type:          model.EventTransactionCategorized,
		CorrelationID: correlationID,
		UserID:        "alice",
		Payload: model.TransactionCategorizedPayload{
			Transaction: model.Transaction{
				ID:          txnID,
				UserID:      "alice",
				Date:        date,
				Description: "test spend",
				Amount:      amount,
				Category:    category,
			},
		},
	}
}

// flakyStateStore fails a bounded number of monitoring-state reads before
// delegating to the real store.
type flakyStateStore struct {
	service.Storage
	mu       sync.Mutex
	failures int
}

func (f *flakyStateStore) GetMonitoringState(ctx context.Context, userID string) (*model.MonitoringState, error) {
	f.mu.Lock()
	fail := f.failures > 0
	if fail {
		f.failures--
	}
	f.mu.Unlock()

	if fail {
		return nil, fmt.Errorf("database is locked")
	}
	return f.Storage.GetMonitoringState(ctx, userID)
}

func TestTransientStateLoadFailureKeepsBaselines(t *testing.T) {
	_, store, publisher := setupWatchdog(t)
	ctx := context.Background()
	now := time.Date(2026, 7, 15, 12, 0, 0, 0, time.UTC)

	saveBaseline(t, store)

	flaky := &flakyStateStore{Storage: store, failures: 1}
	dog := New(flaky, publisher, DefaultConfig())

	// The first delivery hits the transient read error and is dropped
	// without writing anything back.
	dog.HandleTransactionCategorized(ctx, categorizedEvent("corr-1", "t1", now, -23.50, model.CategoryGroceries))

	state, err := store.GetMonitoringState(ctx, "alice")
	require.NoError(t, err)
	stats := state.Stats[model.CategoryGroceries]
	require.NotNil(t, stats)
	assert.InDelta(t, 300, stats.Mean, 1e-9)
	assert.Equal(t, int64(6), stats.Count)
	assert.Zero(t, state.TotalObservations)

	// Redelivery of the same event succeeds and is not treated as a
	// duplicate of the failed attempt.
	dog.HandleTransactionCategorized(ctx, categorizedEvent("corr-1", "t1", now, -23.50, model.CategoryGroceries))

	state, err = store.GetMonitoringState(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(1), state.TotalObservations)
	assert.InDelta(t, 23.50, state.WindowTotals[model.CategoryGroceries], 1e-9)
	assert.InDelta(t, 300, state.Stats[model.CategoryGroceries].Mean, 1e-9)
}

func TestScanUser_PropagatesStateLoadFailure(t *testing.T) {
	_, store, publisher := setupWatchdog(t)
	ctx := context.Background()
	now := time.Date(2026, 7, 15, 12, 0, 0, 0, time.UTC)

	saveBaseline(t, store)
	saveSpend(t, store, "t1", now, -450, model.CategoryGroceries)

	flaky := &flakyStateStore{Storage: store, failures: 1}
	dog := New(flaky, publisher, DefaultConfig())

	require.Error(t, dog.ScanUser(ctx, "alice", now))
	assert.Empty(t, publisher.byType(model.EventAlertRaised))

	state, err := store.GetMonitoringState(ctx, "alice")
	require.NoError(t, err)
	require.NotNil(t, state.Stats[model.CategoryGroceries])
	assert.InDelta(t, 300, state.Stats[model.CategoryGroceries].Mean, 1e-9)
}

func TestHandleTransactionCategorized_DedupsRedelivery(t *testing.T) {
	dog, store, _ := setupWatchdog(t)
	ctx := context.Background()
	now := time.Date(2026, 7, 15, 12, 0, 0, 0, time.UTC)

	event := categorizedEvent("corr-1", "t1", now, -23.50, model.CategoryGroceries)
	dog.HandleTransactionCategorized(ctx, event)
	dog.HandleTransactionCategorized(ctx, event)

	state, err := store.GetMonitoringState(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(1), state.TotalObservations)
	assert.InDelta(t, 23.50, state.WindowTotals[model.CategoryGroceries], 1e-9)
}

func TestHandleTransactionCategorized_IncomeDoesNotFeedBaselines(t *testing.T) {
	dog, store, _ := setupWatchdog(t)
	ctx := context.Background()
	now := time.Date(2026, 7, 15, 12, 0, 0, 0, time.UTC)

	dog.HandleTransactionCategorized(ctx, categorizedEvent("corr-1", "t1", now, 2800, model.CategoryIncome))

	state, err := store.GetMonitoringState(ctx, "alice")
	require.NoError(t, err)
	assert.Zero(t, state.TotalObservations)
	assert.Empty(t, state.WindowTotals)
}

func TestHandleTransactionCategorized_TriggersInlineScan(t *testing.T) {
	dog, store, publisher := setupWatchdog(t)
	ctx := context.Background()
	now := time.Now().UTC()

	saveSpend(t, store, "t0", now, -20, model.CategoryGroceries)

	for i := 0; i < DefaultConfig().ScanEveryN; i++ {
		event := categorizedEvent(fmt.Sprintf("corr-%d", i), fmt.Sprintf("t%d", i+1), now, -10, model.CategoryGroceries)
		dog.HandleTransactionCategorized(ctx, event)
	}

	require.Len(t, publisher.byType(model.EventScanCompleted), 1)

	state, err := store.GetMonitoringState(ctx, "alice")
	require.NoError(t, err)
	assert.Zero(t, state.TxnsSinceScan)
	assert.False(t, state.LastScan.IsZero())
}

func TestHandleTransactionCategorized_ConcurrentUsersStayIsolated(t *testing.T) {
	dog, store, _ := setupWatchdog(t)
	ctx := context.Background()
	now := time.Date(2026, 7, 15, 12, 0, 0, 0, time.UTC)

	const users = 10
	const perUser = 30

	var wg sync.WaitGroup
	for u := 0; u < users; u++ {
		userID := fmt.Sprintf("user-%d", u)
		for i := 0; i < perUser; i++ {
			wg.Add(1)
			go func(userID string, i int) {
				defer wg.Done()
				event := categorizedEvent(
					fmt.Sprintf("%s-corr-%d", userID, i),
					fmt.Sprintf("%s-t%d", userID, i),
					now, -10, model.CategoryGroceries)
				event.UserID = userID
				payload := event.Payload.(model.TransactionCategorizedPayload)
				payload.Transaction.UserID = userID
				event.Payload = payload
				dog.HandleTransactionCategorized(ctx, event)
			}(userID, i)
		}
	}
	wg.Wait()

	for u := 0; u < users; u++ {
		userID := fmt.Sprintf("user-%d", u)
		state, err := store.GetMonitoringState(ctx, userID)
		require.NoError(t, err)
		assert.Equal(t, int64(perUser), state.TotalObservations, userID)
		assert.InDelta(t, float64(perUser)*10, state.WindowTotals[model.CategoryGroceries], 1e-9, userID)
	}
}

func TestListAlerts_DelegatesFilter(t *testing.T) {
	dog, store, publisher := setupWatchdog(t)
	ctx := context.Background()
	now := time.Date(2026, 7, 15, 12, 0, 0, 0, time.UTC)

	saveBaseline(t, store)
	saveSpend(t, store, "t1", now, -450, model.CategoryGroceries)
	require.NoError(t, dog.ScanUser(ctx, "alice", now))
	require.Len(t, publisher.byType(model.EventAlertRaised), 1)

	alerts, err := dog.ListAlerts(ctx, service.AlertFilter{UserID: "alice", Status: model.StatusActive})
	require.NoError(t, err)
	require.Len(t, alerts, 1)

	alerts, err = dog.ListAlerts(ctx, service.AlertFilter{UserID: "bob"})
	require.NoError(t, err)
	assert.Empty(t, alerts)
}
