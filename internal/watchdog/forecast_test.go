package watchdog

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/varo-app/varo/internal/model"
)

func TestForecast_BaselinePlusTrend(t *testing.T) {
	dog, store, publisher := setupWatchdog(t)
	ctx := context.Background()
	now := time.Date(2026, 7, 15, 12, 0, 0, 0, time.UTC)

	state := model.NewMonitoringState("alice")
	groceries := state.CategoryStats(model.CategoryGroceries)
	groceries.Mean = 300
	groceries.Count = 3
	groceries.Recent = []float64{280, 300, 320}
	require.NoError(t, store.SaveMonitoringState(ctx, state))

	estimates, err := dog.Forecast(ctx, "alice", now)
	require.NoError(t, err)
	require.Len(t, estimates, 1)
	// Rising 20 per window on a mean of 300.
	assert.InDelta(t, 320, estimates[model.CategoryGroceries], 1e-9)

	events := publisher.byType(model.EventForecastUpdated)
	require.Len(t, events, 1)
	payload, ok := events[0].Payload.(model.ForecastUpdatedPayload)
	require.True(t, ok)
	assert.Equal(t, "2026-08", payload.Window)
	assert.InDelta(t, 320, payload.Estimates[model.CategoryGroceries], 1e-9)
}

func TestForecast_NegativeEstimateClampsToZero(t *testing.T) {
	dog, store, _ := setupWatchdog(t)
	ctx := context.Background()
	now := time.Date(2026, 7, 15, 12, 0, 0, 0, time.UTC)

	state := model.NewMonitoringState("alice")
	clothing := state.CategoryStats(model.CategoryClothing)
	clothing.Mean = 5
	clothing.Count = 2
	clothing.Recent = []float64{50, 5}
	require.NoError(t, store.SaveMonitoringState(ctx, state))

	estimates, err := dog.Forecast(ctx, "alice", now)
	require.NoError(t, err)
	assert.Zero(t, estimates[model.CategoryClothing])
}

func TestForecast_NoHistoryPublishesNothing(t *testing.T) {
	dog, _, publisher := setupWatchdog(t)

	estimates, err := dog.Forecast(context.Background(), "alice", time.Now())
	require.NoError(t, err)
	assert.Nil(t, estimates)
	assert.Empty(t, publisher.byType(model.EventForecastUpdated))
}

func TestRefreshForecasts_CoversActiveUsers(t *testing.T) {
	dog, store, publisher := setupWatchdog(t)
	ctx := context.Background()
	now := time.Date(2026, 7, 15, 12, 0, 0, 0, time.UTC)

	saveSpend(t, store, "t1", now.AddDate(0, 0, -10), -30, model.CategoryGroceries)

	state := model.NewMonitoringState("alice")
	groceries := state.CategoryStats(model.CategoryGroceries)
	groceries.Mean = 30
	groceries.Count = 2
	groceries.Recent = []float64{28, 32}
	require.NoError(t, store.SaveMonitoringState(ctx, state))

	require.NoError(t, dog.RefreshForecasts(ctx, now))

	events := publisher.byType(model.EventForecastUpdated)
	require.Len(t, events, 1)
	assert.Equal(t, "alice", events[0].UserID)
}
