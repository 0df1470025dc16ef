package watchdog

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/varo-app/varo/internal/model"
)

// Forecast estimates next-window spend per category for one user: the
// exponentially weighted baseline adjusted by the trailing trend. Published
// for downstream consumers; the watchdog itself never acts on forecasts.
func (w *Watchdog) Forecast(ctx context.Context, userID string, now time.Time) (map[model.Category]float64, error) {
	mu := w.userLock(userID)
	mu.Lock()
	defer mu.Unlock()

	state, err := w.loadState(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load monitoring state for %s: %w", userID, err)
	}

	estimates := make(map[model.Category]float64, len(state.Stats))
	for category, stats := range state.Stats {
		if stats.Count == 0 {
			continue
		}
		estimate := stats.Mean + stats.Trend()
		if estimate < 0 {
			estimate = 0
		}
		estimates[category] = estimate
	}

	if len(estimates) == 0 {
		return nil, nil
	}

	nextWindow := now.UTC().AddDate(0, 1, 0).Format("2006-01")
	w.publisher.Publish(model.Event{
		Type:   model.EventForecastUpdated,
		UserID: userID,
		Payload: model.ForecastUpdatedPayload{
			UserID:    userID,
			Window:    nextWindow,
			Estimates: estimates,
		},
	})

	return estimates, nil
}

// RefreshForecasts recomputes forecasts for every recently active user.
// Wired as the forecast-refresh scheduled job.
func (w *Watchdog) RefreshForecasts(ctx context.Context, now time.Time) error {
	userIDs, err := w.storage.GetActiveUserIDs(ctx, now.AddDate(0, -3, 0))
	if err != nil {
		return fmt.Errorf("failed to list active users: %w", err)
	}

	for _, userID := range userIDs {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if _, err := w.Forecast(ctx, userID, now); err != nil {
			slog.Warn("Forecast failed", "user_id", userID, "error", err)
		}
	}
	return nil
}
