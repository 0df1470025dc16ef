// Package service defines the interfaces for all application services.
package service

import (
	"context"
	"time"

	"github.com/varo-app/varo/internal/model"
)

// AlertFilter defines filtering options for alert queries.
type AlertFilter struct {
	UserID   string
	Status   model.AlertStatus
	Severity model.AlertSeverity
	Limit    int
}

// Storage defines the contract for the durable record store. Transactions
// are owned by the surrounding application; everything else is owned by the
// core and must survive process restarts.
type Storage interface {
	// Transaction operations (read side plus test/seed writes)
	SaveTransactions(ctx context.Context, transactions []model.Transaction) error
	GetTransactionByID(ctx context.Context, id string) (*model.Transaction, error)
	GetTransactionsByUserAndPeriod(ctx context.Context, userID string, start, end time.Time) ([]model.Transaction, error)
	GetCategorizedTransactions(ctx context.Context, limit int) ([]model.Transaction, error)
	GetActiveUserIDs(ctx context.Context, since time.Time) ([]string, error)
	UpdateTransactionCategory(ctx context.Context, transactionID string, category model.Category) error

	// Prediction operations
	SavePrediction(ctx context.Context, prediction *model.CategoryPrediction) error
	GetLatestPrediction(ctx context.Context, transactionID string) (*model.CategoryPrediction, error)

	// Correction operations
	SaveCorrection(ctx context.Context, correction *model.CorrectionRecord) error
	GetCorrections(ctx context.Context) ([]model.CorrectionRecord, error)

	// Rule operations
	GetActiveRules(ctx context.Context) ([]model.Rule, error)
	SaveRule(ctx context.Context, rule *model.Rule) error
	IncrementRuleUseCount(ctx context.Context, id int) error

	// Alert operations
	SaveAlert(ctx context.Context, alert *model.Alert) error
	GetAlert(ctx context.Context, id string) (*model.Alert, error)
	GetLiveAlert(ctx context.Context, userID string, alertType model.AlertType, window string) (*model.Alert, error)
	ListAlerts(ctx context.Context, filter AlertFilter) ([]model.Alert, error)

	// Job operations
	SaveJob(ctx context.Context, job *model.Job) error
	GetJob(ctx context.Context, id string) (*model.Job, error)
	ListJobs(ctx context.Context) ([]model.Job, error)

	// Monitoring state operations
	GetMonitoringState(ctx context.Context, userID string) (*model.MonitoringState, error)
	SaveMonitoringState(ctx context.Context, state *model.MonitoringState) error

	// Database management
	Migrate(ctx context.Context) error
	Close() error
}

// Handler processes one delivered event. Delivery is at-least-once; handlers
// must be idempotent or deduplicate on the event's correlation id.
type Handler func(ctx context.Context, event model.Event)

// Subscription is the capability returned by Subscribe; Unsubscribe is
// idempotent.
type Subscription interface {
	Unsubscribe()
}

// Publisher is the producer half of the event bus. Publish is fire-and-forget
// and never blocks on subscriber failure.
type Publisher interface {
	Publish(event model.Event)
}

// Subscriber is the consumer half of the event bus.
type Subscriber interface {
	Subscribe(eventType model.EventType, handler Handler) Subscription
	SubscribeAll(handler Handler) Subscription
}

// Bus combines both halves of the event bus.
type Bus interface {
	Publisher
	Subscriber
}

// Pool runs submitted work on a bounded set of workers.
type Pool interface {
	Submit(ctx context.Context, task func())
}

// Classifier is the categorization engine's read path.
type Classifier interface {
	Classify(ctx context.Context, description string, amount float64) model.CategoryPrediction
}
