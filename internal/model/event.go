package model

import "time"

// EventType identifies the schema of an event payload.
type EventType string

// Event type constants.
const (
	EventTransactionCreated     EventType = "TransactionCreated"
	EventTransactionCategorized EventType = "TransactionCategorized"
	EventCategoryCorrected      EventType = "CategoryCorrected"
	EventScanCompleted          EventType = "ScanCompleted"
	EventAlertRaised            EventType = "AlertRaised"
	EventAlertResolved          EventType = "AlertResolved"
	EventJobDisabled            EventType = "JobDisabled"
	EventForecastUpdated        EventType = "ForecastUpdated"
)

// Event is the typed envelope carried by the bus. Events are immutable once
// published. Ordering is FIFO within one producer's stream only.
type Event struct {
	Timestamp     time.Time
	Payload       any
	Type          EventType
	CorrelationID string
	UserID        string
}

// TransactionCategorizedPayload pairs a transaction with its prediction.
type TransactionCategorizedPayload struct {
	Transaction Transaction
	Prediction  CategoryPrediction
}

// ScanCompletedPayload summarizes one watchdog scan over a user's window.
type ScanCompletedPayload struct {
	UserID       string
	Window       string
	AnomalyCount int
}

// JobDisabledPayload is the operational signal raised when a job exceeds its
// failure budget and is pulled from the schedule.
type JobDisabledPayload struct {
	JobID    string
	LastErr  string
	Failures int
}

// ForecastUpdatedPayload carries refreshed per-category spend estimates.
type ForecastUpdatedPayload struct {
	UserID    string
	Window    string
	Estimates map[Category]float64
}
