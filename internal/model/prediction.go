package model

import "time"

// PredictionSource indicates which layer produced a category prediction.
type PredictionSource string

// Prediction source constants.
const (
	SourceRule  PredictionSource = "rule"
	SourceModel PredictionSource = "model"
)

// CategoryScore is a ranked (category, confidence) alternative.
type CategoryScore struct {
	Category   Category
	Confidence float64
}

// CategoryPrediction is the immutable result of classifying one transaction.
// Later corrections supersede it; they never mutate it.
type CategoryPrediction struct {
	CreatedAt     time.Time
	TransactionID string
	Category      Category
	Source        PredictionSource
	Alternatives  []CategoryScore
	Confidence    float64
	ModelVersion  int
}

// CorrectionRecord is an append-only user override of a predicted category,
// used as a learning signal for retraining. A correction always references a
// transaction with at least one prior prediction.
type CorrectionRecord struct {
	CreatedAt         time.Time
	TransactionID     string
	PreviousCategory  Category
	CorrectedCategory Category
	Confidence        float64
	ID                int64
}
