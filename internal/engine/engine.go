// Package engine implements the adaptive categorization engine: a
// deterministic rule layer in front of a trainable statistical classifier,
// with a correction feedback loop driving scheduled retraining.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/varo-app/varo/internal/common"
	"github.com/varo-app/varo/internal/model"
	"github.com/varo-app/varo/internal/service"
)

// Config holds configuration options for the categorization engine.
type Config struct {
	// RuleThreshold is the confidence a rule match needs to bypass the
	// statistical layer entirely.
	RuleThreshold float64
	// MinAccuracy is the held-out accuracy floor a retrained model must
	// reach before it replaces the serving snapshot.
	MinAccuracy float64
	// HoldoutEvery holds out every Nth training sample for evaluation.
	HoldoutEvery int
	// MinEvalSamples is the smallest holdout size worth enforcing the
	// accuracy floor on.
	MinEvalSamples int
}

// DefaultConfig returns the default engine configuration.
func DefaultConfig() Config {
	return Config{
		RuleThreshold:  0.9,
		MinAccuracy:    0.70,
		HoldoutEvery:   5,
		MinEvalSamples: 10,
	}
}

// Engine classifies transactions into spending categories and learns from
// user corrections. Classify reads a shared immutable model snapshot;
// Retrain builds a new snapshot and swaps it in atomically.
type Engine struct {
	storage   service.Storage
	publisher service.Publisher
	snapshot  atomic.Pointer[ModelSnapshot]
	matcher   *RuleMatcher
	matcherMu sync.RWMutex
	config    Config
}

// New creates an engine, loading the rule table from storage. The statistical
// layer starts untrained; the first retrain populates it.
func New(ctx context.Context, storage service.Storage, publisher service.Publisher, config Config) (*Engine, error) {
	e := &Engine{
		storage:   storage,
		publisher: publisher,
		config:    config,
	}

	if err := e.ReloadRules(ctx); err != nil {
		return nil, fmt.Errorf("failed to load rule table: %w", err)
	}

	return e, nil
}

// ReloadRules refreshes the rule layer from storage.
func (e *Engine) ReloadRules(ctx context.Context) error {
	rules, err := e.storage.GetActiveRules(ctx)
	if err != nil {
		return fmt.Errorf("failed to get active rules: %w", err)
	}

	e.matcherMu.Lock()
	e.matcher = NewRuleMatcher(rules)
	e.matcherMu.Unlock()

	slog.Info("Rule table loaded", "rules", len(rules))
	return nil
}

// ModelVersion returns the version of the serving snapshot, 0 if untrained.
func (e *Engine) ModelVersion() int {
	if snap := e.snapshot.Load(); snap != nil {
		return snap.Version
	}
	return 0
}

// Classify assigns a category to a description/amount pair. It never fails:
// any internal error degrades to an uncategorized result with confidence 0,
// since downstream consumers must always receive a category.
func (e *Engine) Classify(ctx context.Context, description string, amount float64) (prediction model.CategoryPrediction) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Classification panic, degrading to uncategorized", "panic", r)
			prediction = uncategorized()
		}
	}()

	now := time.Now()

	e.matcherMu.RLock()
	matches := e.matcher.Match(description, amount)
	e.matcherMu.RUnlock()

	var ruleHit *model.Rule
	if len(matches) > 0 {
		ruleHit = &matches[0]
	}

	// High-confidence rule match wins outright; rules are presumed higher
	// precision than the model.
	if ruleHit != nil && ruleHit.Confidence >= e.config.RuleThreshold {
		e.recordRuleUse(ctx, ruleHit.ID)
		return model.CategoryPrediction{
			CreatedAt:  now,
			Category:   ruleHit.Category,
			Confidence: ruleHit.Confidence,
			Source:     model.SourceRule,
		}
	}

	snap := e.snapshot.Load()
	scores := snap.Predict(description, amount)

	// Ties between rule and model break in favor of the rule layer.
	if ruleHit != nil && (len(scores) == 0 || scores[0].Confidence <= ruleHit.Confidence) {
		e.recordRuleUse(ctx, ruleHit.ID)
		return model.CategoryPrediction{
			CreatedAt:    now,
			Category:     ruleHit.Category,
			Confidence:   ruleHit.Confidence,
			Source:       model.SourceRule,
			Alternatives: alternatives(scores),
		}
	}

	if len(scores) == 0 {
		return uncategorized()
	}

	return model.CategoryPrediction{
		CreatedAt:    now,
		Category:     scores[0].Category,
		Confidence:   scores[0].Confidence,
		Source:       model.SourceModel,
		ModelVersion: snap.Version,
		Alternatives: alternatives(scores[1:]),
	}
}

// ClassifyTransaction classifies a stored transaction, persists the
// prediction, annotates the transaction's category, and publishes
// TransactionCategorized. Persistence failures are logged, not propagated;
// the caller still gets a category.
func (e *Engine) ClassifyTransaction(ctx context.Context, txn model.Transaction) model.CategoryPrediction {
	prediction := e.Classify(ctx, txn.Description, txn.Amount)
	prediction.TransactionID = txn.ID

	if err := e.storage.SavePrediction(ctx, &prediction); err != nil {
		slog.Error("Failed to save prediction", "transaction_id", txn.ID, "error", err)
	}
	if err := e.storage.UpdateTransactionCategory(ctx, txn.ID, prediction.Category); err != nil {
		slog.Error("Failed to annotate transaction category", "transaction_id", txn.ID, "error", err)
	}

	txn.Category = prediction.Category
	e.publisher.Publish(model.Event{
		Type:   model.EventTransactionCategorized,
		UserID: txn.UserID,
		Payload: model.TransactionCategorizedPayload{
			Transaction: txn,
			Prediction:  prediction,
		},
	})

	return prediction
}

// Correct records a user override of a predicted category. The sample is
// persisted for the next retraining cycle; retraining itself is a scheduled
// job so corrections stay cheap on the write path.
func (e *Engine) Correct(ctx context.Context, transactionID string, category model.Category, priorConfidence float64) error {
	if !category.Valid() || category == model.CategoryUncategorized {
		return fmt.Errorf("%w: unknown category %q", common.ErrInvalidConfig, category)
	}

	prior, err := e.storage.GetLatestPrediction(ctx, transactionID)
	if err != nil {
		return fmt.Errorf("%w: transaction %s", common.ErrNoPriorPrediction, transactionID)
	}

	txn, err := e.storage.GetTransactionByID(ctx, transactionID)
	if err != nil {
		return fmt.Errorf("failed to load transaction %s: %w", transactionID, err)
	}

	correction := &model.CorrectionRecord{
		CreatedAt:         time.Now(),
		TransactionID:     transactionID,
		PreviousCategory:  prior.Category,
		CorrectedCategory: category,
		Confidence:        priorConfidence,
	}

	if err := e.storage.SaveCorrection(ctx, correction); err != nil {
		return fmt.Errorf("failed to save correction: %w", err)
	}
	if err := e.storage.UpdateTransactionCategory(ctx, transactionID, category); err != nil {
		return fmt.Errorf("failed to update transaction category: %w", err)
	}

	e.publisher.Publish(model.Event{
		Type:    model.EventCategoryCorrected,
		UserID:  txn.UserID,
		Payload: *correction,
	})

	slog.Info("Correction recorded",
		"transaction_id", transactionID,
		"previous", correction.PreviousCategory,
		"corrected", category)

	return nil
}

// Retrain rebuilds the statistical layer from the full correction history
// plus categorized transactions. If the candidate falls below the accuracy
// floor on a held-out split, the previous model version is retained and the
// retrain is reported as failed.
func (e *Engine) Retrain(ctx context.Context) error {
	samples, err := e.trainingSamples(ctx)
	if err != nil {
		return err
	}
	if len(samples) == 0 {
		return common.ErrNoTrainingData
	}

	training, holdout := split(samples, e.config.HoldoutEvery)

	version := e.ModelVersion() + 1
	candidate := Train(training, version)

	if len(holdout) >= e.config.MinEvalSamples {
		accuracy := candidate.Evaluate(holdout)
		if accuracy < e.config.MinAccuracy {
			return fmt.Errorf("%w: accuracy %.3f below floor %.3f, keeping version %d",
				common.ErrAccuracyFloor, accuracy, e.config.MinAccuracy, e.ModelVersion())
		}
		slog.Info("Retrain accepted",
			"version", version,
			"samples", len(training),
			"holdout", len(holdout),
			"accuracy", accuracy)
	} else {
		slog.Info("Retrain accepted without evaluation",
			"version", version,
			"samples", len(training),
			"holdout", len(holdout))
	}

	e.snapshot.Store(candidate)
	return nil
}

// trainingSamples assembles the training set: corrections first (they carry
// the user's ground truth), then categorized transactions not superseded by a
// correction.
func (e *Engine) trainingSamples(ctx context.Context) ([]Sample, error) {
	corrections, err := e.storage.GetCorrections(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load corrections: %w", err)
	}

	corrected := make(map[string]bool, len(corrections))
	samples := make([]Sample, 0, len(corrections))

	for _, c := range corrections {
		txn, txnErr := e.storage.GetTransactionByID(ctx, c.TransactionID)
		if txnErr != nil {
			slog.Warn("Correction references missing transaction",
				"transaction_id", c.TransactionID, "error", txnErr)
			continue
		}
		corrected[c.TransactionID] = true
		samples = append(samples, Sample{
			Description: txn.Description,
			Amount:      txn.Amount,
			Category:    c.CorrectedCategory,
		})
	}

	labeled, err := e.storage.GetCategorizedTransactions(ctx, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to load labeled transactions: %w", err)
	}
	for _, txn := range labeled {
		if corrected[txn.ID] {
			continue
		}
		samples = append(samples, Sample{
			Description: txn.Description,
			Amount:      txn.Amount,
			Category:    txn.Category,
		})
	}

	return samples, nil
}

// split separates every Nth sample into the holdout set. Holding out by
// stride keeps repeated identical corrections in both halves, so the
// evaluation reflects what the model will actually serve.
func split(samples []Sample, every int) (training, holdout []Sample) {
	if every <= 1 {
		return samples, nil
	}
	for i, s := range samples {
		if (i+1)%every == 0 {
			holdout = append(holdout, s)
		} else {
			training = append(training, s)
		}
	}
	return training, holdout
}

// recordRuleUse bumps the rule's use count, best effort.
func (e *Engine) recordRuleUse(ctx context.Context, id int) {
	if err := e.storage.IncrementRuleUseCount(ctx, id); err != nil {
		slog.Debug("Failed to increment rule use count", "rule_id", id, "error", err)
	}
}

func uncategorized() model.CategoryPrediction {
	return model.CategoryPrediction{
		CreatedAt:  time.Now(),
		Category:   model.CategoryUncategorized,
		Confidence: 0,
		Source:     model.SourceModel,
	}
}

func alternatives(scores []model.CategoryScore) []model.CategoryScore {
	const maxAlternatives = 3
	if len(scores) > maxAlternatives {
		scores = scores[:maxAlternatives]
	}
	if len(scores) == 0 {
		return nil
	}
	out := make([]model.CategoryScore, len(scores))
	copy(out, scores)
	return out
}
