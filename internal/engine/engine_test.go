package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/varo-app/varo/internal/common"
	"github.com/varo-app/varo/internal/model"
	"github.com/varo-app/varo/internal/storage"
)

// capturePublisher records published events for assertions.
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

func setupEngine(t *testing.T) (*Engine, *storage.SQLiteStorage, *capturePublisher) {
	t.Helper()

	store, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	require.NoError(t, store.Migrate(context.Background()))
	t.Cleanup(func() { _ = store.Close() })

	publisher := &capturePublisher{}
	eng, err := New(context.Background(), store, publisher, DefaultConfig())
	require.NoError(t, err)

	return eng, store, publisher
}

func saveTxn(t *testing.T, store *storage.SQLiteStorage, id, description string, date time.Time, amount float64, category model.Category) model.Transaction {
	t.Helper()
	txn := model.Transaction{
		ID:          id,
		UserID:      "alice",
		Date:        date,
		Description: description,
		Amount:      amount,
		Category:    category,
	}
	require.NoError(t, store.SaveTransactions(context.Background(), []model.Transaction{txn}))
	return txn
}

func TestClassify_SeededRuleWins(t *testing.T) {
	eng, _, _ := setupEngine(t)

	prediction := eng.Classify(context.Background(), "K-Market Kallio", -23.50)
	assert.Equal(t, model.CategoryGroceries, prediction.Category)
	assert.Equal(t, model.SourceRule, prediction.Source)
	assert.InDelta(t, 0.95, prediction.Confidence, 1e-9)
}

func TestClassify_UntrainedFallsBackToUncategorized(t *testing.T) {
	eng, _, _ := setupEngine(t)

	prediction := eng.Classify(context.Background(), "Tuntematon Yritys Oy", -99)
	assert.Equal(t, model.CategoryUncategorized, prediction.Category)
	assert.Zero(t, prediction.Confidence)
}

func TestClassify_EmptyDescriptionNeverFails(t *testing.T) {
	eng, _, _ := setupEngine(t)

	prediction := eng.Classify(context.Background(), "", 0)
	assert.Equal(t, model.CategoryUncategorized, prediction.Category)
}

func TestClassify_LowConfidenceRuleBeatsUntrainedModel(t *testing.T) {
	eng, store, _ := setupEngine(t)
	ctx := context.Background()

	require.NoError(t, store.SaveRule(ctx, &model.Rule{
		Name:            "gym",
		MerchantPattern: "kuntosali",
		Category:        model.CategoryHealth,
		Confidence:      0.5, // below the rule threshold
		IsActive:        true,
	}))
	require.NoError(t, eng.ReloadRules(ctx))

	// With no trained model, the tie breaks toward the rule layer.
	prediction := eng.Classify(ctx, "Kuntosali Treeni", -35)
	assert.Equal(t, model.CategoryHealth, prediction.Category)
	assert.Equal(t, model.SourceRule, prediction.Source)
	assert.InDelta(t, 0.5, prediction.Confidence, 1e-9)
}

func TestClassifyTransaction_PersistsAndPublishes(t *testing.T) {
	eng, store, publisher := setupEngine(t)
	ctx := context.Background()

	txn := saveTxn(t, store, "t1", "K-Market Kallio", time.Now().UTC(), -23.50, "")

	prediction := eng.ClassifyTransaction(ctx, txn)
	assert.Equal(t, model.CategoryGroceries, prediction.Category)

	stored, err := store.GetLatestPrediction(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, model.CategoryGroceries, stored.Category)

	annotated, err := store.GetTransactionByID(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, model.CategoryGroceries, annotated.Category)

	events := publisher.byType(model.EventTransactionCategorized)
	require.Len(t, events, 1)
	payload, ok := events[0].Payload.(model.TransactionCategorizedPayload)
	require.True(t, ok)
	assert.Equal(t, "t1", payload.Transaction.ID)
	assert.Equal(t, "alice", events[0].UserID)
}

func TestCorrect_RequiresPriorPrediction(t *testing.T) {
	eng, store, _ := setupEngine(t)
	ctx := context.Background()

	saveTxn(t, store, "t1", "Kahvila Aleksi", time.Now().UTC(), -8, "")

	err := eng.Correct(ctx, "t1", model.CategoryRestaurants, 0)
	require.ErrorIs(t, err, common.ErrNoPriorPrediction)
}

func TestCorrect_RejectsInvalidCategory(t *testing.T) {
	eng, _, _ := setupEngine(t)

	err := eng.Correct(context.Background(), "t1", "not-a-category", 0)
	require.Error(t, err)

	err = eng.Correct(context.Background(), "t1", model.CategoryUncategorized, 0)
	require.Error(t, err)
}

func TestCorrectionFeedsRetraining(t *testing.T) {
	eng, store, publisher := setupEngine(t)
	ctx := context.Background()
	base := time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC)

	// Before any training, this merchant is unknown.
	before := eng.Classify(ctx, "Kahvila Aleksi Helsinki", -8)
	require.Equal(t, model.CategoryUncategorized, before.Category)

	// The user corrects a handful of predictions for the same merchant.
	for i, id := range []string{"c1", "c2", "c3", "c4", "c5", "c6"} {
		txn := saveTxn(t, store, id, "Kahvila Aleksi Helsinki", base.AddDate(0, 0, i), -8, "")
		eng.ClassifyTransaction(ctx, txn)
		require.NoError(t, eng.Correct(ctx, id, model.CategoryRestaurants, 0))
	}

	require.NoError(t, eng.Retrain(ctx))
	assert.Equal(t, 1, eng.ModelVersion())

	// The retrained model now knows the merchant.
	after := eng.Classify(ctx, "Kahvila Aleksi Helsinki", -8)
	assert.Equal(t, model.CategoryRestaurants, after.Category)
	assert.Equal(t, model.SourceModel, after.Source)
	assert.Greater(t, after.Confidence, before.Confidence)

	assert.NotEmpty(t, publisher.byType(model.EventCategoryCorrected))
}

func TestRetrain_NoTrainingData(t *testing.T) {
	eng, _, _ := setupEngine(t)

	err := eng.Retrain(context.Background())
	require.ErrorIs(t, err, common.ErrNoTrainingData)
	assert.Zero(t, eng.ModelVersion())
}

func TestRetrain_AccuracyFloorKeepsOldModel(t *testing.T) {
	eng, store, _ := setupEngine(t)
	ctx := context.Background()
	base := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)

	// Fifty identical descriptions. The labels are arranged so that every
	// held-out sample disagrees with the training majority: training data
	// teaches one label, the holdout expects another, and accuracy lands
	// at zero.
	for i := 0; i < 50; i++ {
		category := model.CategoryGroceries
		if i%5 == 0 {
			category = model.CategoryRestaurants
		}
		saveTxn(t, store, "t"+string(rune('A'+i/26))+string(rune('a'+i%26)),
			"Paikallinen Puoti", base.Add(time.Duration(i)*time.Hour), -20, category)
	}

	err := eng.Retrain(ctx)
	require.ErrorIs(t, err, common.ErrAccuracyFloor)
	assert.Zero(t, eng.ModelVersion())

	// Serving still degrades gracefully on the old (absent) model.
	prediction := eng.Classify(ctx, "Paikallinen Puoti", -20)
	assert.Equal(t, model.CategoryUncategorized, prediction.Category)
}

func TestRetrain_CorrectionSupersedesOriginalLabel(t *testing.T) {
	eng, store, _ := setupEngine(t)
	ctx := context.Background()
	base := time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC)

	// The seeded rule labels Prisma purchases as groceries, but these were
	// clothing. Only the corrected label may reach the training set.
	for i, id := range []string{"x1", "x2", "x3", "x4"} {
		txn := saveTxn(t, store, id, "Prisma Iso Omena", base.AddDate(0, 0, i), -45, "")
		eng.ClassifyTransaction(ctx, txn)
		require.NoError(t, eng.Correct(ctx, id, model.CategoryClothing, 0.95))
	}

	require.NoError(t, eng.Retrain(ctx))

	scores := eng.snapshot.Load().Predict("Prisma Iso Omena", -45)
	require.NotEmpty(t, scores)
	assert.Equal(t, model.CategoryClothing, scores[0].Category)
}
