package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/varo-app/varo/internal/model"
)

func trainingSet() []Sample {
	return []Sample{
		{Description: "K-Market Kallio ruokaostokset", Amount: -35, Category: model.CategoryGroceries},
		{Description: "S-Market Töölö ruoka", Amount: -42, Category: model.CategoryGroceries},
		{Description: "Lidl Jätkäsaari", Amount: -28, Category: model.CategoryGroceries},
		{Description: "Ravintola Luigi lounas", Amount: -14, Category: model.CategoryRestaurants},
		{Description: "Ravintola Sawa illallinen", Amount: -65, Category: model.CategoryRestaurants},
		{Description: "Kahvila lounas keskusta", Amount: -12, Category: model.CategoryRestaurants},
		{Description: "HSL kausilippu", Amount: -65, Category: model.CategoryTransport},
		{Description: "HSL kertalippu", Amount: -3, Category: model.CategoryTransport},
	}
}

func TestModelSnapshot_Predict(t *testing.T) {
	snap := Train(trainingSet(), 1)

	tests := []struct {
		name string
		desc string
		amt  float64
		want model.Category
	}{
		{"grocery store", "K-Market Herttoniemi ruoka", -30, model.CategoryGroceries},
		{"restaurant", "Ravintola lounas", -15, model.CategoryRestaurants},
		{"transit ticket", "HSL lippu", -3, model.CategoryTransport},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			scores := snap.Predict(tt.desc, tt.amt)
			require.NotEmpty(t, scores)
			assert.Equal(t, tt.want, scores[0].Category)
			assert.Greater(t, scores[0].Confidence, 0.0)
		})
	}
}

func TestModelSnapshot_PredictNormalized(t *testing.T) {
	snap := Train(trainingSet(), 1)

	scores := snap.Predict("K-Market ruoka", -30)
	require.NotEmpty(t, scores)

	var total float64
	for _, score := range scores {
		total += score.Confidence
	}
	assert.InDelta(t, 1.0, total, 1e-9)

	for i := 1; i < len(scores); i++ {
		assert.GreaterOrEqual(t, scores[i-1].Confidence, scores[i].Confidence)
	}
}

func TestModelSnapshot_Untrained(t *testing.T) {
	var nilSnap *ModelSnapshot
	assert.Nil(t, nilSnap.Predict("anything", -10))

	empty := Train(nil, 1)
	assert.Nil(t, empty.Predict("anything", -10))
}

func TestModelSnapshot_EmptyDescription(t *testing.T) {
	snap := Train(trainingSet(), 1)
	assert.Nil(t, snap.Predict("", -10))
	assert.Nil(t, snap.Predict("!!! ...", -10))
}

func TestModelSnapshot_Evaluate(t *testing.T) {
	snap := Train(trainingSet(), 1)

	holdout := []Sample{
		{Description: "K-Market ruoka", Amount: -30, Category: model.CategoryGroceries},
		{Description: "Ravintola illallinen", Amount: -50, Category: model.CategoryRestaurants},
	}
	assert.InDelta(t, 1.0, snap.Evaluate(holdout), 1e-9)

	wrong := []Sample{
		{Description: "K-Market ruoka", Amount: -30, Category: model.CategoryTransport},
	}
	assert.InDelta(t, 0.0, snap.Evaluate(wrong), 1e-9)

	assert.InDelta(t, 1.0, snap.Evaluate(nil), 1e-9)
}

func TestTrain_SkipsInvalidSamples(t *testing.T) {
	snap := Train([]Sample{
		{Description: "something", Amount: -10, Category: model.CategoryUncategorized},
		{Description: "something", Amount: -10, Category: "not-a-category"},
		{Description: "", Amount: -10, Category: model.CategoryGroceries},
	}, 1)

	assert.Nil(t, snap.Predict("something", -10))
}

func TestAmountBucket(t *testing.T) {
	// Sign never matters; nearby magnitudes share a bucket.
	assert.Equal(t, amountBucket(30), amountBucket(-30))
	assert.Equal(t, amountBucket(33), amountBucket(40))
	assert.NotEqual(t, amountBucket(3), amountBucket(300))
	assert.Equal(t, "amt:0", amountBucket(0.5))
	// Huge amounts cap at the top bucket.
	assert.Equal(t, amountBucket(1e6), amountBucket(1e9))
}

func TestTokenize(t *testing.T) {
	tokens := tokenize("K-Market Kallio, ostos #42")
	assert.Equal(t, []string{"k", "market", "kallio", "ostos", "42"}, tokens)

	// Non-ASCII letters survive.
	tokens = tokenize("Jätkäsaari")
	assert.Equal(t, []string{"jätkäsaari"}, tokens)
}
