package engine

import (
	"math"
	"sort"
	"strings"

	"github.com/varo-app/varo/internal/model"
)

// Sample is one labeled training example for the statistical layer.
type Sample struct {
	Description string
	Category    model.Category
	Amount      float64
}

// ModelSnapshot is an immutable trained multinomial naive Bayes model over
// normalized description tokens and a log-bucketed amount feature. Concurrent
// readers share one snapshot; retraining builds a new one and swaps it in
// atomically, so in-flight classifications never see a half-updated model.
type ModelSnapshot struct {
	tokenCounts  map[model.Category]map[string]int
	classCounts  map[model.Category]int
	classTokens  map[model.Category]int
	vocab        map[string]struct{}
	Version      int
	totalSamples int
}

// Train builds a snapshot from labeled samples. It never mutates an existing
// snapshot.
func Train(samples []Sample, version int) *ModelSnapshot {
	snap := &ModelSnapshot{
		tokenCounts: make(map[model.Category]map[string]int),
		classCounts: make(map[model.Category]int),
		classTokens: make(map[model.Category]int),
		vocab:       make(map[string]struct{}),
		Version:     version,
	}

	for _, sample := range samples {
		if !sample.Category.Valid() || sample.Category == model.CategoryUncategorized {
			continue
		}

		features := extractFeatures(sample.Description, sample.Amount)
		if len(features) == 0 {
			continue
		}

		snap.totalSamples++
		snap.classCounts[sample.Category]++

		counts := snap.tokenCounts[sample.Category]
		if counts == nil {
			counts = make(map[string]int)
			snap.tokenCounts[sample.Category] = counts
		}
		for _, f := range features {
			counts[f]++
			snap.classTokens[sample.Category]++
			snap.vocab[f] = struct{}{}
		}
	}

	return snap
}

// Predict scores a description/amount pair against every trained category and
// returns the ranked posterior distribution, best first. An untrained
// snapshot returns nil.
func (s *ModelSnapshot) Predict(description string, amount float64) []model.CategoryScore {
	if s == nil || s.totalSamples == 0 {
		return nil
	}

	features := extractFeatures(description, amount)
	if len(features) == 0 {
		return nil
	}

	vocabSize := float64(len(s.vocab))

	// Log-space scores to avoid underflow on long descriptions.
	logScores := make(map[model.Category]float64, len(s.classCounts))
	for category, count := range s.classCounts {
		score := math.Log(float64(count) / float64(s.totalSamples))
		denom := float64(s.classTokens[category]) + vocabSize
		for _, f := range features {
			score += math.Log((float64(s.tokenCounts[category][f]) + 1) / denom)
		}
		logScores[category] = score
	}

	// Normalize to a posterior via max-shifted exponentiation.
	maxScore := math.Inf(-1)
	for _, score := range logScores {
		if score > maxScore {
			maxScore = score
		}
	}

	var total float64
	scores := make([]model.CategoryScore, 0, len(logScores))
	for category, score := range logScores {
		p := math.Exp(score - maxScore)
		total += p
		scores = append(scores, model.CategoryScore{Category: category, Confidence: p})
	}
	for i := range scores {
		scores[i].Confidence /= total
	}

	sort.Slice(scores, func(i, j int) bool {
		if scores[i].Confidence != scores[j].Confidence {
			return scores[i].Confidence > scores[j].Confidence
		}
		return scores[i].Category < scores[j].Category
	})

	return scores
}

// Evaluate measures top-1 accuracy of the snapshot on held-out samples.
func (s *ModelSnapshot) Evaluate(holdout []Sample) float64 {
	if len(holdout) == 0 {
		return 1.0
	}

	correct := 0
	for _, sample := range holdout {
		scores := s.Predict(sample.Description, sample.Amount)
		if len(scores) > 0 && scores[0].Category == sample.Category {
			correct++
		}
	}

	return float64(correct) / float64(len(holdout))
}

// extractFeatures normalizes a description into lowercase alphanumeric tokens
// and appends the amount bucket feature.
func extractFeatures(description string, amount float64) []string {
	tokens := tokenize(description)
	if len(tokens) == 0 {
		return nil
	}
	return append(tokens, amountBucket(amount))
}

// tokenize lowercases and splits on anything that is not a letter or digit.
func tokenize(description string) []string {
	lower := strings.ToLower(description)
	return strings.FieldsFunc(lower, func(r rune) bool {
		return !isLetterOrDigit(r)
	})
}

func isLetterOrDigit(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r > 127
}

// amountBucket maps an absolute amount into a coarse log2 band so similar
// spend sizes share a feature.
func amountBucket(amount float64) string {
	if amount < 0 {
		amount = -amount
	}
	if amount < 1 {
		return "amt:0"
	}

	bucket := int(math.Floor(math.Log2(amount)))
	if bucket > 16 {
		bucket = 16
	}
	return "amt:" + string(rune('a'+bucket))
}
