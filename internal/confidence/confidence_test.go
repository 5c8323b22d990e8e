package confidence

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"brief-engine/internal/models"
)

func ptr(v float64) *float64 { return &v }

const longAnswer = "The contractor holds an active facility clearance at the secret level."

var now = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

func evidence(n int) []models.Evidence {
	out := make([]models.Evidence, n)
	for i := range out {
		out[i] = models.Evidence{ID: "e", TextContent: "passage"}
	}
	return out
}

func TestScoreWorkedExample(t *testing.T) {
	res := Score(Input{
		Found:            true,
		Question:         "Do you hold a clearance?",
		Answer:           longAnswer,
		Evidence:         evidence(1),
		SimilarityScores: []float64{0.8, 0.6},
	})
	assert.InDelta(t, 0.5, res.Breakdown.ModelConfidence, 1e-9)
	assert.InDelta(t, 0.76, res.Breakdown.Retrieval, 1e-9)
	assert.InDelta(t, 0.85/3, res.Breakdown.Evidence, 1e-9)
	assert.InDelta(t, 64.7, res.Breakdown.Composite, 1e-9)
	assert.InDelta(t, 0.647, res.Confidence, 1e-9)
	assert.Equal(t, models.BandMedium, res.Band)
}

func TestScoreExtremes(t *testing.T) {
	best := Score(Input{
		ModelConfidence:  ptr(1),
		Found:            true,
		Answer:           longAnswer,
		Evidence:         evidence(5),
		SimilarityScores: []float64{1, 1, 1, 1},
		EvidenceTimes:    []time.Time{now.AddDate(0, -1, 0)},
		Now:              now,
	})
	assert.InDelta(t, 100, best.Breakdown.Composite, 1e-9)
	assert.Equal(t, models.BandHigh, best.Band)

	worst := Score(Input{ModelConfidence: ptr(0)})
	assert.InDelta(t, 0, worst.Breakdown.Composite, 1e-9)
	assert.Equal(t, models.BandLow, worst.Band)
}

func TestScoreStaysInRange(t *testing.T) {
	inputs := []Input{
		{ModelConfidence: ptr(7), SimilarityScores: []float64{3, -2}, Found: true, Answer: longAnswer, Evidence: evidence(9)},
		{ModelConfidence: ptr(-1), SimilarityScores: []float64{-5}},
		{FromLibrary: true, Answer: "Yes."},
		{EvidenceTimes: []time.Time{now.AddDate(-20, 0, 0)}, Now: now, Evidence: evidence(1)},
	}
	for i, in := range inputs {
		res := Score(in)
		assert.GreaterOrEqual(t, res.Breakdown.Composite, 0.0, i)
		assert.LessOrEqual(t, res.Breakdown.Composite, 100.0, i)
		assert.Equal(t, BandFor(res.Breakdown.Composite), res.Band, i)
	}
}

func TestBandBoundaries(t *testing.T) {
	const eps = 1e-6
	tests := []struct {
		composite float64
		want      models.ConfidenceBand
	}{
		{HighThreshold + eps, models.BandHigh},
		{HighThreshold, models.BandHigh},
		{HighThreshold - eps, models.BandMedium},
		{MediumThreshold + eps, models.BandMedium},
		{MediumThreshold, models.BandMedium},
		{MediumThreshold - eps, models.BandLow},
		{0, models.BandLow},
		{100, models.BandHigh},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, BandFor(tt.composite), "composite %v", tt.composite)
	}
}

func TestModelConfidenceIsMonotonic(t *testing.T) {
	base := Input{Found: true, Answer: longAnswer, Evidence: evidence(2), SimilarityScores: []float64{0.6}}
	prev := -1.0
	for v := 0.0; v <= 1.0; v += 0.05 {
		in := base
		in.ModelConfidence = ptr(v)
		got := Score(in).Breakdown.Composite
		assert.GreaterOrEqual(t, got, prev, "model confidence %v", v)
		prev = got
	}
}

func TestRemovingEvidenceNeverIncreases(t *testing.T) {
	with := Input{
		ModelConfidence:  ptr(0.7),
		Found:            true,
		Answer:           longAnswer,
		Evidence:         evidence(2),
		SimilarityScores: []float64{0.5, 0.4},
		EvidenceTimes:    []time.Time{now.AddDate(-4, 0, 0)},
		Now:              now,
	}
	without := with
	without.Evidence = nil
	without.EvidenceTimes = nil
	assert.LessOrEqual(t, Score(without).Breakdown.Composite, Score(with).Breakdown.Composite)
}

func TestRecencyDecay(t *testing.T) {
	assert.InDelta(t, 1, recency([]time.Time{now.AddDate(0, -6, 0)}, now), 1e-9)
	assert.InDelta(t, 0, recency([]time.Time{now.AddDate(-6, 0, 0)}, now), 1e-9)
	assert.InDelta(t, 0.5, recency([]time.Time{now.Add(-3 * freshFor)}, now), 1e-9)
	assert.InDelta(t, neutralRecency, recency(nil, now), 1e-9)
	assert.InDelta(t, neutralRecency, recency([]time.Time{now}, time.Time{}), 1e-9)
}

func TestAnswerQualityPenalisesHedging(t *testing.T) {
	assert.Zero(t, answerQuality("q", "  "))
	assert.InDelta(t, 0.3, answerQuality("q", "The deadline is not specified in the documents provided."), 1e-9)
	assert.InDelta(t, 0.3, answerQuality("What is the deadline?", "what is the deadline?"), 1e-9)
	assert.InDelta(t, 0.6, answerQuality("q", "Yes."), 1e-9)
	assert.InDelta(t, 1, answerQuality("q", longAnswer), 1e-9)
}

func TestLibraryAnswerGetsFullEvidence(t *testing.T) {
	res := Score(Input{FromLibrary: true, Found: true, Answer: longAnswer, SimilarityScores: []float64{0.9}})
	assert.InDelta(t, 1, res.Breakdown.Evidence, 1e-9)
}
