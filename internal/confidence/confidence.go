// Package confidence fuses model, retrieval and evidence signals into one
// composite score and band.
package confidence

import (
	"math"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"brief-engine/internal/models"
)

// Band thresholds on the 0-100 composite. Library hits and generated answers
// are banded with the same values.
const (
	HighThreshold   = 75.0
	MediumThreshold = 50.0
)

// Sub-score weights; they sum to 1.
const (
	WeightModel         = 0.30
	WeightRetrieval     = 0.25
	WeightEvidence      = 0.20
	WeightFound         = 0.15
	WeightAnswerQuality = 0.10
)

const (
	neutralModel   = 0.5
	neutralRecency = 0.5
	fullVolumeAt   = 3
	freshFor       = 365 * 24 * time.Hour
	staleAfter     = 5 * 365 * 24 * time.Hour
	minAnswerRunes = 20
)

var hedges = []string{
	"i don't know",
	"i do not know",
	"not specified",
	"not mentioned",
	"no information",
	"unable to determine",
	"cannot be determined",
	"cannot determine",
	"not available in the context",
	"not found in the",
	"insufficient information",
}

type Input struct {
	// ModelConfidence is the model's self-reported confidence in [0,1]; nil
	// when it reported none.
	ModelConfidence  *float64
	Found            bool
	Question         string
	Answer           string
	Evidence         []models.Evidence
	FromLibrary      bool
	SimilarityScores []float64
	EvidenceTimes    []time.Time
	Now              time.Time
}

type Result struct {
	// Confidence is Composite/100.
	Confidence float64
	Breakdown  models.ConfidenceBreakdown
	Band       models.ConfidenceBand
}

// Score is pure; Now must be supplied for recency to count.
func Score(in Input) Result {
	b := models.ConfidenceBreakdown{
		ModelConfidence: modelScore(in.ModelConfidence),
		Retrieval:       retrievalScore(in.SimilarityScores),
		Evidence:        evidenceScore(in),
		Found:           foundScore(in.Found),
		AnswerQuality:   answerQuality(in.Question, in.Answer),
	}
	sum := WeightModel*b.ModelConfidence +
		WeightRetrieval*b.Retrieval +
		WeightEvidence*b.Evidence +
		WeightFound*b.Found +
		WeightAnswerQuality*b.AnswerQuality
	b.Composite = clamp(math.Round(sum*1000)/10, 0, 100)

	return Result{
		Confidence: b.Composite / 100,
		Breakdown:  b,
		Band:       BandFor(b.Composite),
	}
}

// BandFor maps a 0-100 composite to its band.
func BandFor(composite float64) models.ConfidenceBand {
	switch {
	case composite >= HighThreshold:
		return models.BandHigh
	case composite >= MediumThreshold:
		return models.BandMedium
	}
	return models.BandLow
}

func modelScore(v *float64) float64 {
	if v == nil || math.IsNaN(*v) {
		return neutralModel
	}
	return clamp(*v, 0, 1)
}

// retrievalScore blends the best match with the mean of the top three.
func retrievalScore(scores []float64) float64 {
	var clean []float64
	for _, s := range scores {
		if !math.IsNaN(s) {
			clean = append(clean, clamp(s, 0, 1))
		}
	}
	if len(clean) == 0 {
		return 0
	}
	sort.Sort(sort.Reverse(sort.Float64Slice(clean)))
	top := clean[:min(3, len(clean))]
	var total float64
	for _, s := range top {
		total += s
	}
	return 0.6*clean[0] + 0.4*total/float64(len(top))
}

func evidenceScore(in Input) float64 {
	if in.FromLibrary {
		return 1
	}
	n := 0
	for _, e := range in.Evidence {
		if strings.TrimSpace(e.TextContent) != "" {
			n++
		}
	}
	if n == 0 {
		return 0
	}
	volume := float64(min(n, fullVolumeAt)) / fullVolumeAt
	return volume * (0.7 + 0.3*recency(in.EvidenceTimes, in.Now))
}

// recency averages per-source freshness: 1 within a year, falling linearly
// to 0 at five years.
func recency(times []time.Time, now time.Time) float64 {
	if now.IsZero() {
		return neutralRecency
	}
	var total float64
	n := 0
	for _, ts := range times {
		if ts.IsZero() {
			continue
		}
		n++
		age := now.Sub(ts)
		switch {
		case age <= freshFor:
			total++
		case age >= staleAfter:
		default:
			total += 1 - float64(age-freshFor)/float64(staleAfter-freshFor)
		}
	}
	if n == 0 {
		return neutralRecency
	}
	return total / float64(n)
}

func foundScore(found bool) float64 {
	if found {
		return 1
	}
	return 0
}

func answerQuality(question, answer string) float64 {
	trimmed := strings.TrimSpace(answer)
	if trimmed == "" {
		return 0
	}
	lower := strings.ToLower(trimmed)
	if lower == strings.ToLower(strings.TrimSpace(question)) {
		return 0.3
	}
	for _, h := range hedges {
		if strings.Contains(lower, h) {
			return 0.3
		}
	}
	if utf8.RuneCountInString(trimmed) < minAnswerRunes {
		return 0.6
	}
	return 1
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
