package library

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"brief-engine/internal/compress"
	"brief-engine/internal/confidence"
	"brief-engine/internal/docstore"
	"brief-engine/internal/llmservice"
	"brief-engine/internal/models"
	"brief-engine/internal/vectordb"
)

const telemetryTimeout = 10 * time.Second

// AnswerSaver persists a matched answer; the answer repository satisfies it.
type AnswerSaver interface {
	Upsert(ctx context.Context, a models.Answer) (models.Answer, error)
}

type Request struct {
	ProjectID  string
	OrgID      string
	QuestionID string
	Question   string
	Vector     []float32
}

type Matcher struct {
	Searcher vectordb.Searcher
	Docs     docstore.Store
	Model    llmservice.Model
	Answers  AnswerSaver

	TopN     int
	MinScore float64
	// FallbackScore stands in for the similarity when the matched hit has none.
	FallbackScore float64
	// ListingChars caps each answer in the listing shown to the model.
	ListingChars int
	Now          func() time.Time

	wg sync.WaitGroup
}

type candidate struct {
	item  models.LibraryItem
	score float64
}

type choice struct {
	Match bool `json:"match"`
	Index int  `json:"index"`
}

var choiceSchema = llmservice.MustCompileSchema(`{
  "type": "object",
  "required": ["match"],
  "properties": {
    "match": {"type": "boolean"},
    "index": {"type": "integer", "minimum": 0}
  }
}`)

const matchSystemPrompt = `You compare a new question against a numbered list of pre-approved question/answer pairs.
Pick an entry only if its answer fully and correctly answers the new question as asked.
Respond with JSON only: {"match": true, "index": <entry number>} or {"match": false, "index": 0}.`

func (m *Matcher) now() time.Time {
	if m.Now != nil {
		return m.Now().UTC()
	}
	return time.Now().UTC()
}

// TryMatch returns a persisted library answer when a pre-approved item covers
// the question. Every failure is logged and reported as no match.
func (m *Matcher) TryMatch(ctx context.Context, req Request) (*models.Answer, bool) {
	logger := log.With().Str("project", req.ProjectID).Str("question", req.QuestionID).Logger()

	cands, err := m.candidates(ctx, req)
	if err != nil {
		logger.Warn().Err(err).Msg("Library lookup failed")
		return nil, false
	}
	if len(cands) == 0 {
		return nil, false
	}

	raw, err := m.Model.CompleteJSON(ctx, llmservice.Prompt{
		System:      matchSystemPrompt,
		User:        m.listing(req.Question, cands),
		MaxTokens:   64,
		Temperature: 0,
	}, choiceSchema)
	if err != nil {
		logger.Warn().Err(err).Msg("Library match model call failed")
		return nil, false
	}
	var c choice
	if err := json.Unmarshal(raw, &c); err != nil {
		logger.Warn().Err(err).Msg("Library match response unreadable")
		return nil, false
	}
	if !c.Match {
		logger.Debug().Int("candidates", len(cands)).Msg("No library match")
		return nil, false
	}
	if c.Index < 1 || c.Index > len(cands) {
		logger.Warn().Int("index", c.Index).Int("candidates", len(cands)).Msg("Library match index out of range")
		return nil, false
	}
	hit := cands[c.Index-1]

	score := hit.score
	if score <= 0 {
		score = m.FallbackScore
	}
	now := m.now()
	res := confidence.Score(confidence.Input{
		Found:            true,
		Question:         req.Question,
		Answer:           hit.item.Answer,
		FromLibrary:      true,
		SimilarityScores: []float64{score},
		EvidenceTimes:    []time.Time{hit.item.ApprovedAt},
		Now:              now,
	})
	ans := models.Answer{
		ProjectID:           req.ProjectID,
		QuestionID:          req.QuestionID,
		Question:            req.Question,
		Text:                hit.item.Answer,
		Confidence:          res.Confidence,
		ConfidenceBreakdown: res.Breakdown,
		ConfidenceBand:      res.Band,
		Sources:             []models.Evidence{},
		FromLibrary:         true,
	}
	saved, err := m.Answers.Upsert(ctx, ans)
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to save library answer")
		return nil, false
	}

	m.recordUsageAsync(ctx, hit.item, now)
	logger.Info().Str("item", hit.item.ID).Float64("score", score).Str("band", string(res.Band)).Msg("Answered from library")
	return &saved, true
}

func (m *Matcher) candidates(ctx context.Context, req Request) ([]candidate, error) {
	if len(req.Vector) == 0 || req.OrgID == "" {
		return nil, nil
	}
	hits, err := m.Searcher.Search(ctx, req.OrgID, req.Vector, m.TopN, VectorType, nil)
	if err != nil {
		return nil, fmt.Errorf("search library: %w", err)
	}
	var out []candidate
	for _, h := range hits {
		if h.Score < m.MinScore {
			continue
		}
		id := h.Metadata[vectordb.MetaDocumentID]
		item, err := Get(ctx, m.Docs, req.OrgID, id)
		if err != nil {
			log.Debug().Err(err).Str("item", id).Msg("Skipping library hit without record")
			continue
		}
		out = append(out, candidate{item: item, score: h.Score})
	}
	return out, nil
}

func (m *Matcher) listing(question string, cands []candidate) string {
	var b strings.Builder
	fmt.Fprintf(&b, "New question:\n%s\n\nPre-approved entries:\n", question)
	for i, c := range cands {
		answer := c.item.Answer
		if m.ListingChars > 0 {
			answer = compress.Truncate(answer, m.ListingChars)
		}
		fmt.Fprintf(&b, "\n%d. Q: %s\n   A: %s\n", i+1, c.item.Question, answer)
	}
	return b.String()
}

// recordUsageAsync updates usage counters off the request path. It outlives
// the request context; Wait blocks until pending updates finish.
func (m *Matcher) recordUsageAsync(ctx context.Context, item models.LibraryItem, at time.Time) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), telemetryTimeout)
		defer cancel()
		if err := recordUsage(ctx, m.Docs, item, at); err != nil {
			log.Warn().Err(err).Str("item", item.ID).Msg("Failed to record library usage")
		}
	}()
}

// Wait blocks until background usage updates have finished.
func (m *Matcher) Wait() { m.wg.Wait() }
