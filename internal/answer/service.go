// Package answer produces evidence-grounded answers to single questions.
package answer

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"brief-engine/internal/apperr"
	"brief-engine/internal/confidence"
	"brief-engine/internal/contextbuild"
	"brief-engine/internal/embedding"
	"brief-engine/internal/library"
	"brief-engine/internal/llmservice"
	"brief-engine/internal/models"
)

// ContextAssembler is satisfied by *contextbuild.Assembler.
type ContextAssembler interface {
	Assemble(ctx context.Context, taskType string, q contextbuild.Query) (contextbuild.AssembledContext, error)
}

// Shortcut is satisfied by *library.Matcher.
type Shortcut interface {
	TryMatch(ctx context.Context, req library.Request) (*models.Answer, bool)
}

type Request struct {
	ProjectID    string
	OrgID        string
	QuestionID   string
	Question     string
	DocumentKeys []string
}

func (r Request) validate() error {
	switch {
	case strings.TrimSpace(r.ProjectID) == "":
		return apperr.Invalid("projectId", "is required")
	case strings.TrimSpace(r.OrgID) == "":
		return apperr.Invalid("orgId", "is required")
	case strings.TrimSpace(r.QuestionID) == "":
		return apperr.Invalid("questionId", "is required")
	case strings.TrimSpace(r.Question) == "":
		return apperr.Invalid("question", "is required")
	}
	return nil
}

type Service struct {
	Embedder  embedding.QueryEmbedder
	Library   Shortcut
	Assembler ContextAssembler
	Model     llmservice.Model
	Repo      *Repository
	MaxTokens int
	Now       func() time.Time
}

type citation struct {
	Source string `json:"source"`
	Index  int    `json:"index"`
}

type modelAnswer struct {
	Answer     string     `json:"answer"`
	Confidence *float64   `json:"confidence"`
	Found      bool       `json:"found"`
	Citations  []citation `json:"citations"`
}

var answerSchema = llmservice.MustCompileSchema(`{
  "type": "object",
  "required": ["answer", "found"],
  "properties": {
    "answer": {"type": "string"},
    "confidence": {"type": "number"},
    "found": {"type": "boolean"},
    "citations": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["source", "index"],
        "properties": {
          "source": {"type": "string"},
          "index": {"type": "integer"}
        }
      }
    }
  }
}`)

const answerSystemPrompt = `You answer questions about a government solicitation for a proposal team.
Use only the context provided. Each context section is labeled with a source tag in brackets, and each passage with [#n].
Respond with JSON only:
{"answer": "<answer text>", "confidence": <0 to 1>, "found": <true if the context answers the question>,
 "citations": [{"source": "<source tag>", "index": <passage number>}]}
If the context does not answer the question, set found to false and say what is missing.`

// Answer runs the full pipeline. It returns apperr.ErrNoContext, and stores
// nothing, when no retrieved source yields a passage above its threshold.
// Solicitation text alone does not count as relevant context.
func (s *Service) Answer(ctx context.Context, req Request) (models.Answer, error) {
	if err := req.validate(); err != nil {
		return models.Answer{}, err
	}
	logger := log.With().Str("project", req.ProjectID).Str("question", req.QuestionID).Logger()
	start := time.Now()

	vector, err := s.Embedder.EmbedQuery(ctx, req.Question)
	if err != nil {
		return models.Answer{}, apperr.Wrap(fmt.Errorf("embed question: %w", err), apperr.CategoryUpstream, "embed")
	}

	if s.Library != nil {
		if ans, ok := s.Library.TryMatch(ctx, library.Request{
			ProjectID:  req.ProjectID,
			OrgID:      req.OrgID,
			QuestionID: req.QuestionID,
			Question:   req.Question,
			Vector:     vector,
		}); ok {
			return *ans, nil
		}
	}

	assembled, err := s.Assembler.Assemble(ctx, contextbuild.TaskAnswer, contextbuild.Query{
		Text:         req.Question,
		Vector:       vector,
		OrgID:        req.OrgID,
		DocumentKeys: req.DocumentKeys,
	})
	if err != nil {
		return models.Answer{}, err
	}
	if assembled.RetrievedCount() == 0 {
		logger.Info().Int("failed_sources", len(assembled.Failed)).Msg("No context above threshold")
		return models.Answer{}, apperr.Wrap(fmt.Errorf("%w for question %s", apperr.ErrNoContext, req.QuestionID), apperr.CategoryNoContext, "no_context")
	}

	raw, err := s.Model.CompleteJSON(ctx, llmservice.Prompt{
		System:    answerSystemPrompt,
		User:      fmt.Sprintf("Context:\n%s\n\nQuestion: %s", assembled.Text, req.Question),
		MaxTokens: s.MaxTokens,
	}, answerSchema)
	if err != nil {
		return models.Answer{}, err
	}
	var out modelAnswer
	if err := json.Unmarshal(raw, &out); err != nil {
		return models.Answer{}, &apperr.ModelOutputError{Reason: "invalid json", Excerpt: string(raw), Cause: err}
	}

	evidence, times := citedEvidence(assembled, out.Citations)
	now := time.Now().UTC()
	if s.Now != nil {
		now = s.Now().UTC()
	}
	res := confidence.Score(confidence.Input{
		ModelConfidence:  out.Confidence,
		Found:            out.Found,
		Question:         req.Question,
		Answer:           out.Answer,
		Evidence:         evidence,
		SimilarityScores: assembled.Scores(),
		EvidenceTimes:    times,
		Now:              now,
	})

	saved, err := s.Repo.Upsert(ctx, models.Answer{
		ProjectID:           req.ProjectID,
		QuestionID:          req.QuestionID,
		Question:            req.Question,
		Text:                strings.TrimSpace(out.Answer),
		Confidence:          res.Confidence,
		ConfidenceBreakdown: res.Breakdown,
		ConfidenceBand:      res.Band,
		Sources:             evidence,
	})
	if err != nil {
		return models.Answer{}, err
	}
	logger.Info().Float64("composite", res.Breakdown.Composite).Str("band", string(res.Band)).
		Int("sources", len(evidence)).Dur("took", time.Since(start)).Msg("Question answered")
	return saved, nil
}

// citedEvidence resolves citations against the assembled passages. Unknown
// and repeated citations are dropped.
func citedEvidence(ac contextbuild.AssembledContext, cites []citation) ([]models.Evidence, []time.Time) {
	evidence := []models.Evidence{}
	var times []time.Time
	seen := make(map[string]bool)
	for _, c := range cites {
		section, ok := ac.Section(contextbuild.Category(strings.TrimSpace(c.Source)))
		if !ok {
			continue
		}
		for _, chunk := range section.Chunks {
			if chunk.Index != c.Index {
				continue
			}
			id := fmt.Sprintf("%s#%d", section.Category, chunk.Index)
			if seen[id] {
				break
			}
			seen[id] = true
			evidence = append(evidence, models.Evidence{
				ID:          id,
				DocumentID:  chunk.Provenance.DocumentID,
				FileName:    chunk.Provenance.FileName,
				ChunkRef:    chunk.Provenance.ChunkRef,
				TextContent: chunk.Text,
			})
			times = append(times, chunk.Provenance.Timestamp)
			break
		}
	}
	return evidence, times
}
