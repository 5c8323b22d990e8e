package brief

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"brief-engine/internal/apperr"
	"brief-engine/internal/confidence"
	"brief-engine/internal/contextbuild"
	"brief-engine/internal/embedding"
	"brief-engine/internal/llmservice"
	"brief-engine/internal/models"
)

// ContextAssembler is satisfied by *contextbuild.Assembler.
type ContextAssembler interface {
	Assemble(ctx context.Context, taskType string, q contextbuild.Query) (contextbuild.AssembledContext, error)
}

// Outcome reports what one section run did.
type Outcome struct {
	Section   models.SectionName   `json:"section"`
	Status    models.SectionStatus `json:"status,omitempty"`
	InputHash string               `json:"inputHash"`
	// Skipped is set when the section was already COMPLETE for the same inputs.
	Skipped bool `json:"skipped,omitempty"`
	// Superseded is set when a newer run with different inputs took over the
	// section before this one finished. Nothing from this run is stored.
	Superseded bool `json:"superseded,omitempty"`
}

type Runner struct {
	Store     *Store
	Assembler ContextAssembler
	Embedder  embedding.QueryEmbedder
	Model     llmservice.Model
	Now       func() time.Time
}

// RunSection computes one section unless it is already COMPLETE for the
// current inputs. A generation failure is recorded on the section and
// returned. A run overtaken by a newer one returns a Superseded outcome
// without error.
func (r *Runner) RunSection(ctx context.Context, ref Ref, name models.SectionName) (Outcome, error) {
	out := Outcome{Section: name}
	spec, ok := Spec(name)
	if !ok {
		return out, apperr.Invalid("section", fmt.Sprintf("%q is unknown", name))
	}
	logger := log.With().Str("project", ref.ProjectID).Str("opportunity", ref.OpportunityID).Str("section", string(name)).Logger()

	b, err := r.Store.Get(ctx, ref)
	if err != nil {
		return out, err
	}
	hash, err := InputHash(b.ID, name, b.OpportunityID, b.SourceDocumentKeys)
	if err != nil {
		return out, err
	}
	out.InputHash = hash

	if sec, ok := b.Sections[name]; ok && sec.Status == models.StatusComplete && sec.InputHash == hash {
		logger.Debug().Msg("Section up to date, skipping")
		out.Status, out.Skipped = models.StatusComplete, true
		return out, nil
	}

	if err := r.Store.MarkInProgress(ctx, ref, name, hash); err != nil {
		return out, err
	}
	start := time.Now()

	data, rollUp, genErr := r.generate(ctx, b, spec)
	if genErr != nil {
		logger.Error().Err(genErr).Dur("took", time.Since(start)).Msg("Section failed")
		err := r.Store.MarkFailed(context.WithoutCancel(ctx), ref, name, hash, genErr)
		if errors.Is(err, apperr.ErrSuperseded) {
			return superseded(out, logger), nil
		}
		out.Status = models.StatusFailed
		if err != nil {
			return out, errors.Join(genErr, err)
		}
		return out, genErr
	}
	if err := r.Store.MarkComplete(ctx, ref, name, hash, data, rollUp); err != nil {
		if errors.Is(err, apperr.ErrSuperseded) {
			return superseded(out, logger), nil
		}
		return out, err
	}
	out.Status = models.StatusComplete
	logger.Info().Dur("took", time.Since(start)).Msg("Section complete")
	return out, nil
}

func superseded(out Outcome, logger zerolog.Logger) Outcome {
	logger.Warn().Str("input_hash", out.InputHash).Msg("Section inputs changed during the run, result discarded")
	out.Superseded = true
	return out
}

// RunAll runs every section concurrently. Failed sections do not stop the
// others; their errors are joined.
func (r *Runner) RunAll(ctx context.Context, ref Ref) (map[models.SectionName]Outcome, error) {
	var (
		mu       sync.Mutex
		outcomes = make(map[models.SectionName]Outcome, len(models.AllSections))
		errs     []error
	)
	var g errgroup.Group
	for _, name := range models.AllSections {
		g.Go(func() error {
			o, err := r.RunSection(ctx, ref, name)
			mu.Lock()
			defer mu.Unlock()
			outcomes[name] = o
			if err != nil {
				errs = append(errs, fmt.Errorf("section %s: %w", name, err))
			}
			return nil
		})
	}
	_ = g.Wait()
	return outcomes, errors.Join(errs...)
}

func (r *Runner) generate(ctx context.Context, b models.Brief, spec SectionSpec) (json.RawMessage, *RollUp, error) {
	vector, err := r.Embedder.EmbedQuery(ctx, spec.Query)
	if err != nil {
		// Solicitation text is read directly, so the section can still run.
		log.Warn().Err(err).Str("section", string(spec.Name)).Msg("Failed to embed section query")
	}
	assembled, err := r.Assembler.Assemble(ctx, contextbuild.BriefTask(string(spec.Name)), contextbuild.Query{
		Text:         spec.Query,
		Vector:       vector,
		OrgID:        b.OrgID,
		DocumentKeys: b.SourceDocumentKeys,
	})
	if err != nil {
		return nil, nil, err
	}
	if assembled.PassageCount() == 0 {
		return nil, nil, apperr.Wrap(fmt.Errorf("%w for section %s", apperr.ErrNoContext, spec.Name), apperr.CategoryNoContext, "no_context")
	}

	raw, err := r.Model.CompleteJSON(ctx, llmservice.Prompt{
		System:    briefSystemPrompt + "\n\n" + spec.Instructions,
		User:      fmt.Sprintf("Opportunity: %s\n\nContext:\n%s", b.OpportunityID, assembled.Text),
		MaxTokens: spec.MaxTokens,
	}, spec.Schema)
	if err != nil {
		return nil, nil, err
	}
	if spec.Name != models.SectionScoring {
		return raw, nil, nil
	}
	rollUp, err := r.scoreRollUp(raw, assembled)
	if err != nil {
		return nil, nil, err
	}
	return raw, rollUp, nil
}

type criterion struct {
	Name   string  `json:"name"`
	Weight float64 `json:"weight"`
	Score  float64 `json:"score"`
}

type scoringOutput struct {
	Criteria   []criterion     `json:"criteria"`
	Decision   models.Decision `json:"decision"`
	Confidence *float64        `json:"confidence"`
	Rationale  string          `json:"rationale"`
}

// scoreRollUp derives the brief-level fields from the scoring output. The
// composite is the weight-normalized mean of criterion scores.
func (r *Runner) scoreRollUp(raw json.RawMessage, ac contextbuild.AssembledContext) (*RollUp, error) {
	var out scoringOutput
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, &apperr.ModelOutputError{Reason: "invalid json", Excerpt: string(raw), Cause: err}
	}
	var sum, weights float64
	for _, c := range out.Criteria {
		sum += c.Weight * c.Score
		weights += c.Weight
	}
	if weights <= 0 {
		return nil, &apperr.ModelOutputError{Reason: "no weighted criteria", Excerpt: string(raw)}
	}
	composite := math.Round(sum/weights*10) / 10

	now := time.Now().UTC()
	if r.Now != nil {
		now = r.Now().UTC()
	}
	var evidence []models.Evidence
	var times []time.Time
	for _, c := range ac.Chunks() {
		evidence = append(evidence, models.Evidence{ID: c.SourceID, TextContent: c.Text})
		times = append(times, c.Provenance.Timestamp)
	}
	conf := confidence.Score(confidence.Input{
		ModelConfidence:  out.Confidence,
		Found:            true,
		Question:         "bid decision",
		Answer:           out.Rationale,
		Evidence:         evidence,
		SimilarityScores: ac.Scores(),
		EvidenceTimes:    times,
		Now:              now,
	})

	return &RollUp{
		CompositeScore: composite,
		Decision:       out.Decision,
		Confidence:     conf.Confidence,
	}, nil
}
