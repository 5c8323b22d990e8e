package answer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"brief-engine/internal/apperr"
	"brief-engine/internal/docstore"
	"brief-engine/internal/models"
)

func Key(projectID, questionID string) docstore.Key {
	return docstore.Key{PK: "PROJECT#" + projectID, SK: "ANSWER#" + questionID}
}

// Repository keeps one answer per (project, question).
type Repository struct {
	Docs docstore.Store
	Now  func() time.Time
}

func NewRepository(docs docstore.Store) *Repository {
	return &Repository{Docs: docs}
}

func (r *Repository) now() time.Time {
	if r.Now != nil {
		return r.Now().UTC()
	}
	return time.Now().UTC()
}

func (r *Repository) Get(ctx context.Context, projectID, questionID string) (models.Answer, error) {
	var a models.Answer
	rec, err := r.Docs.Get(ctx, Key(projectID, questionID))
	if err != nil {
		return a, err
	}
	err = docstore.Decode(rec.Data, &a)
	return a, err
}

func (r *Repository) List(ctx context.Context, projectID string) ([]models.Answer, error) {
	recs, err := r.Docs.Query(ctx, "PROJECT#"+projectID, "ANSWER#")
	if err != nil {
		return nil, err
	}
	out := make([]models.Answer, 0, len(recs))
	for _, rec := range recs {
		var a models.Answer
		if err := docstore.Decode(rec.Data, &a); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

// Upsert writes a. An existing answer keeps its ID and CreatedAt and takes
// every other field from a; the last writer wins.
func (r *Repository) Upsert(ctx context.Context, a models.Answer) (models.Answer, error) {
	if strings.TrimSpace(a.ProjectID) == "" {
		return a, apperr.Invalid("projectId", "is required")
	}
	if strings.TrimSpace(a.QuestionID) == "" {
		return a, apperr.Invalid("questionId", "is required")
	}
	if a.Sources == nil {
		a.Sources = []models.Evidence{}
	}
	a.UpdatedAt = r.now()
	key := Key(a.ProjectID, a.QuestionID)

	// Two attempts cover a concurrent first write between Update and Put.
	for attempt := 0; attempt < 2; attempt++ {
		err := r.Docs.Update(ctx, key, []docstore.Set{
			{Path: docstore.P("question"), Value: a.Question},
			{Path: docstore.P("text"), Value: a.Text},
			{Path: docstore.P("confidence"), Value: a.Confidence},
			{Path: docstore.P("confidenceBreakdown"), Value: a.ConfidenceBreakdown},
			{Path: docstore.P("confidenceBand"), Value: a.ConfidenceBand},
			{Path: docstore.P("sources"), Value: a.Sources},
			{Path: docstore.P("fromLibrary"), Value: a.FromLibrary},
			{Path: docstore.P("updatedAt"), Value: a.UpdatedAt},
		}, docstore.Exists("id"))
		if err == nil {
			return r.Get(ctx, a.ProjectID, a.QuestionID)
		}
		if !errors.Is(err, apperr.ErrNotFound) {
			return a, fmt.Errorf("update answer %s: %w", key, err)
		}

		created := a
		created.ID = uuid.NewString()
		created.CreatedAt = a.UpdatedAt
		data, err := docstore.Encode(created)
		if err != nil {
			return a, err
		}
		err = r.Docs.Put(ctx, key, data, docstore.IfNotExists())
		if err == nil {
			return created, nil
		}
		if !errors.Is(err, apperr.ErrConditionFailed) {
			return a, fmt.Errorf("create answer %s: %w", key, err)
		}
	}
	return a, apperr.Wrap(fmt.Errorf("%w: answer %s contended", apperr.ErrConditionFailed, key), apperr.CategoryConditionFailed, "answer_contended")
}
