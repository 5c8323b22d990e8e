// Package library manages the pre-approved question/answer content library
// and reuses its answers when a new question is already covered.
package library

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"brief-engine/internal/apperr"
	"brief-engine/internal/contextbuild"
	"brief-engine/internal/docstore"
	"brief-engine/internal/embedding"
	"brief-engine/internal/models"
	"brief-engine/internal/vectordb"
)

// VectorType tags library entries in the org's vector namespace. The
// content-library context loader filters on the same tag.
const VectorType = contextbuild.TypeContentLibrary

// Indexer is the write side of the vector store.
type Indexer interface {
	Add(ctx context.Context, namespace string, docs []vectordb.Document) error
}

// Key addresses a library item record.
func Key(orgID, itemID string) docstore.Key {
	return docstore.Key{PK: "LIBRARY#" + orgID, SK: "ITEM#" + itemID}
}

// Library stores items and indexes their questions for retrieval.
type Library struct {
	Docs     docstore.Store
	Index    Indexer
	Embedder embedding.QueryEmbedder
	Now      func() time.Time
}

func (l *Library) now() time.Time {
	if l.Now != nil {
		return l.Now().UTC()
	}
	return time.Now().UTC()
}

// Add stores item and indexes it. An empty ID gets a fresh one; re-adding an
// existing ID replaces the record and its vector.
func (l *Library) Add(ctx context.Context, item models.LibraryItem) (models.LibraryItem, error) {
	item.OrgID = strings.TrimSpace(item.OrgID)
	item.Question = strings.TrimSpace(item.Question)
	item.Answer = strings.TrimSpace(item.Answer)
	switch {
	case item.OrgID == "":
		return item, apperr.Invalid("orgId", "is required")
	case item.Question == "":
		return item, apperr.Invalid("question", "is required")
	case item.Answer == "":
		return item, apperr.Invalid("answer", "is required")
	}
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	if item.ApprovedAt.IsZero() {
		item.ApprovedAt = l.now()
	}

	vector, err := l.Embedder.EmbedQuery(ctx, item.Question)
	if err != nil {
		return item, apperr.Wrap(fmt.Errorf("embed library question: %w", err), apperr.CategoryUpstream, "embed")
	}
	data, err := docstore.Encode(item)
	if err != nil {
		return item, err
	}
	if err := l.Docs.Put(ctx, Key(item.OrgID, item.ID), data); err != nil {
		return item, fmt.Errorf("store library item: %w", err)
	}
	doc := vectordb.Document{
		ID:        "library-" + item.ID,
		Content:   fmt.Sprintf("Q: %s\nA: %s", item.Question, item.Answer),
		Embedding: vector,
		Metadata: map[string]string{
			vectordb.MetaType:       VectorType,
			vectordb.MetaDocumentID: item.ID,
			vectordb.MetaFileName:   "content-library",
			vectordb.MetaOrgID:      item.OrgID,
			vectordb.MetaTimestamp:  item.ApprovedAt.Format(time.RFC3339),
		},
	}
	if err := l.Index.Add(ctx, item.OrgID, []vectordb.Document{doc}); err != nil {
		return item, fmt.Errorf("index library item: %w", err)
	}
	log.Info().Str("org", item.OrgID).Str("item", item.ID).Msg("Library item added")
	return item, nil
}

func Get(ctx context.Context, docs docstore.Store, orgID, itemID string) (models.LibraryItem, error) {
	var item models.LibraryItem
	rec, err := docs.Get(ctx, Key(orgID, itemID))
	if err != nil {
		return item, err
	}
	err = docstore.Decode(rec.Data, &item)
	return item, err
}

func List(ctx context.Context, docs docstore.Store, orgID string) ([]models.LibraryItem, error) {
	recs, err := docs.Query(ctx, "LIBRARY#"+orgID, "ITEM#")
	if err != nil {
		return nil, err
	}
	out := make([]models.LibraryItem, 0, len(recs))
	for _, rec := range recs {
		var item models.LibraryItem
		if err := docstore.Decode(rec.Data, &item); err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, nil
}

// recordUsage bumps the usage counters. Concurrent bumps may lose an
// increment; the counters are advisory.
func recordUsage(ctx context.Context, docs docstore.Store, item models.LibraryItem, at time.Time) error {
	err := docs.Update(ctx, Key(item.OrgID, item.ID), []docstore.Set{
		{Path: docstore.P("usageCount"), Value: item.UsageCount + 1},
		{Path: docstore.P("lastUsedAt"), Value: at},
	}, docstore.Exists("id"))
	if errors.Is(err, apperr.ErrConditionFailed) {
		return fmt.Errorf("library item %s disappeared: %w", item.ID, err)
	}
	return err
}
