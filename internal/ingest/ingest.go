// Package ingest parses documents, indexes their chunks for retrieval and
// keeps the extracted text in the blob store.
package ingest

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"brief-engine/internal/apperr"
	"brief-engine/internal/blobstore"
	"brief-engine/internal/config"
	"brief-engine/internal/contextbuild"
	"brief-engine/internal/embedding"
	"brief-engine/internal/parser"
	"brief-engine/internal/vectordb"
)

const embedBatchSize = 32

// Kind is the knowledge source a document belongs to.
type Kind string

const (
	KindSolicitation    Kind = "solicitation"
	KindKnowledgeBase   Kind = "kb"
	KindPastPerformance Kind = "past-performance"
)

func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case KindSolicitation, KindKnowledgeBase, KindPastPerformance:
		return k, nil
	}
	return "", apperr.Invalid("kind", fmt.Sprintf("%q is not one of solicitation, kb, past-performance", s))
}

// vectorType maps a kind onto the type tag the context loaders filter on.
func (k Kind) vectorType() string {
	switch k {
	case KindKnowledgeBase:
		return contextbuild.TypeKnowledgeBase
	case KindPastPerformance:
		return contextbuild.TypePastPerformance
	}
	return contextbuild.TypeSolicitation
}

// Indexer is the write side of the vector store.
type Indexer interface {
	Add(ctx context.Context, namespace string, docs []vectordb.Document) error
}

type Ingester struct {
	Embedder embedding.DocumentEmbedder
	Index    Indexer
	Blobs    blobstore.Store
	Bucket   string
	RAG      config.RAGConfig
	Now      func() time.Time
}

type Request struct {
	OrgID string
	Kind  Kind
	Path  string
	// DocumentID defaults to a new UUID.
	DocumentID string
}

type Result struct {
	DocumentID string `json:"documentId"`
	BlobKey    string `json:"blobKey"`
	Pages      int    `json:"pages"`
	Chunks     int    `json:"chunks"`
}

// BlobKey is where the extracted text of a document is stored.
func BlobKey(kind Kind, documentID string) string {
	return fmt.Sprintf("%s/%s.txt", kind, documentID)
}

// Ingest parses req.Path, embeds and indexes its chunks in the org
// namespace, then stores the full text under BlobKey.
func (in *Ingester) Ingest(ctx context.Context, req Request) (Result, error) {
	if strings.TrimSpace(req.OrgID) == "" {
		return Result{}, apperr.Invalid("orgId", "is required")
	}
	if _, err := ParseKind(string(req.Kind)); err != nil {
		return Result{}, err
	}
	if !parser.Supported(req.Path) {
		return Result{}, apperr.Invalid("path", fmt.Sprintf("unsupported file type %q", filepath.Ext(req.Path)))
	}
	docID := req.DocumentID
	if docID == "" {
		docID = uuid.NewString()
	}
	start := time.Now()
	now := time.Now().UTC()
	if in.Now != nil {
		now = in.Now().UTC()
	}

	pages, err := parser.Extract(req.Path)
	if err != nil {
		return Result{}, apperr.Wrap(err, apperr.CategoryInvalidInput, "parse")
	}
	if len(pages) == 0 {
		return Result{}, apperr.Invalid("path", "document has no text")
	}
	chunks := parser.Chunk(pages, in.RAG.ChunkSize, in.RAG.ChunkOverlap)
	fileName := filepath.Base(req.Path)

	docs := make([]vectordb.Document, 0, len(chunks))
	for batchStart := 0; batchStart < len(chunks); batchStart += embedBatchSize {
		batch := chunks[batchStart:min(batchStart+embedBatchSize, len(chunks))]
		texts := make([]string, len(batch))
		for i, c := range batch {
			texts[i] = c.Content
		}
		vectors, err := in.Embedder.EmbedDocuments(ctx, texts)
		if err != nil {
			return Result{}, apperr.Wrap(fmt.Errorf("embed chunks: %w", err), apperr.CategoryUpstream, "embed")
		}
		if len(vectors) != len(batch) {
			return Result{}, fmt.Errorf("embed chunks: got %d vectors for %d texts", len(vectors), len(batch))
		}
		for i, c := range batch {
			ref := fmt.Sprintf("p%d-c%d", c.PageNumber, c.ChunkID)
			docs = append(docs, vectordb.Document{
				ID:        docID + "-" + ref,
				Content:   c.Content,
				Embedding: vectors[i],
				Metadata: map[string]string{
					vectordb.MetaType:       req.Kind.vectorType(),
					vectordb.MetaDocumentID: docID,
					vectordb.MetaFileName:   fileName,
					vectordb.MetaChunkRef:   ref,
					vectordb.MetaTimestamp:  now.Format(time.RFC3339),
					vectordb.MetaOrgID:      req.OrgID,
				},
			})
		}
	}
	if err := in.Index.Add(ctx, req.OrgID, docs); err != nil {
		return Result{}, apperr.Wrap(err, apperr.CategoryUpstream, "index")
	}

	key := BlobKey(req.Kind, docID)
	if err := in.Blobs.PutText(ctx, in.Bucket, key, parser.FullText(pages), "text/plain; charset=utf-8"); err != nil {
		return Result{}, apperr.Wrap(fmt.Errorf("store extracted text: %w", err), apperr.CategoryUpstream, "blob_put")
	}

	log.Info().Str("org", req.OrgID).Str("kind", string(req.Kind)).Str("document", docID).Str("file", fileName).
		Int("pages", len(pages)).Int("chunks", len(docs)).Dur("took", time.Since(start)).Msg("Document ingested")
	return Result{DocumentID: docID, BlobKey: key, Pages: len(pages), Chunks: len(docs)}, nil
}
