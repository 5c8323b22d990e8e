package contextbuild

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/rs/zerolog/log"

	"brief-engine/internal/blobstore"
	"brief-engine/internal/compress"
	"brief-engine/internal/models"
	"brief-engine/internal/vectordb"
)

// Vector type tags written at ingestion and used as search filters.
const (
	TypeKnowledgeBase   = "kb"
	TypePastPerformance = "past-performance"
	TypeContentLibrary  = "library"
	TypeSolicitation    = "solicitation"
)

// VectorLoader retrieves the top candidates of one type from the org's
// namespace, drops those under MinScore and compresses the rest.
type VectorLoader struct {
	Cat           Category
	Searcher      vectordb.Searcher
	TypeFilter    string
	MinScore      float64
	TopK          int
	MinChunkChars int
}

func (l *VectorLoader) Category() Category { return l.Cat }

func (l *VectorLoader) Load(ctx context.Context, q Query, budget int) (Block, error) {
	if len(q.Vector) == 0 {
		return Block{}, nil
	}
	hits, err := l.Searcher.Search(ctx, q.OrgID, q.Vector, l.TopK, l.TypeFilter, q.DocumentIDs)
	if err != nil {
		return Block{}, fmt.Errorf("search %s: %w", l.Cat, err)
	}
	cands := make([]models.RetrievedCandidate, 0, len(hits))
	for _, h := range hits {
		cands = append(cands, h.Candidate())
	}
	kept := compress.Filter(cands, l.MinScore)
	chunks := compress.Chunks(kept, budget, l.MinChunkChars)
	return Block{Text: compress.FormatBlocks(chunks), Chunks: chunks}, nil
}

// DocumentLoader reads solicitation text for q.DocumentKeys from the blob
// store and gives each document an equal share of the budget.
type DocumentLoader struct {
	Blobs         blobstore.Store
	Bucket        string
	MinChunkChars int
}

func (l *DocumentLoader) Category() Category { return CategorySolicitation }

func (l *DocumentLoader) Load(ctx context.Context, q Query, budget int) (Block, error) {
	if len(q.DocumentKeys) == 0 || budget <= 0 {
		return Block{}, nil
	}
	per := budget / len(q.DocumentKeys)
	if per < l.MinChunkChars {
		per = l.MinChunkChars
	}

	var (
		chunks   []models.CompressedChunk
		firstErr error
		failures int
	)
	for i, key := range q.DocumentKeys {
		text, err := l.Blobs.LoadText(ctx, l.Bucket, key)
		if err != nil {
			failures++
			if firstErr == nil {
				firstErr = err
			}
			log.Warn().Err(err).Str("key", key).Msg("Failed to load solicitation document")
			continue
		}
		if strings.TrimSpace(text) == "" {
			continue
		}
		chunks = append(chunks, models.CompressedChunk{
			Index:    i + 1,
			SourceID: key,
			Text:     compress.Text(text, per),
			Provenance: models.Provenance{
				DocumentID: key,
				FileName:   path.Base(key),
			},
		})
	}
	if failures == len(q.DocumentKeys) {
		return Block{}, fmt.Errorf("load solicitation documents: %w", firstErr)
	}

	var b strings.Builder
	for i, c := range chunks {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "[#%d file=%s]\n%s", c.Index, c.Provenance.FileName, c.Text)
	}
	return Block{Text: b.String(), Chunks: chunks}, nil
}
