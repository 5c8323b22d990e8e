package ingest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"brief-engine/internal/apperr"
	"brief-engine/internal/blobstore"
	"brief-engine/internal/config"
	"brief-engine/internal/vectordb"
)

type lengthEmbedder struct{ err error }

func (e lengthEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	if e.err != nil {
		return nil, e.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{float32(len(t)), 1}
	}
	return out, nil
}

func newIngester(t *testing.T, emb lengthEmbedder) (*Ingester, *vectordb.Store, *blobstore.MemoryStore) {
	t.Helper()
	vectors, err := vectordb.NewStore("", true, false, "")
	require.NoError(t, err)
	blobs := blobstore.NewMemoryStore()
	return &Ingester{
		Embedder: emb,
		Index:    vectors,
		Blobs:    blobs,
		Bucket:   "docs",
		RAG:      config.RAGConfig{ChunkSize: 200, ChunkOverlap: 20},
		Now:      func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) },
	}, vectors, blobs
}

func TestIngestIndexesAndStoresText(t *testing.T) {
	in, vectors, blobs := newIngester(t, lengthEmbedder{})
	path := filepath.Join(t.TempDir(), "rfp.txt")
	body := strings.Repeat("The contractor shall deliver monthly reports. ", 20)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	res, err := in.Ingest(context.Background(), Request{OrgID: "org-1", Kind: KindSolicitation, Path: path, DocumentID: "rfp-1"})
	require.NoError(t, err)
	assert.Equal(t, "solicitation/rfp-1.txt", res.BlobKey)
	assert.Equal(t, 1, res.Pages)
	assert.Greater(t, res.Chunks, 1)

	text, err := blobs.LoadText(context.Background(), "docs", res.BlobKey)
	require.NoError(t, err)
	assert.Equal(t, strings.TrimSpace(body), text)

	hits, err := vectors.Search(context.Background(), "org-1", []float32{200, 1}, 50, "solicitation", nil)
	require.NoError(t, err)
	require.Len(t, hits, res.Chunks)
	c := hits[0].Candidate()
	assert.Equal(t, "rfp-1", c.Provenance.DocumentID)
	assert.Equal(t, "rfp.txt", c.Provenance.FileName)
	assert.True(t, strings.HasPrefix(c.Provenance.ChunkRef, "p1-c"))
	assert.Equal(t, 2026, c.Provenance.Timestamp.Year())
}

func TestIngestRejectsBadInput(t *testing.T) {
	in, _, _ := newIngester(t, lengthEmbedder{})
	ctx := context.Background()

	_, err := in.Ingest(ctx, Request{Kind: KindKnowledgeBase, Path: "a.txt"})
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)

	_, err = in.Ingest(ctx, Request{OrgID: "o", Kind: "memo", Path: "a.txt"})
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)

	_, err = in.Ingest(ctx, Request{OrgID: "o", Kind: KindKnowledgeBase, Path: "a.gif"})
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)

	empty := filepath.Join(t.TempDir(), "empty.txt")
	require.NoError(t, os.WriteFile(empty, []byte("  \n"), 0o600))
	_, err = in.Ingest(ctx, Request{OrgID: "o", Kind: KindKnowledgeBase, Path: empty})
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)
}

func TestIngestEmbedFailure(t *testing.T) {
	in, _, blobs := newIngester(t, lengthEmbedder{err: errors.New("embedding service down")})
	path := filepath.Join(t.TempDir(), "kb.txt")
	require.NoError(t, os.WriteFile(path, []byte("We are ISO 27001 certified."), 0o600))

	_, err := in.Ingest(context.Background(), Request{OrgID: "o", Kind: KindKnowledgeBase, Path: path, DocumentID: "kb-1"})
	assert.Equal(t, apperr.CategoryUpstream, apperr.CategoryOf(err))
	text, _ := blobs.LoadText(context.Background(), "docs", BlobKey(KindKnowledgeBase, "kb-1"))
	assert.Empty(t, text)
}

func TestParseKind(t *testing.T) {
	k, err := ParseKind(" KB ")
	require.NoError(t, err)
	assert.Equal(t, KindKnowledgeBase, k)
	assert.Equal(t, "kb", k.vectorType())
	assert.Equal(t, "past-performance", KindPastPerformance.vectorType())
}
