package vectordb

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seed(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore("", true, false, "")
	require.NoError(t, err)
	docs := []Document{
		{ID: "kb-1", Content: "security clearance", Embedding: []float32{1, 0, 0}, Metadata: map[string]string{MetaType: "kb", MetaDocumentID: "d1"}},
		{ID: "kb-2", Content: "staffing plan", Embedding: []float32{0.8, 0.6, 0}, Metadata: map[string]string{MetaType: "kb", MetaDocumentID: "d2"}},
		{ID: "pp-1", Content: "past contract", Embedding: []float32{0.9, 0.1, 0.1}, Metadata: map[string]string{MetaType: "past-performance", MetaDocumentID: "d3"}},
		{ID: "kb-3", Content: "unrelated", Embedding: []float32{0, 0, 1}, Metadata: map[string]string{MetaType: "kb", MetaDocumentID: "d4"}},
	}
	require.NoError(t, s.Add(context.Background(), "org-1", docs))
	return s
}

func TestSearchRanksAndFiltersByType(t *testing.T) {
	s := seed(t)
	hits, err := s.Search(context.Background(), "org-1", []float32{1, 0, 0}, 2, "kb", nil)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "kb-1", hits[0].ID)
	assert.Equal(t, "kb-2", hits[1].ID)
	assert.InDelta(t, 1.0, hits[0].Score, 1e-4)
	assert.GreaterOrEqual(t, hits[0].Score, hits[1].Score)
}

func TestSearchIDFilter(t *testing.T) {
	s := seed(t)
	hits, err := s.Search(context.Background(), "org-1", []float32{1, 0, 0}, 5, "kb", []string{"d4"})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "kb-3", hits[0].ID)
	assert.GreaterOrEqual(t, hits[0].Score, 0.0)
}

func TestSearchClampsTopKAndEmptyNamespace(t *testing.T) {
	s := seed(t)
	hits, err := s.Search(context.Background(), "org-1", []float32{1, 0, 0}, 50, "", nil)
	require.NoError(t, err)
	assert.Len(t, hits, 4)

	hits, err = s.Search(context.Background(), "org-empty", []float32{1, 0, 0}, 5, "", nil)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestSearchRequiresVector(t *testing.T) {
	s := seed(t)
	_, err := s.Search(context.Background(), "org-1", nil, 5, "", nil)
	assert.Error(t, err)
}

func TestAddRequiresEmbedding(t *testing.T) {
	s, err := NewStore("", true, false, "")
	require.NoError(t, err)
	err = s.Add(context.Background(), "ns", []Document{{ID: "x", Content: "no vector"}})
	assert.Error(t, err)
}

func TestExportRequiresKey(t *testing.T) {
	s, err := NewStore(t.TempDir(), true, false, "")
	require.NoError(t, err)
	assert.Error(t, s.Export("ns"))
}
