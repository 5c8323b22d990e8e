package vectordb

import (
	"context"
	"fmt"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/philippgille/chromem-go"
	"github.com/rs/zerolog/log"

	"brief-engine/internal/models"
)

// Metadata keys stored with every vector.
const (
	MetaType       = "type"
	MetaDocumentID = "documentId"
	MetaFileName   = "fileName"
	MetaChunkRef   = "chunkRef"
	MetaTimestamp  = "timestamp"
	MetaOrgID      = "orgId"
)

// Document represents our data structure with content and metadata
type Document struct {
	ID        string
	Content   string
	Metadata  map[string]string
	Embedding []float32
}

// Hit is one search result. Score is the cosine similarity clamped to [0,1].
type Hit struct {
	ID       string
	Score    float64
	Content  string
	Metadata map[string]string
}

// Searcher is the read side used by context assembly and the library matcher.
type Searcher interface {
	Search(ctx context.Context, namespace string, vector []float32, topK int, typeFilter string, idFilter []string) ([]Hit, error)
}

// Store encapsulates the chromem-go database; every namespace is a collection.
type Store struct {
	db            *chromem.DB
	dbPath        string
	compress      bool
	encryptionKey string

	mu          sync.Mutex
	collections map[string]*chromem.Collection
}

// NewStore initializes a persistent store at dbPath, or an in-memory one.
func NewStore(dbPath string, inMemory, compress bool, encryptionKey string) (*Store, error) {
	var (
		db  *chromem.DB
		err error
	)
	if inMemory {
		db = chromem.NewDB()
	} else {
		db, err = chromem.NewPersistentDB(dbPath, compress)
		if err != nil {
			return nil, fmt.Errorf("failed to create database: %w", err)
		}
	}
	return &Store{
		db:            db,
		dbPath:        dbPath,
		compress:      compress,
		encryptionKey: encryptionKey,
		collections:   make(map[string]*chromem.Collection),
	}, nil
}

func (m *Store) collection(namespace string) (*chromem.Collection, error) {
	if namespace == "" {
		return nil, fmt.Errorf("namespace is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.collections[namespace]; ok {
		return c, nil
	}
	// Embeddings are always supplied by the caller, so no embedding func.
	c, err := m.db.GetOrCreateCollection(namespace, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create/get collection: %w", err)
	}
	m.collections[namespace] = c
	return c, nil
}

// Add upserts documents with precomputed embeddings into namespace.
func (m *Store) Add(ctx context.Context, namespace string, docs []Document) error {
	if len(docs) == 0 {
		return nil
	}
	c, err := m.collection(namespace)
	if err != nil {
		return err
	}
	chromemDocs := make([]chromem.Document, 0, len(docs))
	for _, d := range docs {
		if len(d.Embedding) == 0 {
			return fmt.Errorf("document %s has no embedding", d.ID)
		}
		chromemDocs = append(chromemDocs, chromem.Document{
			ID:        d.ID,
			Content:   d.Content,
			Metadata:  d.Metadata,
			Embedding: d.Embedding,
		})
	}
	if err := c.AddDocuments(ctx, chromemDocs, runtime.NumCPU()); err != nil {
		return fmt.Errorf("failed to add documents: %w", err)
	}
	return nil
}

// Search returns up to topK hits in namespace. typeFilter matches the "type"
// metadata; idFilter, when set, keeps only hits whose documentId is listed.
func (m *Store) Search(ctx context.Context, namespace string, vector []float32, topK int, typeFilter string, idFilter []string) ([]Hit, error) {
	if len(vector) == 0 {
		return nil, fmt.Errorf("query embedding is required")
	}
	if topK <= 0 {
		return nil, nil
	}
	c, err := m.collection(namespace)
	if err != nil {
		return nil, err
	}
	count := c.Count()
	if count == 0 {
		return nil, nil
	}

	// With an id filter the best topK may sit anywhere in the ranking.
	n := topK
	if len(idFilter) > 0 || n > count {
		n = count
	}
	opts := chromem.QueryOptions{QueryEmbedding: vector, NResults: n}
	if typeFilter != "" {
		opts.Where = map[string]string{MetaType: typeFilter}
	}

	results, err := c.QueryWithOptions(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query by similarity: %w", err)
	}

	allowed := make(map[string]bool, len(idFilter))
	for _, id := range idFilter {
		allowed[id] = true
	}
	hits := make([]Hit, 0, min(topK, len(results)))
	for _, r := range results {
		if len(allowed) > 0 && !allowed[r.Metadata[MetaDocumentID]] {
			continue
		}
		hits = append(hits, Hit{
			ID:       r.ID,
			Score:    clamp01(float64(r.Similarity)),
			Content:  r.Content,
			Metadata: r.Metadata,
		})
		if len(hits) == topK {
			break
		}
	}
	return hits, nil
}

// Export writes the namespace to an encrypted file next to the database.
func (m *Store) Export(namespace string) error {
	if m.encryptionKey == "" {
		return fmt.Errorf("encryption key is required")
	}
	if m.dbPath == "" {
		return fmt.Errorf("db path is required")
	}
	filePath := m.exportPath(namespace)
	log.Debug().Str("namespace", namespace).Str("file", filePath).Bool("compress", m.compress).Msg("Exporting collection")
	if err := m.db.ExportToFile(filePath, m.compress, m.encryptionKey, namespace); err != nil {
		return fmt.Errorf("failed to export database: %w", err)
	}
	return nil
}

// Import loads a namespace previously written by Export.
func (m *Store) Import(namespace string) error {
	if err := m.db.ImportFromFile(m.exportPath(namespace), m.encryptionKey, namespace); err != nil {
		return fmt.Errorf("failed to import database: %w", err)
	}
	m.mu.Lock()
	delete(m.collections, namespace)
	m.mu.Unlock()
	return nil
}

func (m *Store) exportPath(namespace string) string {
	return filepath.Join(m.dbPath, namespace+".chromem")
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

// Candidate converts a hit into a retrieval candidate with provenance.
func (h Hit) Candidate() models.RetrievedCandidate {
	prov := models.Provenance{
		DocumentID: h.Metadata[MetaDocumentID],
		FileName:   h.Metadata[MetaFileName],
		ChunkRef:   h.Metadata[MetaChunkRef],
	}
	if ts := h.Metadata[MetaTimestamp]; ts != "" {
		if parsed, err := time.Parse(time.RFC3339, ts); err == nil {
			prov.Timestamp = parsed
		}
	}
	if prov.ChunkRef == "" {
		prov.ChunkRef = h.ID
	}
	return models.RetrievedCandidate{
		SourceID:   h.ID,
		Text:       h.Content,
		Score:      h.Score,
		Provenance: prov,
	}
}
