// Package app wires configuration into concrete stores, models and services.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"brief-engine/internal/answer"
	"brief-engine/internal/blobstore"
	"brief-engine/internal/brief"
	"brief-engine/internal/config"
	"brief-engine/internal/contextbuild"
	"brief-engine/internal/docstore"
	"brief-engine/internal/embedding"
	"brief-engine/internal/ingest"
	"brief-engine/internal/library"
	"brief-engine/internal/llmservice"
	"brief-engine/internal/vectordb"
)

const defaultAnswerMaxTokens = 1500

type App struct {
	Config  *config.Config
	Docs    docstore.Store
	Blobs   blobstore.Store
	Vectors *vectordb.Store

	Answers  *answer.Service
	Library  *library.Library
	Matcher  *library.Matcher
	Briefs   *brief.Store
	Runner   *brief.Runner
	Ingester *ingest.Ingester

	closers []func() error
}

// New builds every collaborator from cfg. In-memory stores are used when a
// backing service is not configured.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{Config: cfg}
	ok := false
	defer func() {
		if !ok {
			_ = a.Close()
		}
	}()

	if err := a.openDocs(ctx); err != nil {
		return nil, err
	}
	if err := a.openBlobs(); err != nil {
		return nil, err
	}
	vectors, err := vectordb.NewStore(cfg.Vector.Path, cfg.Vector.InMemory, cfg.Vector.Compress, cfg.Vector.EncryptionKey)
	if err != nil {
		return nil, err
	}
	a.Vectors = vectors

	base, err := embedding.NewEmbedder(&cfg.EmbedLLM)
	if err != nil {
		return nil, err
	}
	embedder, err := embedding.NewCached(base, cfg.RAG.EmbedMaxChars, cfg.RAG.EmbedCacheSize)
	if err != nil {
		return nil, err
	}
	invoker, err := newInvoker(ctx, &cfg.InferenceLLM)
	if err != nil {
		return nil, err
	}
	model := llmservice.Model{Invoker: invoker, ID: cfg.InferenceLLM.Model}

	assembler := contextbuild.NewAssembler(contextbuild.BudgetsFromConfig(cfg.Budgets), loaders(cfg, a.Blobs, vectors)...)

	answerRepo := answer.NewRepository(a.Docs)
	a.Matcher = &library.Matcher{
		Searcher:      vectors,
		Docs:          a.Docs,
		Model:         model,
		Answers:       answerRepo,
		TopN:          cfg.Library.TopN,
		MinScore:      cfg.Library.MinScore,
		FallbackScore: cfg.Library.FallbackScore,
		ListingChars:  cfg.Library.ListingChars,
	}
	a.closers = append(a.closers, func() error { a.Matcher.Wait(); return nil })
	a.Library = &library.Library{Docs: a.Docs, Index: vectors, Embedder: embedder}
	a.Answers = &answer.Service{
		Embedder:  embedder,
		Library:   a.Matcher,
		Assembler: assembler,
		Model:     model,
		Repo:      answerRepo,
		MaxTokens: defaultAnswerMaxTokens,
	}
	a.Briefs = brief.NewStore(a.Docs)
	a.Runner = &brief.Runner{Store: a.Briefs, Assembler: assembler, Embedder: embedder, Model: model}
	a.Ingester = &ingest.Ingester{
		Embedder: embedder,
		Index:    vectors,
		Blobs:    a.Blobs,
		Bucket:   cfg.Blob.Bucket,
		RAG:      cfg.RAG,
	}

	ok = true
	return a, nil
}

func (a *App) openDocs(ctx context.Context) error {
	cfg := a.Config.Database
	if cfg.InMemory || cfg.DSN == "" {
		log.Warn().Msg("No database configured, using in-memory document store")
		a.Docs = docstore.NewMemoryStore()
		return nil
	}
	sqldb, err := docstore.ConnectDB(&cfg)
	if err != nil {
		return err
	}
	db := docstore.NewDB(sqldb, cfg.Debug)
	a.closers = append(a.closers, db.Close)
	store := docstore.NewPostgresStore(db)
	if err := store.InitSchema(ctx); err != nil {
		return err
	}
	a.Docs = store
	return nil
}

func (a *App) openBlobs() error {
	cfg := a.Config.Blob
	if cfg.InMemory || cfg.Endpoint == "" {
		log.Warn().Msg("No blob endpoint configured, using in-memory blob store")
		a.Blobs = blobstore.NewMemoryStore()
		return nil
	}
	s3, err := blobstore.NewS3Store(cfg)
	if err != nil {
		return err
	}
	a.Blobs = s3
	return nil
}

func newInvoker(ctx context.Context, cfg *config.LLMConfig) (llmservice.Invoker, error) {
	switch cfg.Provider {
	case "gemini":
		inv, err := llmservice.NewGenAIInvoker(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return inv, nil
	case "openai", "ollama":
		inv, err := llmservice.NewLangChainInvoker(cfg)
		if err != nil {
			return nil, err
		}
		return inv, nil
	}
	return nil, fmt.Errorf("unsupported inference provider: %s", cfg.Provider)
}

// loaders builds one loader per context category.
func loaders(cfg *config.Config, blobs blobstore.Store, vectors vectordb.Searcher) []contextbuild.Loader {
	vector := func(cat contextbuild.Category, typ string, min float64) contextbuild.Loader {
		return &contextbuild.VectorLoader{
			Cat:           cat,
			Searcher:      vectors,
			TypeFilter:    typ,
			MinScore:      min,
			TopK:          cfg.RAG.TopK,
			MinChunkChars: cfg.RAG.MinChunkChars,
		}
	}
	return []contextbuild.Loader{
		&contextbuild.DocumentLoader{Blobs: blobs, Bucket: cfg.Blob.Bucket, MinChunkChars: cfg.RAG.MinChunkChars},
		vector(contextbuild.CategoryKnowledgeBase, contextbuild.TypeKnowledgeBase, cfg.Thresholds.KnowledgeBase),
		vector(contextbuild.CategoryPastPerformance, contextbuild.TypePastPerformance, cfg.Thresholds.PastPerformance),
		vector(contextbuild.CategoryContentLibrary, contextbuild.TypeContentLibrary, cfg.Thresholds.ContentLibrary),
	}
}

// Close waits for background work and releases connections.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
