package embedding

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"brief-engine/internal/config"
)

// NewEmbedder creates a langchaingo embedder for the configured provider.
func NewEmbedder(llmConfig *config.LLMConfig) (embeddings.Embedder, error) {
	log.Debug().Interface("config", map[string]string{
		"provider":        llmConfig.Provider,
		"base_url":        llmConfig.BaseURL,
		"embedding_model": llmConfig.Model,
	}).Msg("Initializing embedder")

	var client embeddings.EmbedderClient
	switch llmConfig.Provider {
	case "openai":
		opts := []openai.Option{
			openai.WithToken(strings.TrimPrefix(llmConfig.Key, "Bearer ")),
			openai.WithEmbeddingModel(llmConfig.Model),
		}
		if llmConfig.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(llmConfig.BaseURL))
		}
		llm, err := openai.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("init openai embedder: %w", err)
		}
		client = llm
	default:
		llm, err := ollama.New(
			ollama.WithServerURL(llmConfig.BaseURL),
			ollama.WithModel(llmConfig.Model),
		)
		if err != nil {
			return nil, fmt.Errorf("init ollama embedder: %w", err)
		}
		client = llm
	}

	embedder, err := embeddings.NewEmbedder(client)
	if err != nil {
		return nil, fmt.Errorf("create embedder: %w", err)
	}
	return embedder, nil
}

// QueryEmbedder embeds one query string. Cached and every langchaingo
// embedder satisfy it.
type QueryEmbedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// DocumentEmbedder embeds a batch of texts.
type DocumentEmbedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
}

// Cached pre-truncates input to the embedding model's safe length and keeps
// query vectors in a process-lifetime LRU.
type Cached struct {
	next     embeddings.Embedder
	maxChars int
	cache    *lru.Cache[string, []float32]
}

func NewCached(next embeddings.Embedder, maxChars, size int) (*Cached, error) {
	cache, err := lru.New[string, []float32](size)
	if err != nil {
		return nil, fmt.Errorf("create embedding cache: %w", err)
	}
	return &Cached{next: next, maxChars: maxChars, cache: cache}, nil
}

func (c *Cached) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	text = Truncate(text, c.maxChars)
	if text == "" {
		return nil, fmt.Errorf("embed: empty text")
	}
	if v, ok := c.cache.Get(text); ok {
		return v, nil
	}
	v, err := c.next.EmbedQuery(ctx, text)
	if err != nil {
		return nil, err
	}
	c.cache.Add(text, v)
	return v, nil
}

func (c *Cached) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	trimmed := make([]string, len(texts))
	for i, t := range texts {
		trimmed[i] = Truncate(t, c.maxChars)
	}
	return c.next.EmbedDocuments(ctx, trimmed)
}

// Truncate keeps the leading words of content that fit in maxChars.
func Truncate(content string, maxChars int) string {
	content = strings.TrimSpace(content)
	if maxChars <= 0 || len(content) <= maxChars {
		return content
	}
	chunks := chunkContent(content, maxChars)
	if len(chunks) == 0 || len(chunks[0]) > maxChars {
		return cutBytes(content, maxChars)
	}
	return chunks[0]
}

// cutBytes cuts s to at most n bytes without splitting a rune.
func cutBytes(s string, n int) string {
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func chunkContent(content string, maxChars int) []string {
	var chunks []string
	words := strings.Fields(content)
	var chunk strings.Builder
	for _, word := range words {
		if chunk.Len() > 0 && chunk.Len()+len(word)+1 > maxChars {
			chunks = append(chunks, chunk.String())
			chunk.Reset()
		}
		if chunk.Len() > 0 {
			chunk.WriteByte(' ')
		}
		chunk.WriteString(word)
	}
	if chunk.Len() > 0 {
		chunks = append(chunks, chunk.String())
	}
	return chunks
}
