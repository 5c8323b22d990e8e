package llmservice

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"google.golang.org/genai"

	"brief-engine/internal/config"
)

// GenAIInvoker calls Gemini models through the official genai client.
type GenAIInvoker struct {
	cli *genai.Client
}

func NewGenAIInvoker(ctx context.Context, llmConfig *config.LLMConfig) (*GenAIInvoker, error) {
	log.Debug().Str("model", llmConfig.Model).Msg("Initializing Gemini client")
	cli, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  llmConfig.Key,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("init genai client: %w", err)
	}
	return &GenAIInvoker{cli: cli}, nil
}

func (g *GenAIInvoker) Invoke(ctx context.Context, modelID string, payload []byte) ([]byte, error) {
	p, err := decodePrompt(payload)
	if err != nil {
		return nil, err
	}

	cfg := &genai.GenerateContentConfig{}
	if p.System != "" {
		cfg.SystemInstruction = genai.NewContentFromText(p.System, genai.RoleUser)
	}
	if p.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(p.MaxTokens)
	}
	if p.Temperature > 0 {
		cfg.Temperature = genai.Ptr(float32(p.Temperature))
	}
	if p.JSON {
		cfg.ResponseMIMEType = "application/json"
	}

	resp, err := g.cli.Models.GenerateContent(ctx, modelID, genai.Text(p.User), cfg)
	if err != nil {
		return nil, fmt.Errorf("generate content: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, fmt.Errorf("generate content: no candidates returned")
	}
	return []byte(resp.Text()), nil
}
