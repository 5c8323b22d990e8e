package llmservice

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"brief-engine/internal/config"
)

// Invoker sends a serialized Prompt to a model and returns the raw response.
type Invoker interface {
	Invoke(ctx context.Context, modelID string, payload []byte) ([]byte, error)
}

// Prompt is the payload understood by every Invoker in this package.
type Prompt struct {
	System      string  `json:"system,omitempty"`
	User        string  `json:"user"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
	JSON        bool    `json:"json,omitempty"`
}

func (p Prompt) Encode() ([]byte, error) { return json.Marshal(p) }

func decodePrompt(payload []byte) (Prompt, error) {
	var p Prompt
	if err := json.Unmarshal(payload, &p); err != nil {
		return Prompt{}, fmt.Errorf("decode prompt: %w", err)
	}
	if strings.TrimSpace(p.User) == "" {
		return Prompt{}, fmt.Errorf("decode prompt: user message is empty")
	}
	return p, nil
}

// LangChainInvoker calls an OpenAI-compatible or Ollama model through langchaingo.
type LangChainInvoker struct {
	llm llms.Model
}

func NewLangChainInvoker(llmConfig *config.LLMConfig) (*LangChainInvoker, error) {
	log.Debug().Str("provider", llmConfig.Provider).Str("model", llmConfig.Model).Msg("Initializing LLM")

	var (
		llm llms.Model
		err error
	)
	switch llmConfig.Provider {
	case "ollama":
		llm, err = ollama.New(
			ollama.WithServerURL(llmConfig.BaseURL),
			ollama.WithModel(llmConfig.Model),
		)
	default:
		opts := []openai.Option{
			openai.WithToken(strings.TrimPrefix(llmConfig.Key, "Bearer ")),
			openai.WithModel(llmConfig.Model),
		}
		if llmConfig.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(llmConfig.BaseURL))
		}
		llm, err = openai.New(opts...)
	}
	if err != nil {
		return nil, fmt.Errorf("init %s llm: %w", llmConfig.Provider, err)
	}
	return &LangChainInvoker{llm: llm}, nil
}

func (c *LangChainInvoker) Invoke(ctx context.Context, modelID string, payload []byte) ([]byte, error) {
	p, err := decodePrompt(payload)
	if err != nil {
		return nil, err
	}

	var messages []llms.MessageContent
	if p.System != "" {
		messages = append(messages, llms.TextParts(llms.ChatMessageTypeSystem, p.System))
	}
	messages = append(messages, llms.TextParts(llms.ChatMessageTypeHuman, p.User))

	var opts []llms.CallOption
	if modelID != "" {
		opts = append(opts, llms.WithModel(modelID))
	}
	if p.MaxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(p.MaxTokens))
	}
	if p.Temperature > 0 {
		opts = append(opts, llms.WithTemperature(p.Temperature))
	}
	if p.JSON {
		opts = append(opts, llms.WithJSONMode())
	}

	res, err := c.llm.GenerateContent(ctx, messages, opts...)
	if err != nil {
		return nil, fmt.Errorf("generate content: %w", err)
	}
	if len(res.Choices) == 0 {
		return nil, fmt.Errorf("generate content: no choices returned")
	}
	return []byte(res.Choices[0].Content), nil
}
