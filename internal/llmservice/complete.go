package llmservice

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kaptinlin/jsonschema"
	"github.com/rs/zerolog/log"

	"brief-engine/internal/apperr"
	"brief-engine/internal/jsonscan"
)

// Model binds an Invoker to one model id.
type Model struct {
	Invoker Invoker
	ID      string
}

// CompileSchema compiles a JSON schema used to validate model output.
func CompileSchema(raw string) (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	schema, err := compiler.Compile([]byte(raw))
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return schema, nil
}

// MustCompileSchema is CompileSchema for package-level schemas.
func MustCompileSchema(raw string) *jsonschema.Schema {
	schema, err := CompileSchema(raw)
	if err != nil {
		panic(err)
	}
	return schema
}

// CompleteJSON invokes the model and returns the first JSON object in its
// response. A nil schema skips validation. Output problems come back as
// *apperr.ModelOutputError; they are not retried here.
func (m Model) CompleteJSON(ctx context.Context, p Prompt, schema *jsonschema.Schema) (json.RawMessage, error) {
	p.JSON = true
	payload, err := p.Encode()
	if err != nil {
		return nil, fmt.Errorf("encode prompt: %w", err)
	}

	start := time.Now()
	raw, err := m.Invoker.Invoke(ctx, m.ID, payload)
	if err != nil {
		return nil, apperr.Wrap(fmt.Errorf("invoke model %s: %w", m.ID, err), apperr.CategoryUpstream, "model_invoke")
	}
	log.Debug().Str("model", m.ID).Int("prompt_bytes", len(payload)).Int("response_bytes", len(raw)).
		Dur("took", time.Since(start)).Msg("Model responded")

	res := jsonscan.Extract(string(raw), jsonscan.Object)
	if !res.OK() {
		return nil, &apperr.ModelOutputError{Reason: string(res.Reason), Excerpt: res.Excerpt}
	}
	if schema != nil {
		result := schema.ValidateJSON(res.JSON)
		if !result.IsValid() {
			return nil, &apperr.ModelOutputError{
				Reason:  "schema mismatch",
				Excerpt: string(res.JSON),
				Cause:   fmt.Errorf("%v", result.Errors),
			}
		}
	}
	return res.JSON, nil
}
