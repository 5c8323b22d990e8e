package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWrapNil(t *testing.T) {
	assert.Nil(t, Wrap(nil, CategoryUpstream, "x"))
}

func TestCategoryOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Category
	}{
		{"wrapped", Wrap(errors.New("boom"), CategoryUpstream, "kb_search"), CategoryUpstream},
		{"invalid helper", Invalid("question", "is required"), CategoryInvalidInput},
		{"no context", fmt.Errorf("answer: %w", ErrNoContext), CategoryNoContext},
		{"brief missing", fmt.Errorf("mark: %w", ErrBriefNotFound), CategoryNotFound},
		{"condition", ErrConditionFailed, CategoryConditionFailed},
		{"model output", fmt.Errorf("x: %w", &ModelOutputError{Reason: "truncated"}), CategoryModelOutput},
		{"other", errors.New("other"), CategoryInternal},
		{"nil", nil, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CategoryOf(tt.err))
		})
	}
}

func TestInvalidKeepsSentinel(t *testing.T) {
	err := Invalid("project_id", "is required")
	assert.ErrorIs(t, err, ErrInvalidInput)
	assert.Equal(t, "invalid_project_id", CodeOf(err))
}

func TestModelOutputErrorMessage(t *testing.T) {
	err := &ModelOutputError{Reason: "unbalanced", Excerpt: `{"answer": "cut`}
	assert.Contains(t, err.Error(), "unbalanced")
	assert.Contains(t, err.Error(), "cut")
}
