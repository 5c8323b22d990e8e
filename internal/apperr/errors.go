package apperr

import (
	"errors"
	"fmt"
)

type Category string

const (
	CategoryInvalidInput    Category = "invalid_input"
	CategoryNoContext       Category = "no_context"
	CategoryModelOutput     Category = "model_output"
	CategoryNotFound        Category = "not_found"
	CategoryConditionFailed Category = "condition_failed"
	CategoryUpstream        Category = "upstream"
	CategoryInternal        Category = "internal"
)

var (
	ErrInvalidInput = errors.New("invalid input")
	// ErrNoContext means retrieval found no passage above threshold in any source.
	ErrNoContext       = errors.New("no matching context")
	ErrNotFound        = errors.New("record not found")
	ErrBriefNotFound   = errors.New("brief not found")
	ErrSectionNotFound = errors.New("brief section not found")
	ErrConditionFailed = errors.New("conditional write failed")
	// ErrSuperseded means a newer run with different inputs owns the section.
	ErrSuperseded = errors.New("section run superseded")
)

type classifiedError struct {
	category Category
	code     string
	cause    error
}

func (e *classifiedError) Error() string {
	if e.cause == nil {
		return "unknown error"
	}
	return e.cause.Error()
}

func (e *classifiedError) Unwrap() error { return e.cause }

// Wrap attaches a category and a stable code to err. A nil err stays nil.
func Wrap(cause error, category Category, code string) error {
	if cause == nil {
		return nil
	}
	return &classifiedError{category: category, code: code, cause: cause}
}

// CategoryOf reports the category of err, inferring it from well-known
// sentinels when err was never wrapped.
func CategoryOf(err error) Category {
	if err == nil {
		return ""
	}
	var classified *classifiedError
	if errors.As(err, &classified) {
		return classified.category
	}
	var modelErr *ModelOutputError
	switch {
	case errors.As(err, &modelErr):
		return CategoryModelOutput
	case errors.Is(err, ErrInvalidInput):
		return CategoryInvalidInput
	case errors.Is(err, ErrNoContext):
		return CategoryNoContext
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrBriefNotFound), errors.Is(err, ErrSectionNotFound):
		return CategoryNotFound
	case errors.Is(err, ErrConditionFailed):
		return CategoryConditionFailed
	}
	return CategoryInternal
}

func CodeOf(err error) string {
	var classified *classifiedError
	if errors.As(err, &classified) {
		return classified.code
	}
	return ""
}

// Invalid builds an input error for a missing or malformed field.
func Invalid(field, reason string) error {
	return Wrap(fmt.Errorf("%w: %s %s", ErrInvalidInput, field, reason), CategoryInvalidInput, "invalid_"+field)
}

// ModelOutputError reports a model response that could not be turned into the
// expected JSON. Excerpt carries enough of the raw text to tell truncation
// from prose-wrapping or malformed output.
type ModelOutputError struct {
	Reason  string
	Excerpt string
	Cause   error
}

func (e *ModelOutputError) Error() string {
	msg := "model output: " + e.Reason
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	if e.Excerpt != "" {
		msg += fmt.Sprintf(" (excerpt %q)", e.Excerpt)
	}
	return msg
}

func (e *ModelOutputError) Unwrap() error { return e.Cause }
