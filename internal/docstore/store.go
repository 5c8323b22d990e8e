// Package docstore is a small document store with path-scoped conditional
// updates. Records are JSON objects addressed by a partition key and a sort
// key. Answer, brief and library state is expressed only through these
// primitives.
package docstore

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"brief-engine/internal/apperr"
)

// Key addresses one record.
type Key struct {
	PK string
	SK string
}

func (k Key) String() string { return k.PK + "|" + k.SK }

func (k Key) validate() error {
	if strings.TrimSpace(k.PK) == "" || strings.TrimSpace(k.SK) == "" {
		return fmt.Errorf("docstore: key %q is incomplete", k.String())
	}
	return nil
}

// Item is a stored record.
type Item struct {
	Key  Key
	Data map[string]any
}

// Path addresses an attribute inside a record, e.g. Path{"sections", "summary", "status"}.
type Path []string

func P(parts ...string) Path { return Path(parts) }

func (p Path) String() string { return strings.Join(p, ".") }

// Set assigns Value at Path. The parent of Path must already exist.
type Set struct {
	Path  Path
	Value any
}

type CondOp int

const (
	// CondExists requires the attribute to be present and non-null.
	CondExists CondOp = iota
	CondNotExists
	// CondIn requires the attribute to be a string equal to one of Values.
	CondIn
)

type Condition struct {
	Path   Path
	Op     CondOp
	Values []string
}

func Exists(parts ...string) Condition    { return Condition{Path: P(parts...), Op: CondExists} }
func NotExists(parts ...string) Condition { return Condition{Path: P(parts...), Op: CondNotExists} }
func In(path Path, values ...string) Condition {
	return Condition{Path: path, Op: CondIn, Values: values}
}

type putOptions struct {
	ifNotExists bool
}

type PutOption func(*putOptions)

// IfNotExists makes Put fail with apperr.ErrConditionFailed when the key is taken.
func IfNotExists() PutOption { return func(o *putOptions) { o.ifNotExists = true } }

// Store is implemented by MemoryStore and PostgresStore.
//
// Update returns apperr.ErrNotFound when the record is missing and
// apperr.ErrConditionFailed when a condition, or the implicit requirement
// that every Set parent exists, does not hold. Updates are atomic per record.
type Store interface {
	Get(ctx context.Context, key Key) (Item, error)
	Put(ctx context.Context, key Key, data map[string]any, opts ...PutOption) error
	Update(ctx context.Context, key Key, sets []Set, conds ...Condition) error
	Query(ctx context.Context, pk, skPrefix string) ([]Item, error)
}

// Encode converts v into the generic record form.
func Encode(v any) (map[string]any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}
	var out map[string]any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}
	return out, nil
}

// Decode converts a record into v.
func Decode(data map[string]any, v any) error {
	b, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("decode record: %w", err)
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("decode record: %w", err)
	}
	return nil
}

// normalizeValue round-trips v through JSON so stored values have the same
// shape in every implementation.
func normalizeValue(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func validateSets(sets []Set) error {
	if len(sets) == 0 {
		return fmt.Errorf("docstore: update without sets")
	}
	for _, s := range sets {
		if len(s.Path) == 0 {
			return fmt.Errorf("docstore: empty set path")
		}
	}
	return nil
}

func conditionFailed(key Key, what string) error {
	return fmt.Errorf("%w: %s on %s", apperr.ErrConditionFailed, what, key)
}

func notFound(key Key) error {
	return fmt.Errorf("%w: %s", apperr.ErrNotFound, key)
}
