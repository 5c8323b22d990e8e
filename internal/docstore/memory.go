package docstore

import (
	"context"
	"sort"
	"strings"
	"sync"
)

type MemoryStore struct {
	mu   sync.RWMutex
	data map[Key]map[string]any
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[Key]map[string]any)}
}

func (s *MemoryStore) Get(_ context.Context, key Key) (Item, error) {
	if err := key.validate(); err != nil {
		return Item{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.data[key]
	if !ok {
		return Item{}, notFound(key)
	}
	return Item{Key: key, Data: deepCopy(rec)}, nil
}

func (s *MemoryStore) Put(_ context.Context, key Key, data map[string]any, opts ...PutOption) error {
	if err := key.validate(); err != nil {
		return err
	}
	var o putOptions
	for _, opt := range opts {
		opt(&o)
	}
	norm, err := normalizeValue(data)
	if err != nil {
		return err
	}
	rec, _ := norm.(map[string]any)
	if rec == nil {
		rec = map[string]any{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.data[key]; exists && o.ifNotExists {
		return conditionFailed(key, "record exists")
	}
	s.data[key] = rec
	return nil
}

func (s *MemoryStore) Update(_ context.Context, key Key, sets []Set, conds ...Condition) error {
	if err := key.validate(); err != nil {
		return err
	}
	if err := validateSets(sets); err != nil {
		return err
	}
	values := make([]any, len(sets))
	for i, set := range sets {
		v, err := normalizeValue(set.Value)
		if err != nil {
			return err
		}
		values[i] = v
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.data[key]
	if !ok {
		return notFound(key)
	}
	for _, c := range conds {
		if !evaluate(rec, c) {
			return conditionFailed(key, "condition on "+c.Path.String())
		}
	}

	// Work on a copy so a failed parent lookup leaves the record untouched.
	next := deepCopy(rec)
	for i, set := range sets {
		parent, ok := lookupMap(next, set.Path[:len(set.Path)-1])
		if !ok {
			return conditionFailed(key, "missing parent of "+set.Path.String())
		}
		parent[set.Path[len(set.Path)-1]] = values[i]
	}
	s.data[key] = next
	return nil
}

func (s *MemoryStore) Query(_ context.Context, pk, skPrefix string) ([]Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Item
	for key, rec := range s.data {
		if key.PK != pk || !strings.HasPrefix(key.SK, skPrefix) {
			continue
		}
		out = append(out, Item{Key: key, Data: deepCopy(rec)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key.SK < out[j].Key.SK })
	return out, nil
}

func evaluate(rec map[string]any, c Condition) bool {
	v, present := lookup(rec, c.Path)
	present = present && v != nil
	switch c.Op {
	case CondExists:
		return present
	case CondNotExists:
		return !present
	case CondIn:
		str, ok := v.(string)
		if !present || !ok {
			return false
		}
		for _, want := range c.Values {
			if str == want {
				return true
			}
		}
		return false
	}
	return false
}

func lookup(rec map[string]any, path Path) (any, bool) {
	var cur any = rec
	for _, part := range path {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func lookupMap(rec map[string]any, path Path) (map[string]any, bool) {
	v, ok := lookup(rec, path)
	if !ok {
		return nil, false
	}
	m, ok := v.(map[string]any)
	return m, ok
}

func deepCopy(v map[string]any) map[string]any {
	out := make(map[string]any, len(v))
	for k, val := range v {
		out[k] = copyValue(val)
	}
	return out
}

func copyValue(v any) any {
	switch x := v.(type) {
	case map[string]any:
		return deepCopy(x)
	case []any:
		out := make([]any, len(x))
		for i := range x {
			out[i] = copyValue(x[i])
		}
		return out
	default:
		return v
	}
}
