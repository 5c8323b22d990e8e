package docstore

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"brief-engine/internal/apperr"
	"brief-engine/internal/config"
)

// storeFactories returns every implementation available in this environment.
// Postgres runs only when BRIEF_TEST_DATABASE_URL is set.
func storeFactories(t *testing.T) map[string]func() Store {
	out := map[string]func() Store{
		"memory": func() Store { return NewMemoryStore() },
	}
	if dsn := os.Getenv("BRIEF_TEST_DATABASE_URL"); dsn != "" {
		out["postgres"] = func() Store {
			sqldb, err := ConnectDB(&config.DatabaseConfig{DSN: dsn})
			require.NoError(t, err)
			db := NewDB(sqldb, false)
			t.Cleanup(func() { _ = db.Close() })
			s := NewPostgresStore(db)
			require.NoError(t, s.InitSchema(context.Background()))
			_, err = db.NewTruncateTable().Model((*record)(nil)).Exec(context.Background())
			require.NoError(t, err)
			return s
		}
	}
	return out
}

func TestStoreContract(t *testing.T) {
	for name, newStore := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			t.Run("get missing", func(t *testing.T) {
				_, err := newStore().Get(context.Background(), Key{PK: "P#1", SK: "X#1"})
				assert.ErrorIs(t, err, apperr.ErrNotFound)
			})
			t.Run("put if not exists", func(t *testing.T) { testPutIfNotExists(t, newStore()) })
			t.Run("path scoped update", func(t *testing.T) { testPathScopedUpdate(t, newStore()) })
			t.Run("conditions", func(t *testing.T) { testConditions(t, newStore()) })
			t.Run("query prefix", func(t *testing.T) { testQueryPrefix(t, newStore()) })
			t.Run("concurrent sibling updates", func(t *testing.T) { testConcurrentSiblings(t, newStore()) })
		})
	}
}

func testPutIfNotExists(t *testing.T, s Store) {
	ctx := context.Background()
	key := Key{PK: "P#1", SK: "A#1"}
	require.NoError(t, s.Put(ctx, key, map[string]any{"id": "one"}, IfNotExists()))

	err := s.Put(ctx, key, map[string]any{"id": "two"}, IfNotExists())
	assert.ErrorIs(t, err, apperr.ErrConditionFailed)

	item, err := s.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "one", item.Data["id"])

	require.NoError(t, s.Put(ctx, key, map[string]any{"id": "three"}))
	item, err = s.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "three", item.Data["id"])
}

func testPathScopedUpdate(t *testing.T, s Store) {
	ctx := context.Background()
	key := Key{PK: "P#1", SK: "B#1"}
	require.NoError(t, s.Put(ctx, key, map[string]any{
		"id":       "b1",
		"sections": map[string]any{"summary": map[string]any{"status": "IDLE", "data": map[string]any{"k": "v"}}},
	}))

	err := s.Update(ctx, key, []Set{
		{Path: P("sections", "summary", "status"), Value: "COMPLETE"},
		{Path: P("sections", "summary", "error"), Value: nil},
		{Path: P("decision"), Value: "GO"},
	})
	require.NoError(t, err)

	item, err := s.Get(ctx, key)
	require.NoError(t, err)
	summary := item.Data["sections"].(map[string]any)["summary"].(map[string]any)
	assert.Equal(t, "COMPLETE", summary["status"])
	assert.Equal(t, map[string]any{"k": "v"}, summary["data"])
	assert.Nil(t, summary["error"])
	assert.Equal(t, "GO", item.Data["decision"])

	err = s.Update(ctx, key, []Set{{Path: P("sections", "risks", "status"), Value: "IN_PROGRESS"}})
	assert.ErrorIs(t, err, apperr.ErrConditionFailed, "missing parent must not be created silently")

	err = s.Update(ctx, Key{PK: "P#1", SK: "B#missing"}, []Set{{Path: P("x"), Value: 1}})
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func testConditions(t *testing.T, s Store) {
	ctx := context.Background()
	key := Key{PK: "P#1", SK: "C#1"}
	require.NoError(t, s.Put(ctx, key, map[string]any{"status": "IN_PROGRESS", "nothing": nil}))

	assert.NoError(t, s.Update(ctx, key, []Set{{Path: P("a"), Value: 1}}, Exists("status")))
	assert.ErrorIs(t, s.Update(ctx, key, []Set{{Path: P("a"), Value: 2}}, Exists("nothing")), apperr.ErrConditionFailed)
	assert.NoError(t, s.Update(ctx, key, []Set{{Path: P("a"), Value: 3}}, NotExists("missing"), NotExists("nothing")))
	assert.ErrorIs(t, s.Update(ctx, key, []Set{{Path: P("a"), Value: 4}}, NotExists("status")), apperr.ErrConditionFailed)
	assert.NoError(t, s.Update(ctx, key, []Set{{Path: P("status"), Value: "COMPLETE"}}, In(P("status"), "IN_PROGRESS", "COMPLETE")))
	assert.ErrorIs(t, s.Update(ctx, key, []Set{{Path: P("status"), Value: "FAILED"}}, In(P("status"), "IN_PROGRESS")), apperr.ErrConditionFailed)

	item, err := s.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "COMPLETE", item.Data["status"])
	assert.EqualValues(t, 3, item.Data["a"])
}

func testQueryPrefix(t *testing.T, s Store) {
	ctx := context.Background()
	for _, sk := range []string{"ANSWER#2", "ANSWER#1", "BRIEF#1", "ANSWER_X"} {
		require.NoError(t, s.Put(ctx, Key{PK: "P#q", SK: sk}, map[string]any{"sk": sk}))
	}
	require.NoError(t, s.Put(ctx, Key{PK: "P#other", SK: "ANSWER#9"}, map[string]any{}))

	items, err := s.Query(ctx, "P#q", "ANSWER#")
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "ANSWER#1", items[0].Key.SK)
	assert.Equal(t, "ANSWER#2", items[1].Key.SK)
}

func testConcurrentSiblings(t *testing.T, s Store) {
	ctx := context.Background()
	key := Key{PK: "P#1", SK: "D#1"}
	sections := map[string]any{}
	for i := 0; i < 7; i++ {
		sections[fmt.Sprintf("s%d", i)] = map[string]any{"status": "IDLE"}
	}
	require.NoError(t, s.Put(ctx, key, map[string]any{"sections": sections}))

	var wg sync.WaitGroup
	for i := 0; i < 7; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			name := fmt.Sprintf("s%d", i)
			assert.NoError(t, s.Update(ctx, key, []Set{{Path: P("sections", name, "status"), Value: "COMPLETE"}}))
		}(i)
	}
	wg.Wait()

	item, err := s.Get(ctx, key)
	require.NoError(t, err)
	for name, sec := range item.Data["sections"].(map[string]any) {
		assert.Equal(t, "COMPLETE", sec.(map[string]any)["status"], name)
	}
}

func TestEncodeDecode(t *testing.T) {
	type rec struct {
		ID    string   `json:"id"`
		Score *float64 `json:"score,omitempty"`
	}
	score := 0.5
	data, err := Encode(rec{ID: "x", Score: &score})
	require.NoError(t, err)
	assert.Equal(t, "x", data["id"])

	var out rec
	require.NoError(t, Decode(data, &out))
	require.NotNil(t, out.Score)
	assert.InDelta(t, 0.5, *out.Score, 1e-9)
}

func TestMemoryStoreGetReturnsCopy(t *testing.T) {
	s := NewMemoryStore()
	key := Key{PK: "P", SK: "S"}
	require.NoError(t, s.Put(context.Background(), key, map[string]any{"m": map[string]any{"a": "b"}}))

	item, err := s.Get(context.Background(), key)
	require.NoError(t, err)
	item.Data["m"].(map[string]any)["a"] = "mutated"

	again, err := s.Get(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, "b", again.Data["m"].(map[string]any)["a"])
}
