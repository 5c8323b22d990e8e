package docstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/extra/bundebug"

	"brief-engine/internal/config"
)

type record struct {
	bun.BaseModel `bun:"table:brief_records,alias:r"`
	PK            string         `bun:"pk,pk"`
	SK            string         `bun:"sk,pk"`
	Doc           map[string]any `bun:"doc,type:jsonb,notnull"`
	UpdatedAt     time.Time      `bun:"updated_at,notnull,default:current_timestamp"`
}

// ConnectDB opens a Postgres connection pool through the bun pg driver.
func ConnectDB(cfg *config.DatabaseConfig) (*sql.DB, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, fmt.Errorf("database dsn is required")
	}
	opts := []pgdriver.Option{pgdriver.WithDSN(cfg.DSN)}
	if cfg.Password != "" {
		opts = append(opts, pgdriver.WithPassword(cfg.Password))
	}
	return sql.OpenDB(pgdriver.NewConnector(opts...)), nil
}

func NewDB(sqldb *sql.DB, debug bool) *bun.DB {
	db := bun.NewDB(sqldb, pgdialect.New())
	if debug {
		db.AddQueryHook(bundebug.NewQueryHook(bundebug.WithVerbose(true)))
	}
	return db
}

// PostgresStore keeps every record as one jsonb document. Path-scoped sets
// become nested jsonb_set calls and conditions become WHERE predicates, so
// each Update is a single atomic statement.
type PostgresStore struct {
	db *bun.DB
}

func NewPostgresStore(db *bun.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) InitSchema(ctx context.Context) error {
	_, err := s.db.NewCreateTable().Model((*record)(nil)).IfNotExists().Exec(ctx)
	return err
}

func (s *PostgresStore) Get(ctx context.Context, key Key) (Item, error) {
	if err := key.validate(); err != nil {
		return Item{}, err
	}
	rec := new(record)
	err := s.db.NewSelect().Model(rec).
		Where("pk = ?", key.PK).
		Where("sk = ?", key.SK).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return Item{}, notFound(key)
	}
	if err != nil {
		return Item{}, fmt.Errorf("get %s: %w", key, err)
	}
	return Item{Key: key, Data: rec.Doc}, nil
}

func (s *PostgresStore) Put(ctx context.Context, key Key, data map[string]any, opts ...PutOption) error {
	if err := key.validate(); err != nil {
		return err
	}
	var o putOptions
	for _, opt := range opts {
		opt(&o)
	}
	if data == nil {
		data = map[string]any{}
	}
	rec := &record{PK: key.PK, SK: key.SK, Doc: data, UpdatedAt: time.Now().UTC()}

	q := s.db.NewInsert().Model(rec)
	if o.ifNotExists {
		q = q.On("CONFLICT (pk, sk) DO NOTHING")
	} else {
		q = q.On("CONFLICT (pk, sk) DO UPDATE").
			Set("doc = EXCLUDED.doc").
			Set("updated_at = EXCLUDED.updated_at")
	}
	res, err := q.Exec(ctx)
	if err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	if o.ifNotExists {
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return conditionFailed(key, "record exists")
		}
	}
	return nil
}

func (s *PostgresStore) Update(ctx context.Context, key Key, sets []Set, conds ...Condition) error {
	if err := key.validate(); err != nil {
		return err
	}
	if err := validateSets(sets); err != nil {
		return err
	}

	expr := "doc"
	var args []any
	for _, set := range sets {
		b, err := json.Marshal(set.Value)
		if err != nil {
			return fmt.Errorf("update %s: encode %s: %w", key, set.Path, err)
		}
		expr = fmt.Sprintf("jsonb_set(%s, CAST(? AS text[]), CAST(? AS jsonb), true)", expr)
		args = append(args, pgdialect.Array([]string(set.Path)), string(b))
	}

	q := s.db.NewUpdate().Model((*record)(nil)).
		Set("doc = "+expr, args...).
		Set("updated_at = ?", time.Now().UTC()).
		Where("pk = ?", key.PK).
		Where("sk = ?", key.SK)

	// jsonb_set silently ignores a missing parent; require it explicitly.
	for _, set := range sets {
		if len(set.Path) > 1 {
			parent := []string(set.Path[:len(set.Path)-1])
			q = q.Where("jsonb_typeof(doc #> CAST(? AS text[])) = 'object'", pgdialect.Array(parent))
		}
	}
	for _, c := range conds {
		path := pgdialect.Array([]string(c.Path))
		switch c.Op {
		case CondExists:
			q = q.Where("COALESCE(jsonb_typeof(doc #> CAST(? AS text[])), 'null') <> 'null'", path)
		case CondNotExists:
			q = q.Where("COALESCE(jsonb_typeof(doc #> CAST(? AS text[])), 'null') = 'null'", path)
		case CondIn:
			q = q.Where("doc #>> CAST(? AS text[]) IN (?)", path, bun.In(c.Values))
		}
	}

	res, err := q.Exec(ctx)
	if err != nil {
		return fmt.Errorf("update %s: %w", key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update %s: %w", key, err)
	}
	if n > 0 {
		return nil
	}

	exists, err := s.db.NewSelect().Model((*record)(nil)).
		Where("pk = ?", key.PK).
		Where("sk = ?", key.SK).
		Exists(ctx)
	if err != nil {
		return fmt.Errorf("update %s: %w", key, err)
	}
	if !exists {
		return notFound(key)
	}
	return conditionFailed(key, "update precondition")
}

func (s *PostgresStore) Query(ctx context.Context, pk, skPrefix string) ([]Item, error) {
	var recs []record
	err := s.db.NewSelect().Model(&recs).
		Where("pk = ?", pk).
		Where("sk LIKE ?", escapeLike(skPrefix)+"%").
		Order("sk ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", pk, err)
	}
	out := make([]Item, 0, len(recs))
	for _, rec := range recs {
		out = append(out, Item{Key: Key{PK: rec.PK, SK: rec.SK}, Data: rec.Doc})
	}
	return out, nil
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
