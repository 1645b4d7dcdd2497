package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/bryanwahyu/dance-analyzer/internal/domain/results"
)

const schema = `
CREATE TABLE IF NOT EXISTS analysis_results (
  id          UUID        PRIMARY KEY,
  result      TEXT        NOT NULL,
  genre       TEXT        NOT NULL,
  result_type TEXT        NULL,
  created_at  TIMESTAMPTZ NOT NULL,
  expires_at  TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_analysis_results_expires ON analysis_results (expires_at);
`

type ResultRepository struct {
	db  *sql.DB
	now func() time.Time
}

func NewResultRepository(db *sql.DB) *ResultRepository {
	return &ResultRepository{db: db, now: time.Now}
}

func (r *ResultRepository) EnsureSchema(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, schema)
	return err
}

// Put insert result; ids are fresh uuids so a conflict is a bug upstream.
func (r *ResultRepository) Put(ctx context.Context, id string, rec *results.Record, ttl time.Duration) error {
	const q = `
INSERT INTO analysis_results
(id, result, genre, result_type, created_at, expires_at)
VALUES ($1,$2,$3,$4,$5,$6);`

	var typ sql.NullString
	if rec.Type != "" {
		typ = sql.NullString{String: rec.Type, Valid: true}
	}
	createdAt := rec.CreatedAt.UTC()
	if _, err := r.db.ExecContext(ctx, q, id, rec.Result, rec.Genre, typ, createdAt, createdAt.Add(ttl)); err != nil {
		return fmt.Errorf("insert result %s: %w", id, err)
	}
	return nil
}

func (r *ResultRepository) Get(ctx context.Context, id string) (*results.Record, error) {
	const q = `
SELECT result, genre, result_type, created_at
FROM analysis_results
WHERE id=$1 AND expires_at > $2;`

	var rec results.Record
	var typ sql.NullString
	err := r.db.QueryRowContext(ctx, q, id, r.now().UTC()).Scan(&rec.Result, &rec.Genre, &typ, &rec.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, results.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select result %s: %w", id, err)
	}
	rec.Type = typ.String
	rec.CreatedAt = rec.CreatedAt.UTC()
	return &rec, nil
}

func (r *ResultRepository) DeleteExpired(ctx context.Context) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM analysis_results WHERE expires_at <= $1;`, r.now().UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *ResultRepository) Check(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return r.db.PingContext(ctx)
}

var _ results.Repository = (*ResultRepository)(nil)
