package mysql

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
  id          VARCHAR(36)  NOT NULL PRIMARY KEY,
  result      LONGTEXT     NOT NULL,
  genre       VARCHAR(64)  NOT NULL,
  result_type VARCHAR(64)  NULL,
  created_at  DATETIME(3)  NOT NULL,
  expires_at  DATETIME(3)  NOT NULL,
  INDEX idx_analysis_results_expires (expires_at)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4;
`

type ResultRepository struct {
	db  *sql.DB
	now func() time.Time
}

func NewResultRepository(db *sql.DB) *ResultRepository {
	return &ResultRepository{db: db, now: time.Now}
}

// EnsureSchema creates the results table when missing.
func (r *ResultRepository) EnsureSchema(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, schema)
	return err
}

// Put inserts a result record
func (r *ResultRepository) Put(ctx context.Context, id string, rec *results.Record, ttl time.Duration) error {
	const q = `
INSERT INTO analysis_results
  (id, result, genre, result_type, created_at, expires_at)
VALUES (?,?,?,?,?,?);
`
	createdAt := rec.CreatedAt.UTC()
	_, err := r.db.ExecContext(ctx, q, id, rec.Result, rec.Genre, nullIfBlank(rec.Type), createdAt, createdAt.Add(ttl))
	if err != nil {
		return fmt.Errorf("insert result %s: %w", id, err)
	}
	return nil
}

// Get returns a live record or results.ErrNotFound
func (r *ResultRepository) Get(ctx context.Context, id string) (*results.Record, error) {
	const q = `
SELECT result, genre, result_type, created_at
FROM analysis_results
WHERE id=? AND expires_at > ?;
`
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

// DeleteExpired purges rows past their TTL and returns how many went.
func (r *ResultRepository) DeleteExpired(ctx context.Context) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM analysis_results WHERE expires_at <= ?;`, r.now().UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Check implements the health checker.
func (r *ResultRepository) Check(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return r.db.PingContext(ctx)
}

var _ results.Repository = (*ResultRepository)(nil)
