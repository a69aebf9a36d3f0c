package progress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore is a PostgreSQL-backed Store. The full record is kept in a
// JSONB column; cursor and timestamps are mirrored into columns for the
// admin queries. The progress_records table is created by database.Migrate.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a PostgreSQL-backed progress store.
func NewPostgresStore(pool *pgxpool.Pool) (*PostgresStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is nil")
	}
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Load(ctx context.Context, learnerID string) (Record, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	var data []byte
	err := s.pool.QueryRow(ctx,
		`SELECT data FROM progress_records WHERE learner_id = $1`,
		learnerID,
	).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("load progress %s: %w", learnerID, err)
	}

	rec, err := decodeRecord(data)
	if err != nil {
		return Record{}, false, fmt.Errorf("load progress %s: %w", learnerID, err)
	}
	return rec, true, nil
}

func (s *PostgresStore) Save(ctx context.Context, rec Record) error {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal progress: %w", err)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO progress_records (learner_id, cursor_lesson_id, completed_count, data, created_at, updated_at)
		 VALUES ($1, $2, $3, $4::jsonb, $5, $6)
		 ON CONFLICT (learner_id) DO UPDATE SET
		   cursor_lesson_id = EXCLUDED.cursor_lesson_id,
		   completed_count = EXCLUDED.completed_count,
		   data = EXCLUDED.data,
		   updated_at = EXCLUDED.updated_at`,
		rec.LearnerID,
		rec.Cursor,
		len(rec.Completed),
		string(data),
		rec.CreatedAt,
		rec.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("save progress %s: %w", rec.LearnerID, err)
	}
	return nil
}

func (s *PostgresStore) List(ctx context.Context) ([]Record, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	rows, err := s.pool.Query(ctx, `SELECT data FROM progress_records ORDER BY learner_id ASC`)
	if err != nil {
		return nil, fmt.Errorf("query progress: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan progress: %w", err)
		}
		rec, err := decodeRecord(data)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate progress: %w", err)
	}
	return out, nil
}

func decodeRecord(data []byte) (Record, error) {
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Record{}, fmt.Errorf("decode progress: %w", err)
	}
	// Normalizes nil maps and slices left by older rows.
	return rec.Clone(), nil
}
