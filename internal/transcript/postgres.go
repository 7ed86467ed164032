package transcript

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresSink indexes lesson transcripts in PostgreSQL.
type PostgresSink struct {
	pool *pgxpool.Pool
}

func NewPostgresSink(ctx context.Context, databaseURL string) (*PostgresSink, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresSink{pool: pool}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS lesson_transcripts (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			role TEXT NOT NULL,
			text TEXT NOT NULL,
			pii_redacted BOOLEAN NOT NULL DEFAULT FALSE,
			spoken_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE INDEX IF NOT EXISTS idx_lesson_transcripts_session_spoken ON lesson_transcripts (session_id, spoken_at);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

// UploadBatch writes the whole lesson transcript in one pipelined batch.
func (s *PostgresSink) UploadBatch(ctx context.Context, sessionID string, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, e := range entries {
		if e.ID == "" {
			e.ID = uuid.NewString()
		}
		if e.Timestamp.IsZero() {
			e.Timestamp = time.Now().UTC()
		}
		batch.Queue(
			`INSERT INTO lesson_transcripts (id, session_id, role, text, pii_redacted, spoken_at)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			e.ID, sessionID, e.Role, e.Text, e.PIIRedacted, e.Timestamp,
		)
	}

	results := s.pool.SendBatch(ctx, batch)
	defer results.Close()
	for range entries {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("upload transcript batch: %w", err)
		}
	}
	return nil
}

func (s *PostgresSink) Recent(ctx context.Context, sessionID string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, session_id, role, text, pii_redacted, spoken_at
		 FROM lesson_transcripts WHERE session_id=$1 ORDER BY spoken_at DESC LIMIT $2`,
		sessionID,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query transcript: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.SessionID, &e.Role, &e.Text, &e.PIIRedacted, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan transcript row: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *PostgresSink) Close() error {
	s.pool.Close()
	return nil
}
