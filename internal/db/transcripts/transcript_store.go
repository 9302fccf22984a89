// Package transcriptsdb keeps scrubbed gateway transcripts in Postgres next
// to the chain runs they belong to.
package transcriptsdb

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"paychain/internal/transcripts"
)


// ErrTranscriptEmpty is returned by Record for a transcript without a body.
var ErrTranscriptEmpty = errors.New("transcript body is empty")

// PostgresTranscriptStore persists transcripts in Postgres.
type PostgresTranscriptStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewPostgresTranscriptStore constructs a transcript store backed by Postgres.
func NewPostgresTranscriptStore(db *sql.DB) *PostgresTranscriptStore {
	return &PostgresTranscriptStore{db: db, now: time.Now}
}

// NewPostgresTranscriptStoreWithSchema initializes the schema then returns the store.
func NewPostgresTranscriptStoreWithSchema(ctx context.Context, db *sql.DB) (*PostgresTranscriptStore, error) {
	store := NewPostgresTranscriptStore(db)
	if err := store.InitSchema(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

// InitSchema creates the chain_transcripts table if it does not exist.
func (s *PostgresTranscriptStore) InitSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS chain_transcripts (
			id BIGSERIAL PRIMARY KEY,
			chain_id TEXT NOT NULL DEFAULT '',
			gateway TEXT NOT NULL,
			body TEXT NOT NULL,
			captured_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS chain_transcripts_chain_id_idx ON chain_transcripts (chain_id, id)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// Record inserts a transcript row.
func (s *PostgresTranscriptStore) Record(ctx context.Context, t transcripts.Transcript) error {
	if t.Body == "" {
		return ErrTranscriptEmpty
	}
	capturedAt := t.CapturedAt
	if capturedAt.IsZero() {
		capturedAt = s.now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO chain_transcripts (chain_id, gateway, body, captured_at)
		VALUES ($1, $2, $3, $4)`,
		t.ChainID, t.Gateway, t.Body, capturedAt.UTC(),
	)
	return err
}

// ForChain returns the transcripts of chainID in capture order.
func (s *PostgresTranscriptStore) ForChain(ctx context.Context, chainID string) ([]transcripts.Transcript, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT chain_id, gateway, body, captured_at
		FROM chain_transcripts
		WHERE chain_id = $1
		ORDER BY id`,
		chainID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []transcripts.Transcript
	for rows.Next() {
		var t transcripts.Transcript
		if err := rows.Scan(&t.ChainID, &t.Gateway, &t.Body, &t.CapturedAt); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
