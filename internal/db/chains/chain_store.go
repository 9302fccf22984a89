// Package chainsdb stores chain runs and their step outcomes in Postgres.
package chainsdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"paychain/internal/billing"
	"paychain/internal/payments/runs"
)

// ChainStore persists idempotency keys, chain runs and their steps in Postgres.
type ChainStore struct {
	db *sql.DB
}

// NewChainStore constructs a ChainStore backed by Postgres.
func NewChainStore(db *sql.DB) *ChainStore {
	return &ChainStore{db: db}
}

// NewChainStoreWithSchema initializes the schema then returns the store.
func NewChainStoreWithSchema(ctx context.Context, db *sql.DB) (*ChainStore, error) {
	store := NewChainStore(db)
	if err := store.InitSchema(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

// InitSchema creates chain tables if they do not exist.
func (s *ChainStore) InitSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS chain_runs (
			chain_id TEXT PRIMARY KEY,
			idempotency_key TEXT UNIQUE NOT NULL,
			gateway TEXT NOT NULL,
			operation TEXT NOT NULL,
			status TEXT NOT NULL,
			authorization_id TEXT NOT NULL DEFAULT '',
			message TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS chain_steps (
			id BIGSERIAL PRIMARY KEY,
			chain_id TEXT NOT NULL,
			step_index INTEGER NOT NULL,
			success BOOLEAN NOT NULL,
			message TEXT NOT NULL,
			authorization_id TEXT NOT NULL DEFAULT '',
			test BOOLEAN,
			params JSONB NOT NULL DEFAULT '{}',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE (chain_id, step_index),
			FOREIGN KEY (chain_id) REFERENCES chain_runs(chain_id) ON DELETE CASCADE
		)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}

	return nil
}

// Start inserts a new run or returns the existing one for the idempotency key.
func (s *ChainStore) Start(ctx context.Context, idempotencyKey, chainID, gateway, operation string) (runs.Run, bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO chain_runs (chain_id, idempotency_key, gateway, operation, status)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (idempotency_key) DO NOTHING`,
		chainID, idempotencyKey, gateway, operation, runs.StatusStarted,
	)
	if err != nil {
		return runs.Run{}, false, err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return runs.Run{}, false, err
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT chain_id, gateway, operation, status, authorization_id, message
		FROM chain_runs
		WHERE idempotency_key = $1`,
		idempotencyKey,
	)

	var run runs.Run
	var status string
	if err := row.Scan(&run.ChainID, &run.Gateway, &run.Operation, &status, &run.Authorization, &run.Message); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return runs.Run{}, false, fmt.Errorf("chain run not found after insert")
		}
		return runs.Run{}, false, err
	}
	run.Status = runs.Status(status)

	if run.Gateway != gateway || run.Operation != operation {
		return runs.Run{}, false, runs.ErrIdempotencyConflict
	}

	return run, affected == 1, nil
}

// AddStep appends a step row.
func (s *ChainStore) AddStep(ctx context.Context, chainID string, step runs.StepRecord) error {
	params, err := json.Marshal(step.Params)
	if err != nil {
		return fmt.Errorf("encode params: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO chain_steps (chain_id, step_index, success, message, authorization_id, test, params)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		chainID, step.Index, step.Success, step.Message, step.Authorization,
		sql.NullBool{Bool: step.Test, Valid: step.TestKnown}, string(params),
	)
	return err
}

// Finish records the terminal status and headline of a run.
func (s *ChainStore) Finish(ctx context.Context, chainID string, status runs.Status, authorization, message string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE chain_runs
		SET status = $2, authorization_id = $3, message = $4, updated_at = NOW()
		WHERE chain_id = $1`,
		chainID, status, authorization, message,
	)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return runs.ErrRunNotFound
	}
	return nil
}

// Steps lists the steps of a run in execution order.
func (s *ChainStore) Steps(ctx context.Context, chainID string) ([]runs.StepRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT step_index, success, message, authorization_id, test, params
		FROM chain_steps
		WHERE chain_id = $1
		ORDER BY step_index`,
		chainID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var steps []runs.StepRecord
	for rows.Next() {
		var step runs.StepRecord
		var test sql.NullBool
		var params []byte
		if err := rows.Scan(&step.Index, &step.Success, &step.Message, &step.Authorization, &test, &params); err != nil {
			return nil, err
		}
		step.Test, step.TestKnown = test.Bool, test.Valid
		if len(params) > 0 {
			var p billing.Params
			if err := json.Unmarshal(params, &p); err != nil {
				return nil, fmt.Errorf("decode params for step %d: %w", step.Index, err)
			}
			step.Params = p
		}
		steps = append(steps, step)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return steps, nil
}
