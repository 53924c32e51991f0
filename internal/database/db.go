// Package database archives finished games to Postgres. The live game never
// depends on it: archive writes run in the background and failures are
// logged as warnings, since the cache copy remains authoritative for the
// active session.
package database

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"
)

// DB is the shared connection pool, nil until InitDB succeeds.
var DB *pgxpool.Pool

// InitDB connects the pool and ensures the schema exists.
func InitDB(ctx context.Context, url string) error {
	if url == "" {
		return fmt.Errorf("database: connection URL not set")
	}
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return fmt.Errorf("database: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return fmt.Errorf("database: ping: %w", err)
	}
	DB = pool
	if err := ensureSchema(ctx); err != nil {
		return err
	}
	logrus.Info("database: connected")
	return nil
}

func ensureSchema(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS finished_games (
	party_id   uuid PRIMARY KEY,
	snapshot   jsonb NOT NULL,
	created_at timestamptz NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS game_action_logs (
	party_id   uuid NOT NULL,
	action_idx int  NOT NULL,
	record     jsonb NOT NULL,
	PRIMARY KEY (party_id, action_idx)
);`
	if _, err := DB.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("database: ensure schema: %w", err)
	}
	return nil
}

// StoreFinalGameState upserts the terminal snapshot (final ownership plus the
// closing state view) for a finished party.
func StoreFinalGameState(ctx context.Context, partyID uuid.UUID, snapshot interface{}) error {
	if DB == nil {
		return fmt.Errorf("database: not initialized")
	}
	_, err := DB.Exec(ctx,
		`INSERT INTO finished_games (party_id, snapshot) VALUES ($1, $2)
		 ON CONFLICT (party_id) DO UPDATE SET snapshot = EXCLUDED.snapshot`,
		partyID, snapshot)
	if err != nil {
		return fmt.Errorf("database: store final state for %s: %w", partyID, err)
	}
	return nil
}

// StoreActionLog archives one action history record for a finished party.
func StoreActionLog(ctx context.Context, partyID uuid.UUID, actionIdx int, record interface{}) error {
	if DB == nil {
		return fmt.Errorf("database: not initialized")
	}
	_, err := DB.Exec(ctx,
		`INSERT INTO game_action_logs (party_id, action_idx, record) VALUES ($1, $2, $3)
		 ON CONFLICT (party_id, action_idx) DO NOTHING`,
		partyID, actionIdx, record)
	if err != nil {
		return fmt.Errorf("database: store action %d for %s: %w", actionIdx, partyID, err)
	}
	return nil
}
