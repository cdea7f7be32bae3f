package escrow

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// SchemaManager handles database schema migrations
type SchemaManager struct {
	pool *pgxpool.Pool
}

// NewSchemaManager creates a new schema manager
func NewSchemaManager(pool *pgxpool.Pool) *SchemaManager {
	return &SchemaManager{pool: pool}
}

// Initialize creates the database schema
func (m *SchemaManager) Initialize(ctx context.Context) error {
	_, err := m.pool.Exec(ctx, m.getSchema())
	return err
}

// Drop removes every escrow table. Used by tests and `escrowd migrate --reset`.
func (m *SchemaManager) Drop(ctx context.Context) error {
	_, err := m.pool.Exec(ctx, `
DROP TABLE IF EXISTS escrow_events;
DROP TABLE IF EXISTS escrow_token_accounts;
DROP TABLE IF EXISTS escrow_records;
`)
	return err
}

func (m *SchemaManager) getSchema() string {
	return `
-- Escrow records, stored in their fixed account layout plus indexed columns
CREATE TABLE IF NOT EXISTS escrow_records (
  address TEXT PRIMARY KEY,
  task_id TEXT NOT NULL UNIQUE,
  authority TEXT NOT NULL,
  assigned_agent TEXT,
  status TEXT NOT NULL,
  created_at BIGINT NOT NULL,
  data BYTEA NOT NULL CHECK (octet_length(data) = 206),
  updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

-- Token accounts (vaults, associated accounts); u64 balances
CREATE TABLE IF NOT EXISTS escrow_token_accounts (
  address TEXT PRIMARY KEY,
  owner TEXT NOT NULL,
  amount NUMERIC(20,0) NOT NULL DEFAULT 0
    CHECK (amount >= 0 AND amount <= 18446744073709551615)
);

-- Append-only event log
CREATE TABLE IF NOT EXISTS escrow_events (
  seq BIGSERIAL PRIMARY KEY,
  id UUID NOT NULL UNIQUE,
  kind TEXT NOT NULL,
  task_id TEXT NOT NULL,
  payload JSONB NOT NULL,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_escrow_records_status ON escrow_records(status);
CREATE INDEX IF NOT EXISTS idx_escrow_records_authority ON escrow_records(authority);
CREATE INDEX IF NOT EXISTS idx_escrow_records_agent ON escrow_records(assigned_agent);
CREATE INDEX IF NOT EXISTS idx_escrow_token_accounts_owner ON escrow_token_accounts(owner);
CREATE INDEX IF NOT EXISTS idx_escrow_events_task ON escrow_events(task_id, seq);
`
}
