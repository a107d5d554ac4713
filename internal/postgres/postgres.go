// Package postgres implements the persistence seams of the platform
// (credits.Store, session.Store, research.Store, access.Store) on a
// single PostgreSQL database.
//
// Store accepts an externally-owned *pgxpool.Pool via constructor
// injection. The caller creates and closes the pool.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Store holds the shared connection pool. All store interfaces of the
// platform are implemented on this one type.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a Store using an existing pgxpool.Pool.
// The caller owns the pool and is responsible for closing it.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Connect builds a pool from a pgx connection string. maxConns of zero
// keeps the pgxpool default.
func Connect(ctx context.Context, url string, maxConns int32) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse config: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return pool, nil
}

// Init creates all required tables and indexes. Safe to call multiple
// times (all statements are idempotent).
func (s *Store) Init(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id UUID PRIMARY KEY,
			personal_org_id UUID NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,

		`CREATE TABLE IF NOT EXISTS organizations (
			id UUID PRIMARY KEY,
			name TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,

		`CREATE TABLE IF NOT EXISTS organization_members (
			organization_id UUID NOT NULL,
			user_id UUID NOT NULL,
			PRIMARY KEY (organization_id, user_id)
		)`,
		`CREATE INDEX IF NOT EXISTS organization_members_user_idx ON organization_members(user_id)`,

		`CREATE TABLE IF NOT EXISTS credit_allocations (
			organization_id UUID PRIMARY KEY,
			plan_type TEXT NOT NULL DEFAULT 'free',
			plan_credits NUMERIC NOT NULL DEFAULT 0,
			credits_remaining NUMERIC NOT NULL DEFAULT 0,
			credit_limit NUMERIC NOT NULL DEFAULT 0,
			last_daily_credit_claimed TIMESTAMPTZ,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,

		`CREATE TABLE IF NOT EXISTS credit_transactions (
			id UUID PRIMARY KEY,
			user_id UUID NOT NULL,
			organization_id UUID,
			credits_changed NUMERIC NOT NULL,
			previous_balance NUMERIC NOT NULL,
			new_balance NUMERIC NOT NULL,
			action_source TEXT NOT NULL,
			action_type TEXT NOT NULL,
			entity_id UUID,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS credit_transactions_entity_idx
			ON credit_transactions(action_source, action_type, entity_id)
			WHERE entity_id IS NOT NULL`,

		`CREATE TABLE IF NOT EXISTS unlimited_grants (
			id UUID PRIMARY KEY,
			user_id UUID,
			organization_id UUID,
			granted_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			granted_by UUID NOT NULL,
			expires_at TIMESTAMPTZ,
			revoked_at TIMESTAMPTZ,
			reason TEXT NOT NULL DEFAULT '',
			CHECK ((user_id IS NULL) <> (organization_id IS NULL))
		)`,
		`CREATE INDEX IF NOT EXISTS unlimited_grants_user_idx ON unlimited_grants(user_id) WHERE user_id IS NOT NULL`,
		`CREATE INDEX IF NOT EXISTS unlimited_grants_org_idx ON unlimited_grants(organization_id) WHERE organization_id IS NOT NULL`,

		`CREATE TABLE IF NOT EXISTS sessions (
			id UUID PRIMARY KEY,
			user_id UUID NOT NULL,
			organization_id UUID,
			status TEXT NOT NULL,
			last_error TEXT NOT NULL DEFAULT '',
			config JSONB NOT NULL DEFAULT '{}',
			history JSONB NOT NULL DEFAULT '[]',
			context JSONB NOT NULL DEFAULT '[]',
			attachments JSONB NOT NULL DEFAULT '[]',
			final_answer JSONB,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS sessions_user_idx ON sessions(user_id)`,
		`CREATE INDEX IF NOT EXISTS sessions_status_created_idx ON sessions(status, created_at)`,

		`CREATE TABLE IF NOT EXISTS one_time_research (
			id UUID PRIMARY KEY,
			user_id UUID NOT NULL,
			prompt TEXT NOT NULL,
			status TEXT NOT NULL,
			output_log TEXT NOT NULL DEFAULT '',
			error TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			started_at TIMESTAMPTZ,
			finished_at TIMESTAMPTZ
		)`,

		`CREATE TABLE IF NOT EXISTS infinite_research (
			id UUID PRIMARY KEY,
			user_id UUID NOT NULL,
			prompt TEXT NOT NULL,
			schedule TEXT NOT NULL,
			is_enabled BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,

		`CREATE TABLE IF NOT EXISTS recurring_executions (
			id UUID PRIMARY KEY,
			parent_id UUID NOT NULL,
			status TEXT NOT NULL,
			output_log TEXT NOT NULL DEFAULT '',
			error TEXT NOT NULL DEFAULT '',
			started_at TIMESTAMPTZ NOT NULL,
			finished_at TIMESTAMPTZ
		)`,
		`CREATE INDEX IF NOT EXISTS recurring_executions_parent_idx ON recurring_executions(parent_id)`,

		`CREATE TABLE IF NOT EXISTS shareable_objects (
			id UUID NOT NULL,
			object_type TEXT NOT NULL,
			owner_id UUID,
			is_public BOOLEAN NOT NULL DEFAULT FALSE,
			parent_id UUID,
			parent_type TEXT,
			PRIMARY KEY (id, object_type)
		)`,

		`CREATE TABLE IF NOT EXISTS shares (
			object_id UUID NOT NULL,
			object_type TEXT NOT NULL,
			user_id UUID,
			organization_id UUID,
			level TEXT NOT NULL,
			CHECK ((user_id IS NULL) <> (organization_id IS NULL))
		)`,
		`CREATE INDEX IF NOT EXISTS shares_object_idx ON shares(object_id, object_type)`,

		`CREATE TABLE IF NOT EXISTS documents (
			id UUID PRIMARY KEY,
			user_id UUID NOT NULL,
			organization_id UUID,
			title TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS documents_user_idx ON documents(user_id)`,
	}

	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres: init: %w", err)
		}
	}
	return nil
}
