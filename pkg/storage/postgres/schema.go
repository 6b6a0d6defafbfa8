package postgres

import (
	"context"
	"database/sql"
	"fmt"
)

// schemaStatements create the core tables and the composite indexes that
// keep tenant-scoped queries on an index even for the largest tenants.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS tenants (
		id UUID PRIMARY KEY,
		name TEXT NOT NULL,
		code TEXT NOT NULL UNIQUE,
		description TEXT NOT NULL DEFAULT '',
		active BOOLEAN NOT NULL DEFAULT TRUE,
		max_users INTEGER NOT NULL DEFAULT 100,
		max_items INTEGER NOT NULL DEFAULT 10000,
		max_storage_gb INTEGER NOT NULL DEFAULT 10,
		features JSONB NOT NULL DEFAULT '{}',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE TABLE IF NOT EXISTS users (
		id UUID PRIMARY KEY,
		tenant_id UUID NOT NULL REFERENCES tenants(id),
		email TEXT NOT NULL,
		username TEXT NOT NULL,
		full_name TEXT NOT NULL DEFAULT '',
		role TEXT NOT NULL DEFAULT 'user',
		active BOOLEAN NOT NULL DEFAULT TRUE,
		cross_tenant BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_users_tenant_email ON users (tenant_id, email)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_users_tenant_username ON users (tenant_id, username)`,
	`CREATE INDEX IF NOT EXISTS idx_users_tenant_role ON users (tenant_id, role)`,

	`CREATE TABLE IF NOT EXISTS items (
		id UUID PRIMARY KEY,
		tenant_id UUID NOT NULL REFERENCES tenants(id),
		owner_id UUID REFERENCES users(id),
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'active',
		amount NUMERIC(14,2),
		data JSONB NOT NULL DEFAULT '{}',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_items_tenant_created ON items (tenant_id, created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_items_tenant_status ON items (tenant_id, status)`,
	`CREATE INDEX IF NOT EXISTS idx_items_tenant_owner ON items (tenant_id, owner_id)`,

	`CREATE TABLE IF NOT EXISTS audit_logs (
		id UUID PRIMARY KEY,
		tenant_id UUID NOT NULL,
		user_id UUID,
		action TEXT NOT NULL,
		severity TEXT NOT NULL DEFAULT 'INFO',
		resource_type TEXT NOT NULL,
		resource_id TEXT,
		message TEXT NOT NULL DEFAULT '',
		before_state JSONB,
		after_state JSONB,
		metadata JSONB NOT NULL DEFAULT '{}',
		ip_address TEXT,
		user_agent TEXT,
		session_id TEXT,
		request_id TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_logs_tenant_created ON audit_logs (tenant_id, created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_logs_tenant_action ON audit_logs (tenant_id, action)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_logs_tenant_user ON audit_logs (tenant_id, user_id)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_logs_tenant_resource ON audit_logs (tenant_id, resource_type, resource_id)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_logs_created ON audit_logs (created_at)`,
}

// EnsureSchema creates the tables and indexes if they do not exist.
// Statements are idempotent so this is safe to run on every startup.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schemaStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("schema bootstrap failed: %w", err)
		}
	}
	return nil
}
