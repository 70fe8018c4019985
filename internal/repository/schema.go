package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// schemaDDL creates the application tables. River's own tables are managed
// separately by rivermigrate in main.
const schemaDDL = `
CREATE TABLE IF NOT EXISTS users (
	id UUID PRIMARY KEY,
	email TEXT UNIQUE NOT NULL,
	display_name TEXT NOT NULL DEFAULT '',
	credit_balance INT NOT NULL DEFAULT 0,
	plan_tier TEXT NOT NULL DEFAULT 'free',
	is_admin BOOLEAN NOT NULL DEFAULT FALSE,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS tasks (
	id UUID PRIMARY KEY,
	user_id UUID NOT NULL REFERENCES users(id),
	input_type TEXT NOT NULL,
	source_text TEXT NOT NULL DEFAULT '',
	source_url TEXT NOT NULL DEFAULT '',
	input_file_ref TEXT NOT NULL DEFAULT '',
	target_language TEXT NOT NULL DEFAULT 'en',
	voice_type TEXT NOT NULL DEFAULT 'achernar',
	status TEXT NOT NULL DEFAULT 'pending',
	progress INT NOT NULL DEFAULT 0,
	output_video_ref TEXT NOT NULL DEFAULT '',
	error_message TEXT NOT NULL DEFAULT '',
	reserved_credits INT NOT NULL,
	reservation_id UUID NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS tasks_user_status_idx ON tasks (user_id, status);
CREATE INDEX IF NOT EXISTS tasks_user_created_idx ON tasks (user_id, created_at DESC);

CREATE TABLE IF NOT EXISTS credit_ledger (
	id UUID PRIMARY KEY,
	user_id UUID NOT NULL REFERENCES users(id),
	task_id UUID,
	entry_type TEXT NOT NULL,
	amount INT NOT NULL,
	balance_after INT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS credit_ledger_user_created_idx ON credit_ledger (user_id, created_at DESC);

CREATE TABLE IF NOT EXISTS credit_reservations (
	id UUID PRIMARY KEY,
	user_id UUID NOT NULL REFERENCES users(id),
	task_id UUID NOT NULL,
	amount INT NOT NULL CHECK (amount > 0),
	status TEXT NOT NULL DEFAULT 'held',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS credit_reservations_user_held_idx ON credit_reservations (user_id) WHERE status = 'held';

CREATE TABLE IF NOT EXISTS subscriptions (
	id UUID PRIMARY KEY,
	user_id UUID NOT NULL REFERENCES users(id),
	tier TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'pending',
	monthly_credits INT NOT NULL,
	external_subscription_id TEXT NOT NULL DEFAULT '',
	start_date TIMESTAMPTZ,
	end_date TIMESTAMPTZ,
	last_grant_period TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS subscriptions_user_status_idx ON subscriptions (user_id, status);

CREATE TABLE IF NOT EXISTS billing_period_markers (
	user_id UUID NOT NULL REFERENCES users(id),
	kind TEXT NOT NULL,
	period_key TEXT NOT NULL,
	applied_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (user_id, kind, period_key)
);

CREATE TABLE IF NOT EXISTS redeem_codes (
	id UUID PRIMARY KEY,
	code TEXT UNIQUE NOT NULL,
	credit_amount INT NOT NULL,
	is_used BOOLEAN NOT NULL DEFAULT FALSE,
	used_by UUID,
	used_at TIMESTAMPTZ,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS code_redemptions (
	code TEXT NOT NULL,
	user_id UUID NOT NULL REFERENCES users(id),
	redeemed_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (code, user_id)
);
`

// EnsureSchema applies the application DDL. Statements are idempotent so it
// is safe to run on every startup.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, schemaDDL)
	return err
}
