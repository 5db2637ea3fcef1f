package postgres

// schema is applied statement by statement so each step fails with its own error.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS entity_kinds (
		name VARCHAR(100) PRIMARY KEY,
		created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS audit_records (
		id UUID PRIMARY KEY,
		seq BIGSERIAL NOT NULL,
		action_kind VARCHAR(20) NOT NULL CHECK (action_kind IN
			('create','update','delete','view','login','logout','download','upload','share','other')),
		occurred_at TIMESTAMP WITH TIME ZONE NOT NULL,
		actor_id VARCHAR(255),
		actor_name VARCHAR(255),
		entity_kind VARCHAR(100) REFERENCES entity_kinds(name) ON DELETE CASCADE,
		entity_id VARCHAR(255),
		description TEXT NOT NULL DEFAULT '',
		origin_address VARCHAR(45) NOT NULL DEFAULT '',
		client_signature TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_records_target ON audit_records(entity_kind, entity_id, occurred_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_records_occurred ON audit_records(occurred_at DESC, seq DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_records_actor ON audit_records(actor_id)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_records_action ON audit_records(action_kind)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_records_origin ON audit_records(origin_address)`,
}

const recordColumns = `id, seq, action_kind, occurred_at, actor_id, actor_name, entity_kind, entity_id, description, origin_address, client_signature`
