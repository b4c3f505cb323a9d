package database

import (
	"context"
	"fmt"
)

func (db *PostgresDB) InitSchema(ctx context.Context) error {
	// 1. Research sessions
	sessionsQuery := `
		CREATE TABLE IF NOT EXISTS research_sessions (
			id TEXT PRIMARY KEY,
			query TEXT NOT NULL,
			created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
			updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
			status TEXT NOT NULL DEFAULT 'in_progress',
			agent_state TEXT NOT NULL DEFAULT 'idle',
			sufficiency_score INTEGER NOT NULL DEFAULT 0,
			logs JSONB NOT NULL DEFAULT '[]',
			global_context JSONB,
			final_report TEXT,
			research_mode TEXT NOT NULL DEFAULT 'standard',
			elapsed_time BIGINT NOT NULL DEFAULT 0,
			config JSONB,
			error TEXT NOT NULL DEFAULT ''
		);
	`
	if _, err := db.Pool.Exec(ctx, sessionsQuery); err != nil {
		return fmt.Errorf("failed to create research_sessions table: %w", err)
	}
	if _, err := db.Pool.Exec(ctx, "CREATE INDEX IF NOT EXISTS idx_research_sessions_created_at ON research_sessions(created_at DESC)"); err != nil {
		return fmt.Errorf("failed to create index on research_sessions: %w", err)
	}

	// 2. Knowledge Q&A messages, one thread per session
	msgQuery := `
		CREATE TABLE IF NOT EXISTS session_messages (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			session_id TEXT NOT NULL REFERENCES research_sessions(id) ON DELETE CASCADE,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
		);
	`
	if _, err := db.Pool.Exec(ctx, msgQuery); err != nil {
		return fmt.Errorf("failed to create session_messages table: %w", err)
	}
	if _, err := db.Pool.Exec(ctx, "CREATE INDEX IF NOT EXISTS idx_session_messages_session_id ON session_messages(session_id)"); err != nil {
		return fmt.Errorf("failed to create index on session_messages: %w", err)
	}

	return nil
}
