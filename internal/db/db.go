package db

import (
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

// Connect initializes the database connection and runs migrations.
func Connect(dsn string, log *zap.Logger) (*sqlx.DB, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect db: %w", err)
	}

	if err := runMigrations(db); err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	log.Info("database migrations applied")
	return db, nil
}

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS conversations (
            id BIGSERIAL PRIMARY KEY,
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
        );`,
	`CREATE TABLE IF NOT EXISTS conversation_participants (
            conversation_id BIGINT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
            user_id BIGINT NOT NULL,
            PRIMARY KEY(conversation_id, user_id)
        );`,
	`CREATE TABLE IF NOT EXISTS messages (
            id UUID PRIMARY KEY,
            conversation_id BIGINT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
            author_id BIGINT NOT NULL,
            content TEXT,
            media TEXT[],
            created_at TIMESTAMPTZ NOT NULL DEFAULT clock_timestamp(),
            detected_language TEXT,
            kind TEXT NOT NULL DEFAULT 'standard',
            ttl_seconds INT NOT NULL DEFAULT 0,
            viewed_at TIMESTAMPTZ,
            expires_at TIMESTAMPTZ,
            deleted_at TIMESTAMPTZ,
            is_deleted BOOLEAN NOT NULL DEFAULT FALSE
        );`,
	`CREATE INDEX IF NOT EXISTS idx_messages_conversation_order ON messages (conversation_id, created_at, id);`,
	`CREATE INDEX IF NOT EXISTS idx_messages_live_expiry ON messages (expires_at) WHERE is_deleted = FALSE;`,
	`CREATE TABLE IF NOT EXISTS message_deletions (
            message_id UUID NOT NULL REFERENCES messages(id) ON DELETE CASCADE,
            viewer_id BIGINT NOT NULL,
            deleted_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            deleted_by BIGINT NOT NULL,
            original_content_snapshot TEXT,
            original_language_snapshot TEXT,
            UNIQUE(message_id, viewer_id)
        );`,
}

func runMigrations(db *sqlx.DB) error {
	for _, m := range migrations {
		if _, err := db.Exec(m); err != nil {
			return err
		}
	}
	return nil
}
