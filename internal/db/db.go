package db

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/rs/zerolog"
)

// Connect opens the postgres connection pool.
func Connect(ctx context.Context, dsn string) (*sqlx.DB, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect db: %w", err)
	}
	return db, nil
}

// Migrate creates the schema if it does not exist yet. It is safe to run on
// every start.
func Migrate(ctx context.Context, db *sqlx.DB, notifyChannel string, log zerolog.Logger) error {
	for i, m := range migrations(notifyChannel) {
		if _, err := db.ExecContext(ctx, m); err != nil {
			return fmt.Errorf("migration %d: %w", i, err)
		}
	}
	log.Info().Str("notify_channel", notifyChannel).Msg("database migrations applied")
	return nil
}

func migrations(notifyChannel string) []string {
	return []string{
		`CREATE EXTENSION IF NOT EXISTS pgcrypto;`,
		`CREATE TABLE IF NOT EXISTS profiles (
            id UUID PRIMARY KEY,
            name TEXT NOT NULL,
            email TEXT NOT NULL,
            avatar_url TEXT,
            is_online BOOLEAN NOT NULL DEFAULT FALSE,
            last_seen TIMESTAMPTZ NOT NULL DEFAULT NOW()
        );`,
		`CREATE TABLE IF NOT EXISTS chats (
            id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
            name TEXT NOT NULL DEFAULT '',
            is_group BOOLEAN NOT NULL DEFAULT FALSE,
            created_by UUID NOT NULL,
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
        );`,
		`CREATE TABLE IF NOT EXISTS chat_participants (
            chat_id UUID NOT NULL REFERENCES chats(id) ON DELETE CASCADE,
            user_id UUID NOT NULL,
            joined_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            PRIMARY KEY(chat_id, user_id)
        );`,
		`CREATE INDEX IF NOT EXISTS chat_participants_user_idx ON chat_participants(user_id);`,
		`CREATE TABLE IF NOT EXISTS direct_chat_pairs (
            user_low UUID NOT NULL,
            user_high UUID NOT NULL,
            chat_id UUID NOT NULL UNIQUE REFERENCES chats(id) ON DELETE CASCADE,
            PRIMARY KEY(user_low, user_high),
            CHECK (user_low < user_high)
        );`,
		`CREATE TABLE IF NOT EXISTS messages (
            id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
            chat_id UUID NOT NULL REFERENCES chats(id) ON DELETE CASCADE,
            sender_id UUID NOT NULL,
            content TEXT NOT NULL,
            message_type TEXT NOT NULL DEFAULT 'text' CHECK (message_type IN ('text', 'image', 'file', 'emoji')),
            file_url TEXT,
            file_name TEXT,
            file_size BIGINT,
            created_at TIMESTAMPTZ NOT NULL DEFAULT clock_timestamp(),
            CHECK (message_type NOT IN ('image', 'file') OR (file_url IS NOT NULL AND file_name IS NOT NULL AND file_size IS NOT NULL))
        );`,
		`CREATE INDEX IF NOT EXISTS messages_chat_order_idx ON messages(chat_id, created_at, id);`,
		fmt.Sprintf(`CREATE OR REPLACE FUNCTION notify_message_inserted() RETURNS trigger AS $$
        BEGIN
            UPDATE chats SET updated_at = NEW.created_at WHERE id = NEW.chat_id;
            PERFORM pg_notify(%s, json_build_object('chat_id', NEW.chat_id, 'message_id', NEW.id)::text);
            RETURN NEW;
        END;
        $$ LANGUAGE plpgsql;`, pq.QuoteLiteral(notifyChannel)),
		`DROP TRIGGER IF EXISTS messages_notify_insert ON messages;`,
		`CREATE TRIGGER messages_notify_insert AFTER INSERT ON messages
            FOR EACH ROW EXECUTE FUNCTION notify_message_inserted();`,
	}
}
