// Package db provides the optional Postgres chat archive: connection helper,
// schema migration, and inserts for fetched live chat messages.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // pgx postgres driver registered as 'pgx'
)

// Connect opens a Postgres pool for dsn and verifies it answers.
func Connect(ctx context.Context, dsn string) (*sql.DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("db: empty DSN")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetConnMaxIdleTime(5 * time.Minute)
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// Migrate applies idempotent schema statements. It matches the versioned
// migrations in db/migrations and is used where golang-migrate bookkeeping is
// not wanted (tests).
func Migrate(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS live_streams (
			video_id TEXT PRIMARY KEY,
			channel_id TEXT NOT NULL,
			chat_id TEXT NOT NULL,
			title TEXT,
			first_seen_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			last_seen_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS chat_messages (
			message_id TEXT PRIMARY KEY,
			video_id TEXT NOT NULL,
			chat_id TEXT NOT NULL,
			author_channel_id TEXT,
			author_name TEXT,
			message TEXT,
			published_at TIMESTAMPTZ,
			received_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_chat_video_published ON chat_messages(video_id, published_at)`,
	}
	for i, s := range stmts {
		if _, err := db.ExecContext(ctx, s); err != nil {
			return fmt.Errorf("postgres migrate step %d failed: %w", i, err)
		}
	}
	return nil
}

// ChatRecord is one archived chat message.
type ChatRecord struct {
	MessageID       string
	VideoID         string
	ChatID          string
	AuthorChannelID string
	AuthorName      string
	Message         string
	PublishedAt     time.Time
}

// ChatArchive writes chat messages and stream sightings to Postgres.
type ChatArchive struct {
	db *sql.DB
}

func NewChatArchive(db *sql.DB) *ChatArchive {
	return &ChatArchive{db: db}
}

// StoreMessages inserts records in one transaction. Already archived message
// ids are skipped, so re-polling a page is harmless. It returns the number of
// new rows.
func (a *ChatArchive) StoreMessages(ctx context.Context, records []ChatRecord) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO chat_messages
		(message_id, video_id, chat_id, author_channel_id, author_name, message, published_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (message_id) DO NOTHING`)
	if err != nil {
		return 0, fmt.Errorf("prepare insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	inserted := 0
	for _, r := range records {
		var published any
		if !r.PublishedAt.IsZero() {
			published = r.PublishedAt
		}
		res, err := stmt.ExecContext(ctx, r.MessageID, r.VideoID, r.ChatID, r.AuthorChannelID, r.AuthorName, r.Message, published)
		if err != nil {
			return 0, fmt.Errorf("insert chat message %s: %w", r.MessageID, err)
		}
		if n, err := res.RowsAffected(); err == nil {
			inserted += int(n)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return inserted, nil
}

// RecordStream upserts a resolved live stream.
func (a *ChatArchive) RecordStream(ctx context.Context, channelID, videoID, chatID, title string) error {
	_, err := a.db.ExecContext(ctx, `INSERT INTO live_streams (video_id, channel_id, chat_id, title)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT (video_id) DO UPDATE SET
			chat_id=EXCLUDED.chat_id,
			title=EXCLUDED.title,
			last_seen_at=NOW()`, videoID, channelID, chatID, title)
	if err != nil {
		return fmt.Errorf("record stream %s: %w", videoID, err)
	}
	return nil
}

// Ping reports whether the archive database answers.
func (a *ChatArchive) Ping(ctx context.Context) error {
	return a.db.PingContext(ctx)
}
