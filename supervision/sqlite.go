package supervision

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/theimaginaryfoundation/emotions-bot/emotion/fileutils"
)

const createRecordsTableSQL = `
CREATE TABLE IF NOT EXISTS supervision_records (
	episode_id           TEXT PRIMARY KEY,
	recorded_at_utc      TEXT NOT NULL,
	user_id              INTEGER NOT NULL,
	username             TEXT NOT NULL,
	name                 TEXT NOT NULL,
	chat_id              INTEGER NOT NULL,
	text                 TEXT NOT NULL,
	predicted_sentiments TEXT NOT NULL,
	real_sentiments      TEXT NOT NULL
)`

const createRecordsChatIndexSQL = `CREATE INDEX IF NOT EXISTS idx_supervision_records_chat ON supervision_records(chat_id)`

const insertRecordSQL = `
INSERT INTO supervision_records (
	episode_id,
	recorded_at_utc,
	user_id,
	username,
	name,
	chat_id,
	text,
	predicted_sentiments,
	real_sentiments
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

// SQLiteLog mirrors supervision records into a SQLite table so they can be
// queried without parsing the flat file. Each append gets a fresh episode id.
type SQLiteLog struct {
	db *sql.DB
}

// OpenSQLiteLog opens (creating if needed) the database at dbPath and ensures the schema.
func OpenSQLiteLog(dbPath string) (*SQLiteLog, error) {
	if strings.TrimSpace(dbPath) == "" {
		return nil, fmt.Errorf("db path is required")
	}
	if err := fileutils.EnsureParentDir(dbPath); err != nil {
		return nil, fmt.Errorf("mkdir sqlite dir: %w", err)
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma: %w", err)
	}
	if _, err := db.Exec(createRecordsTableSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("create supervision_records table: %w", err)
	}
	if _, err := db.Exec(createRecordsChatIndexSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("create supervision_records index: %w", err)
	}
	return &SQLiteLog{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteLog) Close() error {
	return s.db.Close()
}

func (s *SQLiteLog) Append(ctx context.Context, rec Record) error {
	_, err := s.db.ExecContext(ctx, insertRecordSQL,
		uuid.NewString(),
		rec.Timestamp.UTC().Format(time.RFC3339),
		rec.UserID,
		rec.Username,
		rec.DisplayName,
		rec.ConversationID,
		rec.OriginalText,
		rec.PredictedLabelsRaw,
		rec.ConfirmedLabels,
	)
	if err != nil {
		return fmt.Errorf("insert supervision record: %w", err)
	}
	return nil
}

// Count returns how many records are stored.
func (s *SQLiteLog) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM supervision_records`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count supervision records: %w", err)
	}
	return n, nil
}
