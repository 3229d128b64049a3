// Package sqlite provides a SQLite-backed message store.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/palaverhq/palaver/internal/forum/message"
	"github.com/palaverhq/palaver/internal/forum/message/sqlite/migrations"
	"github.com/palaverhq/palaver/internal/platform/storage/sqlitemigrate"
	_ "modernc.org/sqlite"
)

// Store persists direct messages in SQLite. Messages live in their own file,
// separate from identity state, so the two can be backed up and sized
// independently.
type Store struct {
	sqlDB *sql.DB
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Open opens a message SQLite store and applies embedded migrations.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000&_synchronous=NORMAL"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := sqlitemigrate.Apply(sqlDB, migrations.FS); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// PutMessage inserts a message row.
func (s *Store) PutMessage(ctx context.Context, m message.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(m.ID) == "" {
		return fmt.Errorf("message id is required")
	}

	_, err := s.sqlDB.ExecContext(
		ctx,
		`INSERT INTO messages (id, sender_id, recipient_id, content_kind, content_text, content_object_key, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		m.ID,
		m.SenderID,
		m.RecipientID,
		string(m.Content.Kind),
		m.Content.Text,
		m.Content.ObjectKey,
		toMillis(m.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("put message: %w", err)
	}
	return nil
}

// GetMessage fetches a message by id.
func (s *Store) GetMessage(ctx context.Context, messageID string) (message.Message, error) {
	if err := ctx.Err(); err != nil {
		return message.Message{}, err
	}
	if s == nil || s.sqlDB == nil {
		return message.Message{}, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(messageID) == "" {
		return message.Message{}, fmt.Errorf("message id is required")
	}

	row := s.sqlDB.QueryRowContext(
		ctx,
		`SELECT id, sender_id, recipient_id, content_kind, content_text, content_object_key, created_at
		 FROM messages WHERE id = ?`,
		messageID,
	)
	found, err := scanMessage(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return message.Message{}, message.ErrNotFound
		}
		return message.Message{}, fmt.Errorf("get message: %w", err)
	}
	return found, nil
}

// ListMessagesForUser returns messages sent or received by userID, newest first.
func (s *Store) ListMessagesForUser(ctx context.Context, userID string, limit int) ([]message.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("user id is required")
	}
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.sqlDB.QueryContext(
		ctx,
		`SELECT id, sender_id, recipient_id, content_kind, content_text, content_object_key, created_at
		 FROM messages
		 WHERE sender_id = ? OR recipient_id = ?
		 ORDER BY created_at DESC, id DESC
		 LIMIT ?`,
		userID,
		userID,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var listed []message.Message
	for rows.Next() {
		found, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		listed = append(listed, found)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return listed, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (message.Message, error) {
	var (
		found     message.Message
		kind      string
		createdAt int64
	)
	err := row.Scan(
		&found.ID,
		&found.SenderID,
		&found.RecipientID,
		&kind,
		&found.Content.Text,
		&found.Content.ObjectKey,
		&createdAt,
	)
	if err != nil {
		return message.Message{}, err
	}
	// Rows written before content kinds existed carry no tag and are inline.
	if kind == "" {
		kind = string(message.ContentKindInline)
	}
	found.Content.Kind = message.ContentKind(kind)
	found.CreatedAt = fromMillis(createdAt)
	return found, nil
}
