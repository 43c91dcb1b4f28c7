// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/jeranaias/rigrun-chat/internal/model"
)

// =============================================================================
// ERRORS
// =============================================================================

// StoreError represents a storage-related error.
// It implements the error interface and can be compared using errors.Is.
type StoreError struct {
	Message string
}

// Error implements the error interface.
func (e *StoreError) Error() string {
	return e.Message
}

// Is implements errors.Is support for comparing store errors.
func (e *StoreError) Is(target error) bool {
	t, ok := target.(*StoreError)
	if !ok {
		return false
	}
	return e.Message == t.Message
}

var (
	// ErrChatNotFound is returned when a chat doesn't exist.
	ErrChatNotFound = &StoreError{Message: "chat not found"}

	// ErrMessageNotFound is returned when a message doesn't exist in the chat.
	ErrMessageNotFound = &StoreError{Message: "message not found"}

	// ErrChatMismatch is returned when a message id belongs to another chat.
	ErrChatMismatch = &StoreError{Message: "message belongs to another chat"}
)

// =============================================================================
// STORE
// =============================================================================

// DefaultListLimit bounds ListChats when no limit is given.
const DefaultListLimit = 100

// Store is a SQLite-backed chat store. It is safe for concurrent use.
type Store struct {
	db   *sql.DB
	path string
}

// DefaultPath returns ~/.rigrun-chat/chats.db.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".rigrun-chat", "chats.db"), nil
}

// Open opens (creating if needed) the database at path.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("storage: empty database path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	dsn := path + "?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite allows one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	if _, err := db.Exec(InitMetadata); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &Store{db: db, path: path}, nil
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// =============================================================================
// CHATS
// =============================================================================

// CreateChat inserts a new chat.
func (s *Store) CreateChat(ctx context.Context, chat model.Chat) error {
	if chat.ID == "" {
		return errors.New("storage: chat id is required")
	}
	if chat.Title == "" {
		chat.Title = model.DefaultTitle
	}
	now := time.Now()
	if chat.CreatedAt.IsZero() {
		chat.CreatedAt = now
	}
	if chat.UpdatedAt.IsZero() {
		chat.UpdatedAt = chat.CreatedAt
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chats (id, title, model, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		chat.ID, chat.Title, chat.Model, chat.CreatedAt.UnixMilli(), chat.UpdatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("create chat %s: %w", chat.ID, err)
	}
	return nil
}

// EnsureChat creates the chat if it does not exist. It reports whether a
// row was created.
func (s *Store) EnsureChat(ctx context.Context, id, modelName string) (bool, error) {
	now := time.Now().UnixMilli()
	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO chats (id, title, model, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		id, model.DefaultTitle, modelName, now, now)
	if err != nil {
		return false, fmt.Errorf("ensure chat %s: %w", id, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

const chatColumns = `c.id, c.title, c.model, c.created_at, c.updated_at,
	(SELECT COUNT(*) FROM messages m WHERE m.chat_id = c.id)`

func scanChat(row interface{ Scan(...any) error }) (model.Chat, error) {
	var c model.Chat
	var created, updated int64
	if err := row.Scan(&c.ID, &c.Title, &c.Model, &created, &updated, &c.MessageCount); err != nil {
		return model.Chat{}, err
	}
	c.CreatedAt = time.UnixMilli(created)
	c.UpdatedAt = time.UnixMilli(updated)
	return c, nil
}

// GetChat returns one chat with its message count.
func (s *Store) GetChat(ctx context.Context, id string) (model.Chat, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+chatColumns+` FROM chats c WHERE c.id = ?`, id)
	c, err := scanChat(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Chat{}, ErrChatNotFound
	}
	if err != nil {
		return model.Chat{}, fmt.Errorf("get chat %s: %w", id, err)
	}
	return c, nil
}

// ListChats returns chats by most recent activity.
func (s *Store) ListChats(ctx context.Context, limit int) ([]model.Chat, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+chatColumns+` FROM chats c ORDER BY c.updated_at DESC, c.id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list chats: %w", err)
	}
	defer rows.Close()

	chats := []model.Chat{}
	for rows.Next() {
		c, err := scanChat(rows)
		if err != nil {
			return nil, fmt.Errorf("list chats: %w", err)
		}
		chats = append(chats, c)
	}
	return chats, rows.Err()
}

// RenameChat sets a chat's title.
func (s *Store) RenameChat(ctx context.Context, id, title string) error {
	return s.execOne(ctx, ErrChatNotFound,
		`UPDATE chats SET title = ? WHERE id = ?`, model.TitleFromText(title), id)
}

// TouchChat sets a chat's last-activity time.
func (s *Store) TouchChat(ctx context.Context, id string, at time.Time) error {
	return s.execOne(ctx, ErrChatNotFound,
		`UPDATE chats SET updated_at = ? WHERE id = ?`, at.UnixMilli(), id)
}

// DeleteChat removes a chat and its messages.
func (s *Store) DeleteChat(ctx context.Context, id string) error {
	return s.execOne(ctx, ErrChatNotFound, `DELETE FROM chats WHERE id = ?`, id)
}

func (s *Store) execOne(ctx context.Context, notFound error, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound
	}
	return nil
}

// =============================================================================
// MESSAGES
// =============================================================================

// UpsertMessage inserts msg at the end of the chat, or replaces its role,
// parts and metadata when it already exists. The first user message names
// a chat that still has the default title. The chat's last-activity time
// is updated.
func (s *Store) UpsertMessage(ctx context.Context, chatID string, msg model.Message) error {
	if msg.ID == "" {
		return errors.New("storage: message id is required")
	}
	parts, err := json.Marshal(msg.Parts)
	if err != nil {
		return fmt.Errorf("encode parts: %w", err)
	}
	var meta sql.NullString
	if msg.Metadata != nil {
		b, err := json.Marshal(msg.Metadata)
		if err != nil {
			return fmt.Errorf("encode metadata: %w", err)
		}
		meta = sql.NullString{String: string(b), Valid: true}
	}

	now := time.Now()
	created := msg.CreatedAt
	if created.IsZero() {
		created = now
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var title string
	if err := tx.QueryRowContext(ctx, `SELECT title FROM chats WHERE id = ?`, chatID).Scan(&title); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrChatNotFound
		}
		return err
	}

	var owner string
	err = tx.QueryRowContext(ctx, `SELECT chat_id FROM messages WHERE id = ?`, msg.ID).Scan(&owner)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		_, err = tx.ExecContext(ctx, `
			INSERT INTO messages (id, chat_id, seq, role, parts, metadata, created_at, updated_at)
			VALUES (?, ?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM messages WHERE chat_id = ?), ?, ?, ?, ?, ?)`,
			msg.ID, chatID, chatID, string(msg.Role), string(parts), meta, created.UnixMilli(), now.UnixMilli())
	case err != nil:
		return err
	case owner != chatID:
		return ErrChatMismatch
	default:
		_, err = tx.ExecContext(ctx,
			`UPDATE messages SET role = ?, parts = ?, metadata = ?, updated_at = ? WHERE id = ?`,
			string(msg.Role), string(parts), meta, now.UnixMilli(), msg.ID)
	}
	if err != nil {
		return fmt.Errorf("upsert message %s: %w", msg.ID, err)
	}

	if title == model.DefaultTitle && msg.Role == model.RoleUser {
		if t := model.TitleFromText(msg.Text()); t != model.DefaultTitle {
			if _, err := tx.ExecContext(ctx, `UPDATE chats SET title = ? WHERE id = ?`, t, chatID); err != nil {
				return err
			}
		}
	}
	if _, err := tx.ExecContext(ctx, `UPDATE chats SET updated_at = ? WHERE id = ?`, now.UnixMilli(), chatID); err != nil {
		return err
	}
	return tx.Commit()
}

const messageColumns = `id, chat_id, role, parts, metadata, created_at, updated_at`

func scanMessage(row interface{ Scan(...any) error }) (model.Message, error) {
	var m model.Message
	var role, parts string
	var meta sql.NullString
	var created, updated int64
	if err := row.Scan(&m.ID, &m.ChatID, &role, &parts, &meta, &created, &updated); err != nil {
		return model.Message{}, err
	}
	m.Role = model.Role(role)
	if err := json.Unmarshal([]byte(parts), &m.Parts); err != nil {
		return model.Message{}, fmt.Errorf("decode parts of %s: %w", m.ID, err)
	}
	if meta.Valid {
		m.Metadata = &model.Metadata{}
		if err := json.Unmarshal([]byte(meta.String), m.Metadata); err != nil {
			return model.Message{}, fmt.Errorf("decode metadata of %s: %w", m.ID, err)
		}
	}
	m.CreatedAt = time.UnixMilli(created)
	m.UpdatedAt = time.UnixMilli(updated)
	return m, nil
}

// GetMessages returns the chat's messages in order.
func (s *Store) GetMessages(ctx context.Context, chatID string) ([]model.Message, error) {
	if _, err := s.GetChat(ctx, chatID); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE chat_id = ? ORDER BY seq`, chatID)
	if err != nil {
		return nil, fmt.Errorf("get messages: %w", err)
	}
	defer rows.Close()

	msgs := []model.Message{}
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// GetMessage returns one message of a chat.
func (s *Store) GetMessage(ctx context.Context, chatID, id string) (model.Message, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE chat_id = ? AND id = ?`, chatID, id)
	m, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Message{}, ErrMessageNotFound
	}
	return m, err
}

// DeleteMessagesFrom removes messageID and every later message of the
// chat, returning the number of rows removed.
func (s *Store) DeleteMessagesFrom(ctx context.Context, chatID, messageID string) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	var seq int64
	err = tx.QueryRowContext(ctx,
		`SELECT seq FROM messages WHERE chat_id = ? AND id = ?`, chatID, messageID).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrMessageNotFound
	}
	if err != nil {
		return 0, err
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE chat_id = ? AND seq >= ?`, chatID, seq)
	if err != nil {
		return 0, fmt.Errorf("delete messages: %w", err)
	}
	n, _ := res.RowsAffected()

	if _, err := tx.ExecContext(ctx, `UPDATE chats SET updated_at = ? WHERE id = ?`,
		time.Now().UnixMilli(), chatID); err != nil {
		return 0, err
	}
	return n, tx.Commit()
}
