// Package sqlite is a single-file backend for both the key directory and
// the mailbox, for deployments without MongoDB and Redis.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"snapsafe/internal/model"
	"snapsafe/internal/repository"

	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS users (
	"username"   TEXT NOT NULL PRIMARY KEY,
	"public_key" BLOB NOT NULL,
	"updated_at" INTEGER NOT NULL);

CREATE TABLE IF NOT EXISTS messages (
	"id"            INTEGER PRIMARY KEY AUTOINCREMENT,
	"sender_id"     TEXT NOT NULL,
	"recipient_id"  TEXT NOT NULL,
	"encrypted_key" BLOB NOT NULL,
	"iv"            TEXT NOT NULL,
	"content"       BLOB NOT NULL,
	"type"          TEXT NOT NULL,
	"timestamp"     INTEGER NOT NULL,
	"stored_at"     INTEGER NOT NULL);

CREATE INDEX IF NOT EXISTS messages_recipient ON messages (recipient_id, id);`

// Store manages the users and messages tables.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open connects to the SQLite database at path and creates the tables if
// they do not exist yet. Use ":memory:" for a throwaway database.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_txlock=immediate", path)
	if path == ":memory:" {
		dsn = "file::memory:?_txlock=immediate"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// SQLite serializes writers anyway; one connection also keeps an
	// in-memory database alive and shared.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}

	return &Store{db: db, now: time.Now}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Upsert inserts or replaces the public key for identity and reports
// whether an existing entry was replaced.
func (s *Store) Upsert(ctx context.Context, identity string, publicKey json.RawMessage) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	var exists bool
	err = tx.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM users WHERE username = ?)`, identity).Scan(&exists)
	if err != nil {
		return false, err
	}

	upsertSQL := `
	INSERT INTO users (username, public_key, updated_at) VALUES (?, ?, ?)
	ON CONFLICT(username) DO UPDATE SET public_key = excluded.public_key, updated_at = excluded.updated_at`
	if _, err := tx.ExecContext(ctx, upsertSQL, identity, []byte(publicKey), s.now().UnixMilli()); err != nil {
		return false, fmt.Errorf("upsert user %s: %w", identity, err)
	}

	return exists, tx.Commit()
}

func (s *Store) Lookup(ctx context.Context, identity string) (*model.DirectoryEntry, error) {
	var (
		publicKey []byte
		updatedAt int64
	)
	err := s.db.QueryRowContext(ctx, `SELECT public_key, updated_at FROM users WHERE username = ?`, identity).
		Scan(&publicKey, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lookup user %s: %w", identity, err)
	}

	return &model.DirectoryEntry{
		Identity:  identity,
		PublicKey: json.RawMessage(publicKey),
		UpdatedAt: time.UnixMilli(updatedAt),
	}, nil
}

// Append stores the envelope with the wrapped key and ciphertext as blobs.
func (s *Store) Append(ctx context.Context, e *model.Envelope) error {
	wrappedKey, err := base64.StdEncoding.DecodeString(e.WrappedKey)
	if err != nil {
		return fmt.Errorf("decode encryptedKey: %w", err)
	}
	content, err := base64.StdEncoding.DecodeString(e.Ciphertext)
	if err != nil {
		return fmt.Errorf("decode content: %w", err)
	}

	insertSQL := `
	INSERT INTO messages (sender_id, recipient_id, encrypted_key, iv, content, type, timestamp, stored_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = s.db.ExecContext(ctx, insertSQL,
		e.SenderID, e.RecipientID, wrappedKey, e.IV, content, string(e.Kind),
		model.UnixMillis(e.CreatedAt), s.now().UnixMilli())
	if err != nil {
		return fmt.Errorf("append to mailbox %s: %w", e.RecipientID, err)
	}
	return nil
}

// DrainAll selects and deletes the recipient's rows in one transaction.
func (s *Store) DrainAll(ctx context.Context, recipientID string) ([]*model.Envelope, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
	SELECT id, sender_id, encrypted_key, iv, content, type, timestamp
	FROM messages WHERE recipient_id = ? ORDER BY id`, recipientID)
	if err != nil {
		return nil, fmt.Errorf("drain mailbox %s: %w", recipientID, err)
	}

	res := make([]*model.Envelope, 0)
	var lastID int64
	for rows.Next() {
		var (
			e          = &model.Envelope{RecipientID: recipientID}
			wrappedKey []byte
			content    []byte
			kind       string
			ts         int64
		)
		if err := rows.Scan(&lastID, &e.SenderID, &wrappedKey, &e.IV, &content, &kind, &ts); err != nil {
			rows.Close()
			return nil, err
		}
		e.WrappedKey = base64.StdEncoding.EncodeToString(wrappedKey)
		e.Ciphertext = base64.StdEncoding.EncodeToString(content)
		e.Kind = model.Kind(kind)
		e.CreatedAt = model.FromUnixMillis(ts)
		res = append(res, e)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(res) == 0 {
		return res, nil
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE recipient_id = ? AND id <= ?`, recipientID, lastID); err != nil {
		return nil, fmt.Errorf("purge mailbox %s: %w", recipientID, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit drain %s: %w", recipientID, err)
	}
	return res, nil
}
