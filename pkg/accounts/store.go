// Package accounts maps chat participants to their registered game nicknames.
package accounts

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dotsetgreg/addressbot/pkg/logger"
	lru "github.com/hashicorp/golang-lru/v2"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a participant has no registered nickname.
var ErrNotFound = errors.New("accounts: nickname not registered")

const (
	defaultCacheSize = 512
	maxNicknameRunes = 32
)

// Store persists nicknames in SQLite and serves reads from an LRU cache.
type Store struct {
	db    *sql.DB
	cache *lru.Cache[string, string]
}

// Open creates or opens the accounts database at path. cacheSize <= 0 uses
// the default.
func Open(path string, cacheSize int) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create accounts db dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cacheSize <= 0 {
		cacheSize = defaultCacheSize
	}
	cache, err := lru.New[string, string](cacheSize)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create nickname cache: %w", err)
	}

	s := &Store{db: db, cache: cache}
	if err := s.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) init() error {
	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`PRAGMA synchronous=NORMAL;`,
		`PRAGMA busy_timeout=5000;`,
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			active_nickname TEXT
		);`,
		`CREATE TABLE IF NOT EXISTS game_accounts (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id TEXT NOT NULL UNIQUE REFERENCES users(id) ON DELETE CASCADE,
			nickname TEXT NOT NULL,
			registered_at_ms INTEGER NOT NULL
		);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("init accounts schema: %w", err)
		}
	}
	return nil
}

// ValidateNickname trims and checks a nickname for registration.
func ValidateNickname(nickname string) (string, error) {
	nickname = strings.TrimSpace(nickname)
	if nickname == "" {
		return "", fmt.Errorf("nickname is required")
	}
	if len([]rune(nickname)) > maxNicknameRunes {
		return "", fmt.Errorf("nickname is longer than %d characters", maxNicknameRunes)
	}
	if strings.ContainsAny(nickname, "\n\r\t") {
		return "", fmt.Errorf("nickname must be a single line")
	}
	return nickname, nil
}

// Register sets the participant's nickname and returns the one it replaced,
// or "" for a first registration.
func (s *Store) Register(ctx context.Context, userID, nickname string) (string, error) {
	nickname, err := ValidateNickname(nickname)
	if err != nil {
		return "", err
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return "", fmt.Errorf("user id is required")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin register: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var previous sql.NullString
	err = tx.QueryRowContext(ctx, `SELECT nickname FROM game_accounts WHERE user_id = ?`, userID).Scan(&previous)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("lookup account: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
INSERT INTO users(id, active_nickname) VALUES(?, ?)
ON CONFLICT(id) DO UPDATE SET active_nickname = excluded.active_nickname`, userID, nickname); err != nil {
		return "", fmt.Errorf("upsert user: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
INSERT INTO game_accounts(user_id, nickname, registered_at_ms) VALUES(?, ?, ?)
ON CONFLICT(user_id) DO UPDATE SET
	nickname = excluded.nickname,
	registered_at_ms = excluded.registered_at_ms`, userID, nickname, time.Now().UnixMilli()); err != nil {
		return "", fmt.Errorf("upsert account: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit register: %w", err)
	}

	s.cache.Add(userID, nickname)
	logger.InfoCF("accounts", "Nickname registered", map[string]interface{}{
		"user_id":  userID,
		"nickname": nickname,
		"replaced": previous.String,
	})
	return previous.String, nil
}

// Nickname returns the participant's active nickname or ErrNotFound.
func (s *Store) Nickname(ctx context.Context, userID string) (string, error) {
	userID = strings.TrimSpace(userID)
	if nick, ok := s.cache.Get(userID); ok {
		return nick, nil
	}

	var nick sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT active_nickname FROM users WHERE id = ?`, userID).Scan(&nick)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && !nick.Valid) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("lookup nickname: %w", err)
	}

	s.cache.Add(userID, nick.String)
	return nick.String, nil
}

// Delete removes the participant's registration and returns the removed
// nickname, or ErrNotFound when nothing was registered.
func (s *Store) Delete(ctx context.Context, userID string) (string, error) {
	userID = strings.TrimSpace(userID)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin delete: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var nick string
	err = tx.QueryRowContext(ctx, `SELECT nickname FROM game_accounts WHERE user_id = ?`, userID).Scan(&nick)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("lookup account: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM game_accounts WHERE user_id = ?`, userID); err != nil {
		return "", fmt.Errorf("delete account: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE users SET active_nickname = NULL WHERE id = ?`, userID); err != nil {
		return "", fmt.Errorf("clear active nickname: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit delete: %w", err)
	}

	s.cache.Remove(userID)
	return nick, nil
}

// Count returns the number of registered accounts.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM game_accounts`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count accounts: %w", err)
	}
	return n, nil
}
