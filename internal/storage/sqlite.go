package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite" // SQLite driver registration

	"convo-chat/internal/identity"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS users (
	id   INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL UNIQUE
);
CREATE TABLE IF NOT EXISTS conversations (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id    INTEGER,
	created_at DATETIME NOT NULL
);
CREATE TABLE IF NOT EXISTS messages (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	conversation_id INTEGER NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
	sender          TEXT NOT NULL CHECK (sender IN ('user', 'bot')),
	content         TEXT NOT NULL,
	created_at      DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, id);
`

// SQLiteStore keeps conversations, messages and identities in one SQLite
// database. AUTOINCREMENT guarantees ids are never reused after deletes.
type SQLiteStore struct {
	db  *sql.DB
	log *zap.Logger
}

// NewSQLiteStore opens (and migrates) the database at path. ":memory:" is
// accepted for tests.
func NewSQLiteStore(path string, logger *zap.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	dsn := path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection serializes writers and keeps ":memory:" databases
	// alive for the lifetime of the store.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if path != ":memory:" {
		if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
			logger.Debug("failed to set sqlite journal_mode=WAL", zap.Error(err))
		}
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info("sqlite history store ready", zap.String("path", path))
	return &SQLiteStore{db: db, log: logger}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
}

func (s *SQLiteStore) CreateConversation(ctx context.Context, ownerID *int64) (Conversation, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Conversation{}, unavailable("begin create conversation", err)
	}
	defer func() { _ = tx.Rollback() }()

	conv, err := insertConversation(ctx, tx, ownerID)
	if err != nil {
		return Conversation{}, err
	}
	if err := tx.Commit(); err != nil {
		return Conversation{}, unavailable("commit create conversation", err)
	}
	return conv, nil
}

func (s *SQLiteStore) GetConversation(ctx context.Context, id int64) (Conversation, error) {
	return selectConversation(ctx, s.db, id)
}

func (s *SQLiteStore) ResolveConversation(ctx context.Context, candidate *int64, ownerID *int64) (Conversation, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Conversation{}, false, unavailable("begin resolve conversation", err)
	}
	defer func() { _ = tx.Rollback() }()

	if candidate != nil {
		conv, err := selectConversation(ctx, tx, *candidate)
		if err == nil {
			if err := tx.Commit(); err != nil {
				return Conversation{}, false, unavailable("commit resolve conversation", err)
			}
			return conv, false, nil
		}
		if !errors.Is(err, ErrConversationNotFound) {
			return Conversation{}, false, err
		}
	}

	conv, err := insertConversation(ctx, tx, ownerID)
	if err != nil {
		return Conversation{}, false, err
	}
	if err := tx.Commit(); err != nil {
		return Conversation{}, false, unavailable("commit resolve conversation", err)
	}
	return conv, true, nil
}

func (s *SQLiteStore) DeleteConversation(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM conversations WHERE id = ?", id)
	if err != nil {
		return unavailable("delete conversation", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return unavailable("delete conversation", err)
	}
	if n == 0 {
		return ErrConversationNotFound
	}
	return nil
}

func (s *SQLiteStore) Append(ctx context.Context, conversationID int64, sender Sender, content string) (Message, error) {
	if !sender.Valid() {
		return Message{}, fmt.Errorf("%w: %q", ErrInvalidSender, sender)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Message{}, unavailable("begin append", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := selectConversation(ctx, tx, conversationID); err != nil {
		return Message{}, err
	}
	msg, err := insertMessage(ctx, tx, conversationID, sender, content)
	if err != nil {
		return Message{}, err
	}
	if err := tx.Commit(); err != nil {
		return Message{}, unavailable("commit append", err)
	}
	return msg, nil
}

func (s *SQLiteStore) AppendExchange(ctx context.Context, conversationID int64, userContent, botContent string) (Message, Message, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Message{}, Message{}, unavailable("begin append exchange", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := selectConversation(ctx, tx, conversationID); err != nil {
		return Message{}, Message{}, err
	}
	user, err := insertMessage(ctx, tx, conversationID, SenderUser, userContent)
	if err != nil {
		return Message{}, Message{}, err
	}
	bot, err := insertMessage(ctx, tx, conversationID, SenderBot, botContent)
	if err != nil {
		return Message{}, Message{}, err
	}
	if err := tx.Commit(); err != nil {
		return Message{}, Message{}, unavailable("commit append exchange", err)
	}
	return user, bot, nil
}

func (s *SQLiteStore) ListMessages(ctx context.Context, conversationID int64) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, conversation_id, sender, content, created_at
		 FROM messages
		 WHERE conversation_id = ?
		 ORDER BY id`,
		conversationID,
	)
	if err != nil {
		return nil, unavailable("query messages", err)
	}
	defer rows.Close()

	msgs := []Message{}
	for rows.Next() {
		var m Message
		var sender string
		if err := rows.Scan(&m.ID, &m.ConversationID, &sender, &m.Content, &m.CreatedAt); err != nil {
			return nil, unavailable("scan message", err)
		}
		m.Sender = Sender(sender)
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("iterate messages", err)
	}
	return msgs, nil
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func selectConversation(ctx context.Context, q querier, id int64) (Conversation, error) {
	var conv Conversation
	var owner sql.NullInt64
	err := q.QueryRowContext(ctx,
		"SELECT id, user_id, created_at FROM conversations WHERE id = ?", id,
	).Scan(&conv.ID, &owner, &conv.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Conversation{}, ErrConversationNotFound
	}
	if err != nil {
		return Conversation{}, unavailable("select conversation", err)
	}
	if owner.Valid {
		o := owner.Int64
		conv.OwnerID = &o
	}
	return conv, nil
}

func insertConversation(ctx context.Context, tx *sql.Tx, ownerID *int64) (Conversation, error) {
	now := time.Now().UTC()
	var owner sql.NullInt64
	if ownerID != nil {
		owner = sql.NullInt64{Int64: *ownerID, Valid: true}
	}
	res, err := tx.ExecContext(ctx, "INSERT INTO conversations (user_id, created_at) VALUES (?, ?)", owner, now)
	if err != nil {
		return Conversation{}, unavailable("insert conversation", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Conversation{}, unavailable("insert conversation", err)
	}
	return Conversation{ID: id, OwnerID: ownerID, CreatedAt: now}, nil
}

func insertMessage(ctx context.Context, tx *sql.Tx, conversationID int64, sender Sender, content string) (Message, error) {
	now := time.Now().UTC()
	res, err := tx.ExecContext(ctx,
		"INSERT INTO messages (conversation_id, sender, content, created_at) VALUES (?, ?, ?, ?)",
		conversationID, string(sender), content, now,
	)
	if err != nil {
		return Message{}, unavailable("insert message", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Message{}, unavailable("insert message", err)
	}
	return Message{ID: id, ConversationID: conversationID, Sender: sender, Content: content, CreatedAt: now}, nil
}

// Users exposes the users table as an identity repository.
func (s *SQLiteStore) Users() *SQLiteUsers {
	return &SQLiteUsers{db: s.db}
}

type SQLiteUsers struct {
	db *sql.DB
}

func (u *SQLiteUsers) LoadAll(ctx context.Context) ([]identity.User, error) {
	rows, err := u.db.QueryContext(ctx, "SELECT id, name FROM users ORDER BY id")
	if err != nil {
		return nil, unavailable("query users", err)
	}
	defer rows.Close()

	var users []identity.User
	for rows.Next() {
		var usr identity.User
		if err := rows.Scan(&usr.ID, &usr.Name); err != nil {
			return nil, unavailable("scan user", err)
		}
		users = append(users, usr)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("iterate users", err)
	}
	return users, nil
}

func (u *SQLiteUsers) Upsert(ctx context.Context, user identity.User) (identity.User, error) {
	name := strings.TrimSpace(user.Name)
	if name == "" {
		return identity.User{}, errors.New("user name is required")
	}
	if user.ID != 0 {
		_, err := u.db.ExecContext(ctx,
			"INSERT INTO users (id, name) VALUES (?, ?) ON CONFLICT(id) DO UPDATE SET name = excluded.name",
			user.ID, name,
		)
		if err != nil {
			return identity.User{}, unavailable("upsert user", err)
		}
		return identity.User{ID: user.ID, Name: name}, nil
	}

	if _, err := u.db.ExecContext(ctx, "INSERT OR IGNORE INTO users (name) VALUES (?)", name); err != nil {
		return identity.User{}, unavailable("insert user", err)
	}
	out := identity.User{Name: name}
	if err := u.db.QueryRowContext(ctx, "SELECT id FROM users WHERE name = ?", name).Scan(&out.ID); err != nil {
		return identity.User{}, unavailable("select user", err)
	}
	return out, nil
}
