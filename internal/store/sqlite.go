package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/duetlabs/duet/internal/domain"
	"github.com/duetlabs/duet/internal/shared"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements ConversationStore using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
	// appendMu serializes appends so sequence numbers stay dense.
	appendMu sync.Mutex
}

// NewSQLite opens (and creates) the database at dbPath.
func NewSQLite(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	dsn := dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(8)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &SQLiteStore{db: db, logger: logger}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS conversations (
		id TEXT PRIMARY KEY,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_conversations_created ON conversations(created_at);

	CREATE TABLE IF NOT EXISTS messages (
		conversation_id TEXT NOT NULL REFERENCES conversations(id),
		seq INTEGER NOT NULL,
		kind TEXT NOT NULL,
		text TEXT NOT NULL DEFAULT '',
		local_date TEXT,
		local_clock TEXT,
		tool_calls_json TEXT,
		tool_call_id TEXT,
		tool_name TEXT,
		created_at INTEGER NOT NULL,
		PRIMARY KEY (conversation_id, seq)
	);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// CreateConversation inserts a new empty conversation.
func (s *SQLiteStore) CreateConversation(ctx context.Context) (string, error) {
	id := uuid.NewString()
	now := nowMillis()
	err := shared.RetryOnConflict(ctx, shared.DefaultRetryPolicy, "create conversation", func() error {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO conversations (id, created_at, updated_at) VALUES (?, ?, ?)`, id, now, now)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("insert conversation: %w", err)
	}
	return id, nil
}

// AppendMessages writes msgs after the last stored message in one transaction.
func (s *SQLiteStore) AppendMessages(ctx context.Context, id string, msgs []domain.Message) error {
	if len(msgs) == 0 {
		return nil
	}

	s.appendMu.Lock()
	defer s.appendMu.Unlock()

	return shared.RetryOnConflict(ctx, shared.DefaultRetryPolicy, "append messages", func() error {
		return s.appendOnce(ctx, id, msgs)
	})
}

func (s *SQLiteStore) appendOnce(ctx context.Context, id string, msgs []domain.Message) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin append: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				s.logger.Warn("rollback append", "conversation_id", id, "error", rbErr)
			}
		}
	}()

	var next int64
	row := tx.QueryRowContext(ctx, `
		SELECT COALESCE((SELECT MAX(seq) + 1 FROM messages WHERE conversation_id = ?), 0)
		FROM conversations WHERE id = ?`, id, id)
	if err = row.Scan(&next); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("append to %s: %w", id, ErrNotFound)
		}
		return fmt.Errorf("read next sequence: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO messages (conversation_id, seq, kind, text, local_date, local_clock,
		                      tool_calls_json, tool_call_id, tool_name, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for i, m := range msgs {
		var calls any
		if len(m.ToolCalls) > 0 {
			b, mErr := json.Marshal(m.ToolCalls)
			if mErr != nil {
				return fmt.Errorf("encode tool calls: %w", mErr)
			}
			calls = string(b)
		}
		_, err = stmt.ExecContext(ctx,
			id, next+int64(i), string(m.Kind), m.Text,
			nullable(m.Date), nullable(m.Clock), calls,
			nullable(m.ToolCallID), nullable(m.ToolName), m.CreatedAt.UnixMilli(),
		)
		if err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
	}

	if _, err = tx.ExecContext(ctx, `UPDATE conversations SET updated_at = ? WHERE id = ?`, nowMillis(), id); err != nil {
		return fmt.Errorf("touch conversation: %w", err)
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit append: %w", err)
	}
	return nil
}

// LoadMessages returns the log of a conversation ordered by sequence.
func (s *SQLiteStore) LoadMessages(ctx context.Context, id string) ([]domain.Message, error) {
	var exists int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM conversations WHERE id = ?`, id).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("load %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("lookup conversation: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT kind, text, local_date, local_clock, tool_calls_json, tool_call_id, tool_name, created_at
		FROM messages WHERE conversation_id = ? ORDER BY seq`, id)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			s.logger.Warn("failed to close message rows", "error", closeErr)
		}
	}()

	msgs := []domain.Message{}
	for rows.Next() {
		var (
			m                                    domain.Message
			kind                                 string
			date, clock, calls, callID, toolName sql.NullString
			createdAt                            int64
		)
		if err := rows.Scan(&kind, &m.Text, &date, &clock, &calls, &callID, &toolName, &createdAt); err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		m.Kind = domain.Kind(kind)
		m.Date = date.String
		m.Clock = clock.String
		m.ToolCallID = callID.String
		m.ToolName = toolName.String
		m.CreatedAt = time.UnixMilli(createdAt)
		if calls.Valid && calls.String != "" {
			if err := json.Unmarshal([]byte(calls.String), &m.ToolCalls); err != nil {
				return nil, fmt.Errorf("decode tool calls: %w", err)
			}
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return msgs, nil
}

// LatestConversationID returns the newest conversation id, or "" when the table is empty.
func (s *SQLiteStore) LatestConversationID(ctx context.Context) (string, error) {
	var id string
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM conversations ORDER BY created_at DESC, rowid DESC LIMIT 1`).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("query latest conversation: %w", err)
	}
	return id, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
