package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/wenhaiyang6/parenting/internal/models"
)

// SQLiteStorage implements Storage using SQLite. Sources and follow-up questions are stored
// as JSON columns on the message row.
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage opens or creates a SQLite database at dbPath and initializes the schema.
// Parent directories are created if they do not exist.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	// Immediate transactions take the write lock up front, so concurrent appends queue on
	// the busy timeout instead of failing on lock upgrade.
	db, err := sql.Open("sqlite3", "file:"+dbPath+"?_busy_timeout=5000&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS conversations (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		title TEXT,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_conversations_user ON conversations(user_id);

	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		conversation_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		question TEXT NOT NULL,
		answer TEXT NOT NULL,
		timestamp TEXT NOT NULL,
		sources TEXT,
		follow_up_questions TEXT,
		FOREIGN KEY (conversation_id) REFERENCES conversations(id) ON DELETE CASCADE
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_messages_conversation_seq ON messages(conversation_id, seq);
	`
	_, err := db.Exec(schema)
	return err
}

// FindByUser returns the user's conversations ordered by updated_at descending.
func (s *SQLiteStorage) FindByUser(ctx context.Context, userID string) ([]*models.Conversation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, title, created_at, updated_at
		 FROM conversations WHERE user_id = ?`, userID,
	)
	if err != nil {
		return nil, err
	}
	var convs []*models.Conversation
	for rows.Next() {
		var c models.Conversation
		var title sql.NullString
		if err := rows.Scan(&c.ID, &c.UserID, &title, &c.CreatedAt, &c.UpdatedAt); err != nil {
			rows.Close()
			return nil, err
		}
		c.Title = title.String
		convs = append(convs, &c)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, c := range convs {
		msgs, err := loadMessages(ctx, s.db, c.ID)
		if err != nil {
			return nil, err
		}
		c.Messages = msgs
	}
	SortByUpdated(convs)
	return convs, nil
}

// FindByID returns a conversation with its messages.
func (s *SQLiteStorage) FindByID(ctx context.Context, id string) (*models.Conversation, error) {
	c, err := getConversation(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if c.Messages, err = loadMessages(ctx, s.db, id); err != nil {
		return nil, err
	}
	return c, nil
}

// AppendMessage inserts msg as the next message of the conversation in one transaction.
func (s *SQLiteStorage) AppendMessage(ctx context.Context, id, userID, title string, msg models.Message) (*models.Conversation, error) {
	sourcesJSON, err := json.Marshal(msg.Sources)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal sources: %w", err)
	}
	followUpsJSON, err := json.Marshal(msg.FollowUpQuestions)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal follow-up questions: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	conv, err := getConversation(ctx, tx, id)
	switch {
	case errors.Is(err, ErrNotFound):
		now := time.Now().UTC()
		conv = &models.Conversation{ID: id, UserID: userID, Title: title, CreatedAt: now, UpdatedAt: now}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO conversations (id, user_id, title, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
			conv.ID, conv.UserID, conv.Title, conv.CreatedAt, conv.UpdatedAt,
		); err != nil {
			return nil, err
		}
	case err != nil:
		return nil, err
	case !conv.OwnedBy(userID):
		return nil, ErrNotFound
	default:
		conv.UpdatedAt = nextUpdatedAt(conv.UpdatedAt, time.Microsecond)
		if _, err := tx.ExecContext(ctx,
			`UPDATE conversations SET updated_at = ? WHERE id = ?`, conv.UpdatedAt, conv.ID,
		); err != nil {
			return nil, err
		}
	}

	var seq int
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), -1) + 1 FROM messages WHERE conversation_id = ?`, id,
	).Scan(&seq); err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO messages (id, conversation_id, seq, question, answer, timestamp, sources, follow_up_questions)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, id, seq, msg.Text, msg.Answer, msg.Timestamp, string(sourcesJSON), string(followUpsJSON),
	); err != nil {
		return nil, err
	}

	if conv.Messages, err = loadMessages(ctx, tx, id); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return conv, nil
}

// DeleteByID removes a conversation and its messages when owned by userID.
func (s *SQLiteStorage) DeleteByID(ctx context.Context, id, userID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `DELETE FROM conversations WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return err
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE conversation_id = ?`, id); err != nil {
		return err
	}
	return tx.Commit()
}

// CountConversations returns the total number of conversations.
func (s *SQLiteStorage) CountConversations(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM conversations`).Scan(&count)
	return count, err
}

// CountMessages returns the total number of messages.
func (s *SQLiteStorage) CountMessages(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages`).Scan(&count)
	return count, err
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getConversation(ctx context.Context, q queryer, id string) (*models.Conversation, error) {
	var c models.Conversation
	var title sql.NullString
	err := q.QueryRowContext(ctx,
		`SELECT id, user_id, title, created_at, updated_at FROM conversations WHERE id = ?`, id,
	).Scan(&c.ID, &c.UserID, &title, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	c.Title = title.String
	return &c, nil
}

func loadMessages(ctx context.Context, q queryer, conversationID string) ([]models.Message, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT id, question, answer, timestamp, sources, follow_up_questions
		 FROM messages WHERE conversation_id = ? ORDER BY seq`, conversationID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	msgs := []models.Message{}
	for rows.Next() {
		var m models.Message
		var sourcesJSON, followUpsJSON sql.NullString
		if err := rows.Scan(&m.ID, &m.Text, &m.Answer, &m.Timestamp, &sourcesJSON, &followUpsJSON); err != nil {
			return nil, err
		}
		if sourcesJSON.String != "" {
			if err := json.Unmarshal([]byte(sourcesJSON.String), &m.Sources); err != nil {
				return nil, fmt.Errorf("failed to unmarshal sources: %w", err)
			}
		}
		if followUpsJSON.String != "" {
			if err := json.Unmarshal([]byte(followUpsJSON.String), &m.FollowUpQuestions); err != nil {
				return nil, fmt.Errorf("failed to unmarshal follow-up questions: %w", err)
			}
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// SortByUpdated orders conversations most recently updated first, breaking ties by id.
func SortByUpdated(convs []*models.Conversation) {
	sort.SliceStable(convs, func(i, j int) bool {
		if !convs[i].UpdatedAt.Equal(convs[j].UpdatedAt) {
			return convs[i].UpdatedAt.After(convs[j].UpdatedAt)
		}
		return convs[i].ID > convs[j].ID
	})
}
