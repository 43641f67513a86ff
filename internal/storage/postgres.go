package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/extra/bundebug"

	"github.com/wenhaiyang6/parenting/internal/models"
)

type conversationRow struct {
	bun.BaseModel `bun:"table:conversations,alias:c"`
	ID            string           `bun:"id,pk"`
	UserID        string           `bun:"user_id,notnull"`
	Title         string           `bun:"title"`
	Messages      []models.Message `bun:"messages,type:jsonb,notnull"`
	CreatedAt     time.Time        `bun:"created_at,notnull"`
	UpdatedAt     time.Time        `bun:"updated_at,notnull"`
}

func (r *conversationRow) toModel() *models.Conversation {
	msgs := r.Messages
	if msgs == nil {
		msgs = []models.Message{}
	}
	return &models.Conversation{
		ID:        r.ID,
		UserID:    r.UserID,
		Title:     r.Title,
		Messages:  msgs,
		CreatedAt: r.CreatedAt.UTC(),
		UpdatedAt: r.UpdatedAt.UTC(),
	}
}

// PostgresStorage implements Storage on PostgreSQL through bun, keeping messages in a
// JSONB column.
type PostgresStorage struct {
	db *bun.DB
}

// NewPostgresStorage connects with dsn and creates the schema if needed. queryLog enables
// bundebug verbose query logging.
func NewPostgresStorage(ctx context.Context, dsn string, queryLog bool) (*PostgresStorage, error) {
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	db := NewBunDB(sqldb, queryLog)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	s := &PostgresStorage{db: db}
	if err := s.initSchema(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

// NewBunDB wraps an open *sql.DB with the postgres dialect.
func NewBunDB(sqldb *sql.DB, queryLog bool) *bun.DB {
	db := bun.NewDB(sqldb, pgdialect.New())
	if queryLog {
		db.AddQueryHook(bundebug.NewQueryHook(bundebug.WithVerbose(true)))
	}
	return db
}

func (s *PostgresStorage) initSchema(ctx context.Context) error {
	if _, err := s.db.NewCreateTable().Model((*conversationRow)(nil)).IfNotExists().Exec(ctx); err != nil {
		return err
	}
	_, err := s.db.NewCreateIndex().
		Model((*conversationRow)(nil)).
		Index("idx_conversations_user_updated").
		IfNotExists().
		Column("user_id", "updated_at").
		Exec(ctx)
	return err
}

// FindByUser returns the user's conversations ordered by updated_at descending.
func (s *PostgresStorage) FindByUser(ctx context.Context, userID string) ([]*models.Conversation, error) {
	var rows []conversationRow
	err := s.db.NewSelect().
		Model(&rows).
		Where("user_id = ?", userID).
		OrderExpr("updated_at DESC, id DESC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	convs := make([]*models.Conversation, 0, len(rows))
	for i := range rows {
		convs = append(convs, rows[i].toModel())
	}
	return convs, nil
}

// FindByID returns a conversation by id.
func (s *PostgresStorage) FindByID(ctx context.Context, id string) (*models.Conversation, error) {
	row := new(conversationRow)
	err := s.db.NewSelect().Model(row).Where("id = ?", id).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return row.toModel(), nil
}

// postgresAppendAttempts bounds how often a lost create race is retried.
const postgresAppendAttempts = 3

// AppendMessage locks the conversation row for the length of the transaction and appends.
// When another process creates the same conversation first, the insert does nothing and the
// locked select runs again, now seeing the committed row.
func (s *PostgresStorage) AppendMessage(ctx context.Context, id, userID, title string, msg models.Message) (*models.Conversation, error) {
	var out *models.Conversation
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		return retryConflict(postgresAppendAttempts, func() error {
			row, err := appendTx(ctx, tx, id, userID, title, msg)
			if err != nil {
				return err
			}
			out = row.toModel()
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func appendTx(ctx context.Context, tx bun.Tx, id, userID, title string, msg models.Message) (*conversationRow, error) {
	row := new(conversationRow)
	err := tx.NewSelect().Model(row).Where("id = ?", id).For("UPDATE").Scan(ctx)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		now := time.Now().UTC().Truncate(time.Microsecond)
		row = &conversationRow{
			ID: id, UserID: userID, Title: title,
			Messages:  []models.Message{msg},
			CreatedAt: now, UpdatedAt: now,
		}
		res, err := tx.NewInsert().Model(row).On("CONFLICT (id) DO NOTHING").Exec(ctx)
		if err != nil {
			return nil, err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return nil, ErrConflict
		}
		return row, nil
	case err != nil:
		return nil, err
	case row.UserID != userID:
		return nil, ErrNotFound
	}
	row.Messages = append(row.Messages, msg)
	row.UpdatedAt = nextUpdatedAt(row.UpdatedAt.UTC(), time.Microsecond)
	if _, err := tx.NewUpdate().Model(row).Column("messages", "updated_at").WherePK().Exec(ctx); err != nil {
		return nil, err
	}
	return row, nil
}

// DeleteByID deletes a conversation owned by userID.
func (s *PostgresStorage) DeleteByID(ctx context.Context, id, userID string) error {
	res, err := s.db.NewDelete().
		Model((*conversationRow)(nil)).
		Where("id = ?", id).
		Where("user_id = ?", userID).
		Exec(ctx)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// CountConversations returns the total number of conversations.
func (s *PostgresStorage) CountConversations(ctx context.Context) (int64, error) {
	n, err := s.db.NewSelect().Model((*conversationRow)(nil)).Count(ctx)
	return int64(n), err
}

// CountMessages sums the JSONB array lengths.
func (s *PostgresStorage) CountMessages(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.NewSelect().
		Model((*conversationRow)(nil)).
		ColumnExpr("COALESCE(SUM(jsonb_array_length(messages)), 0)").
		Scan(ctx, &n)
	return n, err
}

// Close closes the database.
func (s *PostgresStorage) Close() error {
	return s.db.Close()
}
