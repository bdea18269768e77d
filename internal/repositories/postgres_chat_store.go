package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"marketplace-chat/internal/models"
)

const messageColumns = `m.id, m.sender, m.content, m.file, m.received, m.seen, m.created_at`

// PostgresChatStore is a sqlx implementation of ChatStore. Each user's
// sessions live in chat_sessions keyed by (owner, counterpart); every append
// runs in its own transaction so one owner copy is written atomically.
type PostgresChatStore struct {
	db *sqlx.DB
}

// NewPostgresChatStore constructs a PostgresChatStore.
func NewPostgresChatStore(db *sqlx.DB) *PostgresChatStore {
	return &PostgresChatStore{db: db}
}

// FindByUserName loads the user's record with all sessions and messages.
func (r *PostgresChatStore) FindByUserName(ctx context.Context, userName string) (models.UserChats, error) {
	exists, err := r.userExists(ctx, userName)
	if err != nil {
		return models.UserChats{}, err
	}
	if !exists {
		return models.UserChats{}, ErrUserChatsNotFound
	}

	rows, err := r.db.QueryxContext(ctx, `SELECT s.counterpart, `+messageColumns+`
        FROM chat_sessions s
        LEFT JOIN chat_messages m ON m.session_id = s.id
        WHERE s.owner=$1
        ORDER BY s.id ASC, m.seq ASC`, userName)
	if err != nil {
		return models.UserChats{}, err
	}
	defer rows.Close()

	record := models.UserChats{UserName: userName, Chats: []models.ChatSession{}}
	for rows.Next() {
		var row struct {
			Counterpart string         `db:"counterpart"`
			ID          sql.NullString `db:"id"`
			Sender      sql.NullString `db:"sender"`
			Content     *string        `db:"content"`
			File        *string        `db:"file"`
			Received    sql.NullBool   `db:"received"`
			Seen        sql.NullBool   `db:"seen"`
			CreatedAt   sql.NullTime   `db:"created_at"`
		}
		if err := rows.StructScan(&row); err != nil {
			return models.UserChats{}, err
		}
		n := len(record.Chats)
		if n == 0 || record.Chats[n-1].CounterpartUserName != row.Counterpart {
			record.Chats = append(record.Chats, models.ChatSession{CounterpartUserName: row.Counterpart, Messages: []models.Message{}})
			n++
		}
		if !row.ID.Valid {
			continue
		}
		record.Chats[n-1].Messages = append(record.Chats[n-1].Messages, models.Message{
			ID:        row.ID.String,
			Sender:    row.Sender.String,
			Content:   row.Content,
			File:      row.File,
			Received:  row.Received.Bool,
			Seen:      row.Seen.Bool,
			Timestamp: row.CreatedAt.Time,
		})
	}
	return record, rows.Err()
}

// GetSession returns the owner's session with counterpart, messages in send order.
func (r *PostgresChatStore) GetSession(ctx context.Context, owner, counterpart string) (models.ChatSession, error) {
	sessionID, err := r.sessionID(ctx, r.db, owner, counterpart)
	if err != nil {
		return models.ChatSession{}, err
	}

	msgs := []models.Message{}
	err = r.db.SelectContext(ctx, &msgs, `SELECT `+messageColumns+` FROM chat_messages m WHERE m.session_id=$1 ORDER BY m.seq ASC`, sessionID)
	if err != nil {
		return models.ChatSession{}, err
	}
	return models.ChatSession{CounterpartUserName: counterpart, Messages: msgs}, nil
}

// ListSessions summarizes the owner's sessions in creation order.
func (r *PostgresChatStore) ListSessions(ctx context.Context, owner string) ([]models.SessionSummary, error) {
	query := `SELECT s.counterpart,
            COUNT(m.id) AS message_count,
            COUNT(m.id) FILTER (WHERE m.sender = s.counterpart AND NOT m.seen) AS unread_count,
            MAX(m.created_at) AS last_message_at
        FROM chat_sessions s
        LEFT JOIN chat_messages m ON m.session_id = s.id
        WHERE s.owner=$1
        GROUP BY s.id, s.counterpart
        ORDER BY s.id ASC`
	summaries := []models.SessionSummary{}
	if err := r.db.SelectContext(ctx, &summaries, query, owner); err != nil {
		return nil, err
	}
	return summaries, nil
}

// AppendMessage upserts the owner's record and session and inserts msg.
func (r *PostgresChatStore) AppendMessage(ctx context.Context, owner, counterpart string, msg models.Message) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin append: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `INSERT INTO user_chats (user_name) VALUES ($1) ON CONFLICT (user_name) DO NOTHING`, owner); err != nil {
		return fmt.Errorf("upsert user chats: %w", err)
	}

	var sessionID int64
	if err := tx.QueryRowxContext(ctx, `INSERT INTO chat_sessions (owner, counterpart) VALUES ($1, $2)
        ON CONFLICT (owner, counterpart) DO UPDATE SET owner = EXCLUDED.owner
        RETURNING id`, owner, counterpart).Scan(&sessionID); err != nil {
		return fmt.Errorf("upsert chat session: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `INSERT INTO chat_messages (session_id, id, sender, content, file, received, seen, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
        ON CONFLICT (session_id, id) DO NOTHING`,
		sessionID, msg.ID, msg.Sender, msg.Content, msg.File, msg.Received, msg.Seen, msg.Timestamp); err != nil {
		return fmt.Errorf("insert message: %w", err)
	}

	return tx.Commit()
}

// FindMessage fetches one message of the owner's session.
func (r *PostgresChatStore) FindMessage(ctx context.Context, owner, counterpart, messageID string) (models.Message, error) {
	sessionID, err := r.sessionID(ctx, r.db, owner, counterpart)
	if err != nil {
		return models.Message{}, err
	}
	var msg models.Message
	err = r.db.GetContext(ctx, &msg, `SELECT `+messageColumns+` FROM chat_messages m WHERE m.session_id=$1 AND m.id=$2`, sessionID, messageID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, ErrMessageNotFound
	}
	return msg, err
}

// MarkReceived flags one message of the owner's copy as received.
func (r *PostgresChatStore) MarkReceived(ctx context.Context, owner, counterpart, messageID string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE chat_messages m SET received = TRUE
        FROM chat_sessions s
        WHERE m.session_id = s.id AND s.owner=$1 AND s.counterpart=$2 AND m.id=$3`, owner, counterpart, messageID)
	if err != nil {
		return err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if count == 0 {
		return ErrMessageNotFound
	}
	return nil
}

// MarkSeen flags every message of the owner's copy as seen and received.
func (r *PostgresChatStore) MarkSeen(ctx context.Context, owner, counterpart string) (int, error) {
	sessionID, err := r.sessionID(ctx, r.db, owner, counterpart)
	if err != nil {
		return 0, err
	}
	res, err := r.db.ExecContext(ctx, `UPDATE chat_messages SET seen = TRUE, received = TRUE WHERE session_id=$1`, sessionID)
	if err != nil {
		return 0, err
	}
	count, err := res.RowsAffected()
	return int(count), err
}

func (r *PostgresChatStore) sessionID(ctx context.Context, q sqlx.QueryerContext, owner, counterpart string) (int64, error) {
	var id int64
	err := sqlx.GetContext(ctx, q, &id, `SELECT id FROM chat_sessions WHERE owner=$1 AND counterpart=$2`, owner, counterpart)
	if errors.Is(err, sql.ErrNoRows) {
		exists, existsErr := r.userExists(ctx, owner)
		if existsErr != nil {
			return 0, existsErr
		}
		if !exists {
			return 0, ErrUserChatsNotFound
		}
		return 0, ErrSessionNotFound
	}
	return id, err
}

func (r *PostgresChatStore) userExists(ctx context.Context, userName string) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM user_chats WHERE user_name=$1)`, userName)
	return exists, err
}

var _ ChatStore = (*PostgresChatStore)(nil)
