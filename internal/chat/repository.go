package chat

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"connect/internal/user"
)

const userCacheTTL = 5 * time.Minute

// Repository implements Store on Postgres. Sender display fields are looked
// up on every send, so those reads go through a small Redis cache keyed
// cache:user:<id>; a nil redis client falls back to straight SQL.
type Repository struct {
	db  *sql.DB
	rdb *redis.Client
}

func NewRepository(db *sql.DB, rdb *redis.Client) *Repository {
	return &Repository{db: db, rdb: rdb}
}

func (r *Repository) GetConversation(ctx context.Context, id int) (*Conversation, error) {
	c := &Conversation{}
	var a, b int
	query := `SELECT id, user_a, user_b, updated_at FROM conversations WHERE id = $1`

	err := r.db.QueryRowContext(ctx, query, id).Scan(&c.ID, &a, &b, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrConversationNotFound
	}
	if err != nil {
		return nil, err
	}
	c.ParticipantIDs = []int{a, b}
	return c, nil
}

func (r *Repository) FindConversationByParticipants(ctx context.Context, a, b int) (*Conversation, error) {
	lo, hi := orderPair(a, b)
	c := &Conversation{ParticipantIDs: []int{lo, hi}}
	query := `SELECT id, updated_at FROM conversations WHERE user_a = $1 AND user_b = $2`

	err := r.db.QueryRowContext(ctx, query, lo, hi).Scan(&c.ID, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrConversationNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := r.populateConversation(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// CreateConversation inserts the normalized pair. A concurrent creator wins
// the unique index race; the loser gets no row back and re-reads the winner.
func (r *Repository) CreateConversation(ctx context.Context, a, b int) (*Conversation, error) {
	lo, hi := orderPair(a, b)
	query := `INSERT INTO conversations (user_a, user_b) VALUES ($1, $2)
              ON CONFLICT (user_a, user_b) DO NOTHING
              RETURNING id, updated_at`

	c := &Conversation{ParticipantIDs: []int{lo, hi}}
	err := r.db.QueryRowContext(ctx, query, lo, hi).Scan(&c.ID, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return r.FindConversationByParticipants(ctx, lo, hi)
	}
	if err != nil {
		return nil, err
	}
	if err := r.populateConversation(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

func (r *Repository) ListConversations(ctx context.Context, userID int) ([]Conversation, error) {
	query := `SELECT id, user_a, user_b, updated_at FROM conversations
              WHERE user_a = $1 OR user_b = $1
              ORDER BY updated_at DESC`

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var convs []Conversation
	for rows.Next() {
		var c Conversation
		var a, b int
		if err := rows.Scan(&c.ID, &a, &b, &c.UpdatedAt); err != nil {
			return nil, err
		}
		c.ParticipantIDs = []int{a, b}
		convs = append(convs, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range convs {
		if err := r.populateConversation(ctx, &convs[i]); err != nil {
			return nil, err
		}
	}
	return convs, nil
}

func (r *Repository) UpdateConversationLastMessage(ctx context.Context, convID, msgID int, at time.Time) error {
	query := `UPDATE conversations SET last_message_id = $2, updated_at = $3 WHERE id = $1`
	_, err := r.db.ExecContext(ctx, query, convID, msgID, at)
	return err
}

func (r *Repository) CreateMessage(ctx context.Context, convID, senderID int, content string) (*Message, error) {
	// Resolve display fields before anything durable happens. Once the insert
	// commits the message exists; failing the call after that point would show
	// the sender an error for a send that is already in history.
	sender, err := r.senderDisplay(ctx, senderID)
	if err != nil {
		return nil, err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	m := &Message{
		ConversationID: convID,
		SenderID:       senderID,
		SenderName:     sender.Username,
		SenderAvatar:   sender.Avatar,
		Content:        content,
		ReadBy:         []int{senderID},
	}
	err = tx.QueryRowContext(ctx,
		`INSERT INTO messages (conversation_id, sender_id, content)
         VALUES ($1, $2, $3) RETURNING id, created_at`,
		convID, senderID, content,
	).Scan(&m.ID, &m.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("create message: %w", err)
	}

	// The sender has trivially read their own message.
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO message_reads (message_id, user_id) VALUES ($1, $2)`,
		m.ID, senderID,
	); err != nil {
		return nil, fmt.Errorf("seed read set: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return m, nil
}

func (r *Repository) ListMessages(ctx context.Context, convID, skip, limit int) ([]Message, error) {
	query := `SELECT m.id, m.conversation_id, m.sender_id, u.username, u.avatar,
                     m.content, m.created_at,
                     (SELECT COALESCE(array_to_string(array_agg(user_id ORDER BY user_id), ','), '')
                      FROM message_reads WHERE message_id = m.id)
              FROM messages m
              JOIN users u ON u.id = m.sender_id
              WHERE m.conversation_id = $1
              ORDER BY m.created_at DESC, m.id DESC
              OFFSET $2 LIMIT $3`

	rows, err := r.db.QueryContext(ctx, query, convID, skip, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []Message
	for rows.Next() {
		var m Message
		var readBy string
		if err := rows.Scan(
			&m.ID, &m.ConversationID, &m.SenderID, &m.SenderName, &m.SenderAvatar,
			&m.Content, &m.CreatedAt, &readBy,
		); err != nil {
			return nil, err
		}
		m.ReadBy, err = parseIDList(readBy)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

func (r *Repository) CountMessages(ctx context.Context, convID int) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages WHERE conversation_id = $1`, convID,
	).Scan(&n)
	return n, err
}

func (r *Repository) AddReader(ctx context.Context, convID, userID int) error {
	query := `INSERT INTO message_reads (message_id, user_id)
              SELECT id, $2 FROM messages WHERE conversation_id = $1
              ON CONFLICT DO NOTHING`
	_, err := r.db.ExecContext(ctx, query, convID, userID)
	return err
}

func (r *Repository) populateConversation(ctx context.Context, c *Conversation) error {
	c.Participants = c.Participants[:0]
	for _, id := range c.ParticipantIDs {
		u := user.User{}
		err := r.db.QueryRowContext(ctx,
			`SELECT id, email, username, about, avatar, is_online, last_seen, created_at
             FROM users WHERE id = $1`, id,
		).Scan(&u.ID, &u.Email, &u.Username, &u.About, &u.Avatar, &u.IsOnline, &u.LastSeen, &u.CreatedAt)
		if err != nil {
			return err
		}
		c.Participants = append(c.Participants, u)
	}

	last, err := r.ListMessages(ctx, c.ID, 0, 1)
	if err != nil {
		return err
	}
	if len(last) > 0 {
		c.LastMessage = &last[0]
	}
	return nil
}

type senderInfo struct {
	ID       int    `json:"id"`
	Username string `json:"username"`
	Avatar   string `json:"avatar"`
}

func (r *Repository) senderDisplay(ctx context.Context, id int) (*senderInfo, error) {
	key := fmt.Sprintf("cache:user:%d", id)

	if r.rdb != nil {
		if raw, err := r.rdb.Get(ctx, key).Result(); err == nil {
			info := &senderInfo{}
			if err := json.Unmarshal([]byte(raw), info); err == nil {
				return info, nil
			}
		}
	}

	info := &senderInfo{ID: id}
	err := r.db.QueryRowContext(ctx,
		`SELECT username, avatar FROM users WHERE id = $1`, id,
	).Scan(&info.Username, &info.Avatar)
	if err != nil {
		return nil, err
	}

	if r.rdb != nil {
		if raw, err := json.Marshal(info); err == nil {
			r.rdb.Set(ctx, key, raw, userCacheTTL)
		}
	}
	return info, nil
}

func orderPair(a, b int) (int, int) {
	if a > b {
		return b, a
	}
	return a, b
}

func parseIDList(s string) ([]int, error) {
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	ids := make([]int, 0, len(parts))
	for _, p := range parts {
		id, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("bad read set %q: %w", s, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
