package chat

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

// PostgresStore is the production Store, raw SQL over database/sql with the
// pgx driver.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const uniqueViolation = "23505"

// mapErr translates driver errors into the package taxonomy.
func mapErr(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return ErrConflict
	}
	return err
}

const roomColumns = "id, kind, display_name, creator_id, created_at, updated_at, last_message_at"

func scanRoom(row *sql.Row) (*Room, error) {
	r := &Room{}
	err := row.Scan(&r.ID, &r.Kind, &r.DisplayName, &r.CreatorID, &r.CreatedAt, &r.UpdatedAt, &r.LastMessageAt)
	if err != nil {
		return nil, mapErr(err)
	}
	return r, nil
}

func (s *PostgresStore) GetRoom(ctx context.Context, roomID int64) (*Room, error) {
	query := "SELECT " + roomColumns + " FROM rooms WHERE id = $1"
	return scanRoom(s.db.QueryRowContext(ctx, query, roomID))
}

func (s *PostgresStore) FindDirectRoom(ctx context.Context, directKey string) (*Room, error) {
	query := "SELECT " + roomColumns + " FROM rooms WHERE direct_key = $1"
	return scanRoom(s.db.QueryRowContext(ctx, query, directKey))
}

func (s *PostgresStore) CreateRoom(ctx context.Context, room *Room, directKey string, participants []Participant) (*Room, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var key sql.NullString
	if directKey != "" {
		key = sql.NullString{String: directKey, Valid: true}
	}

	query := `
		INSERT INTO rooms (kind, direct_key, display_name, creator_id)
		VALUES ($1, $2, $3, $4)
		RETURNING ` + roomColumns
	created := &Room{}
	err = tx.QueryRowContext(ctx, query, room.Kind, key, room.DisplayName, room.CreatorID).
		Scan(&created.ID, &created.Kind, &created.DisplayName, &created.CreatorID,
			&created.CreatedAt, &created.UpdatedAt, &created.LastMessageAt)
	if err != nil {
		return nil, mapErr(err)
	}

	for _, p := range participants {
		_, err = tx.ExecContext(ctx,
			"INSERT INTO participants (room_id, user_id, role) VALUES ($1, $2, $3)",
			created.ID, p.UserID, p.Role)
		if err != nil {
			return nil, mapErr(err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, mapErr(err)
	}
	return created, nil
}

func (s *PostgresStore) ListRoomsForUser(ctx context.Context, userID int64) ([]RoomSummary, error) {
	query := `
		SELECT r.id, r.kind, r.display_name, r.creator_id, r.created_at, r.updated_at, r.last_message_at,
		       (SELECT COUNT(*) FROM messages m
		         WHERE m.room_id = r.id
		           AND m.id > p.last_read_message_id
		           AND m.sender_id <> p.user_id
		           AND NOT m.is_deleted) AS unread
		FROM rooms r
		JOIN participants p ON p.room_id = r.id
		WHERE p.user_id = $1
		ORDER BY r.last_message_at DESC
	`
	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RoomSummary
	for rows.Next() {
		var rs RoomSummary
		if err := rows.Scan(&rs.ID, &rs.Kind, &rs.DisplayName, &rs.CreatorID,
			&rs.CreatedAt, &rs.UpdatedAt, &rs.LastMessageAt, &rs.UnreadCount); err != nil {
			return nil, err
		}
		out = append(out, rs)
	}
	return out, rows.Err()
}

func (s *PostgresStore) GetParticipant(ctx context.Context, roomID, userID int64) (*Participant, error) {
	p := &Participant{}
	query := `
		SELECT room_id, user_id, role, joined_at, last_read_message_id
		FROM participants WHERE room_id = $1 AND user_id = $2
	`
	err := s.db.QueryRowContext(ctx, query, roomID, userID).
		Scan(&p.RoomID, &p.UserID, &p.Role, &p.JoinedAt, &p.LastReadMessageID)
	if err != nil {
		return nil, mapErr(err)
	}
	return p, nil
}

func (s *PostgresStore) ListParticipants(ctx context.Context, roomID int64) ([]Participant, error) {
	query := `
		SELECT room_id, user_id, role, joined_at, last_read_message_id
		FROM participants WHERE room_id = $1 ORDER BY joined_at
	`
	rows, err := s.db.QueryContext(ctx, query, roomID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Participant
	for rows.Next() {
		var p Participant
		if err := rows.Scan(&p.RoomID, &p.UserID, &p.Role, &p.JoinedAt, &p.LastReadMessageID); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *PostgresStore) AddParticipant(ctx context.Context, p *Participant) (bool, error) {
	query := `
		INSERT INTO participants (room_id, user_id, role) VALUES ($1, $2, $3)
		ON CONFLICT (room_id, user_id) DO NOTHING
		RETURNING joined_at
	`
	err := s.db.QueryRowContext(ctx, query, p.RoomID, p.UserID, p.Role).Scan(&p.JoinedAt)
	if errors.Is(err, sql.ErrNoRows) {
		// Already a participant, nothing written.
		return false, nil
	}
	if err != nil {
		return false, mapErr(err)
	}
	return true, nil
}

func (s *PostgresStore) RemoveParticipant(ctx context.Context, roomID, userID int64) error {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM participants WHERE room_id = $1 AND user_id = $2", roomID, userID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) AdvanceLastRead(ctx context.Context, roomID, userID, upTo int64) error {
	// GREATEST keeps the cursor monotonic under racing writers.
	query := `
		UPDATE participants
		SET last_read_message_id = GREATEST(last_read_message_id, $3)
		WHERE room_id = $1 AND user_id = $2
	`
	res, err := s.db.ExecContext(ctx, query, roomID, userID, upTo)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

const messageColumns = "id, room_id, sender_id, content, type, media_ref, reply_to_id, is_edited, is_deleted, created_at, updated_at"

func scanMessageRow(scan func(dest ...any) error) (*Message, error) {
	m := &Message{}
	var replyTo sql.NullInt64
	err := scan(&m.ID, &m.RoomID, &m.SenderID, &m.Content, &m.Type, &m.MediaRef,
		&replyTo, &m.IsEdited, &m.IsDeleted, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	if replyTo.Valid {
		m.ReplyToID = &replyTo.Int64
	}
	return m, nil
}

func (s *PostgresStore) InsertMessage(ctx context.Context, m *Message) (*Message, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var replyTo sql.NullInt64
	if m.ReplyToID != nil {
		replyTo = sql.NullInt64{Int64: *m.ReplyToID, Valid: true}
	}

	query := `
		INSERT INTO messages (room_id, sender_id, content, type, media_ref, reply_to_id)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING ` + messageColumns
	created, err := scanMessageRow(tx.QueryRowContext(ctx, query,
		m.RoomID, m.SenderID, m.Content, m.Type, m.MediaRef, replyTo).Scan)
	if err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx,
		"UPDATE rooms SET last_message_at = $2, updated_at = $2 WHERE id = $1",
		created.RoomID, created.CreatedAt)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return created, nil
}

func (s *PostgresStore) GetMessage(ctx context.Context, messageID int64) (*Message, error) {
	query := "SELECT " + messageColumns + " FROM messages WHERE id = $1"
	return scanMessageRow(s.db.QueryRowContext(ctx, query, messageID).Scan)
}

func (s *PostgresStore) UpdateMessageContent(ctx context.Context, messageID int64, content string) (*Message, error) {
	query := `
		UPDATE messages
		SET content = $2, is_edited = TRUE, updated_at = NOW()
		WHERE id = $1
		RETURNING ` + messageColumns
	return scanMessageRow(s.db.QueryRowContext(ctx, query, messageID, content).Scan)
}

func (s *PostgresStore) TombstoneMessage(ctx context.Context, messageID int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var roomID int64
	query := `
		UPDATE messages
		SET is_deleted = TRUE, content = '', media_ref = '', updated_at = NOW()
		WHERE id = $1
		RETURNING room_id
	`
	if err := tx.QueryRowContext(ctx, query, messageID).Scan(&roomID); err != nil {
		return mapErr(err)
	}

	// last_message_at tracks the newest surviving message, or the room's own
	// created_at when none survive.
	query = `
		UPDATE rooms
		SET last_message_at = COALESCE(
		        (SELECT m.created_at FROM messages m
		          WHERE m.room_id = rooms.id AND NOT m.is_deleted
		          ORDER BY m.id DESC LIMIT 1),
		        rooms.created_at),
		    updated_at = NOW()
		WHERE id = $1
	`
	if _, err := tx.ExecContext(ctx, query, roomID); err != nil {
		return err
	}

	return tx.Commit()
}

func (s *PostgresStore) ListMessagesSince(ctx context.Context, roomID, afterID int64, limit int) ([]Message, error) {
	query := `
		SELECT ` + messageColumns + `
		FROM messages
		WHERE room_id = $1 AND id > $2
		ORDER BY id ASC
		LIMIT $3
	`
	rows, err := s.db.QueryContext(ctx, query, roomID, afterID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		m, err := scanMessageRow(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

func (s *PostgresStore) CountUnread(ctx context.Context, roomID, userID, afterID int64) (int64, error) {
	var n int64
	query := `
		SELECT COUNT(*) FROM messages
		WHERE room_id = $1 AND id > $2 AND sender_id <> $3 AND NOT is_deleted
	`
	err := s.db.QueryRowContext(ctx, query, roomID, afterID, userID).Scan(&n)
	return n, err
}

func (s *PostgresStore) UpsertReaction(ctx context.Context, r *Reaction) error {
	query := `
		INSERT INTO reactions (message_id, user_id, emoji) VALUES ($1, $2, $3)
		ON CONFLICT (message_id, user_id) DO UPDATE SET emoji = EXCLUDED.emoji
	`
	_, err := s.db.ExecContext(ctx, query, r.MessageID, r.UserID, r.Emoji)
	return mapErr(err)
}

func (s *PostgresStore) DeleteReaction(ctx context.Context, messageID, userID int64) error {
	// Clearing an absent reaction is a no-op, so RowsAffected is not checked.
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM reactions WHERE message_id = $1 AND user_id = $2", messageID, userID)
	return err
}

func (s *PostgresStore) ListReactions(ctx context.Context, messageIDs []int64) (map[int64][]ReactionGroup, error) {
	out := make(map[int64][]ReactionGroup)
	if len(messageIDs) == 0 {
		return out, nil
	}

	query := `
		SELECT message_id, user_id, emoji FROM reactions
		WHERE message_id = ANY($1)
		ORDER BY message_id, created_at
	`
	rows, err := s.db.QueryContext(ctx, query, messageIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var r Reaction
		if err := rows.Scan(&r.MessageID, &r.UserID, &r.Emoji); err != nil {
			return nil, err
		}
		groups := out[r.MessageID]
		merged := false
		for i := range groups {
			if groups[i].Emoji == r.Emoji {
				groups[i].Count++
				groups[i].Users = append(groups[i].Users, r.UserID)
				merged = true
				break
			}
		}
		if !merged {
			groups = append(groups, ReactionGroup{Emoji: r.Emoji, Count: 1, Users: []int64{r.UserID}})
		}
		out[r.MessageID] = groups
	}
	return out, rows.Err()
}
