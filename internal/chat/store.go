package chat

import "context"

// Store is the durable backend for rooms, participants, messages and
// reactions. The only concurrency-control primitive it has to provide is the
// uniqueness constraint behind CreateRoom's direct key; everything else is
// single-row atomic.
type Store interface {
	// GetRoom returns ErrNotFound for an unknown id.
	GetRoom(ctx context.Context, roomID int64) (*Room, error)
	// FindDirectRoom looks a direct room up by its normalized key.
	FindDirectRoom(ctx context.Context, directKey string) (*Room, error)
	// CreateRoom inserts the room and its initial participants as one atomic
	// unit. A directKey colliding with an existing room yields ErrConflict
	// and nothing is written.
	CreateRoom(ctx context.Context, room *Room, directKey string, participants []Participant) (*Room, error)
	// ListRoomsForUser returns the user's rooms, newest activity first, with
	// unread counts computed against each participant cursor.
	ListRoomsForUser(ctx context.Context, userID int64) ([]RoomSummary, error)

	// GetParticipant returns ErrNotFound when the user is not in the room.
	GetParticipant(ctx context.Context, roomID, userID int64) (*Participant, error)
	ListParticipants(ctx context.Context, roomID int64) ([]Participant, error)
	// AddParticipant reports false when the user was already present.
	AddParticipant(ctx context.Context, p *Participant) (bool, error)
	RemoveParticipant(ctx context.Context, roomID, userID int64) error
	// AdvanceLastRead moves the cursor forward, clamping with the stored
	// value so racing writers resolve to the maximum.
	AdvanceLastRead(ctx context.Context, roomID, userID, upTo int64) error

	// InsertMessage assigns the id and timestamps, and bumps the owning
	// room's last_message_at/updated_at in the same transaction.
	InsertMessage(ctx context.Context, m *Message) (*Message, error)
	GetMessage(ctx context.Context, messageID int64) (*Message, error)
	UpdateMessageContent(ctx context.Context, messageID int64, content string) (*Message, error)
	// TombstoneMessage sets is_deleted, clears content and media_ref, and
	// recomputes the room's last_message_at from surviving messages.
	TombstoneMessage(ctx context.Context, messageID int64) error
	// ListMessagesSince is the forward-ordered gap-fill page: messages with
	// id > afterID, ascending, at most limit rows.
	ListMessagesSince(ctx context.Context, roomID, afterID int64, limit int) ([]Message, error)
	// CountUnread counts live messages past the cursor not sent by the user.
	CountUnread(ctx context.Context, roomID, userID, afterID int64) (int64, error)

	UpsertReaction(ctx context.Context, r *Reaction) error
	DeleteReaction(ctx context.Context, messageID, userID int64) error
	ListReactions(ctx context.Context, messageIDs []int64) (map[int64][]ReactionGroup, error)
}
