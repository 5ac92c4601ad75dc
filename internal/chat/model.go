package chat

import (
	"fmt"
	"time"
)

// Room kinds. Class rooms are the per-class broadcast channels the school
// portals create; they behave like groups as far as the messaging core cares.
const (
	KindDirect = "direct"
	KindGroup  = "group"
	KindClass  = "class"
)

// Participant roles.
const (
	RoleMember = "member"
	RoleAdmin  = "admin"
)

// Message content types.
const (
	TypeText  = "text"
	TypeImage = "image"
	TypeVideo = "video"
	TypeAudio = "audio"
	TypeFile  = "file"
)

type Room struct {
	ID            int64     `json:"id"`
	Kind          string    `json:"kind"`
	DisplayName   string    `json:"display_name,omitempty"`
	CreatorID     int64     `json:"creator_id"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
	LastMessageAt time.Time `json:"last_message_at"`
}

type Participant struct {
	RoomID            int64     `json:"room_id"`
	UserID            int64     `json:"user_id"`
	Role              string    `json:"role"`
	JoinedAt          time.Time `json:"joined_at"`
	LastReadMessageID int64     `json:"last_read_message_id"`
}

type Message struct {
	ID        int64     `json:"id"`
	RoomID    int64     `json:"room_id"`
	SenderID  int64     `json:"sender_id"`
	Content   string    `json:"content"`
	Type      string    `json:"type"`
	MediaRef  string    `json:"media_ref,omitempty"`
	ReplyToID *int64    `json:"reply_to_id,omitempty"`
	IsEdited  bool      `json:"is_edited"`
	IsDeleted bool      `json:"is_deleted"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Reaction struct {
	MessageID int64  `json:"message_id"`
	UserID    int64  `json:"user_id"`
	Emoji     string `json:"emoji"`
}

// ReactionGroup is the aggregated view history pages carry per emoji.
type ReactionGroup struct {
	Emoji string  `json:"emoji"`
	Count int     `json:"count"`
	Users []int64 `json:"users"`
}

// RoomSummary is what the portal sidebar renders: a room plus the caller's badge.
type RoomSummary struct {
	Room
	UnreadCount int64 `json:"unread_count"`
}

// DirectKey is the normalized dedup key for a direct room. Self-chat gets its
// own namespace so it can never collide with a two-party key.
func DirectKey(a, b int64) string {
	if a == b {
		return fmt.Sprintf("self:%d", a)
	}
	if a > b {
		a, b = b, a
	}
	return fmt.Sprintf("dm:%d:%d", a, b)
}

func ValidMessageType(t string) bool {
	switch t {
	case TypeText, TypeImage, TypeVideo, TypeAudio, TypeFile:
		return true
	}
	return false
}
