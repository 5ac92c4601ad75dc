package chat

import (
	"context"
	"errors"
	"fmt"
	"log"

	"schoolchat/internal/metrics"
)

// UserDirectory is what the core needs from the surrounding application's
// identity service: existence of an opaque user id.
type UserDirectory interface {
	Exists(ctx context.Context, userID int64) (bool, error)
}

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

// Service owns every messaging-core rule: direct-room resolution,
// participant management, the message log and unread counts. It is stateless;
// the store's direct-key uniqueness constraint is the only concurrency
// primitive it relies on.
type Service struct {
	store    Store
	users    UserDirectory
	notifier Notifier
}

func NewService(store Store, users UserDirectory, notifier Notifier) *Service {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &Service{store: store, users: users, notifier: notifier}
}

// ResolveDirect returns the single canonical direct room for the pair
// (callerID, targetID), creating it on first contact. callerID == targetID
// resolves the caller's message-yourself room. Creation races are absorbed:
// the loser of the unique-key insert re-reads and returns the winner's room.
func (s *Service) ResolveDirect(ctx context.Context, callerID, targetID int64) (*Room, error) {
	if callerID != targetID {
		ok, err := s.users.Exists(ctx, targetID)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("target user %d: %w", targetID, ErrNotFound)
		}
	}

	key := DirectKey(callerID, targetID)
	room, err := s.store.FindDirectRoom(ctx, key)
	if err == nil {
		return room, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	participants := []Participant{{UserID: callerID, Role: RoleMember}}
	if targetID != callerID {
		participants = append(participants, Participant{UserID: targetID, Role: RoleMember})
	}
	created, err := s.store.CreateRoom(ctx, &Room{Kind: KindDirect, CreatorID: callerID}, key, participants)
	if errors.Is(err, ErrConflict) {
		// Lost the first-contact race; the winning room is already there.
		return s.store.FindDirectRoom(ctx, key)
	}
	if err != nil {
		return nil, err
	}

	s.publish(ctx, Event{Type: EventRoomCreated, RoomID: created.ID, Room: created})
	return created, nil
}

// CreateGroup creates a fresh group (or class) room on every call; groups
// have no dedup requirement. The creator joins as admin.
func (s *Service) CreateGroup(ctx context.Context, creatorID int64, memberIDs []int64, name, kind string) (*Room, error) {
	if kind == "" {
		kind = KindGroup
	}
	if kind != KindGroup && kind != KindClass {
		return nil, fmt.Errorf("room kind %q: %w", kind, ErrBadRequest)
	}

	participants := []Participant{{UserID: creatorID, Role: RoleAdmin}}
	seen := map[int64]bool{creatorID: true}
	for _, id := range memberIDs {
		if seen[id] {
			continue
		}
		seen[id] = true
		ok, err := s.users.Exists(ctx, id)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("member %d: %w", id, ErrNotFound)
		}
		participants = append(participants, Participant{UserID: id, Role: RoleMember})
	}

	created, err := s.store.CreateRoom(ctx, &Room{Kind: kind, DisplayName: name, CreatorID: creatorID}, "", participants)
	if err != nil {
		return nil, err
	}

	s.publish(ctx, Event{Type: EventRoomCreated, RoomID: created.ID, Room: created})
	return created, nil
}

// AddParticipant adds userID to a group room. Adding an existing participant
// is a no-op. Direct rooms have a fixed participant set.
func (s *Service) AddParticipant(ctx context.Context, actorID, roomID, userID int64, role string) error {
	room, err := s.store.GetRoom(ctx, roomID)
	if err != nil {
		return err
	}
	if room.Kind == KindDirect {
		return fmt.Errorf("direct room participant set is fixed: %w", ErrInvalidState)
	}
	if role == "" {
		role = RoleMember
	}
	if role != RoleMember && role != RoleAdmin {
		return fmt.Errorf("participant role %q: %w", role, ErrBadRequest)
	}
	if _, err := s.store.GetParticipant(ctx, roomID, actorID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrForbidden
		}
		return err
	}
	ok, err := s.users.Exists(ctx, userID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("user %d: %w", userID, ErrNotFound)
	}

	p := &Participant{RoomID: roomID, UserID: userID, Role: role}
	added, err := s.store.AddParticipant(ctx, p)
	if err != nil {
		return err
	}
	if added {
		s.publish(ctx, Event{Type: EventParticipantAdded, RoomID: roomID, Participant: p})
	}
	return nil
}

// RemoveParticipant removes userID from a group room. Callers may remove
// themselves; removing someone else takes the admin role. Direct rooms never
// lose participants (that would break the dedup invariant), and the last
// participant of a group cannot leave an orphaned room behind.
func (s *Service) RemoveParticipant(ctx context.Context, actorID, roomID, userID int64) error {
	room, err := s.store.GetRoom(ctx, roomID)
	if err != nil {
		return err
	}
	if room.Kind == KindDirect {
		return fmt.Errorf("direct room participant set is fixed: %w", ErrInvalidState)
	}

	actor, err := s.store.GetParticipant(ctx, roomID, actorID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrForbidden
		}
		return err
	}
	if actorID != userID && actor.Role != RoleAdmin {
		return ErrForbidden
	}

	all, err := s.store.ListParticipants(ctx, roomID)
	if err != nil {
		return err
	}
	if len(all) <= 1 {
		return fmt.Errorf("room must keep at least one participant: %w", ErrInvalidState)
	}

	if err := s.store.RemoveParticipant(ctx, roomID, userID); err != nil {
		return err
	}
	s.publish(ctx, Event{
		Type:        EventParticipantRemoved,
		RoomID:      roomID,
		Participant: &Participant{RoomID: roomID, UserID: userID},
	})
	return nil
}

// MarkRead advances the caller's read cursor to upTo. The cursor is
// monotonic: a value below the current one is rejected, and the store update
// additionally clamps with the maximum for racing writers.
func (s *Service) MarkRead(ctx context.Context, roomID, userID, upTo int64) error {
	p, err := s.store.GetParticipant(ctx, roomID, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrForbidden
		}
		return err
	}
	if upTo < p.LastReadMessageID {
		return fmt.Errorf("read cursor %d behind %d: %w", upTo, p.LastReadMessageID, ErrInvalidState)
	}
	if upTo == p.LastReadMessageID {
		return nil
	}

	msg, err := s.store.GetMessage(ctx, upTo)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return fmt.Errorf("read cursor %d: %w", upTo, ErrInvalidReference)
		}
		return err
	}
	if msg.RoomID != roomID {
		return fmt.Errorf("message %d outside room %d: %w", upTo, roomID, ErrInvalidReference)
	}

	return s.store.AdvanceLastRead(ctx, roomID, userID, upTo)
}

// Send appends a message to the room's log. The sender must be an active
// participant; a reply target must be a message of the same room (a
// tombstoned target is a valid reply target).
func (s *Service) Send(ctx context.Context, roomID, senderID int64, content, msgType, mediaRef string, replyToID *int64) (*Message, error) {
	if msgType == "" {
		msgType = TypeText
	}
	if !ValidMessageType(msgType) {
		return nil, fmt.Errorf("message type %q: %w", msgType, ErrBadRequest)
	}
	if content == "" && mediaRef == "" {
		return nil, fmt.Errorf("empty message: %w", ErrBadRequest)
	}

	if _, err := s.store.GetRoom(ctx, roomID); err != nil {
		return nil, err
	}
	if _, err := s.store.GetParticipant(ctx, roomID, senderID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrForbidden
		}
		return nil, err
	}

	if replyToID != nil {
		target, err := s.store.GetMessage(ctx, *replyToID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return nil, fmt.Errorf("reply target %d: %w", *replyToID, ErrInvalidReference)
			}
			return nil, err
		}
		if target.RoomID != roomID {
			return nil, fmt.Errorf("reply target %d outside room %d: %w", *replyToID, roomID, ErrInvalidReference)
		}
	}

	created, err := s.store.InsertMessage(ctx, &Message{
		RoomID:    roomID,
		SenderID:  senderID,
		Content:   content,
		Type:      msgType,
		MediaRef:  mediaRef,
		ReplyToID: replyToID,
	})
	if err != nil {
		return nil, err
	}

	metrics.MessagesSent.Inc()
	s.publish(ctx, Event{Type: EventMessageCreated, RoomID: roomID, Message: created})
	return created, nil
}

// Edit replaces a message's content. Only the original sender may edit, and
// tombstones are immutable.
func (s *Service) Edit(ctx context.Context, messageID, editorID int64, newContent string) (*Message, error) {
	if newContent == "" {
		return nil, fmt.Errorf("empty content: %w", ErrBadRequest)
	}
	m, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if m.SenderID != editorID {
		return nil, ErrForbidden
	}
	if m.IsDeleted {
		return nil, fmt.Errorf("message %d is deleted: %w", messageID, ErrInvalidState)
	}

	updated, err := s.store.UpdateMessageContent(ctx, messageID, newContent)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, Event{Type: EventMessageEdited, RoomID: updated.RoomID, Message: updated})
	return updated, nil
}

// SoftDelete tombstones a message: content and media are cleared, the row and
// id stay so replies keep resolving and ordering is preserved. Deleting a
// tombstone again is a no-op.
func (s *Service) SoftDelete(ctx context.Context, messageID, requesterID int64) error {
	m, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		return err
	}
	if m.SenderID != requesterID {
		return ErrForbidden
	}
	if m.IsDeleted {
		return nil
	}

	if err := s.store.TombstoneMessage(ctx, messageID); err != nil {
		return err
	}

	m.IsDeleted = true
	m.Content = ""
	m.MediaRef = ""
	s.publish(ctx, Event{Type: EventMessageDeleted, RoomID: m.RoomID, Message: m})
	return nil
}

// SetReaction upserts the caller's single reaction on a message; a new emoji
// replaces the previous one.
func (s *Service) SetReaction(ctx context.Context, messageID, userID int64, emoji string) error {
	if emoji == "" {
		return fmt.Errorf("empty emoji: %w", ErrBadRequest)
	}
	m, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		return err
	}
	if _, err := s.store.GetParticipant(ctx, m.RoomID, userID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrForbidden
		}
		return err
	}

	r := &Reaction{MessageID: messageID, UserID: userID, Emoji: emoji}
	if err := s.store.UpsertReaction(ctx, r); err != nil {
		return err
	}
	s.publish(ctx, Event{Type: EventReactionChanged, RoomID: m.RoomID, Reaction: r})
	return nil
}

// ClearReaction removes the caller's reaction if present. Idempotent.
func (s *Service) ClearReaction(ctx context.Context, messageID, userID int64) error {
	m, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		return err
	}
	if _, err := s.store.GetParticipant(ctx, m.RoomID, userID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrForbidden
		}
		return err
	}

	if err := s.store.DeleteReaction(ctx, messageID, userID); err != nil {
		return err
	}
	// Empty emoji signals a cleared reaction to subscribers.
	s.publish(ctx, Event{Type: EventReactionChanged, RoomID: m.RoomID, Reaction: &Reaction{MessageID: messageID, UserID: userID}})
	return nil
}

// ListSince returns the forward-ordered page of messages with id > afterID,
// plus aggregated reactions for the page. This is both the history loader and
// the reconnect gap-fill.
func (s *Service) ListSince(ctx context.Context, roomID, callerID, afterID int64, limit int) ([]Message, map[int64][]ReactionGroup, error) {
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}

	if _, err := s.store.GetRoom(ctx, roomID); err != nil {
		return nil, nil, err
	}
	if _, err := s.store.GetParticipant(ctx, roomID, callerID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil, ErrForbidden
		}
		return nil, nil, err
	}

	msgs, err := s.store.ListMessagesSince(ctx, roomID, afterID, limit)
	if err != nil {
		return nil, nil, err
	}

	ids := make([]int64, len(msgs))
	for i := range msgs {
		ids[i] = msgs[i].ID
	}
	reactions, err := s.store.ListReactions(ctx, ids)
	if err != nil {
		return nil, nil, err
	}
	return msgs, reactions, nil
}

// UnreadCount derives the caller's badge for a room from the read cursor.
// It is recomputed on demand, never cached.
func (s *Service) UnreadCount(ctx context.Context, roomID, userID int64) (int64, error) {
	p, err := s.store.GetParticipant(ctx, roomID, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return 0, ErrForbidden
		}
		return 0, err
	}
	return s.store.CountUnread(ctx, roomID, userID, p.LastReadMessageID)
}

// Rooms lists the caller's rooms, newest activity first, with unread badges.
func (s *Service) Rooms(ctx context.Context, userID int64) ([]RoomSummary, error) {
	return s.store.ListRoomsForUser(ctx, userID)
}

// IsParticipant reports whether userID belongs to roomID; the websocket
// endpoint gates room subscriptions with it.
func (s *Service) IsParticipant(ctx context.Context, roomID, userID int64) (bool, error) {
	_, err := s.store.GetParticipant(ctx, roomID, userID)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// publish stamps the room's current participant set onto the event and hands
// it to the notifier. Fan-out failures never reach the mutating caller.
func (s *Service) publish(ctx context.Context, ev Event) {
	parts, err := s.store.ListParticipants(ctx, ev.RoomID)
	if err != nil {
		log.Printf("event %s room %d: participant lookup failed: %v", ev.Type, ev.RoomID, err)
	}
	for _, p := range parts {
		ev.Recipients = append(ev.Recipients, p.UserID)
	}
	if ev.Type == EventParticipantRemoved && ev.Participant != nil {
		// The removed user still gets told they were removed.
		ev.Recipients = append(ev.Recipients, ev.Participant.UserID)
	}
	s.notifier.Publish(ev)
}
