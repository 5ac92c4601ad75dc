package chat

import (
	"context"
	"sync"
	"time"
)

// memStore is an in-memory Store used by the tests. It enforces the same
// constraints the Postgres schema does, most importantly the direct-key
// uniqueness that room-resolution races depend on.
type memStore struct {
	mu           sync.Mutex
	rooms        map[int64]*Room
	directKeys   map[string]int64
	participants map[int64]map[int64]*Participant
	messages     map[int64]*Message
	reactions    map[int64]map[int64]string // messageID -> userID -> emoji
	nextRoomID   int64
	nextMsgID    int64
}

func newMemStore() *memStore {
	return &memStore{
		rooms:        make(map[int64]*Room),
		directKeys:   make(map[string]int64),
		participants: make(map[int64]map[int64]*Participant),
		messages:     make(map[int64]*Message),
		reactions:    make(map[int64]map[int64]string),
	}
}

func (s *memStore) GetRoom(ctx context.Context, roomID int64) (*Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[roomID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (s *memStore) FindDirectRoom(ctx context.Context, directKey string) (*Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.directKeys[directKey]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s.rooms[id]
	return &cp, nil
}

func (s *memStore) CreateRoom(ctx context.Context, room *Room, directKey string, participants []Participant) (*Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if directKey != "" {
		if _, exists := s.directKeys[directKey]; exists {
			return nil, ErrConflict
		}
	}

	s.nextRoomID++
	now := time.Now()
	created := &Room{
		ID:            s.nextRoomID,
		Kind:          room.Kind,
		DisplayName:   room.DisplayName,
		CreatorID:     room.CreatorID,
		CreatedAt:     now,
		UpdatedAt:     now,
		LastMessageAt: now,
	}
	s.rooms[created.ID] = created
	if directKey != "" {
		s.directKeys[directKey] = created.ID
	}

	s.participants[created.ID] = make(map[int64]*Participant)
	for _, p := range participants {
		s.participants[created.ID][p.UserID] = &Participant{
			RoomID:   created.ID,
			UserID:   p.UserID,
			Role:     p.Role,
			JoinedAt: now,
		}
	}

	cp := *created
	return &cp, nil
}

func (s *memStore) ListRoomsForUser(ctx context.Context, userID int64) ([]RoomSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []RoomSummary
	for roomID, members := range s.participants {
		p, ok := members[userID]
		if !ok {
			continue
		}
		rs := RoomSummary{Room: *s.rooms[roomID]}
		for _, m := range s.messages {
			if m.RoomID == roomID && m.ID > p.LastReadMessageID && m.SenderID != userID && !m.IsDeleted {
				rs.UnreadCount++
			}
		}
		out = append(out, rs)
	}
	return out, nil
}

func (s *memStore) GetParticipant(ctx context.Context, roomID, userID int64) (*Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.participants[roomID][userID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *memStore) ListParticipants(ctx context.Context, roomID int64) ([]Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Participant
	for _, p := range s.participants[roomID] {
		out = append(out, *p)
	}
	return out, nil
}

func (s *memStore) AddParticipant(ctx context.Context, p *Participant) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	members, ok := s.participants[p.RoomID]
	if !ok {
		return false, ErrNotFound
	}
	if _, exists := members[p.UserID]; exists {
		return false, nil
	}
	p.JoinedAt = time.Now()
	cp := *p
	members[p.UserID] = &cp
	return true, nil
}

func (s *memStore) RemoveParticipant(ctx context.Context, roomID, userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	members := s.participants[roomID]
	if _, ok := members[userID]; !ok {
		return ErrNotFound
	}
	delete(members, userID)
	return nil
}

func (s *memStore) AdvanceLastRead(ctx context.Context, roomID, userID, upTo int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.participants[roomID][userID]
	if !ok {
		return ErrNotFound
	}
	if upTo > p.LastReadMessageID {
		p.LastReadMessageID = upTo
	}
	return nil
}

func (s *memStore) InsertMessage(ctx context.Context, m *Message) (*Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	room, ok := s.rooms[m.RoomID]
	if !ok {
		return nil, ErrNotFound
	}

	s.nextMsgID++
	now := time.Now()
	created := &Message{
		ID:        s.nextMsgID,
		RoomID:    m.RoomID,
		SenderID:  m.SenderID,
		Content:   m.Content,
		Type:      m.Type,
		MediaRef:  m.MediaRef,
		ReplyToID: m.ReplyToID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.messages[created.ID] = created
	room.LastMessageAt = now
	room.UpdatedAt = now

	cp := *created
	return &cp, nil
}

func (s *memStore) GetMessage(ctx context.Context, messageID int64) (*Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[messageID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *m
	return &cp, nil
}

func (s *memStore) UpdateMessageContent(ctx context.Context, messageID int64, content string) (*Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[messageID]
	if !ok {
		return nil, ErrNotFound
	}
	m.Content = content
	m.IsEdited = true
	m.UpdatedAt = time.Now()
	cp := *m
	return &cp, nil
}

func (s *memStore) TombstoneMessage(ctx context.Context, messageID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[messageID]
	if !ok {
		return ErrNotFound
	}
	m.IsDeleted = true
	m.Content = ""
	m.MediaRef = ""
	m.UpdatedAt = time.Now()

	room := s.rooms[m.RoomID]
	room.LastMessageAt = room.CreatedAt
	var newest int64
	for _, other := range s.messages {
		if other.RoomID == m.RoomID && !other.IsDeleted && other.ID > newest {
			newest = other.ID
			room.LastMessageAt = other.CreatedAt
		}
	}
	room.UpdatedAt = time.Now()
	return nil
}

func (s *memStore) ListMessagesSince(ctx context.Context, roomID, afterID int64, limit int) ([]Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Message
	// Global message ids are assigned in order, so an id scan is ordered.
	for id := afterID + 1; id <= s.nextMsgID && len(out) < limit; id++ {
		if m, ok := s.messages[id]; ok && m.RoomID == roomID {
			out = append(out, *m)
		}
	}
	return out, nil
}

func (s *memStore) CountUnread(ctx context.Context, roomID, userID, afterID int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, m := range s.messages {
		if m.RoomID == roomID && m.ID > afterID && m.SenderID != userID && !m.IsDeleted {
			n++
		}
	}
	return n, nil
}

func (s *memStore) UpsertReaction(ctx context.Context, r *Reaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.messages[r.MessageID]; !ok {
		return ErrNotFound
	}
	if s.reactions[r.MessageID] == nil {
		s.reactions[r.MessageID] = make(map[int64]string)
	}
	s.reactions[r.MessageID][r.UserID] = r.Emoji
	return nil
}

func (s *memStore) DeleteReaction(ctx context.Context, messageID, userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.reactions[messageID], userID)
	return nil
}

func (s *memStore) ListReactions(ctx context.Context, messageIDs []int64) (map[int64][]ReactionGroup, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[int64][]ReactionGroup)
	for _, id := range messageIDs {
		byUser := s.reactions[id]
		var groups []ReactionGroup
		for userID, emoji := range byUser {
			merged := false
			for i := range groups {
				if groups[i].Emoji == emoji {
					groups[i].Count++
					groups[i].Users = append(groups[i].Users, userID)
					merged = true
					break
				}
			}
			if !merged {
				groups = append(groups, ReactionGroup{Emoji: emoji, Count: 1, Users: []int64{userID}})
			}
		}
		if groups != nil {
			out[id] = groups
		}
	}
	return out, nil
}

// reactionCount reports the raw reaction rows on a message.
func (s *memStore) reactionCount(messageID int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.reactions[messageID])
}

// roomCount reports how many rooms exist.
func (s *memStore) roomCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rooms)
}
