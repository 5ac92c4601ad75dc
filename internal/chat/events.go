package chat

// Event types fanned out to subscribers.
const (
	EventRoomCreated        = "room.created"
	EventMessageCreated     = "message.created"
	EventMessageEdited      = "message.edited"
	EventMessageDeleted     = "message.deleted"
	EventReactionChanged    = "reaction.changed"
	EventParticipantAdded   = "participant.added"
	EventParticipantRemoved = "participant.removed"
)

// Event is the fan-out envelope. Exactly one of Message, Reaction,
// Participant or Room is set depending on Type. Recipients carries the room's
// participant ids at emission time so user streams can be routed without the
// hub consulting the store; delivery is at-least-once and consumers
// de-duplicate on Message.ID.
type Event struct {
	Type        string       `json:"type"`
	RoomID      int64        `json:"room_id"`
	Message     *Message     `json:"message,omitempty"`
	Reaction    *Reaction    `json:"reaction,omitempty"`
	Participant *Participant `json:"participant,omitempty"`
	Room        *Room        `json:"room,omitempty"`
	Recipients  []int64      `json:"recipients,omitempty"`
}

// Notifier pushes events to live subscribers. Implementations must never
// block the caller or surface delivery failures; a missed event is recovered
// by the consumer's listSince gap-fill.
type Notifier interface {
	Publish(ev Event)
}

// NopNotifier discards events.
type NopNotifier struct{}

func (NopNotifier) Publish(Event) {}
