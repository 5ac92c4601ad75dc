package chat

import (
	"context"
	"encoding/json"
	"log"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"schoolchat/internal/metrics"
)

const eventsChannel = "chat:events"

// Subscription is a live event stream for one room or one user. Consume C
// until it is closed; the hub closes it on Unsubscribe or when the consumer
// falls too far behind (reconnect and gap-fill with listSince in that case).
type Subscription struct {
	ID     uuid.UUID
	RoomID int64 // >0: room stream
	UserID int64 // >0: user stream, fires for every room the user is in
	C      chan Event
}

// Hub routes events to subscriptions. All state lives behind the run loop's
// channels, so the maps need no locking. With Redis configured, every publish
// round-trips through one pub/sub channel and each instance's hub delivers to
// its local subscribers; without Redis the hub loops publishes back locally.
type Hub struct {
	roomSubs map[int64]map[*Subscription]bool
	userSubs map[int64]map[*Subscription]bool

	register   chan *Subscription
	unregister chan *Subscription
	publish    chan Event
	broadcast  chan Event

	redis   *redis.Client
	bufSize int
}

func NewHub(redisClient *redis.Client, bufSize int) *Hub {
	if bufSize <= 0 {
		bufSize = 256
	}
	return &Hub{
		roomSubs:   make(map[int64]map[*Subscription]bool),
		userSubs:   make(map[int64]map[*Subscription]bool),
		register:   make(chan *Subscription),
		unregister: make(chan *Subscription),
		publish:    make(chan Event, 64),
		broadcast:  make(chan Event, 64),
		redis:      redisClient,
		bufSize:    bufSize,
	}
}

// Run owns the subscription maps. Start it once, in its own goroutine.
func (h *Hub) Run() {
	for {
		select {
		case sub := <-h.register:
			h.add(sub)
			metrics.SubscriptionsActive.Inc()

		case sub := <-h.unregister:
			h.drop(sub)

		case ev := <-h.publish:
			metrics.EventsPublished.Inc()
			if h.redis == nil {
				h.deliver(ev)
				break
			}
			payload, err := json.Marshal(ev)
			if err != nil {
				log.Printf("hub: marshal event: %v", err)
				break
			}
			if err := h.redis.Publish(context.Background(), eventsChannel, payload).Err(); err != nil {
				log.Printf("hub: redis publish: %v", err)
				// Degrade to local delivery rather than losing the event
				// for this instance's own subscribers.
				h.deliver(ev)
			}

		case ev := <-h.broadcast:
			h.deliver(ev)
		}
	}
}

// SubscribeToRedis feeds events published by any instance into the local
// broadcast loop. Start alongside Run when Redis is configured.
func (h *Hub) SubscribeToRedis() {
	pubsub := h.redis.Subscribe(context.Background(), eventsChannel)
	ch := pubsub.Channel()

	for msg := range ch {
		var ev Event
		if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
			log.Printf("hub: bad event payload: %v", err)
			continue
		}
		h.broadcast <- ev
	}
}

// Publish implements Notifier. It never blocks the mutating caller: when the
// intake buffer is full the event is dropped and consumers recover via
// gap-fill.
func (h *Hub) Publish(ev Event) {
	select {
	case h.publish <- ev:
	default:
		metrics.EventsDropped.Inc()
	}
}

// Subscribe opens a room stream.
func (h *Hub) Subscribe(roomID int64) *Subscription {
	sub := &Subscription{ID: uuid.New(), RoomID: roomID, C: make(chan Event, h.bufSize)}
	h.register <- sub
	return sub
}

// SubscribeUser opens a user stream covering every room the user is in.
func (h *Hub) SubscribeUser(userID int64) *Subscription {
	sub := &Subscription{ID: uuid.New(), UserID: userID, C: make(chan Event, h.bufSize)}
	h.register <- sub
	return sub
}

// Unsubscribe releases the handle and closes its channel.
func (h *Hub) Unsubscribe(sub *Subscription) {
	h.unregister <- sub
}

func (h *Hub) add(sub *Subscription) {
	if sub.RoomID > 0 {
		if h.roomSubs[sub.RoomID] == nil {
			h.roomSubs[sub.RoomID] = make(map[*Subscription]bool)
		}
		h.roomSubs[sub.RoomID][sub] = true
		return
	}
	if h.userSubs[sub.UserID] == nil {
		h.userSubs[sub.UserID] = make(map[*Subscription]bool)
	}
	h.userSubs[sub.UserID][sub] = true
}

func (h *Hub) drop(sub *Subscription) {
	var set map[*Subscription]bool
	if sub.RoomID > 0 {
		set = h.roomSubs[sub.RoomID]
	} else {
		set = h.userSubs[sub.UserID]
	}
	if set != nil && set[sub] {
		delete(set, sub)
		close(sub.C)
		metrics.SubscriptionsActive.Dec()
	}
}

// deliver pushes one event to every room subscriber and every recipient's
// user subscribers. A subscriber with a full buffer is cut loose; it is
// expected to reconnect and gap-fill.
func (h *Hub) deliver(ev Event) {
	for sub := range h.roomSubs[ev.RoomID] {
		h.send(sub, ev)
	}
	for _, uid := range ev.Recipients {
		for sub := range h.userSubs[uid] {
			h.send(sub, ev)
		}
	}
}

func (h *Hub) send(sub *Subscription, ev Event) {
	select {
	case sub.C <- ev:
	default:
		metrics.EventsDropped.Inc()
		h.drop(sub)
	}
}
