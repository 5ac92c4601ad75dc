package chat

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"schoolchat/internal/middleware"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all for now (dev mode)
	},
}

type Handler struct {
	svc *Service
	hub *Hub
}

func NewHandler(svc *Service, hub *Hub) *Handler {
	return &Handler{svc: svc, hub: hub}
}

// Routes mounts every messaging operation. The router is expected to already
// carry the auth middleware.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/rooms", h.ListRooms)
	r.Post("/rooms/direct", h.ResolveDirect)
	r.Post("/rooms/group", h.CreateGroup)
	r.Post("/rooms/{roomID}/participants", h.AddParticipant)
	r.Delete("/rooms/{roomID}/participants/{userID}", h.RemoveParticipant)
	r.Post("/rooms/{roomID}/read", h.MarkRead)
	r.Get("/rooms/{roomID}/unread", h.UnreadCount)
	r.Post("/rooms/{roomID}/messages", h.SendMessage)
	r.Get("/rooms/{roomID}/messages", h.ListMessages)
	r.Patch("/messages/{messageID}", h.EditMessage)
	r.Delete("/messages/{messageID}", h.DeleteMessage)
	r.Put("/messages/{messageID}/reaction", h.SetReaction)
	r.Delete("/messages/{messageID}/reaction", h.ClearReaction)
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		json.NewEncoder(w).Encode(v)
	}
}

func respondError(w http.ResponseWriter, err error) {
	status := HTTPStatusFromError(err)
	if status == http.StatusInternalServerError {
		log.Printf("chat handler: %v", err)
		http.Error(w, "internal error", status)
		return
	}
	http.Error(w, err.Error(), status)
}

func urlID(r *http.Request, name string) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, name), 10, 64)
}

func (h *Handler) ListRooms(w http.ResponseWriter, r *http.Request) {
	callerID, _ := middleware.UserID(r)
	rooms, err := h.svc.Rooms(r.Context(), callerID)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, rooms)
}

func (h *Handler) ResolveDirect(w http.ResponseWriter, r *http.Request) {
	callerID, _ := middleware.UserID(r)

	var req struct {
		TargetID int64 `json:"target_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	room, err := h.svc.ResolveDirect(r.Context(), callerID, req.TargetID)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, room)
}

func (h *Handler) CreateGroup(w http.ResponseWriter, r *http.Request) {
	callerID, _ := middleware.UserID(r)

	var req struct {
		Name      string  `json:"name"`
		Kind      string  `json:"kind"`
		MemberIDs []int64 `json:"member_ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	room, err := h.svc.CreateGroup(r.Context(), callerID, req.MemberIDs, req.Name, req.Kind)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, room)
}

func (h *Handler) AddParticipant(w http.ResponseWriter, r *http.Request) {
	callerID, _ := middleware.UserID(r)
	roomID, err := urlID(r, "roomID")
	if err != nil {
		http.Error(w, "bad room id", http.StatusBadRequest)
		return
	}

	var req struct {
		UserID int64  `json:"user_id"`
		Role   string `json:"role"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := h.svc.AddParticipant(r.Context(), callerID, roomID, req.UserID, req.Role); err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusNoContent, nil)
}

func (h *Handler) RemoveParticipant(w http.ResponseWriter, r *http.Request) {
	callerID, _ := middleware.UserID(r)
	roomID, err := urlID(r, "roomID")
	if err != nil {
		http.Error(w, "bad room id", http.StatusBadRequest)
		return
	}
	userID, err := urlID(r, "userID")
	if err != nil {
		http.Error(w, "bad user id", http.StatusBadRequest)
		return
	}

	if err := h.svc.RemoveParticipant(r.Context(), callerID, roomID, userID); err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusNoContent, nil)
}

func (h *Handler) MarkRead(w http.ResponseWriter, r *http.Request) {
	callerID, _ := middleware.UserID(r)
	roomID, err := urlID(r, "roomID")
	if err != nil {
		http.Error(w, "bad room id", http.StatusBadRequest)
		return
	}

	var req struct {
		MessageID int64 `json:"message_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := h.svc.MarkRead(r.Context(), roomID, callerID, req.MessageID); err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusNoContent, nil)
}

func (h *Handler) UnreadCount(w http.ResponseWriter, r *http.Request) {
	callerID, _ := middleware.UserID(r)
	roomID, err := urlID(r, "roomID")
	if err != nil {
		http.Error(w, "bad room id", http.StatusBadRequest)
		return
	}

	n, err := h.svc.UnreadCount(r.Context(), roomID, callerID)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]int64{"unread": n})
}

func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	callerID, _ := middleware.UserID(r)
	roomID, err := urlID(r, "roomID")
	if err != nil {
		http.Error(w, "bad room id", http.StatusBadRequest)
		return
	}

	var req struct {
		Content   string `json:"content"`
		Type      string `json:"type"`
		MediaRef  string `json:"media_ref"`
		ReplyToID *int64 `json:"reply_to_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	msg, err := h.svc.Send(r.Context(), roomID, callerID, req.Content, req.Type, req.MediaRef, req.ReplyToID)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, msg)
}

func (h *Handler) ListMessages(w http.ResponseWriter, r *http.Request) {
	callerID, _ := middleware.UserID(r)
	roomID, err := urlID(r, "roomID")
	if err != nil {
		http.Error(w, "bad room id", http.StatusBadRequest)
		return
	}

	after, _ := strconv.ParseInt(r.URL.Query().Get("after"), 10, 64)
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	msgs, reactions, err := h.svc.ListSince(r.Context(), roomID, callerID, after, limit)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"messages":  msgs,
		"reactions": reactions,
	})
}

func (h *Handler) EditMessage(w http.ResponseWriter, r *http.Request) {
	callerID, _ := middleware.UserID(r)
	messageID, err := urlID(r, "messageID")
	if err != nil {
		http.Error(w, "bad message id", http.StatusBadRequest)
		return
	}

	var req struct {
		Content string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	msg, err := h.svc.Edit(r.Context(), messageID, callerID, req.Content)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, msg)
}

func (h *Handler) DeleteMessage(w http.ResponseWriter, r *http.Request) {
	callerID, _ := middleware.UserID(r)
	messageID, err := urlID(r, "messageID")
	if err != nil {
		http.Error(w, "bad message id", http.StatusBadRequest)
		return
	}

	if err := h.svc.SoftDelete(r.Context(), messageID, callerID); err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusNoContent, nil)
}

func (h *Handler) SetReaction(w http.ResponseWriter, r *http.Request) {
	callerID, _ := middleware.UserID(r)
	messageID, err := urlID(r, "messageID")
	if err != nil {
		http.Error(w, "bad message id", http.StatusBadRequest)
		return
	}

	var req struct {
		Emoji string `json:"emoji"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := h.svc.SetReaction(r.Context(), messageID, callerID, req.Emoji); err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusNoContent, nil)
}

func (h *Handler) ClearReaction(w http.ResponseWriter, r *http.Request) {
	callerID, _ := middleware.UserID(r)
	messageID, err := urlID(r, "messageID")
	if err != nil {
		http.Error(w, "bad message id", http.StatusBadRequest)
		return
	}

	if err := h.svc.ClearReaction(r.Context(), messageID, callerID); err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusNoContent, nil)
}

// ServeWs upgrades the connection and attaches it to a subscription:
// ?room_id=N for a room stream (participants only), none for the caller's
// user stream. Closing the socket releases the subscription.
func (h *Handler) ServeWs(w http.ResponseWriter, r *http.Request) {
	callerID, ok := middleware.UserID(r)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var roomID int64
	if raw := r.URL.Query().Get("room_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			http.Error(w, "bad room id", http.StatusBadRequest)
			return
		}
		member, err := h.svc.IsParticipant(r.Context(), id, callerID)
		if err != nil {
			respondError(w, err)
			return
		}
		if !member {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		roomID = id
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Println(err)
		return
	}

	var sub *Subscription
	if roomID > 0 {
		sub = h.hub.Subscribe(roomID)
	} else {
		sub = h.hub.SubscribeUser(callerID)
	}

	client := NewClient(h.hub, conn, sub)
	go client.WritePump()
	go client.ReadPump()
}
