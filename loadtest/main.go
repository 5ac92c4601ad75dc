package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	BaseURL   = "http://localhost:8080"
	WSURL     = "ws://localhost:8080/ws"
	PairCount = 50 // Pairs of users chatting with each other
	MsgCount  = 20 // Messages per user
	Racers    = 8  // Concurrent resolveDirect calls per pair (dedup race check)
)

type AuthResponse struct {
	Token    string `json:"access_token"`
	ID       int64  `json:"id"`
	Username string `json:"username"`
}

type RoomResponse struct {
	ID int64 `json:"id"`
}

func main() {
	log.Printf("🔥 STARTING LOAD TEST: %d pairs, %d messages each, %d racers...", PairCount, MsgCount, Racers)
	var wg sync.WaitGroup

	for i := 0; i < PairCount; i++ {
		wg.Add(1)
		go func(pairID int) {
			defer wg.Done()
			runPair(pairID)
		}(i)
	}

	wg.Wait()
	log.Println("✅ LOAD TEST COMPLETE")
}

func runPair(pairID int) {
	userA := fmt.Sprintf("u_%d_a", pairID)
	userB := fmt.Sprintf("u_%d_b", pairID)
	pass := "password123"

	authA := authenticate(userA, pass)
	authB := authenticate(userB, pass)
	if authA == nil || authB == nil {
		return
	}

	// Hammer resolveDirect from both sides at once; every call must land in
	// the same room.
	roomIDs := make([]int64, Racers*2)
	var raceWg sync.WaitGroup
	for i := 0; i < Racers; i++ {
		raceWg.Add(2)
		go func(slot int) {
			defer raceWg.Done()
			roomIDs[slot] = resolveDirect(authA.Token, authB.ID)
		}(i * 2)
		go func(slot int) {
			defer raceWg.Done()
			roomIDs[slot] = resolveDirect(authB.Token, authA.ID)
		}(i*2 + 1)
	}
	raceWg.Wait()

	roomID := roomIDs[0]
	for _, id := range roomIDs {
		if id != roomID {
			log.Printf("❌ DEDUP VIOLATION pair %d: rooms %v", pairID, roomIDs)
			return
		}
	}
	if roomID == 0 {
		return
	}

	var chatWg sync.WaitGroup
	chatWg.Add(2)
	go spamChat(&chatWg, authA, roomID, userA)
	go spamChat(&chatWg, authB, roomID, userB)
	chatWg.Wait()
}

// authenticate registers (ignoring the already-exists error) and logs in.
func authenticate(username, password string) *AuthResponse {
	postJSON("/register", map[string]string{"username": username, "password": password})

	resp, err := postJSON("/login", map[string]string{"username": username, "password": password})
	if err != nil {
		log.Printf("❌ Login failed [%s]: %v", username, err)
		return nil
	}
	defer resp.Body.Close()

	var data AuthResponse
	json.NewDecoder(resp.Body).Decode(&data)
	if data.Token == "" {
		return nil
	}
	return &data
}

func resolveDirect(token string, targetID int64) int64 {
	body, _ := json.Marshal(map[string]int64{"target_id": targetID})
	req, _ := http.NewRequest("POST", BaseURL+"/api/rooms/direct", bytes.NewBuffer(body))
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil || resp.StatusCode != http.StatusOK {
		log.Printf("❌ resolveDirect failed: %v", err)
		return 0
	}
	defer resp.Body.Close()

	var data RoomResponse
	json.NewDecoder(resp.Body).Decode(&data)
	return data.ID
}

// spamChat opens the room's event stream, sends MsgCount messages over REST
// and keeps draining events until both sides are done.
func spamChat(wg *sync.WaitGroup, auth *AuthResponse, roomID int64, user string) {
	defer wg.Done()

	conn, _, err := websocket.DefaultDialer.Dial(
		fmt.Sprintf("%s?room_id=%d&token=%s", WSURL, roomID, auth.Token), nil)
	if err != nil {
		log.Printf("❌ WS connect failed [%s]: %v", user, err)
		return
	}
	defer conn.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for i := 0; i < MsgCount; i++ {
		body, _ := json.Marshal(map[string]string{
			"content": fmt.Sprintf("load test msg %d from %s", i, user),
		})
		req, _ := http.NewRequest("POST",
			fmt.Sprintf("%s/api/rooms/%d/messages", BaseURL, roomID), bytes.NewBuffer(body))
		req.Header.Set("Authorization", "Bearer "+auth.Token)
		req.Header.Set("Content-Type", "application/json")

		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			log.Printf("❌ Send failed [%s]: %v", user, err)
			break
		}
		resp.Body.Close()
		// Small sleep to avoid an instant localhost bottleneck.
		time.Sleep(10 * time.Millisecond)
	}
	log.Printf("✅ %s finished sending %d msgs", user, MsgCount)
}

func postJSON(endpoint string, data interface{}) (*http.Response, error) {
	jsonData, _ := json.Marshal(data)
	return http.Post(BaseURL+endpoint, "application/json", bytes.NewBuffer(jsonData))
}
