// Command loadtest hammers a running server with conversation pairs: each
// pair registers two users, opens a conversation, joins the room over
// websocket, and exchanges messages concurrently.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var (
	baseURL  = flag.String("base", "http://localhost:8080", "server base URL")
	wsURL    = flag.String("ws", "ws://localhost:8080/ws", "websocket URL")
	pairs    = flag.Int("pairs", 50, "number of user pairs")
	messages = flag.Int("messages", 20, "messages per user")
)

type authResponse struct {
	AccessToken string `json:"access_token"`
	User        struct {
		ID int `json:"id"`
	} `json:"user"`
}

type conversationResponse struct {
	Conversation struct {
		ID int `json:"id"`
	} `json:"conversation"`
}

func main() {
	flag.Parse()
	log.Printf("starting load test: %d users, %d messages each", *pairs*2, *messages)

	var wg sync.WaitGroup
	for i := 0; i < *pairs; i++ {
		wg.Add(1)
		go func(pairID int) {
			defer wg.Done()
			runPair(pairID)
		}(i)
	}
	wg.Wait()
	log.Println("load test complete")
}

func runPair(pairID int) {
	suffix := fmt.Sprintf("%d_%d", time.Now().UnixNano(), pairID)
	tokenA, _ := register(fmt.Sprintf("a_%s@load.test", suffix), "loader_a")
	tokenB, idB := register(fmt.Sprintf("b_%s@load.test", suffix), "loader_b")
	if tokenA == "" || tokenB == "" {
		return
	}

	convID := createConversation(tokenA, idB)
	if convID == 0 {
		return
	}

	var wsWg sync.WaitGroup
	wsWg.Add(2)
	go spamChat(&wsWg, tokenA, convID)
	go spamChat(&wsWg, tokenB, convID)
	wsWg.Wait()
}

func register(email, username string) (string, int) {
	body, _ := json.Marshal(map[string]string{
		"email":    email,
		"username": username,
		"password": "password123",
	})
	resp, err := http.Post(*baseURL+"/register", "application/json", bytes.NewReader(body))
	if err != nil {
		log.Printf("register %s: %v", email, err)
		return "", 0
	}
	defer resp.Body.Close()

	var auth authResponse
	if err := json.NewDecoder(resp.Body).Decode(&auth); err != nil {
		log.Printf("register %s: decode: %v", email, err)
		return "", 0
	}
	return auth.AccessToken, auth.User.ID
}

func createConversation(token string, peerID int) int {
	body, _ := json.Marshal(map[string]int{"participant_id": peerID})
	req, _ := http.NewRequest(http.MethodPost, *baseURL+"/api/conversations", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		log.Printf("create conversation: %v", err)
		return 0
	}
	defer resp.Body.Close()

	var conv conversationResponse
	if err := json.NewDecoder(resp.Body).Decode(&conv); err != nil {
		log.Printf("create conversation: decode: %v", err)
		return 0
	}
	return conv.Conversation.ID
}

func spamChat(wg *sync.WaitGroup, token string, convID int) {
	defer wg.Done()

	conn, _, err := websocket.DefaultDialer.Dial(*wsURL+"?token="+token, nil)
	if err != nil {
		log.Printf("dial: %v", err)
		return
	}
	defer conn.Close()

	// Drain inbound relays so the server never backs up on us.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	join, _ := json.Marshal(map[string]any{
		"event": "conversation:join",
		"data":  map[string]int{"conversation_id": convID},
	})
	if err := conn.WriteMessage(websocket.TextMessage, join); err != nil {
		log.Printf("join: %v", err)
		return
	}

	for i := 0; i < *messages; i++ {
		frame, _ := json.Marshal(map[string]any{
			"event": "message:send",
			"data": map[string]any{
				"conversation_id": convID,
				"content":         fmt.Sprintf("load message %d", i),
			},
		})
		if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
			log.Printf("send: %v", err)
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
}
