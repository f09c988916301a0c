// WebSocket transport. Each connection gets a crypto-random id, a buffered
// outbound channel, and a read/write pump pair; game events are fanned out
// through the non-blocking Send so one stalled client can never hold up a
// room's critical section. A full channel drops the event for that client
// rather than blocking the sender.

package main

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"github.com/skip2/go-qrcode"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// clientMessage is the inbound wire envelope.
type clientMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type findMatchRequest struct {
	PlayerName           string `json:"playerName"`
	GameMode             string `json:"gameMode"`
	PersonalCategory     string `json:"personalCategory"`
	PersonalCategoryName string `json:"personalCategoryName"`
}

type submitGuessRequest struct {
	Guess string `json:"guess"`
}

type connectedData struct {
	PlayerID string `json:"playerId"`
}

type wsClient struct {
	id   string
	conn *websocket.Conn

	mu     sync.Mutex
	closed bool
	send   chan event
}

// Send queues one event for delivery, reporting false when the client has
// disconnected or its buffer is full. The closed flag makes Send safe against
// a teardown racing a broadcast from another goroutine.
func (c *wsClient) Send(eventType string, data any) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}

	select {
	case c.send <- event{Type: eventType, Data: data}:
		return true
	default:
		return false
	}
}

func (c *wsClient) close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

func (c *wsClient) readPump(cfg *Config, gm *gameManager) {
	defer func() {
		gm.handleDisconnect(c.id)
		c.close()
		_ = c.conn.Close()
	}()

	for {
		var msg clientMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			return
		}

		switch msg.Type {
		case "findMatch":
			var req findMatchRequest
			if err := json.Unmarshal(msg.Data, &req); err != nil {
				logf(cfg, "WS: Bad findMatch payload from %s: %v", c.id, err)
				continue
			}
			if req.PlayerName == "" {
				req.PlayerName = "Player"
			}
			if req.GameMode == "" {
				req.GameMode = "general"
			}
			gm.findMatch(c.id, req.PlayerName, req.GameMode, req.PersonalCategory, req.PersonalCategoryName)
		case "findSurvivalMatch":
			var req findMatchRequest
			if err := json.Unmarshal(msg.Data, &req); err != nil {
				logf(cfg, "WS: Bad findSurvivalMatch payload from %s: %v", c.id, err)
				continue
			}
			if req.PlayerName == "" {
				req.PlayerName = "Player"
			}
			gm.findSurvivalMatch(c.id, req.PlayerName, "survival", req.PersonalCategory, req.PersonalCategoryName)
		case "submitGuess":
			var req submitGuessRequest
			if err := json.Unmarshal(msg.Data, &req); err != nil {
				continue
			}
			if strings.TrimSpace(req.Guess) == "" {
				continue
			}
			gm.routeGuess(c.id, req.Guess)
		case "playerReady":
			gm.setPlayerReady(c.id, true)
		case "playerUnready":
			gm.setPlayerReady(c.id, false)
		default:
			// ignore unknown types
		}
	}
}

func (c *wsClient) writePump() {
	defer c.conn.Close()

	for msg := range c.send {
		if err := c.conn.WriteJSON(msg); err != nil {
			return
		}
	}
}

func newConnectionID() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		panic("crypto/rand failure: " + err.Error())
	}
	return hex.EncodeToString(buf)
}

func serveWS(cfg *Config, gm *gameManager) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logf(cfg, "WS: Upgrade error: %v", err)
			return
		}

		client := &wsClient{
			id:   newConnectionID(),
			conn: conn,
			send: make(chan event, 32),
		}

		gm.handleConnect(client, client.id)
		client.Send("connected", connectedData{PlayerID: client.id})

		go client.writePump()
		client.readPump(cfg, gm)
	}
}

// qrHandler generates a PNG QR code pointing at the game URL, so a phone can
// join the lobby by scanning the screen.
func qrHandler(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	// Derive scheme (respecting TLS and X-Forwarded-Proto if present).
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}

	url := scheme + "://" + r.Host + strings.TrimSuffix(r.URL.Path, "/qr")

	const qrSize = 320 // mobile-friendly size
	png, err := qrcode.Encode(url, qrcode.Medium, qrSize)
	if err != nil {
		http.Error(w, "qr generation failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(png)
}

// registerHintman wires the game's transport routes:
//   - $prefix/ws → the single matchmaking/game WebSocket
//   - $prefix/qr → PNG QR code for sharing the game URL
func registerHintman(cfg *Config, gm *gameManager, mux *httprouter.Router) {
	mux.GET(cfg.prefix+"/ws", serveWS(cfg, gm))
	mux.GET(cfg.prefix+"/qr", qrHandler)
}
