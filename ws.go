package main

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

const (
	maxPlayerIDLength = 64
	maxNameLength     = 30
	maxFaceLength     = 8

	sendBufferSize = 16
	writeWait      = 10 * time.Second
)

// Inbound text frames carry one action each. Drawings arrive as raw binary
// frames instead, so the canvas bytes never round-trip through JSON.
type actionEnvelope struct {
	Action  string          `json:"action"`
	Content json.RawMessage `json:"content"`
}

type accessContent struct {
	GameID   string `json:"gameId"`
	PlayerID string `json:"playerId"`
}

type joinContent struct {
	GameID   string `json:"gameId"`
	PlayerID string `json:"playerId"`
	Name     string `json:"name"`
	Face     string `json:"face"`
}

type typeContent struct {
	Text string `json:"text"`
}

// wsClient adapts one websocket connection to the Conn interface. Outbound
// views are serialized through the send channel, so a connection never
// receives two interleaved writes.
type wsClient struct {
	cfg  *Config
	id   string
	conn *websocket.Conn
	send chan any
}

func (c *wsClient) ID() string {
	return c.id
}

// Send queues a view without blocking. A client too slow to drain its buffer
// loses updates rather than stalling the session that produced them; the
// next broadcast catches it up.
func (c *wsClient) Send(view any) {
	select {
	case c.send <- view:
	default:
		logf(c.cfg, "SERVE: Dropping update for slow client %s", c.id)
	}
}

func (c *wsClient) readPump(cfg *Config, router *SessionRouter) {
	defer func() {
		router.Disconnect(c)
		close(c.send)
		_ = c.conn.Close()
	}()

	// binary frames are drawings, leave some headroom over the image cap
	c.conn.SetReadLimit(int64(cfg.maxImageBytes) + 4096)

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		switch messageType {
		case websocket.BinaryMessage:
			logf(cfg, "SERVE: Received drawing (%s) from client %s", humanReadableSize(int64(len(data))), c.id)
			router.SubmitImage(c, data)
		case websocket.TextMessage:
			c.handleAction(cfg, router, data)
		}
	}
}

func (c *wsClient) handleAction(cfg *Config, router *SessionRouter, data []byte) {
	var envelope actionEnvelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		logf(cfg, "SERVE: Client %s sent invalid message: %v", c.id, err)
		return
	}

	switch envelope.Action {
	case "access":
		var content accessContent
		if err := json.Unmarshal(envelope.Content, &content); err != nil || !validPlayerID(content.PlayerID) {
			logf(cfg, "SERVE: Client %s sent invalid access action", c.id)
			return
		}
		router.Access(c, content.GameID, content.PlayerID)
	case "join":
		var content joinContent
		if err := json.Unmarshal(envelope.Content, &content); err != nil || !validJoin(content) {
			logf(cfg, "SERVE: Client %s sent invalid join action", c.id)
			return
		}
		router.Join(c, content.GameID, content.PlayerID, content.Name, content.Face)
	case "start":
		router.Start(c)
	case "type":
		var content typeContent
		if err := json.Unmarshal(envelope.Content, &content); err != nil {
			logf(cfg, "SERVE: Client %s sent invalid type action", c.id)
			return
		}
		router.SubmitText(c, content.Text)
	default:
		logf(cfg, "SERVE: Client %s sent unknown action %q", c.id, envelope.Action)
	}
}

func validPlayerID(playerID string) bool {
	return playerID != "" && len(playerID) <= maxPlayerIDLength
}

func validJoin(content joinContent) bool {
	return validPlayerID(content.PlayerID) &&
		content.Name != "" && len(content.Name) <= maxNameLength &&
		content.Face != "" && len(content.Face) <= maxFaceLength
}

func (c *wsClient) writePump() {
	defer c.conn.Close()

	for view := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteJSON(view); err != nil {
			return
		}
	}
}

func serveWS(cfg *Config, router *SessionRouter) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Println("upgrade error:", err)
			return
		}

		client := &wsClient{
			cfg:  cfg,
			id:   uuid.NewString(),
			conn: conn,
			send: make(chan any, sendBufferSize),
		}

		logf(cfg, "SERVE: Connection %s from %s", client.id, realIP(r))

		go client.writePump()
		client.readPump(cfg, router)
	}
}
