// Package posestream publishes the avatar pose to websocket clients once
// per frame and accepts simple control commands back from them.
package posestream

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	av "github.com/normanking/avatarmotion/internal/avatar3d"
)

const (
	writeWait  = 5 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	sendBuffer = 16
)

// BonePose is the wire form of a bone transform.
type BonePose struct {
	Position [3]float32 `json:"p"`
	Rotation [3]float32 `json:"r"`
	Scale    [3]float32 `json:"s"`
}

// Frame is one pose snapshot.
type Frame struct {
	Seq       uint64              `json:"seq"`
	Timestamp int64               `json:"t_ms"`
	Weights   av.WeightMap        `json:"weights"`
	Bones     map[string]BonePose `json:"bones,omitempty"`
}

// Command is a control message sent by a client.
type Command struct {
	Type      string  `json:"type"` // emotion, gesture, response, enable, disable
	Emotion   string  `json:"emotion,omitempty"`
	Gesture   string  `json:"gesture,omitempty"`
	Intensity float64 `json:"intensity,omitempty"`
	Text      string  `json:"text,omitempty"`
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub is a pose target that mirrors every write into an in-memory avatar
// and streams snapshots of it to connected clients.
type Hub struct {
	*av.Avatar

	logger   zerolog.Logger
	upgrader websocket.Upgrader

	mu        sync.RWMutex
	clients   map[*client]struct{}
	seq       uint64
	onCommand func(Command)
}

// NewHub creates a hub backed by avatar.
func NewHub(avatar *av.Avatar, logger zerolog.Logger) *Hub {
	return &Hub{
		Avatar: avatar,
		logger: logger.With().Str("component", "posestream").Logger(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		clients: make(map[*client]struct{}),
	}
}

// OnCommand registers the handler for client commands. It runs on the
// client's read goroutine.
func (h *Hub) OnCommand(fn func(Command)) {
	h.mu.Lock()
	h.onCommand = fn
	h.mu.Unlock()
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Snapshot builds the frame for timestamp without sending it.
func (h *Hub) Snapshot(timestamp time.Duration) Frame {
	bones := h.Transforms()
	f := Frame{
		Timestamp: timestamp.Milliseconds(),
		Weights:   h.Weights(),
	}
	if len(bones) > 0 {
		f.Bones = make(map[string]BonePose, len(bones))
		for name, t := range bones {
			f.Bones[name] = BonePose{Position: t.Position, Rotation: t.Rotation, Scale: t.Scale}
		}
	}
	return f
}

// Flush sends the current pose to every client and returns how many
// received it. Clients whose buffer is full skip the frame.
func (h *Hub) Flush(timestamp time.Duration) (int, error) {
	f := h.Snapshot(timestamp)

	h.mu.Lock()
	h.seq++
	f.Seq = h.seq
	h.mu.Unlock()

	data, err := json.Marshal(f)
	if err != nil {
		return 0, fmt.Errorf("encode frame %d: %w", f.Seq, err)
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	sent := 0
	for c := range h.clients {
		select {
		case c.send <- data:
			sent++
		default:
			h.logger.Debug().Uint64("seq", f.Seq).Str("remote", c.conn.RemoteAddr().String()).Msg("Client slow, frame skipped")
		}
	}
	return sent, nil
}

// ServeHTTP upgrades the request and streams frames until the client
// disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	c := &client{conn: conn, send: make(chan []byte, sendBuffer)}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	h.logger.Info().Str("remote", conn.RemoteAddr().String()).Msg("Pose client connected")

	go h.writePump(c)
	h.readPump(c)
}

func (h *Hub) readPump(c *client) {
	defer func() {
		h.mu.Lock()
		if _, ok := h.clients[c]; ok {
			delete(h.clients, c)
			close(c.send)
		}
		h.mu.Unlock()
		c.conn.Close()
		h.logger.Info().Str("remote", c.conn.RemoteAddr().String()).Msg("Pose client disconnected")
	}()

	c.conn.SetReadLimit(4096)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var cmd Command
		if err := c.conn.ReadJSON(&cmd); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn().Err(err).Msg("WebSocket read error")
			}
			return
		}
		h.mu.RLock()
		fn := h.onCommand
		h.mu.RUnlock()
		if fn == nil {
			continue
		}
		fn(cmd)
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}
