package webui

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/23skdu/quarrel-chat/internal/chat"
	"github.com/23skdu/quarrel-chat/internal/logger"
	"github.com/23skdu/quarrel-chat/internal/metrics"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
)

// WSMessage is the envelope for every frame in both directions.
type WSMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type WSError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type wsStatus struct {
	State string `json:"state"`
}

type connection struct {
	conn    *websocket.Conn
	respond chat.RespondFunc
	send    chan []byte
	done    chan struct{}
	log     *logger.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     *sync.WaitGroup

	// busy serializes chat requests on one connection.
	busy sync.Mutex
}

func (s *Server) upgrader() websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			return checkOrigin(r, s.opts.AllowedOrigins)
		},
	}
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	metrics.RecordRequest(s.opts.Profile, "/ws")

	// One slot for each pump.
	if !s.trackConn(2) {
		writeError(w, http.StatusServiceUnavailable, "Server is shutting down")
		return
	}

	up := s.upgrader()
	conn, err := up.Upgrade(w, r, nil)
	if err != nil {
		s.conns.Add(-2)
		// Upgrade has already written the HTTP error.
		logger.Log.Warn("WebSocket upgrade failed", "error", err)
		return
	}

	ctx, cancel := context.WithCancel(s.ctx)
	c := &connection{
		conn:    conn,
		respond: s.ui.Respond,
		send:    make(chan []byte, 64),
		done:    make(chan struct{}),
		log:     logger.Log.With("request_id", RequestIDFromContext(r.Context())),
		ctx:     ctx,
		cancel:  cancel,
		wg:      &s.conns,
	}

	metrics.ActiveConnections.Inc()
	go c.writePump()
	go c.readPump()
}

func (c *connection) readPump() {
	defer c.wg.Done()
	defer func() {
		c.cancel()
		close(c.done)
		_ = c.conn.Close()
		metrics.ActiveConnections.Dec()
	}()

	c.conn.SetReadLimit(maxBodyBytes)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Warn("WebSocket read failed", "error", err)
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))

		var msg WSMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.sendError("INVALID_REQUEST", "Invalid JSON format")
			continue
		}
		c.handleMessage(msg)
	}
}

func (c *connection) writePump() {
	defer c.wg.Done()
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case data := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case <-c.ctx.Done():
			// Server shutdown; closing the socket ends readPump.
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
			return
		}
	}
}

func (c *connection) handleMessage(msg WSMessage) {
	switch msg.Type {
	case "chat":
		var req ChatRequest
		if len(msg.Payload) == 0 || json.Unmarshal(msg.Payload, &req) != nil {
			c.sendError("INVALID_REQUEST", "Invalid chat request")
			return
		}
		message, history, err := req.resolve()
		if err != nil {
			c.sendError("INVALID_REQUEST", err.Error())
			return
		}
		if !c.busy.TryLock() {
			c.sendError("BUSY", "A response is already being generated")
			return
		}
		// Generation can outlast the read deadline, so it runs off the read loop.
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			defer c.busy.Unlock()
			c.handleChat(message, history)
		}()
	case "ping":
		c.sendMessage("pong", nil)
	default:
		c.sendError("UNKNOWN_TYPE", "Unknown message type: "+msg.Type)
	}
}

func (c *connection) handleChat(message string, history []chat.Turn) {
	c.sendMessage("status", wsStatus{State: "generating"})

	reply, err := c.respond(c.ctx, message, history)
	if err != nil {
		if c.ctx.Err() != nil {
			return
		}
		c.log.Warn("Chat request failed", "error", err)
		c.sendError("INFERENCE_ERROR", err.Error())
		return
	}
	c.sendMessage("message", ChatResponse{Response: reply})
}

func (c *connection) sendMessage(typ string, payload interface{}) {
	msg := WSMessage{Type: typ}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			c.log.Error("Failed to encode WebSocket payload", "type", typ, "error", err)
			return
		}
		msg.Payload = raw
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}

	select {
	case c.send <- data:
	case <-c.done:
	}
}

func (c *connection) sendError(code, message string) {
	metrics.RecordError("websocket_" + code)
	c.sendMessage("error", WSError{Code: code, Message: message})
}

// checkOrigin accepts same-host pages, non-browser clients without an Origin
// header and any origin on the CORS allowlist.
func checkOrigin(r *http.Request, allowedOrigins []string) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range allowedOrigins {
		if allowed == "*" || strings.EqualFold(strings.TrimSpace(allowed), origin) {
			return true
		}
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Host, r.Host)
}
