package server

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Message is the WebSocket frame in both directions. Clients send
// {"type":"ask","content":"...","k":4}.
type Message struct {
	Type    string      `json:"type"`
	Content string      `json:"content,omitempty"`
	K       int         `json:"k,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

// wsConn serialises writes; gorilla connections allow one concurrent writer.
type wsConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *wsConn) send(msg Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(msg)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("WebSocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	ws := &wsConn{conn: conn}
	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Warn("Error reading message", "error", err)
			}
			return
		}

		var msg Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			s.sendWS(ws, Message{Type: "error", Content: "invalid message"})
			continue
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			s.handleMessage(r, ws, msg)
		}()
	}
}

func (s *Server) handleMessage(r *http.Request, ws *wsConn, msg Message) {
	switch msg.Type {
	case "ask", "":
		if msg.Content == "" {
			s.sendWS(ws, Message{Type: "error", Content: "content is required"})
			return
		}
		answer, err := s.service.Ask(r.Context(), msg.Content, msg.K)
		if err != nil {
			s.sendWS(ws, Message{Type: "error", Content: err.Error()})
			return
		}
		s.sendWS(ws, Message{Type: "answer", Data: answer})
	case "search":
		hits, err := s.service.Search(r.Context(), msg.Content, msg.K)
		if err != nil {
			s.sendWS(ws, Message{Type: "error", Content: err.Error()})
			return
		}
		s.sendWS(ws, Message{Type: "results", Data: hits})
	default:
		s.sendWS(ws, Message{Type: "error", Content: "unknown message type " + msg.Type})
	}
}

func (s *Server) sendWS(ws *wsConn, msg Message) {
	if err := ws.send(msg); err != nil {
		s.log.Warn("Error sending message", "error", err)
	}
}
