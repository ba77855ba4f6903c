// Package ws streams the host's live packet feed over WebSocket. Clients
// connect to /ws and receive one JSON message per captured packet; the
// server implements connector.PacketSink so it can be attached to any
// connector's stream the same way a PCAP monitor is.
package ws

import (
	"encoding/hex"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/whad-go/whad/pkg/logger"
)

const (
	writeTimeout = 10 * time.Second
	sendDepth    = 64
)

// PacketMessage is the JSON shape pushed to clients.
type PacketMessage struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp_us"`
	Data      string `json:"data"`
}

type client struct {
	conn *websocket.Conn
	send chan PacketMessage
}

// Server fans captured packets out to connected WebSocket clients.
type Server struct {
	mu       sync.Mutex
	log      *logger.Logger
	upgrader websocket.Upgrader
	clients  map[*client]bool
}

// NewServer creates a WebSocket feed server.
func NewServer(log *logger.Logger) *Server {
	return &Server{
		log: log.WithComponent("api.ws"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		clients: make(map[*client]bool),
	}
}

// HandleUpgrade upgrades an HTTP request into a streaming client.
func (s *Server) HandleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error("ws upgrade failed", "error", err)
		return
	}
	c := &client{conn: conn, send: make(chan PacketMessage, sendDepth)}

	s.mu.Lock()
	s.clients[c] = true
	s.mu.Unlock()

	go s.writePump(c)
	go s.readPump(c)
}

// ProcessPacket implements connector.PacketSink: every captured packet is
// broadcast to all connected clients, dropping for clients that cannot
// keep up rather than blocking the dispatch path.
func (s *Server) ProcessPacket(data []byte, timestampMicros int64) {
	msg := PacketMessage{Type: "packet", Timestamp: timestampMicros, Data: hex.EncodeToString(data)}

	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.clients {
		select {
		case c.send <- msg:
		default:
		}
	}
}

// ClientCount returns the number of connected clients.
func (s *Server) ClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

func (s *Server) writePump(c *client) {
	for msg := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := c.conn.WriteJSON(msg); err != nil {
			s.drop(c)
			return
		}
	}
}

// readPump consumes client frames to detect disconnection; clients do not
// send meaningful data.
func (s *Server) readPump(c *client) {
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			s.drop(c)
			return
		}
	}
}

func (s *Server) drop(c *client) {
	s.mu.Lock()
	if _, ok := s.clients[c]; ok {
		delete(s.clients, c)
		close(c.send)
	}
	s.mu.Unlock()
	_ = c.conn.Close()
}

// Close disconnects every client.
func (s *Server) Close() {
	s.mu.Lock()
	clients := make([]*client, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()
	for _, c := range clients {
		s.drop(c)
	}
}
