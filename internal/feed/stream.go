package feed

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/psantana5/sweepwatch/internal/progress"
	"github.com/psantana5/sweepwatch/pkg/logging"
)

const writeWait = 5 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // renderers are served from other origins
	},
}

// Message is one frame pushed to stream clients
type Message struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// sendBuffer is the number of frames queued per client. A client that
// falls this far behind is dropped.
const sendBuffer = 16

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Stream pushes every render model to connected websocket clients
type Stream struct {
	snapshot func() progress.RenderModel
	logger   *logging.Logger

	mu      sync.RWMutex
	clients map[*client]struct{}
}

// NewStream creates a stream. snapshot provides the model sent on connect.
func NewStream(snapshot func() progress.RenderModel, logger *logging.Logger) *Stream {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Stream{
		snapshot: snapshot,
		logger:   logger,
		clients:  make(map[*client]struct{}),
	}
}

// Clients returns the number of connected clients
func (s *Stream) Clients() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// ServeHTTP upgrades the connection and keeps it until the client leaves
func (s *Stream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", logging.Fields{"error": err.Error()})
		return
	}

	c := &client{conn: conn, send: make(chan []byte, sendBuffer)}
	if s.snapshot != nil {
		if data, err := encode(s.snapshot()); err == nil {
			c.send <- data
		}
	}

	s.mu.Lock()
	s.clients[c] = struct{}{}
	count := len(s.clients)
	s.mu.Unlock()
	s.logger.Debug("stream client connected", logging.Fields{"clients": count})

	go s.writePump(c)
	defer func() {
		s.remove(c)
		conn.Close()
	}()

	// Clients only listen; reading detects the close.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn("stream client error", logging.Fields{"error": err.Error()})
			}
			return
		}
	}
}

// writePump is the only writer of c.conn. A failed write closes the
// connection, which ends the read loop in ServeHTTP.
func (s *Stream) writePump(c *client) {
	for data := range c.send {
		if err := write(c.conn, data); err != nil {
			s.logger.Debug("dropping stream client", logging.Fields{"error": err.Error()})
			c.conn.Close()
			return
		}
	}
	c.conn.WriteControl(websocket.CloseMessage, []byte{}, time.Now().Add(writeWait))
	c.conn.Close()
}

// Broadcast queues m for every client without waiting on any socket.
// Clients whose queue is full are dropped.
func (s *Stream) Broadcast(m progress.RenderModel) {
	data, err := encode(m)
	if err != nil {
		s.logger.Error("failed to encode render model", logging.Fields{"error": err.Error()})
		return
	}

	var slow []*client
	s.mu.RLock()
	for c := range s.clients {
		select {
		case c.send <- data:
		default:
			slow = append(slow, c)
		}
	}
	s.mu.RUnlock()

	for _, c := range slow {
		s.logger.Warn("stream client too slow, dropping", logging.Fields{"queued": len(c.send)})
		s.remove(c)
	}
}

// remove unregisters c and closes its queue, once
func (s *Stream) remove(c *client) {
	s.mu.Lock()
	if _, ok := s.clients[c]; ok {
		delete(s.clients, c)
		close(c.send)
	}
	s.mu.Unlock()
}

func encode(m progress.RenderModel) ([]byte, error) {
	return json.Marshal(Message{Type: "render", Payload: m})
}

func write(conn *websocket.Conn, data []byte) error {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, data)
}
