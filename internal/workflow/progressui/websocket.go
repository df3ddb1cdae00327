package progressui

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/ternarybob/arbor"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// wsMessage is the envelope every broadcast frame uses, so a client can
// dispatch on Type without guessing the payload shape.
type wsMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

type jobEvent struct {
	Step     string `json:"step"`
	Position uint   `json:"position,omitempty"`
	Max      *uint  `json:"max,omitempty"`
	Ok       *bool  `json:"ok,omitempty"`
}

// WebSocketSink broadcasts job lifecycle events to every connected
// WebSocket client, per the run's progress_ui=websocket mode. Each
// connection gets its own write mutex since gorilla/websocket forbids
// concurrent writers on one connection.
type WebSocketSink struct {
	logger arbor.ILogger

	mu      sync.RWMutex
	clients map[*websocket.Conn]*sync.Mutex
}

func NewWebSocketSink(logger arbor.ILogger) *WebSocketSink {
	return &WebSocketSink{logger: logger, clients: make(map[*websocket.Conn]*sync.Mutex)}
}

// HandleWebSocket upgrades the request to a WebSocket and registers the
// connection as a broadcast target until it disconnects.
func (s *WebSocketSink) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("failed to upgrade websocket connection")
		return
	}

	s.mu.Lock()
	s.clients[conn] = &sync.Mutex{}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.clients, conn)
		s.mu.Unlock()
		conn.Close()
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
}

func (s *WebSocketSink) JobStarted(name string, max *uint) {
	s.broadcast("job_started", jobEvent{Step: name, Max: max})
}

func (s *WebSocketSink) JobTicked(name string, position uint) {
	s.broadcast("job_ticked", jobEvent{Step: name, Position: position})
}

func (s *WebSocketSink) JobFinished(name string, ok bool) {
	s.broadcast("job_finished", jobEvent{Step: name, Ok: &ok})
}

func (s *WebSocketSink) broadcast(msgType string, payload jobEvent) {
	data, err := json.Marshal(wsMessage{Type: msgType, Payload: payload})
	if err != nil {
		s.logger.Warn().Err(err).Msg("failed to marshal progress event")
		return
	}

	s.mu.RLock()
	targets := make(map[*websocket.Conn]*sync.Mutex, len(s.clients))
	for conn, mu := range s.clients {
		targets[conn] = mu
	}
	s.mu.RUnlock()

	for conn, mu := range targets {
		mu.Lock()
		err := conn.WriteMessage(websocket.TextMessage, data)
		mu.Unlock()
		if err != nil {
			s.logger.Warn().Err(err).Msg("failed to send progress event to client")
		}
	}
}
