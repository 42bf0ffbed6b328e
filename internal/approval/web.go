package approval

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

// WebAdapter broadcasts approval requests to connected websocket clients
// and accepts responses from any of them. Responses arrive as JSON
// Response documents on the socket.
type WebAdapter struct {
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu        sync.Mutex
	conns     map[*websocket.Conn]bool
	responses map[string]*Response
}

// NewWebAdapter builds the adapter; mount it on an HTTP mux via Handler().
func NewWebAdapter(logger *slog.Logger) *WebAdapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebAdapter{
		logger:    logger,
		upgrader:  websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 1024},
		conns:     make(map[*websocket.Conn]bool),
		responses: make(map[string]*Response),
	}
}

// Name returns the channel name.
func (a *WebAdapter) Name() string { return "web" }

// Handler returns the websocket endpoint. Each connected client receives
// every subsequent approval request and may answer any of them.
func (a *WebAdapter) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := a.upgrader.Upgrade(w, r, nil)
		if err != nil {
			a.logger.Warn("websocket upgrade failed", "error", err)
			return
		}
		a.mu.Lock()
		a.conns[conn] = true
		a.mu.Unlock()
		go a.readLoop(conn)
	}
}

func (a *WebAdapter) readLoop(conn *websocket.Conn) {
	defer func() {
		a.mu.Lock()
		delete(a.conns, conn)
		a.mu.Unlock()
		conn.Close()
	}()
	for {
		var resp Response
		if err := conn.ReadJSON(&resp); err != nil {
			return
		}
		if resp.RequestID == "" || resp.Decision == "" {
			continue
		}
		resp.Channel = "web"
		a.mu.Lock()
		if _, exists := a.responses[resp.RequestID]; !exists {
			a.responses[resp.RequestID] = &resp
		}
		a.mu.Unlock()
	}
}

// SendNotification pushes the request to every connected client.
func (a *WebAdapter) SendNotification(_ context.Context, req *Request) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	for conn := range a.conns {
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			a.logger.Warn("websocket write failed", "error", err)
			delete(a.conns, conn)
			conn.Close()
		}
	}
	return nil
}

// PollResponse returns a response previously received on any socket.
func (a *WebAdapter) PollResponse(_ context.Context, req *Request) (*Response, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.responses[req.ID], nil
}
