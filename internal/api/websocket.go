package api

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mpontes/wavault/internal/store"
	"github.com/mpontes/wavault/internal/watch"
)

const wsWriteTimeout = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Local tool: the API key middleware is the access control, not the
	// browser origin.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsSubscriber adapts a websocket connection to watch.Subscriber.
type wsSubscriber struct {
	conn *websocket.Conn

	mu     sync.Mutex
	closed bool
}

func (s *wsSubscriber) Deliver(msg store.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("connection closed")
	}
	_ = s.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return s.conn.WriteJSON(toMessageJSON(msg))
}

func (s *wsSubscriber) Drop(reason error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true

	code := websocket.CloseNormalClosure
	text := ""
	if errors.Is(reason, watch.ErrSlowConsumer) {
		code = websocket.ClosePolicyViolation
		text = "slow consumer"
	}
	_ = s.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	_ = s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, text))
	_ = s.conn.Close()
}

// handleMessagesWS upgrades the connection and streams newly archived
// messages until the client disconnects or falls behind.
func (s *Server) handleMessagesWS(w http.ResponseWriter, r *http.Request) {
	if s.broadcaster == nil {
		writeError(w, http.StatusServiceUnavailable, "watch_unavailable", "Live updates not configured")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the response.
		s.logger.Warn("websocket upgrade failed", "error", err, "remote_addr", r.RemoteAddr)
		return
	}

	// The subscription outlives r.Context() once the connection is
	// hijacked; its lifetime is the read loop below.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub := &wsSubscriber{conn: conn}
	token := s.broadcaster.Register(ctx, sub)
	defer s.broadcaster.Unregister(token)

	// Clients only send control frames; the read loop exists to notice
	// the disconnect.
	conn.SetReadLimit(512)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
