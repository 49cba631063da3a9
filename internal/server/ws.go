package server

// ============================================================================
// WebSocket push channel
//
// Handshake:  GET /ws?initData=...&chat_id=...  (or the X-Telegram-Init-Data
//             and X-Chat-Id headers). A rejected assertion gets a plain 403
//             before the upgrade.
// Frames:     text {"event":"state_update","jobs":[...]} per tick.
// Close:      on shutdown the server sends 1001 (going away) so the client
//             can tell a deliberate close from a dropped connection.
//
// One writer goroutine per connection owns all writes. A reader goroutine
// only handles pongs and detects the peer going away.
// ============================================================================

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ChuLiYu/jobwatch/internal/broadcast"
	"github.com/ChuLiYu/jobwatch/internal/wire"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 16 << 10,
	// The companion surface is served from another origin.
	CheckOrigin: func(*http.Request) bool { return true },
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	id, err := s.authenticate(r, "channel")
	if err != nil {
		writeError(w, http.StatusForbidden, wire.UnauthorizedBody)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn("WebSocket upgrade failed", "error", err)
		return
	}

	sub, ok := s.admit(wire.TransportWS)
	if !ok {
		closeConn(conn, websocket.CloseGoingAway, wire.CloseReasonShutdown, s.opts.WriteTimeout)
		return
	}
	defer s.release(sub)

	log.Debug("WebSocket channel open", "id", sub.ID, "chat", id.ChatID, "remote", r.RemoteAddr)
	s.serveWS(conn, sub)
}

func (s *Server) serveWS(conn *websocket.Conn, sub *broadcast.Subscription) {
	pongWait := s.opts.PingInterval * 2
	peerGone := make(chan struct{})

	go func() {
		defer close(peerGone)
		conn.SetReadLimit(4 << 10)
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(s.opts.PingInterval)
	defer ping.Stop()

	for {
		select {
		case ev := <-sub.Events():
			frame, err := ev.JSON()
			if err != nil {
				log.Error("Encode snapshot frame failed", "error", err)
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				log.Debug("WebSocket write failed", "id", sub.ID, "error", err)
				conn.Close()
				return
			}
		case <-ping.C:
			deadline := time.Now().Add(s.opts.WriteTimeout)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				conn.Close()
				return
			}
		case <-sub.Closed():
			closeConn(conn, websocket.CloseGoingAway, wire.CloseReasonShutdown, s.opts.WriteTimeout)
			<-peerGone
			return
		case <-peerGone:
			conn.Close()
			return
		}
	}
}

// closeConn sends a close frame and gives the peer a moment to answer
// before the TCP connection is dropped.
func closeConn(conn *websocket.Conn, code int, reason string, timeout time.Duration) {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(timeout))
	_ = conn.SetReadDeadline(time.Now().Add(time.Second))
	time.AfterFunc(time.Second, func() { conn.Close() })
}
