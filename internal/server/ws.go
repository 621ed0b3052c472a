package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"roomhub/internal/chat"
	"roomhub/internal/util"
)

const (
	// Time allowed to write a frame to the peer.
	writeWait = 10 * time.Second
	// Time allowed to read the next pong from the peer.
	pongWait = 60 * time.Second
	// Ping period must be shorter than pongWait.
	pingPeriod = (pongWait * 9) / 10
	// Maximum inbound frame size.
	maxFrameSize = 8192
)

// Close codes for connect failures.
const (
	closeNotParticipant = 4403
	closeRoomNotFound   = 4404
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Browser clients connect cross-origin; authorization happens via
	// the bearer token, not the Origin header.
	CheckOrigin: func(*http.Request) bool { return true },
}

// handleChatSocket upgrades the connection and binds it to a chat
// session. The token rides the query string because browser WebSocket
// clients cannot set headers.
func (s *Server) handleChatSocket(w http.ResponseWriter, r *http.Request) {
	token, ok := bearerToken(r)
	if !ok {
		token = r.URL.Query().Get("token")
	}
	user, authed := s.userFromRawToken(r, token)

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	log := util.LoggerFromContext(r.Context())

	if !authed {
		closeWith(conn, closeNotParticipant, "unauthorized")
		return
	}

	session, err := s.broker.Connect(r.Context(), user, r.PathValue("host"), r.PathValue("slug"))
	if err != nil {
		switch {
		case errors.Is(err, chat.ErrRoomNotFound):
			closeWith(conn, closeRoomNotFound, "room not found")
		case errors.Is(err, chat.ErrNotParticipant):
			closeWith(conn, closeNotParticipant, "not a participant")
		default:
			log.Error("chat connect failed", "error", err)
			closeWith(conn, websocket.CloseInternalServerErr, "internal error")
		}
		return
	}

	go writePump(conn, session)
	readPump(r.Context(), conn, session)
}

func closeWith(conn *websocket.Conn, code int, reason string) {
	deadline := time.Now().Add(writeWait)
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
	_ = conn.Close()
}

// readPump relays inbound frames into the session until the peer goes
// away, then tears the session down.
func readPump(ctx context.Context, conn *websocket.Conn, session *chat.Session) {
	defer func() {
		session.Disconnect()
		_ = conn.Close()
	}()

	conn.SetReadLimit(maxFrameSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		session.HandleFrame(ctx, data)
	}
}

// writePump drains the session's outbound queue to the socket and keeps
// the connection alive with pings.
func writePump(conn *websocket.Conn, session *chat.Session) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()

	for {
		select {
		case data, ok := <-session.Outbound():
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
