package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/valyala/bytebufferpool"

	"chatrelay/pkg/broker"
	"chatrelay/pkg/errs"
	"chatrelay/pkg/logger"
	"chatrelay/pkg/models"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origin checks happen in the CORS middleware before the upgrade.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// live upgrades the request to a websocket and streams the conversation
// to the client: first the backlog after ?since=, then live messages in
// commit order. Closing the socket cancels the subscription.
func (s *Server) live(w http.ResponseWriter, r *http.Request) {
	convID := mux.Vars(r)["id"]
	sinceID, err := parseUint(r.URL.Query().Get("since"))
	if err != nil {
		writeErr(w, errs.New(errs.InvalidInput, "invalid since parameter"))
		return
	}

	sub, err := s.gw.OpenConversation(r.Context(), UserID(r.Context()), convID, sinceID)
	if err != nil {
		writeErr(w, err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.gw.CloseConversation(sub)
		logger.Warn("websocket upgrade failed", "conv", convID, "err", err.Error())
		return
	}

	go s.readPump(conn, sub)
	s.writePump(conn, sub)
}

// readPump drains client frames so pong handlers run, and cancels the
// subscription when the peer goes away.
func (s *Server) readPump(conn *websocket.Conn, sub *broker.Subscription) {
	defer sub.Cancel()
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Server) writePump(conn *websocket.Conn, sub *broker.Subscription) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		sub.Cancel()
		_ = conn.Close()
	}()
	for {
		select {
		case m, ok := <-sub.C():
			if !ok {
				_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := writeMessage(conn, m); err != nil {
				return
			}
		case <-sub.Done():
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "subscription closed"))
			return
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// writeMessage encodes through a pooled buffer to keep per-frame
// allocations off the hot path.
func writeMessage(conn *websocket.Conn, m models.Message) error {
	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)
	if err := json.NewEncoder(buf).Encode(m); err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, buf.Bytes())
}
