package session

import (
	"net/http"

	"github.com/chatvault/chatvault/internal/db"
	"github.com/chatvault/chatvault/internal/llm"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// wsConn adapts a gorilla WebSocket connection to the session transport.
// Non-text frames are skipped; pings and pongs are handled by the
// library's default handlers.
type wsConn struct {
	c *websocket.Conn
}

func (w wsConn) ReadText() (string, error) {
	for {
		msgType, data, err := w.c.ReadMessage()
		if err != nil {
			return "", err
		}
		if msgType == websocket.TextMessage {
			return string(data), nil
		}
	}
}

func (w wsConn) WriteText(text string) error {
	return w.c.WriteMessage(websocket.TextMessage, []byte(text))
}

// Handler upgrades requests to WebSocket connections and runs one session
// per connection. Each session processes its messages sequentially; the
// request context cancels the session's in-flight work when the
// connection drops, never already-committed messages.
func Handler(database *db.Database, responder *llm.Responder, logger *zap.Logger) http.HandlerFunc {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}

	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Error("websocket upgrade failed", zap.Error(err))
			return
		}
		defer conn.Close()

		sess := New(wsConn{c: conn}, database, responder, logger)
		if err := sess.Run(r.Context()); err != nil {
			logger.Error("session ended with error",
				zap.String("conversation_id", sess.ConversationID()),
				zap.Error(err))
		}
	}
}
