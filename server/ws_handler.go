package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/uninest/chatcore/realtime"
)

const (
	pongWait       = 60 * time.Second
	maxFrameBytes  = 4 << 10
	upgradeBufSize = 1024
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  upgradeBufSize,
	WriteBufferSize: upgradeBufSize,
	CheckOrigin: func(r *http.Request) bool {
		// Origin is enforced by the CORS layer; tokens gate the upgrade.
		return true
	},
}

// handleWebSocket upgrades the request and joins the caller's logical room.
// The hub owns the write side; this handler runs the read loop, dispatching
// delivery acknowledgements and typing notices until the socket drops.
func (s *Server) handleWebSocket() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := currentUserID(c)
		if !ok {
			c.Status(http.StatusInternalServerError)
			return
		}

		ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logrus.WithError(err).Warn("websocket upgrade failed")
			return
		}

		conn := realtime.NewConnection(userID, ws)
		s.Hub.Join(conn)
		log := logrus.WithFields(logrus.Fields{"user_id": userID, "session_id": conn.ID})
		log.Info("websocket session joined")

		defer func() {
			s.Hub.Leave(conn)
			conn.Close(websocket.CloseNormalClosure, "bye")
			log.Info("websocket session left")
		}()

		ws.SetReadLimit(maxFrameBytes)
		_ = ws.SetReadDeadline(time.Now().Add(pongWait))
		ws.SetPongHandler(func(string) error {
			return ws.SetReadDeadline(time.Now().Add(pongWait))
		})

		for {
			_, payload, err := ws.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					log.WithError(err).Debug("websocket read ended")
				}
				return
			}

			var frame realtime.ClientFrame
			if err := json.Unmarshal(payload, &frame); err != nil {
				log.WithError(err).Debug("discarding malformed frame")
				continue
			}
			s.dispatchFrame(userID, frame)
		}
	}
}

func (s *Server) dispatchFrame(userID string, frame realtime.ClientFrame) {
	switch frame.Type {
	case realtime.FrameDelivered:
		s.ConversationService.MarkMessageDelivered(frame.MessageID)
	case realtime.FrameTyping:
		s.ConversationService.NotifyTyping(frame.ConversationID, userID, true)
	case realtime.FrameStopTyping:
		s.ConversationService.NotifyTyping(frame.ConversationID, userID, false)
	default:
		// Unknown frame types are ignored so older clients stay compatible.
	}
}
