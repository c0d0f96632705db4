// ws.go — WebSocket 推送通道 (SSE 之外的另一条订阅路径)。
package gateway

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/sandbox-agent/go-console/pkg/logger"
	"github.com/sandbox-agent/go-console/pkg/util"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsPingInterval = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// 网关只在本机回环上服务
	CheckOrigin: func(r *http.Request) bool { return true },
}

func (s *Server) wsHandler(c *gin.Context) {
	conversationID := c.Param("id")

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Error("gateway: ws upgrade failed", logger.FieldError, err)
		return
	}

	subID := uuid.NewString()
	ch := s.manager.Bus().Subscribe(subID)
	logger.Info("gateway: ws client connected",
		logger.FieldSubscriber, subID,
		logger.FieldConversationID, conversationID)

	done := make(chan struct{})

	// 读循环只负责探测断开
	util.SafeGo(func() {
		defer close(done)
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	})

	util.SafeGo(func() {
		defer func() {
			s.manager.Bus().Unsubscribe(subID)
			_ = ws.Close()
			logger.Info("gateway: ws client disconnected", logger.FieldSubscriber, subID)
		}()

		ping := time.NewTicker(wsPingInterval)
		defer ping.Stop()

		for {
			select {
			case evt, ok := <-ch:
				if !ok {
					return
				}
				if evt.ConversationID != conversationID {
					continue
				}
				_ = ws.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
				if err := ws.WriteJSON(evt); err != nil {
					logger.Warn("gateway: ws write failed",
						logger.FieldSubscriber, subID, logger.FieldError, err)
					return
				}
			case <-ping.C:
				_ = ws.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
				if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			case <-done:
				return
			}
		}
	})
}
