// Package gateway 提供本地渲染端 HTTP 服务:
// 会话操作 REST + 转写更新的 SSE / WebSocket 推送。
package gateway

import (
	"io"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/sandbox-agent/go-console/internal/config"
	apperrors "github.com/sandbox-agent/go-console/pkg/errors"
	"github.com/sandbox-agent/go-console/pkg/logger"
)

// Server 网关 HTTP 服务。
type Server struct {
	router  *gin.Engine
	manager *Manager
	cfg     *config.Config
}

// NewServer 创建网关服务。
func NewServer(cfg *config.Config, manager *Manager) *Server {
	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())

	s := &Server{router: r, manager: manager, cfg: cfg}
	s.registerRoutes()
	return s
}

// Engine 返回 Gin 引擎 (测试注入用)。
func (s *Server) Engine() *gin.Engine { return s.router }

// Run 启动监听。
func (s *Server) Run() error {
	logger.Infow("gateway listening", logger.FieldAddr, s.cfg.GatewayAddr)
	return s.router.Run(s.cfg.GatewayAddr)
}

func (s *Server) registerRoutes() {
	api := s.router.Group("/api")
	{
		api.POST("/conversations", s.createConversation)
		api.POST("/conversations/:id/chat", s.chat)
		api.GET("/conversations/:id/transcript", s.transcript)
		api.GET("/conversations/:id/history", s.history)
		api.GET("/conversations/:id/tool", s.lastTool)
		api.PUT("/conversations/:id/realtime", s.setRealTime)
		api.GET("/conversations/:id/events", s.sseHandler)
		api.GET("/conversations/:id/ws", s.wsHandler)
	}
}

// ========================================
// REST handlers
// ========================================

func (s *Server) createConversation(c *gin.Context) {
	id, err := s.manager.CreateConversation(c.Request.Context())
	if err != nil {
		serverError(c, err)
		return
	}
	success(c, gin.H{"conversationId": id})
}

type chatBody struct {
	Message string `json:"message" binding:"required"`
}

func (s *Server) chat(c *gin.Context) {
	var body chatBody
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, "invalid_body", "message 必填")
		return
	}
	id := c.Param("id")
	if err := s.manager.StartChat(c.Request.Context(), id, body.Message); err != nil {
		if apperrors.Is(err, apperrors.ErrInvalidInput) {
			badRequest(c, "invalid_message", err.Error())
			return
		}
		conflict(c, err.Error())
		return
	}
	accepted(c, gin.H{"conversationId": id})
}

func (s *Server) transcript(c *gin.Context) {
	sess := s.manager.Session(c.Param("id"))
	completed, total := sess.PlanProgress()
	success(c, gin.H{
		"entries":       sess.Entries(),
		"loading":       sess.Loading(),
		"title":         sess.Title(),
		"planCompleted": completed,
		"planTotal":     total,
	})
}

func (s *Server) history(c *gin.Context) {
	entries, err := s.manager.LoadHistory(c.Request.Context(), c.Param("id"))
	if err != nil {
		serverError(c, err)
		return
	}
	success(c, gin.H{"entries": entries})
}

func (s *Server) lastTool(c *gin.Context) {
	tool := s.manager.Session(c.Param("id")).LastDetailTool()
	success(c, gin.H{"tool": tool})
}

type realTimeBody struct {
	On *bool `json:"on" binding:"required"`
}

func (s *Server) setRealTime(c *gin.Context) {
	var body realTimeBody
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, "invalid_body", "on 必填")
		return
	}
	s.manager.SetRealTime(c.Param("id"), *body.On)
	success(c, gin.H{"on": *body.On})
}

// ========================================
// SSE handler
// ========================================

func (s *Server) sseHandler(c *gin.Context) {
	conversationID := c.Param("id")
	subID := uuid.NewString()
	ch := s.manager.Bus().Subscribe(subID)
	defer func() {
		s.manager.Bus().Unsubscribe(subID)
		logger.Info("gateway: SSE client disconnected", logger.FieldSubscriber, subID)
	}()

	logger.Info("gateway: SSE client connected",
		logger.FieldSubscriber, subID,
		logger.FieldConversationID, conversationID)

	// timer 提到 Stream 外层: 回调每个事件都会被重新调用
	keepaliveInterval := time.Duration(s.cfg.SSEKeepaliveSec) * time.Second
	keepalive := time.NewTimer(keepaliveInterval)
	defer keepalive.Stop()

	c.Stream(func(w io.Writer) bool {
		for {
			select {
			case evt, ok := <-ch:
				if !ok {
					return false
				}
				if evt.ConversationID != conversationID {
					continue
				}
				c.SSEvent(evt.Type, evt)
				if !keepalive.Stop() {
					select {
					case <-keepalive.C:
					default:
					}
				}
				keepalive.Reset(keepaliveInterval)
				return true
			case <-keepalive.C:
				c.SSEvent("ping", "keepalive")
				keepalive.Reset(keepaliveInterval)
				return true
			case <-c.Request.Context().Done():
				return false
			}
		}
	})
}
