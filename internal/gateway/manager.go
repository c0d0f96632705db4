// manager.go — 会话管理: 引擎生命周期 + 对话流驱动 + 历史装载。
package gateway

import (
	"context"
	"sync"
	"time"

	"github.com/sandbox-agent/go-console/internal/config"
	"github.com/sandbox-agent/go-console/internal/events"
	"github.com/sandbox-agent/go-console/internal/store"
	"github.com/sandbox-agent/go-console/internal/transcript"
	apperrors "github.com/sandbox-agent/go-console/pkg/errors"
	"github.com/sandbox-agent/go-console/pkg/logger"
	"github.com/sandbox-agent/go-console/pkg/util"
)

// AgentBackend 后端能力抽象 (agentapi.Client 实现)。
type AgentBackend interface {
	CreateConversation(ctx context.Context) (string, error)
	FetchMessages(ctx context.Context, conversationID string) ([]transcript.Record, error)
	Chat(ctx context.Context, conversationID, message string, fn func(events.Frame)) error
}

// Manager 多会话管理器。
type Manager struct {
	mu       sync.Mutex
	cfg      *config.Config
	backend  AgentBackend
	bus      *EventBus
	rec      *recorder
	sessions map[string]*transcript.Session
	chatting map[string]bool
}

// NewManager 创建管理器。conversationStore 可为 nil (纯内存模式)。
func NewManager(cfg *config.Config, backend AgentBackend, conversationStore *store.ConversationStore) *Manager {
	return &Manager{
		cfg:      cfg,
		backend:  backend,
		bus:      NewEventBus(),
		rec:      &recorder{store: conversationStore},
		sessions: make(map[string]*transcript.Session),
		chatting: make(map[string]bool),
	}
}

// Bus 返回事件总线。
func (m *Manager) Bus() *EventBus { return m.bus }

// CreateConversation 在后端新建会话并初始化引擎。
func (m *Manager) CreateConversation(ctx context.Context) (string, error) {
	id, err := m.backend.CreateConversation(ctx)
	if err != nil {
		return "", err
	}
	m.Session(id)
	return id, nil
}

// Session 取得 (或惰性创建) 会话引擎。
func (m *Manager) Session(conversationID string) *transcript.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sess, ok := m.sessions[conversationID]; ok {
		return sess
	}
	sess := transcript.NewSession(conversationID, &busListener{
		conversationID: conversationID,
		bus:            m.bus,
	})
	sess.SetRealTime(m.cfg.RealTimeToolView)
	m.sessions[conversationID] = sess
	return sess
}

// StartChat 发送一条用户消息并异步消费事件流。
// 同会话已有在途对话时拒绝。
func (m *Manager) StartChat(ctx context.Context, conversationID, message string) error {
	if message == "" {
		return apperrors.Wrap(apperrors.ErrInvalidInput, "gateway.StartChat", "消息不能为空")
	}

	m.mu.Lock()
	if m.chatting[conversationID] {
		m.mu.Unlock()
		return apperrors.New("gateway.StartChat", "会话已有在途对话")
	}
	m.chatting[conversationID] = true
	m.mu.Unlock()

	sess := m.Session(conversationID)
	sess.AppendUserMessage(message)
	m.rec.recordUser(ctx, conversationID, message)

	util.SafeGo(func() {
		defer func() {
			m.mu.Lock()
			delete(m.chatting, conversationID)
			m.mu.Unlock()
		}()
		m.runChat(conversationID, message)
	})
	return nil
}

// runChat 驱动一次完整的对话流。
func (m *Manager) runChat(conversationID, message string) {
	ctx := context.Background()
	start := time.Now()
	baseline := len(m.Session(conversationID).Entries())

	err := m.backend.Chat(ctx, conversationID, message, func(frame events.Frame) {
		ev, decErr := events.Decode(frame)
		if decErr != nil {
			logger.Warn("丢弃无法解码的事件帧",
				logger.FieldConversationID, conversationID,
				logger.FieldEventType, frame.Name,
				logger.FieldError, decErr)
			return
		}
		if ev == nil {
			return
		}
		m.Session(conversationID).HandleEvent(ev)
		m.rec.recordEvent(ctx, conversationID, ev)
	})

	sess := m.Session(conversationID)
	if err != nil {
		// 主动中止: 转写保持原样, 只清加载标志
		if apperrors.Is(err, context.Canceled) || apperrors.Is(err, apperrors.ErrStreamClosed) {
			sess.HandleEvent(&events.Event{Type: events.TypeDone})
			return
		}
		logger.Error("对话流失败",
			logger.FieldConversationID, conversationID,
			logger.FieldError, err)
		sess.HandleTransportError(err)
		return
	}

	// 流正常收尾: 本次流产出的每个 assistant 段各落一条
	for _, content := range assistantSegments(sess.Entries(), baseline) {
		m.rec.recordAssistantFinal(ctx, conversationID, content)
	}

	logger.Infow("对话流完成",
		logger.FieldConversationID, conversationID,
		logger.FieldLatencyMS, time.Since(start).Milliseconds())
}

// assistantSegments 取 baseline 之后的全部 assistant 段全文。
// 多段流 (多个 [START]) 每段各算一条。
func assistantSegments(entries []transcript.Entry, baseline int) []string {
	if baseline < 0 || baseline > len(entries) {
		baseline = 0
	}
	var out []string
	for _, e := range entries[baseline:] {
		if e.Kind == transcript.KindAssistant && e.Message != nil && e.Message.Content != "" {
			out = append(out, e.Message.Content)
		}
	}
	return out
}

// LoadHistory 装载历史: 本地镜像优先, 没有镜像或为空则回源后端。
func (m *Manager) LoadHistory(ctx context.Context, conversationID string) ([]transcript.Entry, error) {
	records, err := m.fetchRecords(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	sess := m.Session(conversationID)
	sess.LoadHistory(records)
	return sess.Entries(), nil
}

func (m *Manager) fetchRecords(ctx context.Context, conversationID string) ([]transcript.Record, error) {
	if m.rec.enabled() {
		msgs, err := m.rec.store.ListByConversation(ctx, conversationID, m.cfg.HistoryPageLimit, 0)
		if err != nil {
			logger.Warn("本地镜像读取失败, 回源后端",
				logger.FieldConversationID, conversationID,
				logger.FieldError, err)
		} else if len(msgs) > 0 {
			return store.ToRecords(msgs), nil
		}
	}
	return m.backend.FetchMessages(ctx, conversationID)
}

// SetRealTime 切换某会话的实时工具详情模式。
func (m *Manager) SetRealTime(conversationID string, on bool) {
	m.Session(conversationID).SetRealTime(on)
}

// Chatting 会话是否有在途对话。
func (m *Manager) Chatting(conversationID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.chatting[conversationID]
}
