// session.go — 会话引擎: 事件分发、step 生命周期、工具路由。
package transcript

import (
	"fmt"
	"sync"
	"time"

	"github.com/sandbox-agent/go-console/internal/events"
	"github.com/sandbox-agent/go-console/pkg/logger"
)

// Listener 引擎副作用的接收方。回调在引擎锁外、事件处理协程上同步执行。
type Listener interface {
	// OnTranscript 转写有新版本。entries 为深拷贝快照。
	OnTranscript(entries []Entry)
	// OnLoading 加载标志翻转。
	OnLoading(loading bool)
	// OnToolDetail 实时模式下出现值得展示的工具调用。
	OnToolDetail(tool ToolInvocation)
	// OnTitle 会话标题更新。
	OnTitle(title string)
}

// Session 单会话转写引擎。
// 方法可并发调用, 内部持锁; 事件处理本身要求单流有序投递。
type Session struct {
	mu sync.RWMutex

	conversationID string
	transcript     *Transcript
	acc            *accumulator

	activeStep int // 最近一个 step 条目的下标, 无则 -1
	planIndex  int // plan 条目下标, 无则 -1

	loading  bool
	realTime bool
	title    string

	lastDetailTool *ToolInvocation

	listener Listener
	now      func() time.Time
}

// NewSession 新引擎。listener 可为 nil。
func NewSession(conversationID string, listener Listener) *Session {
	return &Session{
		conversationID: conversationID,
		transcript:     NewTranscript(),
		acc:            newAccumulator(),
		activeStep:     -1,
		planIndex:      -1,
		listener:       listener,
		now:            time.Now,
	}
}

// ========================================
// 事件入口
// ========================================

// HandleFrame 解码并处理一帧。匿名帧静默丢弃, 解码失败记日志后丢弃
// (单帧损坏不终止流)。
func (s *Session) HandleFrame(frame events.Frame) {
	ev, err := events.Decode(frame)
	if err != nil {
		logger.Warn("丢弃无法解码的事件帧",
			logger.FieldConversationID, s.conversationID,
			logger.FieldEventType, frame.Name,
			logger.FieldError, err)
		return
	}
	if ev == nil {
		return
	}
	s.HandleEvent(ev)
}

// HandleEvent 按类型分发一个已解码事件。
func (s *Session) HandleEvent(ev *events.Event) {
	if ev == nil {
		return
	}
	switch ev.Type {
	case events.TypeMessage:
		s.handleMessage(ev.Message)
	case events.TypeTool:
		s.handleTool(ev.Tool)
	case events.TypeStep:
		s.handleStep(ev.Step)
	case events.TypePlan:
		s.handlePlan(ev.Plan)
	case events.TypeTitle:
		s.handleTitle(ev.Title)
	case events.TypeError:
		s.handleError(ev.Err)
	case events.TypeDone:
		s.handleDone()
	default:
		logger.Warn("未知事件类型", logger.FieldEventType, ev.Type)
	}
}

// ========================================
// message: 双通道增量累积
// ========================================

func (s *Session) handleMessage(data *events.MessageData) {
	if data == nil {
		return
	}

	s.mu.Lock()

	// 整体内容优先于增量: 带全量 content 的消息直接落一条
	if data.Content != "" && data.ContentDelta == "" && data.ReasoningContentDelta == "" {
		s.transcript.Append(Entry{
			Kind:    KindAssistant,
			Message: &MessageContent{Content: data.Content, Timestamp: s.eventMillis(data.Timestamp)},
		})
		s.notifyTranscriptLocked()
		return
	}

	res := s.acc.apply(data.ReasoningContentDelta, data.ContentDelta)

	if res.openSeen {
		// [START]: 开启新 assistant 段, 种子为 reasoning 前导
		s.transcript.Append(Entry{
			Kind:    KindAssistant,
			Message: &MessageContent{Content: reasoningLeadIn, Timestamp: s.eventMillis(data.Timestamp)},
		})
		s.notifyTranscriptLocked()
		return
	}

	if res.mutate {
		s.applyAssistantContentLocked(res.content, s.eventMillis(data.Timestamp))
	}

	switch {
	case res.mutate && res.done:
		// 同帧既有增量又有 [DONE]: 先推转写快照再清加载
		var snapshot []Entry
		if s.listener != nil {
			snapshot = s.transcript.Entries()
		}
		changed := s.loading
		s.setLoadingInnerLocked(false)
		s.mu.Unlock()
		if s.listener != nil {
			if snapshot != nil {
				s.listener.OnTranscript(snapshot)
			}
			if changed {
				s.listener.OnLoading(false)
			}
		}
	case res.done:
		s.setLoadingLocked(false)
	case res.mutate:
		s.notifyTranscriptLocked()
	default:
		s.mu.Unlock()
	}
}

// applyAssistantContentLocked 把累积全量写入当前 assistant 条目;
// 尾部不是 assistant 时 (如中间插了 tool 条目) 兜底新开一条。
func (s *Session) applyAssistantContentLocked(content string, ts int64) {
	last := s.transcript.Last()
	if last != nil && last.Kind == KindAssistant {
		s.transcript.Mutate(s.transcript.Len()-1, func(e *Entry) {
			e.Message.Content = content
		})
		return
	}
	s.transcript.Append(Entry{
		Kind:    KindAssistant,
		Message: &MessageContent{Content: content, Timestamp: ts},
	})
}

// ========================================
// tool: 路由进运行中 step 或顶层
// ========================================

func (s *Session) handleTool(data *events.ToolData) {
	if data == nil {
		return
	}

	tool := ToolInvocation{
		Name:      data.Name,
		Function:  data.Function,
		Args:      data.Args,
		Result:    data.Result,
		Timestamp: s.eventMillis(data.Timestamp),
	}

	s.mu.Lock()

	routed := false
	if s.activeStep >= 0 {
		if step := s.transcript.At(s.activeStep); step != nil && step.Step.Status == events.StepRunning {
			s.transcript.Mutate(s.activeStep, func(e *Entry) {
				e.Step.Tools = append(e.Step.Tools, tool)
			})
			routed = true
		}
	}
	if !routed {
		s.transcript.Append(Entry{Kind: KindTool, Tool: cloneToolPtr(tool)})
	}

	var detail *ToolInvocation
	if tool.Name != "message" {
		tc := cloneTool(tool)
		s.lastDetailTool = &tc
		if s.realTime {
			d := cloneTool(tool)
			detail = &d
		}
	}

	s.notifyTranscriptLocked()
	if detail != nil && s.listener != nil {
		s.listener.OnToolDetail(*detail)
	}
}

func cloneToolPtr(t ToolInvocation) *ToolInvocation {
	tc := cloneTool(t)
	return &tc
}

// ========================================
// step: 生命周期
// ========================================

func (s *Session) handleStep(data *events.StepData) {
	if data == nil {
		return
	}

	s.mu.Lock()

	switch data.Status {
	case events.StepRunning:
		// running 永远新开一条, 即使同 id 重复宣告
		idx := s.transcript.Append(Entry{
			Kind: KindStep,
			Step: &StepContent{
				ID:          data.ID,
				Description: data.Description,
				Status:      events.StepRunning,
				Tools:       []ToolInvocation{},
				Timestamp:   s.eventMillis(data.Timestamp),
			},
		})
		s.activeStep = idx
		s.notifyTranscriptLocked()

	case events.StepCompleted:
		complete := func(e *Entry) { e.Step.Status = events.StepCompleted }
		mutated := false
		if s.activeStep >= 0 {
			mutated = s.transcript.Mutate(s.activeStep, complete)
		} else {
			mutated = s.transcript.MutateLast(KindStep, complete)
		}
		if !mutated {
			// 没有可完成的 step, 丢弃
			logger.Warn("收到 completed 但没有 step 条目",
				logger.FieldConversationID, s.conversationID,
				logger.FieldStepID, data.ID)
			s.mu.Unlock()
			return
		}
		s.notifyTranscriptLocked()

	case events.StepFailed:
		// 失败只清加载标志, 不改最近 step 的状态
		s.setLoadingLocked(false)

	default:
		s.mu.Unlock()
	}
}

// ========================================
// plan / title / error / done
// ========================================

func (s *Session) handlePlan(data *events.PlanData) {
	if data == nil {
		return
	}
	content := &PlanContent{
		Steps:     append([]events.PlanStep{}, data.Steps...),
		Timestamp: s.now().UnixMilli(),
	}

	s.mu.Lock()
	if s.planIndex >= 0 {
		// 整体替换, 位置不变
		s.transcript.Mutate(s.planIndex, func(e *Entry) {
			e.Plan = content
		})
	} else {
		s.planIndex = s.transcript.Append(Entry{Kind: KindPlan, Plan: content})
	}
	s.notifyTranscriptLocked()
}

func (s *Session) handleTitle(data *events.TitleData) {
	if data == nil || data.Title == "" {
		return
	}
	s.mu.Lock()
	s.title = data.Title
	s.mu.Unlock()
	if s.listener != nil {
		s.listener.OnTitle(data.Title)
	}
}

func (s *Session) handleError(data *events.ErrorData) {
	msg := "对话出错"
	ts := int64(0)
	if data != nil {
		if data.Error != "" {
			msg = data.Error
		}
		ts = data.Timestamp
	}
	s.mu.Lock()
	changed := s.loading
	s.setLoadingInnerLocked(false)
	s.transcript.Append(Entry{
		Kind:    KindAssistant,
		Message: &MessageContent{Content: fmt.Sprintf("Error: %s", msg), Timestamp: s.eventMillis(ts)},
	})
	s.notifyTranscriptLocked()
	if changed && s.listener != nil {
		s.listener.OnLoading(false)
	}
}

func (s *Session) handleDone() {
	s.mu.Lock()
	s.setLoadingLocked(false)
}

// ========================================
// 外部操作
// ========================================

// AppendUserMessage 本地回显用户输入, 随即标记加载中。
func (s *Session) AppendUserMessage(text string) {
	s.mu.Lock()
	changed := !s.loading
	s.transcript.Append(Entry{
		Kind:    KindUser,
		Message: &MessageContent{Content: text, Timestamp: s.now().UnixMilli()},
	})
	s.setLoadingInnerLocked(true)
	s.notifyTranscriptLocked()
	if changed && s.listener != nil {
		s.listener.OnLoading(true)
	}
}

// HandleTransportError 流级传输失败: 停止加载并落一条错误条目。
func (s *Session) HandleTransportError(err error) {
	msg := "connection lost"
	if err != nil {
		msg = err.Error()
	}
	s.handleError(&events.ErrorData{Error: msg})
}

// LoadHistory 用持久化记录重建转写 (映射 + 工具归属重建), 整体替换现状态。
func (s *Session) LoadHistory(records []Record) {
	entries, times := MapRecords(records)
	entries = AttachToolsToSteps(entries, times)

	s.mu.Lock()
	s.transcript.Replace(entries)
	s.acc = newAccumulator()
	s.activeStep = -1
	s.planIndex = s.transcript.LastIndex(KindPlan)
	s.notifyTranscriptLocked()
}

// SetRealTime 切换实时工具详情模式。
func (s *Session) SetRealTime(on bool) {
	s.mu.Lock()
	s.realTime = on
	s.mu.Unlock()
}

// ========================================
// 查询
// ========================================

// Entries 当前转写深拷贝快照。
func (s *Session) Entries() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.transcript.Entries()
}

// Loading 加载标志。
func (s *Session) Loading() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loading
}

// Title 会话标题。
func (s *Session) Title() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.title
}

// ConversationID 会话标识。
func (s *Session) ConversationID() string {
	return s.conversationID
}

// Plan 当前计划快照, 无则 nil。
func (s *Session) Plan() *PlanContent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.planIndex < 0 {
		return nil
	}
	e := s.transcript.At(s.planIndex)
	if e == nil || e.Plan == nil {
		return nil
	}
	p := *e.Plan
	p.Steps = append([]events.PlanStep{}, e.Plan.Steps...)
	return &p
}

// PlanProgress 计划进度 (完成数, 总数)。
func (s *Session) PlanProgress() (completed, total int) {
	p := s.Plan()
	if p == nil {
		return 0, 0
	}
	for _, st := range p.Steps {
		if st.Status == string(events.StepCompleted) {
			completed++
		}
	}
	return completed, len(p.Steps)
}

// LastDetailTool 最近一次非 message 工具调用, 无则 nil。
func (s *Session) LastDetailTool() *ToolInvocation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.lastDetailTool == nil {
		return nil
	}
	tc := cloneTool(*s.lastDetailTool)
	return &tc
}

// ========================================
// 内部
// ========================================

// setLoadingLocked 改加载标志并释放锁, 变化时在锁外通知。
func (s *Session) setLoadingLocked(loading bool) {
	changed := s.loading != loading
	s.loading = loading
	s.mu.Unlock()
	if changed && s.listener != nil {
		s.listener.OnLoading(loading)
	}
}

// setLoadingInnerLocked 只改标志不放锁不通知, 调用方负责后续。
func (s *Session) setLoadingInnerLocked(loading bool) {
	s.loading = loading
}

// notifyTranscriptLocked 释放锁并在锁外推送转写快照。
func (s *Session) notifyTranscriptLocked() {
	var snapshot []Entry
	if s.listener != nil {
		snapshot = s.transcript.Entries()
	}
	s.mu.Unlock()
	if snapshot != nil && s.listener != nil {
		s.listener.OnTranscript(snapshot)
	}
}

// eventMillis 事件时间戳 → unix 毫秒, 缺失时取当前时钟。
func (s *Session) eventMillis(ts int64) int64 {
	if ts <= 0 {
		return s.now().UnixMilli()
	}
	return normalizeMillis(ts)
}
