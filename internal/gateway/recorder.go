// recorder.go — 事件写透镜像: 把会话事件落到本地 conversation_messages。
//
// 后端是持久化权威; 本地镜像让网关在后端不可达时仍能回放历史。
// 增量 message 帧不落库, assistant 全文在流收尾时整条落一次。
package gateway

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sandbox-agent/go-console/internal/events"
	"github.com/sandbox-agent/go-console/internal/store"
	"github.com/sandbox-agent/go-console/internal/transcript"
	"github.com/sandbox-agent/go-console/pkg/logger"
)

// recorder store 为 nil 时所有操作空转 (纯内存模式)。
type recorder struct {
	store *store.ConversationStore
}

func (r *recorder) enabled() bool { return r != nil && r.store != nil }

func (r *recorder) insert(ctx context.Context, conversationID, eventType, messageType string, content any) {
	if !r.enabled() {
		return
	}
	raw, err := json.Marshal(content)
	if err != nil {
		logger.Warn("镜像内容编码失败", logger.FieldError, err)
		return
	}
	msg := &store.ConversationMessage{
		ConversationID: conversationID,
		EventType:      eventType,
		MessageType:    messageType,
		Content:        raw,
	}
	if err := r.store.Insert(ctx, msg); err != nil {
		// 镜像失败不影响实时路径
		logger.Warn("会话记录镜像失败",
			logger.FieldConversationID, conversationID,
			logger.FieldEventType, eventType,
			logger.FieldError, err)
	}
}

// recordUser 用户输入。
func (r *recorder) recordUser(ctx context.Context, conversationID, text string) {
	r.insert(ctx, conversationID, transcript.RecordTypeMessage, transcript.RoleUser,
		map[string]string{"content": text})
}

// recordAssistantFinal 流收尾时的 assistant 全文。
func (r *recorder) recordAssistantFinal(ctx context.Context, conversationID, content string) {
	if content == "" {
		return
	}
	r.insert(ctx, conversationID, transcript.RecordTypeMessage, transcript.RoleAssistant,
		map[string]string{"content": content})
}

// recordEvent 镜像一个已解码事件。增量 message 与 done/title 跳过。
func (r *recorder) recordEvent(ctx context.Context, conversationID string, ev *events.Event) {
	if !r.enabled() || ev == nil {
		return
	}
	switch ev.Type {
	case events.TypeTool:
		r.insert(ctx, conversationID, transcript.RecordTypeTool, "", ev.Tool)
	case events.TypeStep:
		r.insert(ctx, conversationID, transcript.RecordTypeStep, "", ev.Step)
	case events.TypePlan:
		r.insert(ctx, conversationID, transcript.RecordTypePlan, "", ev.Plan)
	case events.TypeError:
		msg := "对话出错"
		if ev.Err != nil && ev.Err.Error != "" {
			msg = ev.Err.Error
		}
		r.insert(ctx, conversationID, transcript.RecordTypeMessage, transcript.RoleAssistant,
			map[string]string{"content": fmt.Sprintf("Error: %s", msg)})
	case events.TypeMessage:
		if ev.Message != nil && ev.Message.Content != "" &&
			ev.Message.ContentDelta == "" && ev.Message.ReasoningContentDelta == "" {
			r.insert(ctx, conversationID, transcript.RecordTypeMessage, transcript.RoleAssistant,
				map[string]string{"content": ev.Message.Content})
		}
	}
}
