// listener.go — 转写引擎副作用 → 事件总线的桥接。
package gateway

import (
	"github.com/sandbox-agent/go-console/internal/transcript"
)

// busListener 把单个会话引擎的副作用发布到总线。
type busListener struct {
	conversationID string
	bus            *EventBus
}

var _ transcript.Listener = (*busListener)(nil)

func (l *busListener) OnTranscript(entries []transcript.Entry) {
	l.bus.Publish(Event{ConversationID: l.conversationID, Type: EventTranscript, Data: entries})
}

func (l *busListener) OnLoading(loading bool) {
	l.bus.Publish(Event{ConversationID: l.conversationID, Type: EventLoading, Data: loading})
}

func (l *busListener) OnToolDetail(tool transcript.ToolInvocation) {
	l.bus.Publish(Event{ConversationID: l.conversationID, Type: EventToolDetail, Data: tool})
}

func (l *busListener) OnTitle(title string) {
	l.bus.Publish(Event{ConversationID: l.conversationID, Type: EventTitle, Data: title})
}
