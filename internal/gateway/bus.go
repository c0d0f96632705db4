// bus.go — 会话事件总线 (SSE / WebSocket 推送共用)。
package gateway

import (
	"sync"
)

// Event 推送给订阅端的一条更新。
type Event struct {
	ConversationID string `json:"conversationId"`
	Type           string `json:"type"`
	Data           any    `json:"data"`
}

// 推送事件类型。
const (
	EventTranscript = "transcript"
	EventLoading    = "loading"
	EventToolDetail = "tool_detail"
	EventTitle      = "title"
)

// EventBus 订阅-广播总线。慢订阅端丢帧而不是阻塞引擎。
type EventBus struct {
	mu          sync.RWMutex
	subscribers map[string]chan Event
}

// NewEventBus 创建事件总线。
func NewEventBus() *EventBus {
	return &EventBus{subscribers: make(map[string]chan Event)}
}

// Publish 广播事件。通道满时静默丢弃。
func (b *EventBus) Publish(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subscribers {
		select {
		case ch <- event:
		default:
		}
	}
}

// Subscribe 订阅。
func (b *EventBus) Subscribe(id string) chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan Event, 32)
	b.subscribers[id] = ch
	return ch
}

// Unsubscribe 取消订阅。
//
// 不关闭 ch — handler 通过 ctx.Done() 退出, GC 回收未引用的 channel。
func (b *EventBus) Unsubscribe(id string) {
	b.mu.Lock()
	delete(b.subscribers, id)
	b.mu.Unlock()
}

// SubscriberCount 当前订阅数。
func (b *EventBus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
