package gateway

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sandbox-agent/go-console/internal/config"
	"github.com/sandbox-agent/go-console/internal/events"
	"github.com/sandbox-agent/go-console/internal/transcript"
)

// fakeBackend 可编程的后端替身。
type fakeBackend struct {
	frames    []events.Frame
	chatErr   error
	records   []transcript.Record
	fetchErr  error
	block     chan struct{} // 非 nil 时 Chat 阻塞等待
	createdID string
}

func (f *fakeBackend) CreateConversation(ctx context.Context) (string, error) {
	if f.createdID == "" {
		return "conv-new", nil
	}
	return f.createdID, nil
}

func (f *fakeBackend) FetchMessages(ctx context.Context, id string) ([]transcript.Record, error) {
	return f.records, f.fetchErr
}

func (f *fakeBackend) Chat(ctx context.Context, id, message string, fn func(events.Frame)) error {
	if f.block != nil {
		<-f.block
	}
	for _, fr := range f.frames {
		fn(fr)
	}
	return f.chatErr
}

func testConfig() *config.Config {
	return &config.Config{
		RealTimeToolView: false,
		HistoryPageLimit: 100,
		SSEKeepaliveSec:  30,
		Env:              "test",
	}
}

// waitIdle 等待在途对话结束。
func waitIdle(t *testing.T, m *Manager, id string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if !m.Chatting(id) {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("对话未在期限内结束")
}

func TestStartChatDrivesSession(t *testing.T) {
	backend := &fakeBackend{frames: []events.Frame{
		{Name: events.TypeMessage, Data: []byte(`{"reasoningContentDelta":"[START]"}`)},
		{Name: events.TypeMessage, Data: []byte(`{"reasoningContentDelta":"思考"}`)},
		{Name: "", Data: []byte("keepalive")},
		{Name: events.TypeDone, Data: []byte(`{}`)},
	}}
	m := NewManager(testConfig(), backend, nil)

	if err := m.StartChat(context.Background(), "conv-1", "你好"); err != nil {
		t.Fatalf("StartChat: %v", err)
	}
	waitIdle(t, m, "conv-1")

	entries := m.Session("conv-1").Entries()
	if len(entries) != 2 {
		t.Fatalf("期望 user + assistant 共 2 条, 得到 %d", len(entries))
	}
	if entries[0].Kind != transcript.KindUser || entries[0].Message.Content != "你好" {
		t.Fatalf("用户条目 = %+v", entries[0])
	}
	if entries[1].Message.Content != "**Thought:** \n思考" {
		t.Fatalf("assistant 条目 = %q", entries[1].Message.Content)
	}
	if m.Session("conv-1").Loading() {
		t.Fatal("done 后不应仍在加载")
	}
}

func TestStartChatRejectsEmptyMessage(t *testing.T) {
	m := NewManager(testConfig(), &fakeBackend{}, nil)
	if err := m.StartChat(context.Background(), "conv-1", ""); err == nil {
		t.Fatal("空消息应被拒绝")
	}
}

func TestStartChatRejectsConcurrent(t *testing.T) {
	backend := &fakeBackend{block: make(chan struct{})}
	m := NewManager(testConfig(), backend, nil)

	if err := m.StartChat(context.Background(), "conv-1", "first"); err != nil {
		t.Fatalf("第一次 StartChat: %v", err)
	}
	if err := m.StartChat(context.Background(), "conv-1", "second"); err == nil {
		t.Fatal("在途对话应拒绝第二次发送")
	}
	close(backend.block)
	waitIdle(t, m, "conv-1")
}

func TestChatTransportErrorFallsBack(t *testing.T) {
	backend := &fakeBackend{chatErr: errors.New("connection reset")}
	m := NewManager(testConfig(), backend, nil)

	if err := m.StartChat(context.Background(), "conv-1", "go"); err != nil {
		t.Fatalf("StartChat: %v", err)
	}
	waitIdle(t, m, "conv-1")

	sess := m.Session("conv-1")
	if sess.Loading() {
		t.Fatal("传输失败应清加载标志")
	}
	entries := sess.Entries()
	last := entries[len(entries)-1]
	if last.Kind != transcript.KindAssistant || last.Message.Content != "Error: connection reset" {
		t.Fatalf("错误条目 = %+v", last)
	}
}

func TestLoadHistoryFromBackend(t *testing.T) {
	backend := &fakeBackend{records: []transcript.Record{
		{ID: 1, EventType: transcript.RecordTypeMessage, MessageType: transcript.RoleUser,
			Content: []byte(`{"content":"hi"}`), CreatedTime: time.Unix(1, 0)},
		{ID: 2, EventType: transcript.RecordTypeTool,
			Content: []byte(`{"name":"browser"}`), CreatedTime: time.Unix(3, 0)},
		{ID: 3, EventType: transcript.RecordTypeStep,
			Content: []byte(`{"id":"s1","status":"completed","toolIds":[2]}`), CreatedTime: time.Unix(2, 0)},
	}}
	m := NewManager(testConfig(), backend, nil)

	entries, err := m.LoadHistory(context.Background(), "conv-1")
	if err != nil {
		t.Fatalf("LoadHistory: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("工具应归入 step, 期望 2 条, 得到 %d", len(entries))
	}
	if entries[1].Kind != transcript.KindStep || len(entries[1].Step.Tools) != 1 {
		t.Fatalf("step 条目 = %+v", entries[1])
	}
}

func TestManagerPublishesToBus(t *testing.T) {
	backend := &fakeBackend{frames: []events.Frame{
		{Name: events.TypeTitle, Data: []byte(`{"title":"会话标题"}`)},
		{Name: events.TypeDone, Data: []byte(`{}`)},
	}}
	m := NewManager(testConfig(), backend, nil)
	ch := m.Bus().Subscribe("sub-1")
	defer m.Bus().Unsubscribe("sub-1")

	if err := m.StartChat(context.Background(), "conv-1", "go"); err != nil {
		t.Fatalf("StartChat: %v", err)
	}
	waitIdle(t, m, "conv-1")

	sawTitle := false
	for {
		select {
		case evt := <-ch:
			if evt.Type == EventTitle && evt.Data == "会话标题" {
				sawTitle = true
			}
		default:
			if !sawTitle {
				t.Fatal("总线上没有 title 事件")
			}
			return
		}
	}
}

func TestAssistantSegmentsMirrorsEverySegment(t *testing.T) {
	entries := []transcript.Entry{
		{Kind: transcript.KindUser, Message: &transcript.MessageContent{Content: "旧消息"}},
		{Kind: transcript.KindUser, Message: &transcript.MessageContent{Content: "新消息"}},
		{Kind: transcript.KindAssistant, Message: &transcript.MessageContent{Content: "第一段"}},
		{Kind: transcript.KindStep, Step: &transcript.StepContent{ID: "s1"}},
		{Kind: transcript.KindAssistant, Message: &transcript.MessageContent{Content: "第二段"}},
	}

	got := assistantSegments(entries, 1)
	if len(got) != 2 {
		t.Fatalf("段数 = %d, 期望 2", len(got))
	}
	if got[0] != "第一段" || got[1] != "第二段" {
		t.Fatalf("段内容 = %v", got)
	}

	// baseline 之前的条目不重复镜像
	if got := assistantSegments(entries, 3); len(got) != 1 || got[0] != "第二段" {
		t.Fatalf("baseline 截断失败: %v", got)
	}
}
