package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sandbox-agent/go-console/internal/events"
)

func newTestServer(backend *fakeBackend) *Server {
	m := NewManager(testConfig(), backend, nil)
	return NewServer(testConfig(), m)
}

func doRequest(s *Server, method, path, body string) *httptest.ResponseRecorder {
	var r *http.Request
	if body != "" {
		r = httptest.NewRequest(method, path, strings.NewReader(body))
		r.Header.Set("Content-Type", "application/json")
	} else {
		r = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	s.Engine().ServeHTTP(w, r)
	return w
}

func TestCreateConversationEndpoint(t *testing.T) {
	s := newTestServer(&fakeBackend{createdID: "conv-7"})

	w := doRequest(s, http.MethodPost, "/api/conversations", "")
	if w.Code != http.StatusOK {
		t.Fatalf("状态码 = %d, body = %s", w.Code, w.Body.String())
	}
	var out struct {
		Data struct {
			ConversationID string `json:"conversationId"`
		} `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("解析响应: %v", err)
	}
	if out.Data.ConversationID != "conv-7" {
		t.Fatalf("conversationId = %q", out.Data.ConversationID)
	}
}

func TestChatEndpointValidation(t *testing.T) {
	s := newTestServer(&fakeBackend{})

	w := doRequest(s, http.MethodPost, "/api/conversations/conv-1/chat", `{}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("缺 message 应 400, 得到 %d", w.Code)
	}
}

func TestChatEndpointAccepted(t *testing.T) {
	backend := &fakeBackend{frames: []events.Frame{
		{Name: events.TypeDone, Data: []byte(`{}`)},
	}}
	s := newTestServer(backend)

	w := doRequest(s, http.MethodPost, "/api/conversations/conv-1/chat", `{"message":"你好"}`)
	if w.Code != http.StatusAccepted {
		t.Fatalf("状态码 = %d, body = %s", w.Code, w.Body.String())
	}
	waitIdle(t, s.manager, "conv-1")
}

func TestChatEndpointConflictWhileInFlight(t *testing.T) {
	backend := &fakeBackend{block: make(chan struct{})}
	s := newTestServer(backend)

	if w := doRequest(s, http.MethodPost, "/api/conversations/conv-1/chat", `{"message":"a"}`); w.Code != http.StatusAccepted {
		t.Fatalf("第一次状态码 = %d", w.Code)
	}
	if w := doRequest(s, http.MethodPost, "/api/conversations/conv-1/chat", `{"message":"b"}`); w.Code != http.StatusConflict {
		t.Fatalf("在途冲突应 409, 得到 %d", w.Code)
	}
	close(backend.block)
	waitIdle(t, s.manager, "conv-1")
}

func TestTranscriptEndpoint(t *testing.T) {
	s := newTestServer(&fakeBackend{})
	s.manager.Session("conv-1").AppendUserMessage("hello")

	w := doRequest(s, http.MethodGet, "/api/conversations/conv-1/transcript", "")
	if w.Code != http.StatusOK {
		t.Fatalf("状态码 = %d", w.Code)
	}
	var out struct {
		Data struct {
			Entries []json.RawMessage `json:"entries"`
			Loading bool              `json:"loading"`
		} `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("解析响应: %v", err)
	}
	if len(out.Data.Entries) != 1 || !out.Data.Loading {
		t.Fatalf("entries=%d loading=%v", len(out.Data.Entries), out.Data.Loading)
	}
}

func TestHistoryEndpoint(t *testing.T) {
	backend := &fakeBackend{records: nil}
	s := newTestServer(backend)

	w := doRequest(s, http.MethodGet, "/api/conversations/conv-1/history", "")
	if w.Code != http.StatusOK {
		t.Fatalf("状态码 = %d, body = %s", w.Code, w.Body.String())
	}
}

func TestRealTimeEndpoint(t *testing.T) {
	s := newTestServer(&fakeBackend{})

	if w := doRequest(s, http.MethodPut, "/api/conversations/conv-1/realtime", `{"on":true}`); w.Code != http.StatusOK {
		t.Fatalf("状态码 = %d", w.Code)
	}
	if w := doRequest(s, http.MethodPut, "/api/conversations/conv-1/realtime", `{}`); w.Code != http.StatusBadRequest {
		t.Fatalf("缺 on 应 400, 得到 %d", w.Code)
	}
}

func TestBusDropsWhenSubscriberFull(t *testing.T) {
	bus := NewEventBus()
	ch := bus.Subscribe("slow")
	defer bus.Unsubscribe("slow")

	// 缓冲 32, 多发不应阻塞
	for i := 0; i < 100; i++ {
		bus.Publish(Event{ConversationID: "c", Type: EventLoading, Data: true})
	}
	if len(ch) != 32 {
		t.Fatalf("期望缓冲满 32, 得到 %d", len(ch))
	}
}

func TestBusUnsubscribe(t *testing.T) {
	bus := NewEventBus()
	bus.Subscribe("a")
	if bus.SubscriberCount() != 1 {
		t.Fatal("订阅未注册")
	}
	bus.Unsubscribe("a")
	if bus.SubscriberCount() != 0 {
		t.Fatal("订阅未移除")
	}
}

func TestSSEEndpointStreamsBusEvents(t *testing.T) {
	srv := newTestServer(&fakeBackend{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/api/conversations/conv-1/events", nil).WithContext(ctx)
	rec := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		srv.Engine().ServeHTTP(rec, req)
		close(done)
	}()

	// 等订阅者挂上总线
	deadline := time.Now().Add(2 * time.Second)
	for srv.manager.Bus().SubscriberCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("SSE 订阅者没有挂上总线")
		}
		time.Sleep(5 * time.Millisecond)
	}

	srv.manager.Bus().Publish(Event{ConversationID: "conv-1", Type: EventTitle, Data: "会话标题"})
	srv.manager.Bus().Publish(Event{ConversationID: "conv-other", Type: EventTitle, Data: "别的会话"})
	time.Sleep(100 * time.Millisecond)
	cancel()
	<-done

	body := rec.Body.String()
	if !strings.Contains(body, "会话标题") {
		t.Fatalf("SSE 响应缺少事件: %q", body)
	}
	if strings.Contains(body, "别的会话") {
		t.Fatalf("SSE 泄漏了其他会话的事件: %q", body)
	}
}
