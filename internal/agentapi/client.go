// Package agentapi 封装对沙箱代理后端的 HTTP 访问:
// REST (会话创建 / 历史分页) + SSE (对话事件流)。
package agentapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sandbox-agent/go-console/internal/config"
	"github.com/sandbox-agent/go-console/internal/transcript"
	apperrors "github.com/sandbox-agent/go-console/pkg/errors"
	"github.com/sandbox-agent/go-console/pkg/logger"
)

// Client 后端访问客户端。
type Client struct {
	baseURL     string
	http        *http.Client
	chatTimeout time.Duration
}

// NewClient 创建客户端。历史/管理请求用短超时, 对话流用长超时。
func NewClient(cfg *config.Config) *Client {
	return &Client{
		baseURL: cfg.BackendBaseURL,
		http: &http.Client{
			Timeout: time.Duration(cfg.HistoryTimeout) * time.Second,
		},
		chatTimeout: time.Duration(cfg.ChatTimeoutSec) * time.Second,
	}
}

// ========================================
// REST
// ========================================

// createResponse 会话创建返回体。
type createResponse struct {
	Code int `json:"code"`
	Data struct {
		SessionID string `json:"sessionId"`
		Title     string `json:"title"`
	} `json:"data"`
	Message string `json:"message"`
}

// CreateConversation 新建会话, 返回 sessionId。
func (c *Client) CreateConversation(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/api/agent/sessions", bytes.NewReader([]byte("{}")))
	if err != nil {
		return "", apperrors.Wrap(err, "agentapi.CreateConversation", "构造请求失败")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", apperrors.WithCode(err, "agentapi.CreateConversation", apperrors.CodeTransport, "后端不可达")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", apperrors.Newf("agentapi.CreateConversation", "后端返回 %d", resp.StatusCode)
	}

	var out createResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", apperrors.WithCode(err, "agentapi.CreateConversation", apperrors.CodeDecode, "响应解析失败")
	}
	if out.Data.SessionID == "" {
		return "", apperrors.New("agentapi.CreateConversation", "后端未返回 sessionId")
	}
	return out.Data.SessionID, nil
}

// historyResponse 历史记录返回体。
type historyResponse struct {
	Code int `json:"code"`
	Data []struct {
		ID          int64           `json:"id"`
		EventType   string          `json:"eventType"`
		MessageType string          `json:"messageType"`
		Content     json.RawMessage `json:"content"`
		CreatedTime time.Time       `json:"createdTime"`
	} `json:"data"`
	Message string `json:"message"`
}

// FetchMessages 拉取某会话的持久化历史记录 (创建序)。
func (c *Client) FetchMessages(ctx context.Context, conversationID string) ([]transcript.Record, error) {
	url := fmt.Sprintf("%s/api/agent/sessions/%s/messages", c.baseURL, conversationID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, apperrors.Wrap(err, "agentapi.FetchMessages", "构造请求失败")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, apperrors.WithCode(err, "agentapi.FetchMessages", apperrors.CodeTransport, "后端不可达")
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, apperrors.Wrap(apperrors.ErrNotFound, "agentapi.FetchMessages", "会话不存在: "+conversationID)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, apperrors.Newf("agentapi.FetchMessages", "后端返回 %d: %s", resp.StatusCode, body)
	}

	var out historyResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, apperrors.WithCode(err, "agentapi.FetchMessages", apperrors.CodeDecode, "响应解析失败")
	}

	records := make([]transcript.Record, len(out.Data))
	for i, d := range out.Data {
		records[i] = transcript.Record{
			ID:          d.ID,
			EventType:   d.EventType,
			MessageType: d.MessageType,
			Content:     d.Content,
			CreatedTime: d.CreatedTime,
		}
	}
	logger.Debug("历史记录拉取完成",
		logger.FieldConversationID, conversationID,
		logger.FieldCount, len(records))
	return records, nil
}
