// chat.go — 对话事件流: POST 消息, 以 SSE 长连接接收事件帧。
package agentapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sandbox-agent/go-console/internal/events"
	apperrors "github.com/sandbox-agent/go-console/pkg/errors"
	"github.com/sandbox-agent/go-console/pkg/logger"
)

// chatRequest 对话请求体。
type chatRequest struct {
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp"`
}

// Chat 发送一条用户消息并消费返回的事件流, 每帧回调一次。
// done 帧之后流正常收尾; ctx 取消或读错误返回 CodeTransport。
// 流式请求不走 http.Client.Timeout (会掐断长连接), 用 ctx 控制整体时限。
func (c *Client) Chat(ctx context.Context, conversationID, message string, fn func(events.Frame)) error {
	ctx, cancel := context.WithTimeout(ctx, c.chatTimeout)
	defer cancel()

	body, err := json.Marshal(chatRequest{Message: message, Timestamp: time.Now().Unix()})
	if err != nil {
		return apperrors.Wrap(err, "agentapi.Chat", "请求体编码失败")
	}

	url := fmt.Sprintf("%s/api/agent/sessions/%s/chat", c.baseURL, conversationID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return apperrors.Wrap(err, "agentapi.Chat", "构造请求失败")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	// 流式连接不能带全局超时
	streamClient := &http.Client{Transport: c.http.Transport}
	resp, err := streamClient.Do(req)
	if err != nil {
		return apperrors.WithCode(err, "agentapi.Chat", apperrors.CodeTransport, "事件流连接失败")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return apperrors.Newf("agentapi.Chat", "后端返回 %d: %s", resp.StatusCode, b)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		return apperrors.Newf("agentapi.Chat", "非事件流响应: %s", ct)
	}

	start := time.Now()
	frames := 0
	err = readFrames(ctx, resp.Body, func(frame events.Frame) error {
		frames++
		fn(frame)
		if frame.Name == events.TypeDone {
			return errStopStream
		}
		return nil
	})

	logger.Debug("事件流结束",
		logger.FieldConversationID, conversationID,
		logger.FieldCount, frames,
		logger.FieldLatencyMS, time.Since(start).Milliseconds())
	return err
}
