// sse.go — text/event-stream 帧读取。
//
// 解析规则 (按 SSE 协议取子集):
//   - "event: <name>" 设置帧名, 缺省为空 (匿名 keep-alive 帧)
//   - "data: <payload>" 可多行, 以 \n 连接
//   - 空行分发当前帧; ":" 开头为注释, id/retry 忽略
package agentapi

import (
	"bufio"
	"context"
	"io"
	"strings"

	"github.com/sandbox-agent/go-console/internal/events"
	apperrors "github.com/sandbox-agent/go-console/pkg/errors"
)

// maxFrameSize 单帧上限。工具结果可能很大, 给足余量。
const maxFrameSize = 4 * 1024 * 1024

// readFrames 逐帧读取 SSE 流并回调, 直到 EOF、ctx 取消或回调返回错误。
// 回调返回 errStopStream 时正常终止。
func readFrames(ctx context.Context, r io.Reader, fn func(events.Frame) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxFrameSize)

	var name string
	var data []string

	flush := func() error {
		if len(data) == 0 && name == "" {
			return nil
		}
		frame := events.Frame{Name: name, Data: []byte(strings.Join(data, "\n"))}
		name = ""
		data = data[:0]
		return fn(frame)
	}

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line := scanner.Text()
		switch {
		case line == "":
			if err := flush(); err != nil {
				if err == errStopStream {
					return nil
				}
				return err
			}
		case strings.HasPrefix(line, ":"):
			// 注释行
		case strings.HasPrefix(line, "event:"):
			name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data = append(data, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		default:
			// id/retry 及未知字段忽略
		}
	}
	if err := scanner.Err(); err != nil {
		return apperrors.WithCode(err, "agentapi.readFrames", apperrors.CodeTransport, "事件流读取中断")
	}
	// EOF 前残帧照常分发
	if err := flush(); err != nil && err != errStopStream {
		return err
	}
	return nil
}

// errStopStream 回调用于主动终止流读取的哨兵。
var errStopStream = apperrors.New("agentapi.readFrames", "stream stopped by consumer")
