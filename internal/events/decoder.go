// decoder.go — SSE 帧 → 类型化事件。
package events

import (
	"bytes"
	"encoding/json"

	apperrors "github.com/sandbox-agent/go-console/pkg/errors"
)

// Decode 将一个传输帧解析为恰好一个类型化事件。
//
// 约定:
//   - Name 为空 → 返回 (nil, nil): 匿名 keep-alive 帧, 必须过滤而非上抛。
//   - payload 不符合声明类型的形状 → CodeDecode 错误, 调用方丢帧继续。
//   - 不缓冲、不重排: 一帧进一事件出。
func Decode(frame Frame) (*Event, error) {
	if frame.Name == "" {
		return nil, nil
	}

	switch frame.Name {
	case TypeMessage:
		var data MessageData
		if err := unmarshalStrictEnough(frame.Data, &data); err != nil {
			return nil, decodeErr(err, "message payload")
		}
		return &Event{Type: TypeMessage, Message: &data}, nil

	case TypeTool:
		var data ToolData
		if err := unmarshalStrictEnough(frame.Data, &data); err != nil {
			return nil, decodeErr(err, "tool payload")
		}
		if data.Name == "" {
			return nil, decodeErr(nil, "tool payload missing name")
		}
		return &Event{Type: TypeTool, Tool: &data}, nil

	case TypeStep:
		var data StepData
		if err := unmarshalStrictEnough(frame.Data, &data); err != nil {
			return nil, decodeErr(err, "step payload")
		}
		if !data.Status.Valid() {
			return nil, decodeErr(nil, "step payload has unknown status "+string(data.Status))
		}
		return &Event{Type: TypeStep, Step: &data}, nil

	case TypePlan:
		var data PlanData
		if err := unmarshalStrictEnough(frame.Data, &data); err != nil {
			return nil, decodeErr(err, "plan payload")
		}
		return &Event{Type: TypePlan, Plan: &data}, nil

	case TypeTitle:
		var data TitleData
		if err := unmarshalStrictEnough(frame.Data, &data); err != nil {
			return nil, decodeErr(err, "title payload")
		}
		return &Event{Type: TypeTitle, Title: &data}, nil

	case TypeError:
		var data ErrorData
		if err := unmarshalStrictEnough(frame.Data, &data); err != nil {
			return nil, decodeErr(err, "error payload")
		}
		return &Event{Type: TypeError, Err: &data}, nil

	case TypeDone:
		// done 无 payload (或任意 payload, 一律忽略)。
		return &Event{Type: TypeDone}, nil
	}

	return nil, decodeErr(nil, "unknown event type "+frame.Name)
}

// unmarshalStrictEnough 解析 JSON 对象 payload。
// 空 payload 视为空对象 (后端对部分事件省略 data)。
func unmarshalStrictEnough(data []byte, v any) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil
	}
	return json.Unmarshal(trimmed, v)
}

func decodeErr(err error, message string) error {
	return apperrors.WithCode(err, "Decoder.Decode", apperrors.CodeDecode, message)
}
