// Package events 封装 sandbox 后端 SSE 事件协议。
//
// 后端以命名 SSE 帧推送 7 种事件 (message/tool/step/plan/title/done/error)，
// 本包负责把原始帧解析成带类型的事件供 transcript 引擎消费。
package events

import "encoding/json"

// 事件类型常量 (SSE event 字段取值)。
const (
	TypeMessage = "message"
	TypeTool    = "tool"
	TypeStep    = "step"
	TypePlan    = "plan"
	TypeTitle   = "title"
	TypeDone    = "done"
	TypeError   = "error"
)

// 增量通道哨兵值。保留字符串, 永远不是合法的增量正文。
const (
	SentinelStart = "[START]"
	SentinelDone  = "[DONE]"
)

// Frame 一个原始传输帧 (SSE event/data 对)。
// Name 为空 = 匿名 keep-alive 帧, 解码器直接丢弃。
type Frame struct {
	Name string
	Data []byte
}

// MessageData message 事件。两条相互独立的文本通道:
// reasoningContentDelta (思考) 与 contentDelta (回复)。
type MessageData struct {
	Content               string `json:"content,omitempty"`
	ContentDelta          string `json:"contentDelta,omitempty"`
	ReasoningContent      string `json:"reasoningContent,omitempty"`
	ReasoningContentDelta string `json:"reasoningContentDelta,omitempty"`
	ThinkTime             int64  `json:"thinkTime,omitempty"`
	Timestamp             int64  `json:"timestamp,omitempty"`
}

// ToolData tool 事件。args/result 由工具自定义, 保持原始 JSON。
type ToolData struct {
	Name      string          `json:"name"`
	Function  string          `json:"function,omitempty"`
	Args      json.RawMessage `json:"args,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// StepStatus step 生命周期状态。
type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepRunning   StepStatus = "running"
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
)

// Valid 判断是否为已知状态。
func (s StepStatus) Valid() bool {
	switch s {
	case StepPending, StepRunning, StepCompleted, StepFailed:
		return true
	}
	return false
}

// StepData step 事件。ToolIDs 仅出现在持久化往返后的记录中,
// 是该 step 工具归属的精确清单 (顺序权威)。
type StepData struct {
	ID          string     `json:"id"`
	Description string     `json:"description,omitempty"`
	Status      StepStatus `json:"status"`
	Result      string     `json:"result,omitempty"`
	ToolIDs     []int64    `json:"toolIds,omitempty"`
	Timestamp   int64      `json:"timestamp,omitempty"`
}

// PlanStep plan 中的一项。
type PlanStep struct {
	ID          string `json:"id"`
	Description string `json:"description"`
	Status      string `json:"status"`
}

// PlanData plan 事件。每次整体替换, 不做合并。
type PlanData struct {
	Steps []PlanStep `json:"steps"`
}

// TitleData title 事件。
type TitleData struct {
	Title string `json:"title"`
}

// ErrorData error 事件。
type ErrorData struct {
	Error     string `json:"error"`
	Timestamp int64  `json:"timestamp,omitempty"`
}

// Event 解码后的判别联合。Type 决定哪个 payload 指针非 nil。
type Event struct {
	Type    string
	Message *MessageData
	Tool    *ToolData
	Step    *StepData
	Plan    *PlanData
	Title   *TitleData
	Err     *ErrorData
}
