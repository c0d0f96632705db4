// Package transcript 实现会话转写引擎。
//
// 两条输入路径共用同一 Entry 模型:
//   - 实时路径: SSE 事件 → 增量累积 / step 生命周期跟踪 → 有序转写
//   - 历史路径: 持久化记录 → 工具-步骤归属重建 (reconcile) → 有序转写
//
// 转写条目一经追加位置不变, 仅内容原地生长 (assistant 文本、step 状态/工具)。
package transcript

import (
	"encoding/json"

	"github.com/sandbox-agent/go-console/internal/events"
)

// Kind 转写条目类别。
type Kind string

const (
	KindUser      Kind = "user"
	KindAssistant Kind = "assistant"
	KindTool      Kind = "tool"
	KindStep      Kind = "step"
	KindPlan      Kind = "plan"
)

// MessageContent user/assistant 条目正文。
type MessageContent struct {
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp"` // unix 毫秒
}

// ToolInvocation 一次工具调用。result 在途时缺失; 记录后不可变。
// ID 为持久化分配的标识, 实时事件没有 (0 = 缺失)。
type ToolInvocation struct {
	ID        int64           `json:"id,omitempty"`
	Name      string          `json:"name"`
	Function  string          `json:"function,omitempty"`
	Args      json.RawMessage `json:"args,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
	Timestamp int64           `json:"timestamp"` // unix 毫秒
}

// StepContent 一个 step 条目。
//
// Tools 顺序 = 实时到达顺序 或 ToolIDs 顺序 (持久化), 不是时间戳顺序。
// ToolIDs 非 nil 时是工具归属的权威清单 (空数组 ≠ 缺失)。
type StepContent struct {
	ID          string            `json:"id"`
	Description string            `json:"description"`
	Status      events.StepStatus `json:"status"`
	Tools       []ToolInvocation  `json:"tools"`
	ToolIDs     []int64           `json:"toolIds,omitempty"`
	Timestamp   int64             `json:"timestamp"` // unix 毫秒
}

// PlanContent plan 条目, 每次 plan 事件整体替换。
type PlanContent struct {
	Steps     []events.PlanStep `json:"steps"`
	Timestamp int64             `json:"timestamp"`
}

// Entry 转写条目 — 按 Kind 判别的联合, 恰好一个内容指针非 nil。
type Entry struct {
	Kind    Kind            `json:"kind"`
	Message *MessageContent `json:"message,omitempty"`
	Tool    *ToolInvocation `json:"tool,omitempty"`
	Step    *StepContent    `json:"step,omitempty"`
	Plan    *PlanContent    `json:"plan,omitempty"`
}

// cloneEntry 深拷贝一个条目 (快照隔离, 下游不可变引擎内部状态)。
func cloneEntry(e Entry) Entry {
	out := Entry{Kind: e.Kind}
	if e.Message != nil {
		m := *e.Message
		out.Message = &m
	}
	if e.Tool != nil {
		tc := cloneTool(*e.Tool)
		out.Tool = &tc
	}
	if e.Step != nil {
		s := *e.Step
		s.Tools = make([]ToolInvocation, len(e.Step.Tools))
		for i, tool := range e.Step.Tools {
			s.Tools[i] = cloneTool(tool)
		}
		if e.Step.ToolIDs != nil {
			s.ToolIDs = append([]int64{}, e.Step.ToolIDs...)
		}
		out.Step = &s
	}
	if e.Plan != nil {
		p := *e.Plan
		p.Steps = append([]events.PlanStep{}, e.Plan.Steps...)
		out.Plan = &p
	}
	return out
}

func cloneTool(t ToolInvocation) ToolInvocation {
	if t.Args != nil {
		t.Args = append(json.RawMessage{}, t.Args...)
	}
	if t.Result != nil {
		t.Result = append(json.RawMessage{}, t.Result...)
	}
	return t
}

// cloneEntries 深拷贝条目序列。
func cloneEntries(entries []Entry) []Entry {
	out := make([]Entry, len(entries))
	for i, e := range entries {
		out[i] = cloneEntry(e)
	}
	return out
}

// normalizeMillis 统一时间戳到 unix 毫秒。
// 实时事件给秒级 (后端 Math.floor(now/1000)), 持久化记录给毫秒级。
// 小于 1e12 视为秒并放大 1000 倍。
func normalizeMillis(ts int64) int64 {
	if ts <= 0 {
		return 0
	}
	if ts < 1_000_000_000_000 {
		return ts * 1000
	}
	return ts
}
