// reconcile.go — 历史路径: 持久化记录映射 + 工具-步骤归属重建。
//
// 实时路径里工具归属由"运行中 step"即时决定; 持久化记录是平铺的,
// 回放时需要离线重建。两段式: toolIds 精确归属优先, 旧记录退回
// 时间戳单调游标匹配。整个过程幂等。
package transcript

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/sandbox-agent/go-console/internal/events"
	"github.com/sandbox-agent/go-console/pkg/logger"
)

// 持久化记录的事件类别。
const (
	RecordTypeMessage = "MESSAGE"
	RecordTypePlan    = "PLAN"
	RecordTypeTool    = "TOOL"
	RecordTypeStep    = "STEP"
)

// 消息记录的角色。
const (
	RoleUser      = "USER"
	RoleAssistant = "ASSISTANT"
)

// Record 一条持久化会话记录。Content 为落库时的内容 JSON。
type Record struct {
	ID          int64           `json:"id"`
	EventType   string          `json:"eventType"`
	MessageType string          `json:"messageType"`
	Content     json.RawMessage `json:"content"`
	CreatedTime time.Time       `json:"createdTime"`
}

// storedMessage 落库的消息内容形态。
type storedMessage struct {
	Content string `json:"content"`
}

// MapRecords 把持久化记录逐条映射为转写条目。
// 返回与条目对齐的创建时间 (unix 毫秒), 供归属重建使用。
// 内容 JSON 损坏的记录退化为原文 assistant 条目, 不中断整页。
func MapRecords(records []Record) ([]Entry, []int64) {
	entries := make([]Entry, 0, len(records))
	times := make([]int64, 0, len(records))

	for _, rec := range records {
		ts := rec.CreatedTime.UnixMilli()
		entry, ok := mapRecord(rec, ts)
		if !ok {
			continue
		}
		entries = append(entries, entry)
		times = append(times, ts)
	}
	return entries, times
}

func mapRecord(rec Record, ts int64) (Entry, bool) {
	switch rec.EventType {
	case RecordTypeMessage:
		var m storedMessage
		if err := json.Unmarshal(rec.Content, &m); err != nil {
			logger.Warn("历史消息内容解析失败, 按原文展示",
				logger.FieldError, err)
			m.Content = string(rec.Content)
		}
		kind := KindAssistant
		if rec.MessageType == RoleUser {
			kind = KindUser
		}
		return Entry{Kind: kind, Message: &MessageContent{Content: m.Content, Timestamp: ts}}, true

	case RecordTypeTool:
		var t events.ToolData
		if err := json.Unmarshal(rec.Content, &t); err != nil {
			logger.Warn("历史工具内容解析失败, 丢弃", logger.FieldError, err)
			return Entry{}, false
		}
		return Entry{Kind: KindTool, Tool: &ToolInvocation{
			ID:        rec.ID,
			Name:      t.Name,
			Function:  t.Function,
			Args:      t.Args,
			Result:    t.Result,
			Timestamp: ts,
		}}, true

	case RecordTypeStep:
		var st events.StepData
		if err := json.Unmarshal(rec.Content, &st); err != nil {
			logger.Warn("历史步骤内容解析失败, 丢弃", logger.FieldError, err)
			return Entry{}, false
		}
		status := st.Status
		if !status.Valid() {
			status = events.StepCompleted
		}
		return Entry{Kind: KindStep, Step: &StepContent{
			ID:          st.ID,
			Description: st.Description,
			Status:      status,
			Tools:       []ToolInvocation{},
			ToolIDs:     st.ToolIDs,
			Timestamp:   ts,
		}}, true

	case RecordTypePlan:
		var p events.PlanData
		if err := json.Unmarshal(rec.Content, &p); err != nil {
			logger.Warn("历史计划内容解析失败, 丢弃", logger.FieldError, err)
			return Entry{}, false
		}
		return Entry{Kind: KindPlan, Plan: &PlanContent{Steps: p.Steps, Timestamp: ts}}, true

	default:
		// 未知类别按 assistant 原文兜底
		return Entry{Kind: KindAssistant, Message: &MessageContent{
			Content:   string(rec.Content),
			Timestamp: ts,
		}}, true
	}
}

// AttachToolsToSteps 把顶层工具条目归并进所属 step。
//
// 第一遍: 带 toolIds 的 step 按清单精确认领, 顺序以 toolIds 为准,
// 解析不到的 id 静默跳过; 声明过 toolIds 的 step (含空清单) 不再
// 参与时间戳匹配。
// 第二遍: 无 toolIds 的旧 step 按创建时间排队, 单调游标向前推进,
// 工具归入时间不晚于自己的最近一个 step; 比所有 step 都早的工具留在顶层。
// 第三遍: 被认领的顶层工具条目移除。
//
// 入参不被修改; 对输出再跑一遍结果不变。
func AttachToolsToSteps(entries []Entry, times []int64) []Entry {
	if len(entries) != len(times) {
		// 对不齐说明调用方拼装有误, 原样返回
		logger.Warn("归属重建入参长度不一致",
			logger.FieldCount, len(entries))
		return entries
	}

	out := cloneEntries(entries)

	// 顶层工具索引: 持久化 id → 条目下标
	toolByID := make(map[int64]int)
	for i, e := range out {
		if e.Kind == KindTool && e.Tool.ID != 0 {
			toolByID[e.Tool.ID] = i
		}
	}

	claimed := make(map[int]bool)

	type stepRef struct {
		idx  int
		time int64
	}
	var legacy []stepRef

	// 第一遍: toolIds 精确认领
	for i, e := range out {
		if e.Kind != KindStep {
			continue
		}
		if e.Step.ToolIDs == nil {
			legacy = append(legacy, stepRef{idx: i, time: times[i]})
			continue
		}
		for _, id := range e.Step.ToolIDs {
			j, ok := toolByID[id]
			if !ok || claimed[j] {
				continue
			}
			e.Step.Tools = append(e.Step.Tools, cloneTool(*out[j].Tool))
			claimed[j] = true
		}
	}

	// 第二遍: 旧 step 时间戳游标匹配
	if len(legacy) > 0 {
		sort.SliceStable(legacy, func(a, b int) bool {
			return legacy[a].time < legacy[b].time
		})
		ptr := 0
		for i, e := range out {
			if e.Kind != KindTool || claimed[i] {
				continue
			}
			toolTime := times[i]
			for ptr+1 < len(legacy) && legacy[ptr+1].time <= toolTime {
				ptr++
			}
			cand := legacy[ptr]
			if cand.time <= toolTime {
				out[cand.idx].Step.Tools = append(out[cand.idx].Step.Tools, cloneTool(*e.Tool))
				claimed[i] = true
			}
		}
	}

	if len(claimed) == 0 {
		return out
	}

	// 第三遍: 移除被认领的顶层工具
	result := make([]Entry, 0, len(out)-len(claimed))
	for i, e := range out {
		if claimed[i] {
			continue
		}
		result = append(result, e)
	}
	return result
}
