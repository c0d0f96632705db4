// accumulator.go — 双通道增量累积状态机。
//
// reasoning 通道与 response 通道各自累积, 产出的 content 永远是
// 缓冲全量, 不是差量; [DONE] 只做交接, 绝不改写条目内容。
package transcript

import "github.com/sandbox-agent/go-console/internal/events"

const (
	// reasoningLeadIn 新 reasoning 段的种子内容。
	reasoningLeadIn = "**Thought:** \n"
	// responseLeadIn reasoning 与 response 之间的拼接分隔。
	responseLeadIn = "\n**Response:**\n"
)

// accResult 一次增量处理的产出。
type accResult struct {
	content  string // mutate 为真时要写入条目的全量文本
	mutate   bool   // 是否修改条目内容
	done     bool   // 任一通道收到 [DONE]
	openSeen bool   // reasoning 通道收到 [START]
}

// accumulator 单条 assistant 消息流的累积器。
type accumulator struct {
	reasoning string // reasoning 通道累积缓冲 (含前导)
	staged    string // [DONE] 时暂存的 reasoning 全文, 等 response 首个增量取走
	response  string // response 通道累积缓冲
}

func newAccumulator() *accumulator {
	return &accumulator{reasoning: reasoningLeadIn}
}

// apply 处理一个 message 事件的两路增量。
// 同一事件同时带两路增量时先 reasoning 后 response;
// 只有 reasoning 哨兵短路, 普通 reasoning 增量之后
// 同事件的 response 增量照常处理。
func (a *accumulator) apply(reasoningDelta, contentDelta string) accResult {
	var res accResult

	if reasoningDelta != "" {
		switch reasoningDelta {
		case events.SentinelStart:
			// 条目开启由 Session 负责, 缓冲不动
			return accResult{openSeen: true}
		case events.SentinelDone:
			a.staged = a.reasoning
			a.reasoning = reasoningLeadIn
			return accResult{done: true}
		default:
			a.reasoning += reasoningDelta
			res = accResult{content: a.reasoning, mutate: true}
		}
	}

	if contentDelta != "" {
		if contentDelta == events.SentinelDone {
			a.response = ""
			res.done = true
			return res
		}
		if a.response == "" {
			// response 首个增量: 取走 staged 的 reasoning 全文并拼接
			a.response = a.staged + responseLeadIn + contentDelta
			a.staged = ""
		} else {
			a.response += contentDelta
		}
		res.content = a.response
		res.mutate = true
	}

	return res
}
