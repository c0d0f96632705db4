package transcript

import (
	"encoding/json"
	"fmt"
	"reflect"
	"testing"
	"time"
)

func recAt(sec int64) time.Time {
	return time.Unix(sec, 0)
}

func toolRecord(id int64, name string, sec int64) Record {
	return Record{
		ID:          id,
		EventType:   RecordTypeTool,
		Content:     json.RawMessage(fmt.Sprintf(`{"name":%q,"function":"run"}`, name)),
		CreatedTime: recAt(sec),
	}
}

func stepRecord(id int64, stepID string, sec int64, toolIDs string) Record {
	content := fmt.Sprintf(`{"id":%q,"description":"step","status":"completed"`, stepID)
	if toolIDs != "" {
		content += `,"toolIds":` + toolIDs
	}
	content += `}`
	return Record{
		ID:          id,
		EventType:   RecordTypeStep,
		Content:     json.RawMessage(content),
		CreatedTime: recAt(sec),
	}
}

func msgRecord(id int64, role, text string, sec int64) Record {
	return Record{
		ID:          id,
		EventType:   RecordTypeMessage,
		MessageType: role,
		Content:     json.RawMessage(fmt.Sprintf(`{"content":%q}`, text)),
		CreatedTime: recAt(sec),
	}
}

func TestMapRecordsRoles(t *testing.T) {
	entries, times := MapRecords([]Record{
		msgRecord(1, RoleUser, "你好", 1),
		msgRecord(2, RoleAssistant, "回复", 2),
		toolRecord(3, "browser", 3),
		stepRecord(4, "s1", 4, ""),
	})

	if len(entries) != 4 || len(times) != 4 {
		t.Fatalf("映射数量 = %d/%d", len(entries), len(times))
	}
	wantKinds := []Kind{KindUser, KindAssistant, KindTool, KindStep}
	for i, k := range wantKinds {
		if entries[i].Kind != k {
			t.Fatalf("条目 %d 类别 = %s, 期望 %s", i, entries[i].Kind, k)
		}
	}
	if entries[2].Tool.ID != 3 {
		t.Fatalf("工具持久化 id = %d", entries[2].Tool.ID)
	}
	if times[0] != recAt(1).UnixMilli() {
		t.Fatalf("时间未对齐: %d", times[0])
	}
}

func TestMapRecordsBrokenContentFallsBack(t *testing.T) {
	entries, _ := MapRecords([]Record{
		{ID: 1, EventType: RecordTypeMessage, MessageType: RoleAssistant,
			Content: json.RawMessage(`{broken`), CreatedTime: recAt(1)},
		{ID: 2, EventType: RecordTypeTool,
			Content: json.RawMessage(`{broken`), CreatedTime: recAt(2)},
	})

	// 消息退化为原文, 工具丢弃
	if len(entries) != 1 || entries[0].Message.Content != "{broken" {
		t.Fatalf("兜底结果 = %+v", entries)
	}
}

func TestAttachByToolIDs(t *testing.T) {
	entries, times := MapRecords([]Record{
		toolRecord(10, "browser", 1),
		toolRecord(11, "shell", 2),
		stepRecord(20, "s1", 3, "[11,10]"),
	})

	out := AttachToolsToSteps(entries, times)

	if len(out) != 1 || out[0].Kind != KindStep {
		t.Fatalf("认领后应只剩 step, 得到 %+v", out)
	}
	tools := out[0].Step.Tools
	if len(tools) != 2 || tools[0].ID != 11 || tools[1].ID != 10 {
		t.Fatalf("工具顺序应按 toolIds 清单, 得到 %+v", tools)
	}
}

func TestToolIDsStepNeverTimestampMatches(t *testing.T) {
	// TOOL@10s / STEP@5s 声明 toolIds=[t1] / TOOL@12s:
	// t1 被精确认领, t2 虽晚于 step 也不得按时间归入
	entries, times := MapRecords([]Record{
		toolRecord(1, "browser", 10),
		stepRecord(2, "s1", 5, "[1]"),
		toolRecord(3, "shell", 12),
	})

	out := AttachToolsToSteps(entries, times)

	if len(out) != 2 {
		t.Fatalf("期望 step + 未认领 tool, 得到 %d 条", len(out))
	}
	if len(out[0].Step.Tools) != 1 || out[0].Step.Tools[0].ID != 1 {
		t.Fatalf("step 工具 = %+v", out[0].Step.Tools)
	}
	if out[1].Kind != KindTool || out[1].Tool.ID != 3 {
		t.Fatalf("t2 应留在顶层, 得到 %+v", out[1])
	}
}

func TestEmptyToolIDsExcludesTimestampMatching(t *testing.T) {
	// 空清单 ≠ 缺失: 声明了 toolIds:[] 的 step 不参与时间戳归属
	entries, times := MapRecords([]Record{
		stepRecord(1, "s1", 5, "[]"),
		toolRecord(2, "browser", 10),
	})

	out := AttachToolsToSteps(entries, times)

	if len(out) != 2 {
		t.Fatalf("期望 2 条, 得到 %d", len(out))
	}
	if len(out[0].Step.Tools) != 0 {
		t.Fatalf("空清单 step 不应获得工具: %+v", out[0].Step.Tools)
	}
}

func TestUnresolvableToolIDSkippedSilently(t *testing.T) {
	entries, times := MapRecords([]Record{
		toolRecord(1, "browser", 1),
		stepRecord(2, "s1", 2, "[1,999]"),
	})

	out := AttachToolsToSteps(entries, times)

	if len(out) != 1 || len(out[0].Step.Tools) != 1 {
		t.Fatalf("悬空 id 应跳过且不影响其余认领: %+v", out)
	}
}

func TestLegacyTimestampCursor(t *testing.T) {
	entries, times := MapRecords([]Record{
		stepRecord(1, "s1", 10, ""),
		stepRecord(2, "s2", 20, ""),
		toolRecord(3, "a", 12), // → s1
		toolRecord(4, "b", 25), // → s2
		toolRecord(5, "c", 27), // → s2
	})

	out := AttachToolsToSteps(entries, times)

	if len(out) != 2 {
		t.Fatalf("所有工具都应被认领, 得到 %d 条", len(out))
	}
	if got := out[0].Step.Tools; len(got) != 1 || got[0].Name != "a" {
		t.Fatalf("s1 工具 = %+v", got)
	}
	if got := out[1].Step.Tools; len(got) != 2 || got[0].Name != "b" || got[1].Name != "c" {
		t.Fatalf("s2 工具 = %+v", got)
	}
}

func TestToolBeforeAllStepsStaysTopLevel(t *testing.T) {
	entries, times := MapRecords([]Record{
		toolRecord(1, "early", 5),
		stepRecord(2, "s1", 10, ""),
	})

	out := AttachToolsToSteps(entries, times)

	if len(out) != 2 || out[0].Kind != KindTool {
		t.Fatalf("早于所有 step 的工具应留在顶层, 得到 %+v", out)
	}
	if len(out[1].Step.Tools) != 0 {
		t.Fatalf("s1 不应获得工具: %+v", out[1].Step.Tools)
	}
}

func TestNoStepsNoFiltering(t *testing.T) {
	entries, times := MapRecords([]Record{
		toolRecord(1, "a", 1),
		toolRecord(2, "b", 2),
		msgRecord(3, RoleAssistant, "done", 3),
	})

	out := AttachToolsToSteps(entries, times)

	if len(out) != 3 {
		t.Fatalf("无 step 时不应过滤任何工具, 得到 %d 条", len(out))
	}
}

func TestAttachIdempotent(t *testing.T) {
	entries, times := MapRecords([]Record{
		toolRecord(1, "early", 3),
		toolRecord(2, "browser", 12),
		stepRecord(3, "s1", 10, ""),
		stepRecord(4, "s2", 20, "[5]"),
		toolRecord(5, "shell", 22),
	})

	once := AttachToolsToSteps(entries, times)

	// 重建后的条目时间以自身 Timestamp 为准再跑一遍
	timesAgain := make([]int64, len(once))
	for i, e := range once {
		switch {
		case e.Tool != nil:
			timesAgain[i] = e.Tool.Timestamp
		case e.Step != nil:
			timesAgain[i] = e.Step.Timestamp
		case e.Message != nil:
			timesAgain[i] = e.Message.Timestamp
		}
	}
	twice := AttachToolsToSteps(once, timesAgain)

	if !reflect.DeepEqual(once, twice) {
		t.Fatalf("二次重建改变了结果:\n一次 %+v\n二次 %+v", once, twice)
	}
}

func TestAttachDoesNotMutateInput(t *testing.T) {
	entries, times := MapRecords([]Record{
		toolRecord(1, "a", 12),
		stepRecord(2, "s1", 10, ""),
	})
	before := cloneEntries(entries)

	AttachToolsToSteps(entries, times)

	if !reflect.DeepEqual(before, entries) {
		t.Fatal("归属重建不得修改入参")
	}
}
