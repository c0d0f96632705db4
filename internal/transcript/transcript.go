// transcript.go — 有序转写容器。
//
// 追加与原地修改都以写时复制方式换掉底层切片, 使快照可以按引用比较
// 判断"是否有新版本", 订阅端拿到的切片永远不被后续修改波及。
package transcript

// Transcript 有序转写。非并发安全, 由 Session 持锁访问。
type Transcript struct {
	entries []Entry
}

// NewTranscript 空转写。
func NewTranscript() *Transcript {
	return &Transcript{entries: []Entry{}}
}

// Len 条目数。
func (t *Transcript) Len() int {
	return len(t.entries)
}

// Append 追加条目并返回其下标。
func (t *Transcript) Append(e Entry) int {
	next := make([]Entry, 0, len(t.entries)+1)
	next = append(next, t.entries...)
	next = append(next, e)
	t.entries = next
	return len(t.entries) - 1
}

// Mutate 对下标处条目应用修改。写时复制: 旧切片不动。
func (t *Transcript) Mutate(index int, fn func(*Entry)) bool {
	if index < 0 || index >= len(t.entries) {
		return false
	}
	next := make([]Entry, len(t.entries))
	copy(next, t.entries)
	next[index] = cloneEntry(next[index])
	fn(&next[index])
	t.entries = next
	return true
}

// MutateLast 修改最近一个指定类别的条目, 找不到返回 false。
func (t *Transcript) MutateLast(kind Kind, fn func(*Entry)) bool {
	return t.Mutate(t.LastIndex(kind), fn)
}

// LastIndex 自尾部回扫第一个指定类别条目的下标, 找不到返回 -1。
func (t *Transcript) LastIndex(kind Kind) int {
	for i := len(t.entries) - 1; i >= 0; i-- {
		if t.entries[i].Kind == kind {
			return i
		}
	}
	return -1
}

// Last 尾部条目, 空转写返回 nil。返回值为内部引用, 只读。
func (t *Transcript) Last() *Entry {
	if len(t.entries) == 0 {
		return nil
	}
	return &t.entries[len(t.entries)-1]
}

// At 下标处条目的内部引用, 越界返回 nil。只读。
func (t *Transcript) At(index int) *Entry {
	if index < 0 || index >= len(t.entries) {
		return nil
	}
	return &t.entries[index]
}

// Entries 深拷贝快照。
func (t *Transcript) Entries() []Entry {
	return cloneEntries(t.entries)
}

// Replace 整体替换 (历史装载)。入参被接管, 调用方不得再改。
func (t *Transcript) Replace(entries []Entry) {
	if entries == nil {
		entries = []Entry{}
	}
	t.entries = entries
}
