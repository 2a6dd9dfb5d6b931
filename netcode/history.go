package netcode

import (
	"math"
	"sort"
	"strconv"
)

// HistoryView 快照历史的只读视图，供校正、插值与延迟补偿共享
type HistoryView interface {
	Len() int
	// Index 按 Tick 升序取第 i 个快照，0 为最旧
	Index(i int) Snapshot
	Oldest() (Snapshot, bool)
	Newest() (Snapshot, bool)
	At(tick uint32) (Snapshot, bool)
	// Bracket 返回包夹 t 的两帧：a.Tick <= t <= b.Tick；t 恰为某帧时 a 与 b 相同
	Bracket(t float64) (a, b Snapshot, ok bool)
}

// AddOutcome 描述一次写入对历史的影响
type AddOutcome int

const (
	// Appended 追加在最新一帧之后
	Appended AddOutcome = iota + 1
	// Inserted 乱序到达，按 Tick 插入中间
	Inserted
	// Replaced 相同 Tick 的重复快照，后写覆盖
	Replaced
)

// History 以 Tick 为键的定长快照环，最旧的先被淘汰
type History struct {
	buf   []Snapshot
	head  int
	count int
}

func NewHistory(capacity int) *History {
	if capacity < 1 {
		capacity = 1
	}
	return &History{buf: make([]Snapshot, capacity)}
}

func (h *History) Len() int { return h.count }
func (h *History) Cap() int { return len(h.buf) }

func (h *History) slot(i int) int { return (h.head + i) % len(h.buf) }

func (h *History) Index(i int) Snapshot { return h.buf[h.slot(i)] }

func (h *History) Oldest() (Snapshot, bool) {
	if h.count == 0 {
		return Snapshot{}, false
	}
	return h.Index(0), true
}

func (h *History) Newest() (Snapshot, bool) {
	if h.count == 0 {
		return Snapshot{}, false
	}
	return h.Index(h.count - 1), true
}

// search 返回第一个 Tick >= tick 的逻辑下标
func (h *History) search(tick uint32) int {
	return sort.Search(h.count, func(i int) bool { return h.Index(i).Tick >= tick })
}

func (h *History) At(tick uint32) (Snapshot, bool) {
	i := h.search(tick)
	if i < h.count && h.Index(i).Tick == tick {
		return h.Index(i), true
	}
	return Snapshot{}, false
}

func (h *History) Bracket(t float64) (Snapshot, Snapshot, bool) {
	if h.count == 0 || math.IsNaN(t) {
		return Snapshot{}, Snapshot{}, false
	}
	oldest, newest := h.Index(0), h.Index(h.count-1)
	if t < float64(oldest.Tick) || t > float64(newest.Tick) {
		return Snapshot{}, Snapshot{}, false
	}
	i := h.search(uint32(math.Ceil(t)))
	b := h.Index(i)
	if float64(b.Tick) == t || i == 0 {
		return b, b, true
	}
	return h.Index(i - 1), b, true
}

// Add 按 Tick 顺序写入快照。
// 满且比最旧一帧还旧时返回 StaleSnapshot；否则淘汰最旧帧腾出位置。
func (h *History) Add(s Snapshot) (AddOutcome, error) {
	if h.count > 0 {
		newest := h.Index(h.count - 1)
		if s.Tick > newest.Tick {
			h.push(s)
			return Appended, nil
		}
		i := h.search(s.Tick)
		if i < h.count && h.Index(i).Tick == s.Tick {
			h.buf[h.slot(i)] = s
			return Replaced, nil
		}
		if h.count == len(h.buf) {
			if i == 0 {
				return 0, newError(ErrStaleSnapshot, map[string]string{
					"tick":   strconv.FormatUint(uint64(s.Tick), 10),
					"oldest": strconv.FormatUint(uint64(h.Index(0).Tick), 10),
				})
			}
			h.evictOldest()
			i--
		}
		h.insertAt(i, s)
		return Inserted, nil
	}
	h.push(s)
	return Appended, nil
}

func (h *History) push(s Snapshot) {
	if h.count == len(h.buf) {
		h.evictOldest()
	}
	h.buf[h.slot(h.count)] = s
	h.count++
}

func (h *History) evictOldest() {
	h.buf[h.head] = Snapshot{}
	h.head = (h.head + 1) % len(h.buf)
	h.count--
}

func (h *History) insertAt(i int, s Snapshot) {
	for j := h.count; j > i; j-- {
		h.buf[h.slot(j)] = h.buf[h.slot(j-1)]
	}
	h.buf[h.slot(i)] = s
	h.count++
}

// Reset 清空历史
func (h *History) Reset() {
	for i := range h.buf {
		h.buf[i] = Snapshot{}
	}
	h.head = 0
	h.count = 0
}
