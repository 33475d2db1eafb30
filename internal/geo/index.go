package geo

import (
	"sort"
	"sync"
	"sync/atomic"
)

// Fence 是一个圆形地理围栏，Value 携带调用方关心的数据（例如房间）。
type Fence[T any] struct {
	ID     string
	Center Point
	Radius float64
	Value  T
}

// Contains 判断点是否落在围栏内（含边界）。
func (f Fence[T]) Contains(p Point) (float64, bool) {
	d := Distance(p, f.Center)
	return d, d <= f.Radius
}

// Hit 是一次查询命中的围栏及其距离。
type Hit[T any] struct {
	Fence    Fence[T]
	Distance float64
}

// Index 回答“哪些围栏包含点 P”。实现可以是线性扫描，也可以换成网格或 R 树，
// 调用方只依赖“过滤后、按距离升序、同距离按 ID 排序”的结果。
type Index[T any] interface {
	Query(p Point) []Hit[T]
	Put(f Fence[T])
	Replace(fs []Fence[T])
	Len() int
}

// ScanIndex 对不可变快照做线性扫描。写入走 copy-on-write，
// 读取只加载一次快照指针，因此每次查询看到的都是同一个一致的集合。
type ScanIndex[T any] struct {
	mu   sync.Mutex // 串行化写入
	snap atomic.Pointer[[]Fence[T]]
}

func NewScanIndex[T any]() *ScanIndex[T] {
	idx := &ScanIndex[T]{}
	empty := make([]Fence[T], 0)
	idx.snap.Store(&empty)
	return idx
}

// Query 返回包含 p 的全部围栏。
func (idx *ScanIndex[T]) Query(p Point) []Hit[T] {
	fences := *idx.snap.Load()
	hits := make([]Hit[T], 0)
	for _, f := range fences {
		if d, ok := f.Contains(p); ok {
			hits = append(hits, Hit[T]{Fence: f, Distance: d})
		}
	}
	SortHits(hits)
	return hits
}

// Put 插入或替换同 ID 的围栏。
func (idx *ScanIndex[T]) Put(f Fence[T]) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	cur := *idx.snap.Load()
	next := make([]Fence[T], 0, len(cur)+1)
	for _, old := range cur {
		if old.ID != f.ID {
			next = append(next, old)
		}
	}
	next = append(next, f)
	idx.snap.Store(&next)
}

// Replace 用新的集合整体替换快照。
func (idx *ScanIndex[T]) Replace(fs []Fence[T]) {
	next := make([]Fence[T], len(fs))
	copy(next, fs)
	idx.mu.Lock()
	idx.snap.Store(&next)
	idx.mu.Unlock()
}

func (idx *ScanIndex[T]) Len() int { return len(*idx.snap.Load()) }

// SortHits 按距离升序排序，距离相同按 ID 排序，保证输出稳定。
func SortHits[T any](hits []Hit[T]) {
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Distance != hits[j].Distance {
			return hits[i].Distance < hits[j].Distance
		}
		return hits[i].Fence.ID < hits[j].Fence.ID
	})
}
