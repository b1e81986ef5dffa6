package retrieval

// frontierEntry is one pending node of the expansion: a paragraph id and the
// accumulated semantic cost along the cheapest path found so far.
type frontierEntry struct {
	id   string
	cost float64
}

// frontier implements [container/heap.Interface] as a min-heap ordered by
// cost (ascending). Equal costs break on paragraph id so the expansion order
// is stable across runs.
type frontier []frontierEntry

func (f frontier) Len() int { return len(f) }

// Less reports whether element i should be popped before element j.
func (f frontier) Less(i, j int) bool {
	if f[i].cost != f[j].cost {
		return f[i].cost < f[j].cost
	}
	return f[i].id < f[j].id
}

func (f frontier) Swap(i, j int) { f[i], f[j] = f[j], f[i] }

// Push appends x to the heap. Called by [container/heap.Push]; callers must
// not invoke this directly.
func (f *frontier) Push(x any) {
	*f = append(*f, x.(frontierEntry))
}

// Pop removes and returns the last element. Called by [container/heap.Pop];
// callers must not invoke this directly.
func (f *frontier) Pop() any {
	old := *f
	n := len(old)
	e := old[n-1]
	*f = old[:n-1]
	return e
}
