package sensors

import (
	"container/heap"
	"time"
)

type item struct {
	pin   int
	due   time.Time
	index int
}

type dueHeap []*item

func (h dueHeap) Len() int { return len(h) }
func (h dueHeap) Less(i, j int) bool {
	if h[i].due.Equal(h[j].due) {
		return h[i].pin < h[j].pin
	}
	return h[i].due.Before(h[j].due)
}
func (h dueHeap) Swap(i, j int)  { h[i], h[j] = h[j], h[i]; h[i].index = i; h[j].index = j }
func (h *dueHeap) Push(x any)    { it := x.(*item); it.index = len(*h); *h = append(*h, it) }
func (h *dueHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	it.index = -1
	*h = old[:n-1]
	return it
}

// schedule orders pins by their next due time. Each pin appears at most once.
type schedule struct {
	items map[int]*item
	h     dueHeap
}

func newSchedule() *schedule { return &schedule{items: map[int]*item{}} }

// set adds pin or moves it to due.
func (s *schedule) set(pin int, due time.Time) {
	if it := s.items[pin]; it != nil {
		it.due = due
		heap.Fix(&s.h, it.index)
		return
	}
	it := &item{pin: pin, due: due, index: -1}
	s.items[pin] = it
	heap.Push(&s.h, it)
}

func (s *schedule) remove(pin int) {
	if it := s.items[pin]; it != nil {
		heap.Remove(&s.h, it.index)
		delete(s.items, pin)
	}
}

func (s *schedule) has(pin int) bool { return s.items[pin] != nil }

// next returns the earliest due time.
func (s *schedule) next() (time.Time, bool) {
	if len(s.h) == 0 {
		return time.Time{}, false
	}
	return s.h[0].due, true
}

// popDue removes and returns every pin due at or before now, earliest first.
func (s *schedule) popDue(now time.Time) []int {
	var out []int
	for len(s.h) > 0 && !s.h[0].due.After(now) {
		it := heap.Pop(&s.h).(*item)
		delete(s.items, it.pin)
		out = append(out, it.pin)
	}
	return out
}
