package scheduler

import "time"

// readyItem is one dispatchable task in the ready queue.
type readyItem struct {
	id         string
	remaining  time.Duration // remaining critical-path length from this task
	submission int           // deterministic tie-breaker
}

// readyHeap is a max-heap over remaining critical-path length, implementing
// container/heap. Ties fall back to submission order so dispatch order is
// stable across runs.
type readyHeap []*readyItem

func (h readyHeap) Len() int { return len(h) }

func (h readyHeap) Less(i, j int) bool {
	if h[i].remaining != h[j].remaining {
		return h[i].remaining > h[j].remaining
	}
	return h[i].submission < h[j].submission
}

func (h readyHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *readyHeap) Push(x any) { *h = append(*h, x.(*readyItem)) }

func (h *readyHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}
