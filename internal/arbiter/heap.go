// Copyright 2025 James Ross
package arbiter

import (
	"time"

	"github.com/juanmitaboada/redismultiplexer/internal/item"
)

type node struct {
	key       item.Key
	insertedAt time.Time
	data      []byte
}

// minHeap is a container/heap.Interface min-heap keyed by item.Key,
// grounded on the original BinaryHeap<Reverse<(u128,(u64,String))>>.
type minHeap []node

func (h minHeap) Len() int { return len(h) }
func (h minHeap) Less(i, j int) bool { return h[i].key.Less(h[j].key) }
func (h minHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *minHeap) Push(x any) {
	*h = append(*h, x.(node))
}

func (h *minHeap) Pop() any {
	old := *h
	n := len(old)
	last := old[n-1]
	*h = old[:n-1]
	return last
}
