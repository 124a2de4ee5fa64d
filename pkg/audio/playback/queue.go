package playback

import "github.com/MrWong99/voxduplex/pkg/audio"

// entry wraps an [audio.Chunk] with its insertion sequence number, which
// identifies the chunk in logs.
type entry struct {
	chunk audio.Chunk
	seq   uint64
}

// chunkQueue is the FIFO playback queue. Chunks leave it strictly in
// insertion order; stream IDs and timestamps never reorder it.
type chunkQueue struct {
	items []entry
	head  int
}

func (q *chunkQueue) Len() int { return len(q.items) - q.head }

func (q *chunkQueue) push(e entry) {
	q.items = append(q.items, e)
}

// pop removes and returns the front entry. It must not be called on an empty queue.
func (q *chunkQueue) pop() entry {
	e := q.items[q.head]
	q.items[q.head] = entry{}
	q.head++
	if q.head == len(q.items) {
		q.items = q.items[:0]
		q.head = 0
	}
	return e
}

// clear drops every queued entry and returns how many there were.
func (q *chunkQueue) clear() int {
	n := q.Len()
	clear(q.items)
	q.items = q.items[:0]
	q.head = 0
	return n
}
