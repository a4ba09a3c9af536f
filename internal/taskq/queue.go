// Package taskq is a single-threaded due-time task queue with logical epochs.
//
// Every task is stamped with the scheduling epoch current when it was queued.
// A task whose epoch is older than the live epoch at release time is stale and
// is dropped without running. Invalidate bumps both epochs at once (hard stop,
// seek); Advance queues a barrier that raises the live epoch only when the
// barrier itself is released, so tasks due before it still run.
package taskq

import "container/heap"

// Priority orders tasks that share a due time.
type Priority int

const (
	PriorityStop Priority = iota
	PriorityBarrier
	PriorityStart
	PriorityClick
)

// Func runs a released task. due is the audio time the task was scheduled for.
type Func func(due float64)

type task struct {
	due      float64
	priority Priority
	epoch    uint64
	tag      string
	barrier  uint64
	run      Func
	seq      uint64
}

type taskHeap []*task

func (h taskHeap) Len() int { return len(h) }
func (h taskHeap) Less(i, j int) bool {
	if h[i].due != h[j].due {
		return h[i].due < h[j].due
	}
	if h[i].priority != h[j].priority {
		return h[i].priority < h[j].priority
	}
	return h[i].seq < h[j].seq
}
func (h taskHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *taskHeap) Push(x any)   { *h = append(*h, x.(*task)) }
func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return t
}

type Queue struct {
	h       taskHeap
	seq     uint64
	epoch   uint64
	live    uint64
	dropped int
}

func New() *Queue {
	return &Queue{}
}

// Epoch is the epoch new tasks are stamped with.
func (q *Queue) Epoch() uint64 { return q.epoch }

// Live is the oldest epoch still allowed to run.
func (q *Queue) Live() uint64 { return q.live }

func (q *Queue) Len() int { return len(q.h) }

// Dropped counts stale tasks discarded since the queue was created.
func (q *Queue) Dropped() int { return q.dropped }

// Schedule queues fn for due under the current epoch. tag groups tasks for Cancel.
func (q *Queue) Schedule(due float64, p Priority, tag string, fn Func) {
	q.push(&task{due: due, priority: p, epoch: q.epoch, tag: tag, run: fn})
}

// Advance starts a new scheduling epoch and queues a barrier at due. When the
// barrier is released the live epoch moves forward and fn runs; anything from
// the previous epoch still queued after that point is stale.
func (q *Queue) Advance(due float64, fn Func) {
	target := q.epoch + 1
	q.push(&task{due: due, priority: PriorityBarrier, epoch: q.epoch, barrier: target, run: fn})
	q.epoch = target
}

// Invalidate makes every queued task stale and removes them.
func (q *Queue) Invalidate() {
	q.epoch++
	q.live = q.epoch
	q.dropped += len(q.h)
	q.h = q.h[:0]
}

// Cancel removes queued tasks carrying tag and returns how many were removed.
func (q *Queue) Cancel(tag string) int {
	kept := q.h[:0]
	n := 0
	for _, t := range q.h {
		if t.tag == tag {
			n++
			continue
		}
		kept = append(kept, t)
	}
	for i := len(kept); i < len(q.h); i++ {
		q.h[i] = nil
	}
	q.h = kept
	heap.Init(&q.h)
	return n
}

// RunDue releases, in order, every task due at or before until. It returns the
// number of tasks that ran.
func (q *Queue) RunDue(until float64) int {
	ran := 0
	for len(q.h) > 0 && q.h[0].due <= until {
		t := heap.Pop(&q.h).(*task)
		if t.epoch < q.live {
			q.dropped++
			continue
		}
		if t.barrier > q.live {
			q.live = t.barrier
		}
		if t.run != nil {
			t.run(t.due)
		}
		ran++
	}
	return ran
}

// NextDue reports the due time of the earliest queued task.
func (q *Queue) NextDue() (float64, bool) {
	if len(q.h) == 0 {
		return 0, false
	}
	return q.h[0].due, true
}

func (q *Queue) push(t *task) {
	q.seq++
	t.seq = q.seq
	heap.Push(&q.h, t)
}
