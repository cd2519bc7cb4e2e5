package event

import (
	"sync"

	"github.com/simpletalk/kernel/internal/core/message"
)

// Item is one unit of work for the kernel loop: either a message addressed
// to the part named by Message.TargetID, or a function to run.
type Item struct {
	Message message.Message
	Run     func()
}

// Queue is the kernel inbox. Any goroutine may post; only the loop
// goroutine drains. Posting never blocks.
type Queue struct {
	mu    sync.Mutex
	items []Item
}

func NewQueue() *Queue {
	return &Queue{items: make([]Item, 0, 64)}
}

// Post queues a message for its TargetID.
func (q *Queue) Post(msg message.Message) {
	q.push(Item{Message: msg})
}

// Do queues fn to run on the loop goroutine.
func (q *Queue) Do(fn func()) {
	q.push(Item{Run: fn})
}

func (q *Queue) push(it Item) {
	q.mu.Lock()
	q.items = append(q.items, it)
	q.mu.Unlock()
}

// Drain removes and returns up to max items in post order. max <= 0
// drains everything.
func (q *Queue) Drain(max int) []Item {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.items)
	if max > 0 && n > max {
		n = max
	}
	if n == 0 {
		return nil
	}
	out := make([]Item, n)
	copy(out, q.items[:n])
	rest := copy(q.items, q.items[n:])
	for i := rest; i < len(q.items); i++ {
		q.items[i] = Item{}
	}
	q.items = q.items[:rest]
	return out
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
