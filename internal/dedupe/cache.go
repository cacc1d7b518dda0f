// ABOUTME: TTL and size bounded window of recently delivered message ids
// ABOUTME: Lets the stream manager suppress frames replayed after a reconnect

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

type entry struct {
	id     string
	seenAt time.Time
}

// Window remembers message ids for a bounded time and count. Oldest ids are
// evicted first. Expired ids are pruned lazily on insert, so a Window owns no
// goroutine and needs no Close.
type Window struct {
	mu      sync.Mutex
	index   map[string]*list.Element
	order   *list.List // *entry, oldest at front
	ttl     time.Duration
	maxSize int
	now     func() time.Time
}

// New creates a window that forgets ids after ttl or once more than maxSize
// ids are held.
func New(ttl time.Duration, maxSize int) *Window {
	if maxSize <= 0 {
		maxSize = 1
	}
	return &Window{
		index:   make(map[string]*list.Element),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		now:     time.Now,
	}
}

// SetClock replaces the time source. Intended for tests.
func (w *Window) SetClock(now func() time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.now = now
}

// Observe records id and reports whether it had already been observed within
// the ttl. The check and the insert are atomic.
func (w *Window) Observe(id string) (duplicate bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if el, ok := w.index[id]; ok {
		e := el.Value.(*entry)
		if w.live(e) {
			return true
		}
		// expired: re-insert as fresh at the back
		e.seenAt = w.now()
		w.order.MoveToBack(el)
		return false
	}

	w.pruneExpired()
	for w.order.Len() >= w.maxSize {
		w.removeFront()
	}

	w.index[id] = w.order.PushBack(&entry{id: id, seenAt: w.now()})
	return false
}

// Reset forgets every id. The stream manager calls it when it is pointed
// at a different agent or server.
func (w *Window) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.index = make(map[string]*list.Element)
	w.order.Init()
}

func (w *Window) live(e *entry) bool {
	return w.now().Sub(e.seenAt) < w.ttl
}

// pruneExpired drops expired ids from the front. Insert order equals seenAt
// order, so the scan stops at the first live entry. Must be called with mu held.
func (w *Window) pruneExpired() {
	for front := w.order.Front(); front != nil; front = w.order.Front() {
		if w.live(front.Value.(*entry)) {
			return
		}
		w.removeFront()
	}
}

// removeFront evicts the oldest id. Must be called with mu held.
func (w *Window) removeFront() {
	front := w.order.Front()
	if front == nil {
		return
	}
	w.order.Remove(front)
	delete(w.index, front.Value.(*entry).id)
}
