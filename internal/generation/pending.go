package generation

import "sync"

// Delivery is what a callback hands to a waiting slot.
type Delivery struct {
	ID       string
	ImageURL string
	Err      error
}

// PendingTable correlates outstanding webhook-driven requests with their
// callbacks. Every slot is fulfilled at most once: delivering removes the
// slot under the lock, so a callback racing a timeout or a sibling cannot
// double-complete it.
type PendingTable struct {
	mu    sync.Mutex
	slots map[string]chan Delivery
}

func NewPendingTable() *PendingTable {
	return &PendingTable{slots: make(map[string]chan Delivery)}
}

// Register opens a slot per id. Deliveries for all of them arrive on the
// returned channel, which has room for every id.
func (t *PendingTable) Register(ids ...string) <-chan Delivery {
	ch := make(chan Delivery, len(ids))

	t.mu.Lock()
	defer t.mu.Unlock()
	for _, id := range ids {
		t.slots[id] = ch
	}
	return ch
}

// Deliver fulfils the slot for id. It reports false for unknown, discarded or
// already fulfilled ids.
func (t *PendingTable) Deliver(id string, d Delivery) bool {
	t.mu.Lock()
	ch, ok := t.slots[id]
	delete(t.slots, id)
	t.mu.Unlock()

	if !ok {
		return false
	}
	d.ID = id
	ch <- d
	return true
}

// Discard drops slots without fulfilling them. Later deliveries for these ids
// are treated as unknown.
func (t *PendingTable) Discard(ids ...string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, id := range ids {
		delete(t.slots, id)
	}
}

func (t *PendingTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.slots)
}
