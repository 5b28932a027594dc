package engine

import "sync"

// phoneLocks serializes message handling per phone number so concurrent
// webhook deliveries for the same user cannot race on conversation state.
type phoneLocks struct {
	mu    sync.Mutex
	locks map[string]*phoneLock
}

type phoneLock struct {
	mu   sync.Mutex
	refs int
}

func newPhoneLocks() *phoneLocks {
	return &phoneLocks{locks: make(map[string]*phoneLock)}
}

// Acquire blocks until the per-phone lock is held and returns its release
// function. Entries are dropped once the last holder releases.
func (p *phoneLocks) Acquire(phone string) func() {
	p.mu.Lock()
	entry, ok := p.locks[phone]
	if !ok {
		entry = &phoneLock{}
		p.locks[phone] = entry
	}
	entry.refs++
	p.mu.Unlock()

	entry.mu.Lock()

	return func() {
		entry.mu.Unlock()
		p.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(p.locks, phone)
		}
		p.mu.Unlock()
	}
}
