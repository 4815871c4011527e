package connectivity

import "sync"

// Flag is an in-memory Signal. Subscribers are notified only when the value
// actually changes, outside the lock and in subscription order.
type Flag struct {
	mu     sync.Mutex
	online bool
	nextID int
	subs   map[int]func(bool)
	order  []int
}

// NewFlag creates a flag with the given initial state.
func NewFlag(online bool) *Flag {
	return &Flag{online: online, subs: make(map[int]func(bool))}
}

// Online reports the current state.
func (f *Flag) Online() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.online
}

// Set updates the state and notifies subscribers on change.
func (f *Flag) Set(online bool) {
	f.mu.Lock()
	if f.online == online {
		f.mu.Unlock()
		return
	}
	f.online = online
	fns := make([]func(bool), 0, len(f.order))
	for _, id := range f.order {
		fns = append(fns, f.subs[id])
	}
	f.mu.Unlock()

	for _, fn := range fns {
		fn(online)
	}
}

// Subscribe registers fn and returns its unsubscribe function.
func (f *Flag) Subscribe(fn func(bool)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()

	id := f.nextID
	f.nextID++
	f.subs[id] = fn
	f.order = append(f.order, id)

	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			defer f.mu.Unlock()
			delete(f.subs, id)
			for i, v := range f.order {
				if v == id {
					f.order = append(f.order[:i], f.order[i+1:]...)
					break
				}
			}
		})
	}
}
