package bridge

import "sync"

// Registry is the named-callback channel of the bridge protocol. Each name
// carries at most one subscriber, and a subscription is one-shot: it is
// removed after the first delivery or when the returned cancel func runs,
// so a stale handler can never fire into a superseded purchase session.
type Registry struct {
	mu   sync.Mutex
	subs map[string]chan PayResult
}

func NewRegistry() *Registry {
	return &Registry{subs: make(map[string]chan PayResult)}
}

// Subscribe registers a one-shot handler for name, replacing any previous
// one (the replaced channel is closed). The returned channel yields exactly
// one result, or is closed without a value on cancel.
func (r *Registry) Subscribe(name string) (<-chan PayResult, func()) {
	r.mu.Lock()
	if old, ok := r.subs[name]; ok {
		close(old)
	}
	ch := make(chan PayResult, 1)
	r.subs[name] = ch
	r.mu.Unlock()

	cancel := func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if cur, ok := r.subs[name]; ok && cur == ch {
			delete(r.subs, name)
			close(cur)
		}
	}
	return ch, cancel
}

// Publish delivers res to the subscriber of name, unregistering it. Returns
// false when nobody was listening (late or unknown callback).
func (r *Registry) Publish(name string, res PayResult) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch, ok := r.subs[name]
	if !ok {
		return false
	}
	delete(r.subs, name)
	ch <- res
	close(ch)
	return true
}
