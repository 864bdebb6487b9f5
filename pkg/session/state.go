package session

import "sync"

// Phase is where the controller stands in the session lifecycle.
type Phase int

const (
	// PhaseUnknown means the stored session has not been confirmed yet.
	PhaseUnknown Phase = iota
	PhaseAuthenticated
	PhaseUnauthenticated
)

func (p Phase) String() string {
	switch p {
	case PhaseAuthenticated:
		return "authenticated"
	case PhaseUnauthenticated:
		return "unauthenticated"
	default:
		return "unknown"
	}
}

// State is the view of a Phase that UI code and route guards consume.
type State struct {
	Authenticated bool
	Loading       bool
}

func (p Phase) State() State {
	switch p {
	case PhaseAuthenticated:
		return State{Authenticated: true}
	case PhaseUnauthenticated:
		return State{}
	default:
		return State{Loading: true}
	}
}

// hub fans a value out to subscribers. Callbacks run outside the lock in
// registration order.
type hub[T any] struct {
	mu   sync.Mutex
	next int
	fns  map[int]func(T)
}

func (h *hub[T]) add(fn func(T)) (cancel func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.fns == nil {
		h.fns = make(map[int]func(T))
	}
	id := h.next
	h.next++
	h.fns[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.fns, id)
			h.mu.Unlock()
		})
	}
}

func (h *hub[T]) emit(v T) {
	h.mu.Lock()
	fns := make([]func(T), 0, len(h.fns))
	for id := 0; id < h.next; id++ {
		if fn, ok := h.fns[id]; ok {
			fns = append(fns, fn)
		}
	}
	h.mu.Unlock()

	for _, fn := range fns {
		fn(v)
	}
}
