package session

// Signal is the process-wide "session revoked" notification. The API layer
// raises it when a request is still unauthorized after its own refresh
// attempt; every Controller subscribed to it logs out.
type Signal struct {
	h hub[struct{}]
}

func NewSignal() *Signal { return &Signal{} }

// Raise notifies every subscriber synchronously.
func (s *Signal) Raise() { s.h.emit(struct{}{}) }

func (s *Signal) Subscribe(fn func()) (cancel func()) {
	return s.h.add(func(struct{}) { fn() })
}
