package tokenstore

import (
	"context"
	"fmt"
	"sync"
)

// Memory keeps tokens in process. Views created with Peer share the data
// and notify each other, the way tabs of one browser profile do.
type Memory struct {
	shared *memShared
	obs    Observers
}

type memShared struct {
	mu    sync.Mutex
	data  map[Key]string
	views []*Memory
	fail  error
}

func NewMemory() *Memory {
	m := &Memory{shared: &memShared{data: make(map[Key]string)}}
	m.shared.views = []*Memory{m}
	return m
}

// Peer returns another view over the same slots.
func (m *Memory) Peer() *Memory {
	p := &Memory{shared: m.shared}
	m.shared.mu.Lock()
	m.shared.views = append(m.shared.views, p)
	m.shared.mu.Unlock()
	return p
}

// Fail makes every operation on every view return err until called with nil.
func (m *Memory) Fail(err error) {
	m.shared.mu.Lock()
	m.shared.fail = err
	m.shared.mu.Unlock()
}

func (m *Memory) Get(_ context.Context, key Key) (string, error) {
	if !key.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownKey, key)
	}
	m.shared.mu.Lock()
	defer m.shared.mu.Unlock()
	if m.shared.fail != nil {
		return "", m.shared.fail
	}
	v, ok := m.shared.data[key]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (m *Memory) Set(_ context.Context, key Key, value string) error {
	return m.write(key, func(data map[Key]string) (Change, bool) {
		old, had := data[key]
		data[key] = value
		return Change{Key: key, Value: value}, !had || old != value
	})
}

func (m *Memory) Remove(_ context.Context, key Key) error {
	return m.write(key, func(data map[Key]string) (Change, bool) {
		_, had := data[key]
		delete(data, key)
		return Change{Key: key, Removed: true}, had
	})
}

func (m *Memory) Subscribe(fn func(Change)) func() { return m.obs.Add(fn) }

func (m *Memory) write(key Key, apply func(map[Key]string) (Change, bool)) error {
	if !key.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownKey, key)
	}

	m.shared.mu.Lock()
	if m.shared.fail != nil {
		err := m.shared.fail
		m.shared.mu.Unlock()
		return err
	}
	change, changed := apply(m.shared.data)
	var others []*Memory
	if changed {
		for _, v := range m.shared.views {
			if v != m {
				others = append(others, v)
			}
		}
	}
	m.shared.mu.Unlock()

	for _, v := range others {
		v.obs.Notify(change)
	}
	return nil
}
