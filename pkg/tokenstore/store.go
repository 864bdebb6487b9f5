// Package tokenstore persists the two session tokens and tells each reader
// when another writer changed them.
//
// A Store behaves like browser local storage: one string per slot, and
// subscribers hear about writes made through *other* handles on the same
// data, never about their own.
package tokenstore

import (
	"context"
	"errors"
	"sync"
)

// Key names a token slot.
type Key string

const (
	AccessKey  Key = "accessToken"
	RefreshKey Key = "refreshToken"
)

// Keys lists every slot in a stable order.
var Keys = []Key{AccessKey, RefreshKey}

func (k Key) Valid() bool { return k == AccessKey || k == RefreshKey }

var (
	ErrNotFound   = errors.New("tokenstore: not found")
	ErrUnknownKey = errors.New("tokenstore: unknown key")
	ErrClosed     = errors.New("tokenstore: closed")
)

// Change describes a write made by another handle.
type Change struct {
	Key     Key
	Value   string
	Removed bool
}

type Store interface {
	// Get returns ErrNotFound for an empty slot.
	Get(ctx context.Context, key Key) (string, error)
	Set(ctx context.Context, key Key, value string) error
	// Remove is a no-op for an empty slot.
	Remove(ctx context.Context, key Key) error
	// Subscribe registers fn for changes made elsewhere. Calling the
	// returned func unregisters it.
	Subscribe(fn func(Change)) (cancel func())
}

// Clear removes every slot, attempting all of them even when one fails.
func Clear(ctx context.Context, s Store) error {
	var errs []error
	for _, k := range Keys {
		if err := s.Remove(ctx, k); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Observers is a subscriber list shared by Store implementations.
type Observers struct {
	mu   sync.Mutex
	next int
	fns  map[int]func(Change)
}

func (o *Observers) Add(fn func(Change)) (cancel func()) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.fns == nil {
		o.fns = make(map[int]func(Change))
	}
	id := o.next
	o.next++
	o.fns[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			o.mu.Lock()
			delete(o.fns, id)
			o.mu.Unlock()
		})
	}
}

// Notify calls every subscriber outside the lock, in registration order.
func (o *Observers) Notify(c Change) {
	o.mu.Lock()
	fns := make([]func(Change), 0, len(o.fns))
	for id := 0; id < o.next; id++ {
		if fn, ok := o.fns[id]; ok {
			fns = append(fns, fn)
		}
	}
	o.mu.Unlock()

	for _, fn := range fns {
		fn(c)
	}
}
