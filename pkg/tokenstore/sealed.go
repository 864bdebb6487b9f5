package tokenstore

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/litimahmed/universal-hub/pkg/cryptox"
)

// Sealed encrypts values before they reach the wrapped Store so tokens never
// rest in plaintext. Every handle sharing the inner data must use the same key.
type Sealed struct {
	inner Store
	key   []byte
}

func NewSealed(inner Store, key []byte) (*Sealed, error) {
	if len(key) != cryptox.SealKeySize {
		return nil, fmt.Errorf("tokenstore: seal key must be %d bytes, got %d", cryptox.SealKeySize, len(key))
	}
	return &Sealed{inner: inner, key: key}, nil
}

func (s *Sealed) Get(ctx context.Context, key Key) (string, error) {
	v, err := s.inner.Get(ctx, key)
	if err != nil {
		return "", err
	}
	return s.open(v)
}

func (s *Sealed) Set(ctx context.Context, key Key, value string) error {
	sealed, err := cryptox.Seal(s.key, []byte(value))
	if err != nil {
		return fmt.Errorf("tokenstore: seal %s: %w", key, err)
	}
	return s.inner.Set(ctx, key, base64.StdEncoding.EncodeToString(sealed))
}

func (s *Sealed) Remove(ctx context.Context, key Key) error {
	return s.inner.Remove(ctx, key)
}

// Subscribe forwards decrypted changes. Values that do not open under this
// key were written by someone else and are dropped.
func (s *Sealed) Subscribe(fn func(Change)) func() {
	return s.inner.Subscribe(func(c Change) {
		if !c.Removed {
			v, err := s.open(c.Value)
			if err != nil {
				return
			}
			c.Value = v
		}
		fn(c)
	})
}

func (s *Sealed) open(v string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(v)
	if err != nil {
		return "", fmt.Errorf("tokenstore: decode sealed value: %w", err)
	}
	pt, err := cryptox.Open(s.key, raw)
	if err != nil {
		return "", fmt.Errorf("tokenstore: %w", err)
	}
	return string(pt), nil
}
