package cache

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/nacl/secretbox"
)

const nonceSize = 24

// ErrUnsealable is returned when a stored value cannot be decrypted with the
// configured secret (wrong secret, or a value written unsealed).
var ErrUnsealable = errors.New("cache: value cannot be unsealed")

// Sealed encrypts values with NaCl secretbox before they reach the backend.
// Account lists contain access tokens, so they must not sit in plain text on
// disk or in a shared Redis. Keys stay in the clear for prefix listing.
type Sealed struct {
	next Store
	key  [32]byte
}

var _ Store = (*Sealed)(nil)

// NewSealed derives a 32-byte key from secret with SHA-256.
func NewSealed(next Store, secret string) *Sealed {
	return &Sealed{next: next, key: sha256.Sum256([]byte(secret))}
}

func (s *Sealed) Get(ctx context.Context, key string) ([]byte, bool, error) {
	box, ok, err := s.next.Get(ctx, key)
	if err != nil || !ok {
		return nil, ok, err
	}
	if len(box) < nonceSize+secretbox.Overhead {
		return nil, false, fmt.Errorf("%w: %s", ErrUnsealable, key)
	}
	var nonce [nonceSize]byte
	copy(nonce[:], box[:nonceSize])
	plain, ok := secretbox.Open(nil, box[nonceSize:], &nonce, &s.key)
	if !ok {
		return nil, false, fmt.Errorf("%w: %s", ErrUnsealable, key)
	}
	return plain, true, nil
}

func (s *Sealed) Set(ctx context.Context, key string, value []byte) error {
	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return fmt.Errorf("cache: generating nonce: %w", err)
	}
	box := secretbox.Seal(nonce[:], value, &nonce, &s.key)
	return s.next.Set(ctx, key, box)
}

func (s *Sealed) Delete(ctx context.Context, key string) error {
	return s.next.Delete(ctx, key)
}

func (s *Sealed) Keys(ctx context.Context, prefix string) ([]string, error) {
	return s.next.Keys(ctx, prefix)
}

func (s *Sealed) Close() error {
	return s.next.Close()
}
