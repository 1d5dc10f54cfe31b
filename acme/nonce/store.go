// Package nonce implements the ACME anti-replay Nonce Store (spec §4.1).
//
// Grounded on acme/client/nonce.go's Nonce/RefreshNonce pair — that code
// consumes server-issued nonces one at a time; this package is the other
// side of that exchange, issuing and consuming them. Token generation uses
// github.com/google/uuid (no generator lived in the teacher itself, which
// only ever read nonces off the wire).
package nonce

import (
	"container/list"
	"log"
	"sync"

	"github.com/google/uuid"
)

// DefaultCapacity is the floor capacity of the working set, sized for peak
// concurrency per spec §4.1.
const DefaultCapacity = 4096

// Store issues single-use anti-replay nonces and verifies/consumes them. It
// is the only component in this repo permitted to hold global mutable
// in-process state (spec §9), so every operation must be safe for concurrent
// use.
type Store struct {
	mu       sync.Mutex
	capacity int
	entries  map[string]*list.Element
	order    *list.List // front = most recently issued
}

// New creates a Store with the given floor capacity. A capacity <= 0 uses
// DefaultCapacity.
func New(capacity int) *Store {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Store{
		capacity: capacity,
		entries:  make(map[string]*list.Element),
		order:    list.New(),
	}
}

// Issue mints a fresh, high-entropy, single-use nonce and adds it to the
// working set, evicting the least recently issued nonce if the store is at
// capacity.
func (s *Store) Issue() string {
	token := uuid.NewString()

	s.mu.Lock()
	defer s.mu.Unlock()

	elem := s.order.PushFront(token)
	s.entries[token] = elem
	if s.order.Len() > s.capacity {
		oldest := s.order.Back()
		if oldest != nil {
			s.order.Remove(oldest)
			delete(s.entries, oldest.Value.(string))
		}
	}
	log.Printf("nonce: issued %s", token)
	return token
}

// Consume verifies that nonce is currently outstanding and, if so, removes it
// so it can never be accepted again. It reports whether the nonce was valid.
func (s *Store) Consume(token string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	elem, ok := s.entries[token]
	if !ok {
		return false
	}
	s.order.Remove(elem)
	delete(s.entries, token)
	log.Printf("nonce: consumed %s", token)
	return true
}

// Len reports the number of outstanding nonces. Exposed for tests.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.order.Len()
}
