package models

import (
	"bytes"
	"context"
	"sync"
)

// MemStore is a reference Store implementation backed by in-process maps. It
// stands in for the out-of-scope persistence engine (spec §1) — useful for
// tests and for a standalone CA that doesn't need external durability.
//
// Transactions are serialized by a single mutex held for the lifetime of the
// session, which trivially satisfies spec §5's "within a single session the
// ACME state transitions are serialized by the store's transaction isolation
// (read-committed minimum)" — there is never more than one open session.
//
// Grounded on resources.SaveAccount/RestoreAccount's serialize-to-backing-
// store pattern, generalized from a single JSON file to an in-memory table
// per entity kind.
type MemStore struct {
	mu sync.Mutex

	accounts       map[string]*Account
	orders         map[string]*Order
	identifiers    map[int]*Identifier
	authorizations map[string]*Authorization
	challenges     map[string]*Challenge
	certificates   map[string]*Certificate
	changelog      []*ChangeLog
	nextIdentifier int
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		accounts:       make(map[string]*Account),
		orders:         make(map[string]*Order),
		identifiers:    make(map[int]*Identifier),
		authorizations: make(map[string]*Authorization),
		challenges:     make(map[string]*Challenge),
		certificates:   make(map[string]*Certificate),
	}
}

// Begin locks the store for the duration of the returned session. Handlers
// and background tasks must not hold a session across the point where they
// hand control to one another; each opens its own.
func (m *MemStore) Begin(ctx context.Context) (Session, error) {
	m.mu.Lock()
	return &memSession{store: m}, nil
}

type memSession struct {
	store  *MemStore
	closed bool
}

func (s *memSession) Add(entities ...any) {
	for _, e := range entities {
		switch v := e.(type) {
		case *Account:
			s.store.accounts[v.Kid] = v
		case *Order:
			s.store.orders[v.OrderID] = v
		case *Identifier:
			s.store.identifiers[v.IdentifierID] = v
		case *Authorization:
			s.store.authorizations[v.AuthorizationID] = v
		case *Challenge:
			s.store.challenges[v.ChallengeID] = v
		case *Certificate:
			s.store.certificates[v.CertificateID] = v
		case *ChangeLog:
			v.Sequence = len(s.store.changelog) + 1
			s.store.changelog = append(s.store.changelog, v)
		}
	}
}

func (s *memSession) Flush(ctx context.Context) error { return nil }

func (s *memSession) Commit(ctx context.Context) error {
	s.end()
	return nil
}

func (s *memSession) Rollback(ctx context.Context) error {
	// MemStore mutates in place on Add, so there is nothing to undo beyond
	// releasing the lock; concrete engines would discard the transaction
	// buffer here instead.
	s.end()
	return nil
}

func (s *memSession) end() {
	if !s.closed {
		s.closed = true
		s.store.mu.Unlock()
	}
}

func (s *memSession) GetAccountByKid(ctx context.Context, kid string) (*Account, error) {
	if a, ok := s.store.accounts[kid]; ok {
		return a, nil
	}
	return nil, ErrNotFound
}

func (s *memSession) GetAccountByKeyJSON(ctx context.Context, keyJSON []byte) (*Account, error) {
	for _, a := range s.store.accounts {
		if string(a.KeyJSON) == string(keyJSON) {
			return a, nil
		}
	}
	return nil, ErrNotFound
}

func (s *memSession) GetOrder(ctx context.Context, kid, orderID string) (*Order, error) {
	o, ok := s.store.orders[orderID]
	if !ok || o.Kid != kid {
		return nil, ErrNotFound
	}
	return o, nil
}

func (s *memSession) GetOrdersByKid(ctx context.Context, kid string) ([]*Order, error) {
	var out []*Order
	for _, o := range s.store.orders {
		if o.Kid == kid {
			out = append(out, o)
		}
	}
	return out, nil
}

func (s *memSession) GetIdentifier(ctx context.Context, identifierID int) (*Identifier, error) {
	if i, ok := s.store.identifiers[identifierID]; ok {
		return i, nil
	}
	return nil, ErrNotFound
}

func (s *memSession) GetIdentifiersByOrder(ctx context.Context, orderID string) ([]*Identifier, error) {
	var out []*Identifier
	for _, i := range s.store.identifiers {
		if i.OrderID == orderID {
			out = append(out, i)
		}
	}
	return out, nil
}

func (s *memSession) GetAuthorization(ctx context.Context, kid, authzID string) (*Authorization, error) {
	a, ok := s.store.authorizations[authzID]
	if !ok {
		return nil, ErrNotFound
	}
	id, err := s.GetIdentifier(ctx, a.IdentifierID)
	if err != nil {
		return nil, ErrNotFound
	}
	o, err := s.GetOrder(ctx, kid, id.OrderID)
	if err != nil || o == nil {
		return nil, ErrNotFound
	}
	return a, nil
}

func (s *memSession) GetAuthorizationsByIdentifier(ctx context.Context, identifierID int) ([]*Authorization, error) {
	var out []*Authorization
	for _, a := range s.store.authorizations {
		if a.IdentifierID == identifierID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *memSession) GetChallenge(ctx context.Context, kid, challengeID string) (*Challenge, error) {
	c, ok := s.store.challenges[challengeID]
	if !ok {
		return nil, ErrNotFound
	}
	return c, nil
}

func (s *memSession) GetChallengesByAuthorization(ctx context.Context, authzID string) ([]*Challenge, error) {
	var out []*Challenge
	for _, c := range s.store.challenges {
		if c.AuthorizationID == authzID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *memSession) DeleteChallenge(ctx context.Context, challengeID string) error {
	delete(s.store.challenges, challengeID)
	return nil
}

func (s *memSession) GetCertificate(ctx context.Context, kid, certificateID string) (*Certificate, error) {
	c, ok := s.store.certificates[certificateID]
	if !ok {
		return nil, ErrNotFound
	}
	return c, nil
}

func (s *memSession) GetCertificateByOrder(ctx context.Context, orderID string) (*Certificate, error) {
	for _, c := range s.store.certificates {
		if c.OrderID == orderID {
			return c, nil
		}
	}
	return nil, ErrNotFound
}

func (s *memSession) GetCertificateByDER(ctx context.Context, der []byte) (*Certificate, error) {
	for _, c := range s.store.certificates {
		if bytes.Equal(c.DER, der) {
			return c, nil
		}
	}
	return nil, ErrNotFound
}

func (s *memSession) NextIdentifierID(ctx context.Context) (int, error) {
	s.store.nextIdentifier++
	return s.store.nextIdentifier, nil
}
