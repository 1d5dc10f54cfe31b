package models

import (
	"context"
	"testing"
	"time"

	"github.com/sapid/acmetk/acme"
	"github.com/stretchr/testify/require"
)

func TestMemStoreAccountRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()

	sess, err := store.Begin(ctx)
	require.NoError(t, err)

	acct := &Account{Kid: "abc123", KeyJSON: []byte(`{"kty":"EC"}`), Status: acme.AccountValid}
	sess.Add(acct)
	require.NoError(t, sess.Commit(ctx))

	sess2, err := store.Begin(ctx)
	require.NoError(t, err)
	defer sess2.Commit(ctx)

	got, err := sess2.GetAccountByKid(ctx, "abc123")
	require.NoError(t, err)
	require.Equal(t, acme.AccountValid, got.Status)

	_, err = sess2.GetAccountByKid(ctx, "nope")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMemStoreOrderIdentifierChain(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()

	sess, err := store.Begin(ctx)
	require.NoError(t, err)

	order := &Order{OrderID: "o1", Kid: "kid1", Status: acme.OrderPending, Expires: time.Now().Add(time.Hour)}
	idID, err := sess.NextIdentifierID(ctx)
	require.NoError(t, err)
	ident := &Identifier{IdentifierID: idID, OrderID: "o1", Type: acme.IdentifierDNS, Value: "example.test"}
	authz := NewPending("a1", *ident, time.Hour)

	sess.Add(order, ident, authz)
	require.NoError(t, sess.Commit(ctx))

	sess2, err := store.Begin(ctx)
	require.NoError(t, err)
	defer sess2.Commit(ctx)

	idents, err := sess2.GetIdentifiersByOrder(ctx, "o1")
	require.NoError(t, err)
	require.Len(t, idents, 1)

	authzs, err := sess2.GetAuthorizationsByIdentifier(ctx, idents[0].IdentifierID)
	require.NoError(t, err)
	require.Len(t, authzs, 1)
	require.Equal(t, acme.AuthorizationPending, authzs[0].Status)
	require.False(t, authzs[0].Wildcard)
}

func TestIdentifierWildcardFlag(t *testing.T) {
	require.True(t, Identifier{Value: "*.example.test"}.IsWildcard())
	require.False(t, Identifier{Value: "example.test"}.IsWildcard())
	require.Equal(t, "example.test", Identifier{Value: "*.example.test"}.BaseName())
}
