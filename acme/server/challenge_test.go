package server

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sapid/acmetk/acme"
	"github.com/sapid/acmetk/acme/models"
	"github.com/sapid/acmetk/acme/validator"
)

// TestRunValidationCascadeDeletesSiblingChallenges exercises spec §3/§4.4's
// cascade: once an Authorization reaches VALID, every sibling Challenge that
// didn't itself reach VALID is deleted outright, mirroring
// acme_broker/models/authorization.py's finalize.
func TestRunValidationCascadeDeletesSiblingChallenges(t *testing.T) {
	ctx := context.Background()
	store := models.NewMemStore()

	sess, err := store.Begin(ctx)
	require.NoError(t, err)

	order := &models.Order{OrderID: "o1", Kid: "kid1", Status: acme.OrderPending, Expires: time.Now().Add(time.Hour)}
	ident := &models.Identifier{IdentifierID: 1, OrderID: "o1", Type: acme.IdentifierDNS, Value: "example.test"}
	authz := models.NewPending("a1", *ident, time.Hour)
	winner := &models.Challenge{ChallengeID: "c1", AuthorizationID: "a1", Type: acme.ChallengeHTTP01, Status: acme.ChallengeProcessing, Token: "tok1"}
	loser := &models.Challenge{ChallengeID: "c2", AuthorizationID: "a1", Type: acme.ChallengeDNS01, Status: acme.ChallengePending, Token: "tok2"}

	sess.Add(order, ident, authz, winner, loser)
	require.NoError(t, sess.Commit(ctx))

	registry := validator.NewRegistry()
	require.NoError(t, registry.Register(validator.DummyValidator{}))

	srv := &Server{Store: store, Validators: registry}
	srv.runValidation(ctx, "kid1", "c1", "example.test", nil, acme.ChallengeHTTP01)

	verify, err := store.Begin(ctx)
	require.NoError(t, err)
	defer verify.Commit(ctx)

	gotAuthz, err := verify.GetAuthorization(ctx, "kid1", "a1")
	require.NoError(t, err)
	require.Equal(t, acme.AuthorizationValid, gotAuthz.Status)

	gotWinner, err := verify.GetChallenge(ctx, "kid1", "c1")
	require.NoError(t, err)
	require.Equal(t, acme.ChallengeValid, gotWinner.Status)

	_, err = verify.GetChallenge(ctx, "kid1", "c2")
	require.ErrorIs(t, err, models.ErrNotFound)
}
