package statemachine

import (
	"testing"

	"github.com/sapid/acmetk/acme"
	"github.com/stretchr/testify/require"
)

func TestAuthorizationValidOnAnyChildChallengeValid(t *testing.T) {
	require.Equal(t, acme.AuthorizationValid, FinalizeFromChallenge(acme.AuthorizationPending, true))
	require.Equal(t, acme.AuthorizationPending, FinalizeFromChallenge(acme.AuthorizationPending, false))

	// a non-pending authorization is left untouched by a late challenge
	// callback racing a cascade-delete — the cascade itself (deleting the
	// sibling non-VALID challenges) is a Store-level side effect exercised
	// by acme/server's TestRunValidationCascadeDeletesSiblingChallenges,
	// not by this pure status function.
	require.Equal(t, acme.AuthorizationInvalid, FinalizeFromChallenge(acme.AuthorizationInvalid, true))
}

func TestAuthorizationExpireOnlyFromPending(t *testing.T) {
	require.Equal(t, acme.AuthorizationExpired, Expire(acme.AuthorizationPending))
	require.Equal(t, acme.AuthorizationValid, Expire(acme.AuthorizationValid))
}

func TestAuthorizationDeactivateFromPendingOrValid(t *testing.T) {
	status, err := Deactivate(acme.AuthorizationPending)
	require.NoError(t, err)
	require.Equal(t, acme.AuthorizationDeactivated, status)

	status, err = Deactivate(acme.AuthorizationValid)
	require.NoError(t, err)
	require.Equal(t, acme.AuthorizationDeactivated, status)

	_, err = Deactivate(acme.AuthorizationInvalid)
	require.Error(t, err)
}

func TestAuthorizationIsFailed(t *testing.T) {
	for _, status := range []acme.AuthorizationStatus{
		acme.AuthorizationInvalid, acme.AuthorizationExpired,
		acme.AuthorizationDeactivated, acme.AuthorizationRevoked,
	} {
		require.True(t, IsFailed(status))
	}
	require.False(t, IsFailed(acme.AuthorizationPending))
	require.False(t, IsFailed(acme.AuthorizationValid))
}
