package statemachine

import (
	"testing"

	"github.com/sapid/acmetk/acme"
	"github.com/stretchr/testify/require"
)

func TestAccountDeactivateOnlyFromValid(t *testing.T) {
	status, err := DeactivateAccount(acme.AccountValid)
	require.NoError(t, err)
	require.Equal(t, acme.AccountDeactivated, status)

	_, err = DeactivateAccount(acme.AccountDeactivated)
	require.Error(t, err)

	_, err = DeactivateAccount(acme.AccountRevoked)
	require.Error(t, err)
}

func TestChallengeFinalizeIsTerminalAndIdempotent(t *testing.T) {
	require.Equal(t, acme.ChallengeValid, Finalize(acme.ChallengeProcessing, true))
	require.Equal(t, acme.ChallengeInvalid, Finalize(acme.ChallengeProcessing, false))

	// re-invoking on a terminal status never flips it, even with a
	// contradictory validation result.
	require.Equal(t, acme.ChallengeValid, Finalize(acme.ChallengeValid, false))
	require.Equal(t, acme.ChallengeInvalid, Finalize(acme.ChallengeInvalid, true))
}

func TestOrderTerminalStatesAreMonotonic(t *testing.T) {
	for _, terminal := range []acme.OrderStatus{acme.OrderValid, acme.OrderInvalid} {
		require.Equal(t, terminal, Validate(terminal, nil))
		require.Equal(t, terminal, Validate(terminal, []acme.AuthorizationStatus{acme.AuthorizationInvalid}))
		require.Equal(t, terminal, Validate(terminal, []acme.AuthorizationStatus{acme.AuthorizationValid}))
	}
}

func TestOrderValidateRecompute(t *testing.T) {
	// no authorizations yet: stays pending.
	require.Equal(t, acme.OrderPending, Validate(acme.OrderPending, nil))

	// all valid: ready.
	require.Equal(t, acme.OrderReady, Validate(acme.OrderPending, []acme.AuthorizationStatus{
		acme.AuthorizationValid, acme.AuthorizationValid,
	}))

	// mixed pending/valid: stays pending.
	require.Equal(t, acme.OrderPending, Validate(acme.OrderPending, []acme.AuthorizationStatus{
		acme.AuthorizationValid, acme.AuthorizationPending,
	}))

	// any failed authorization: invalid, regardless of the others.
	require.Equal(t, acme.OrderInvalid, Validate(acme.OrderPending, []acme.AuthorizationStatus{
		acme.AuthorizationValid, acme.AuthorizationExpired,
	}))
}

func TestOrderValidateIsIdempotent(t *testing.T) {
	authzs := []acme.AuthorizationStatus{acme.AuthorizationValid}
	first := Validate(acme.OrderPending, authzs)
	second := Validate(first, authzs)
	require.Equal(t, first, second)
}

func TestOrderFinalizeSequence(t *testing.T) {
	status, err := StartFinalizing(acme.OrderReady)
	require.NoError(t, err)
	require.Equal(t, acme.OrderProcessing, status)

	_, err = StartFinalizing(acme.OrderPending)
	require.Error(t, err)

	status, err = CompleteFinalizing(acme.OrderProcessing)
	require.NoError(t, err)
	require.Equal(t, acme.OrderValid, status)

	_, err = FailFinalizing(acme.OrderValid)
	require.Error(t, err)
}

func TestCertificateRevokeTerminal(t *testing.T) {
	status, err := Revoke(acme.CertificateValid)
	require.NoError(t, err)
	require.Equal(t, acme.CertificateRevoked, status)

	_, err = Revoke(acme.CertificateRevoked)
	require.Error(t, err)
}
